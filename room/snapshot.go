package room

import (
	"bytes"
	"fmt"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/idcodec"
	"strings"
	"text/template"
	"time"
)

var renders = template.Must(template.New("renders").Funcs(template.FuncMap{
	"timer": func(d *event.Duration) string { return formatTimer(time.Duration(*d)) },
}).Parse(`
{{- define "status" -}}
{{ .Status.VerboseValue }}{{ if .StartedAt }} since {{ .StartedAt.Format "15:04:05 MST" }}{{ end }}
{{- if .Hold }} (on hold){{ end }}
{{- end -}}
{{- define "entrants" -}}
{{ range .Entrants -}}
{{ if .PlaceOrdinal }}{{ .PlaceOrdinal }} {{ end }}{{ .User.FullName }} {{ .Status.VerboseValue }}
{{- if .FinishTime }} {{ timer .FinishTime }}{{ end }}
{{ end -}}
{{- end -}}
{{- define "info" -}}
{{ .Goal.Name }}{{ if .Info }}: {{ .Info }}{{ end }}
{{- end -}}
`))

var renderRegions = []string{"status", "entrants", "info"}

// hidden reports whether entrant identities must not leave the room.
func hidden(race *domain.Race) bool {
	return race.HideEntrants && !race.State.IsDone()
}

// on returns a copy of c working on race, sharing its transaction.
func (c *call) on(race *domain.Race) *call {
	cp := *c
	cp.race = race
	return &cp
}

// pseudonym names a hidden entrant by its full hashid.
func (c *call) pseudonym(e domain.Entrant) string {
	return "Anonymous (" + c.s.codec.MustEncode(idcodec.Entrant, e.ID) + ")"
}

// realName is the display name of userID, even in a hidden race.
func (c *call) realName(userID int64) string {
	u, err := c.user(userID)
	if err != nil {
		return "Unknown user"
	}
	return u.DisplayName()
}

// name is how userID is named in messages of the race.
func (c *call) name(userID int64) string {
	if e := c.race.Entrant(userID); e != nil && hidden(c.race) {
		return c.pseudonym(*e)
	}
	return c.realName(userID)
}

func (c *call) actorName() string {
	if c.actor.IsBot() {
		bot, err := c.tx.Bot(*c.actor.BotID)
		if err != nil {
			return "A bot"
		}
		return bot.Name
	}
	return c.name(c.self())
}

// userData describes userID to subscribers, masked while entrants are
// hidden.
func (c *call) userData(userID int64) (*event.UserData, error) {
	if e := c.race.Entrant(userID); e != nil && hidden(c.race) {
		name := c.pseudonym(*e)
		return &event.UserData{
			ID:       c.s.codec.MustEncode(idcodec.Entrant, e.ID),
			FullName: name,
			Name:     name,
		}, nil
	}
	u, err := c.user(userID)
	if err != nil {
		return nil, err
	}
	data := &event.UserData{
		ID:            c.s.codec.MustEncode(idcodec.User, u.ID),
		FullName:      u.DisplayName(),
		Name:          u.Name,
		Discriminator: u.Discriminator,
		Pronouns:      u.Pronouns,
		TwitchName:    u.TwitchName,
		CanModerate:   c.category.CanModerate(u.ID, u.IsStaff),
	}
	if u.TwitchName != "" {
		data.TwitchChannel = "https://www.twitch.tv/" + strings.ToLower(u.TwitchName)
	}
	return data, nil
}

func (c *call) optionalUser(userID *int64) (*event.UserData, error) {
	if userID == nil {
		return nil, nil
	}
	return c.userData(*userID)
}

func raceRef(key *domain.RaceKey) *event.RaceRef {
	if key == nil {
		return nil
	}
	return &event.RaceRef{Name: key.String(), URL: "/" + key.String()}
}

func status(race *domain.Race) event.Status {
	return event.Status{Value: string(race.State), VerboseValue: race.State.Verbose(), HelpText: race.State.HelpText()}
}

func (c *call) entrantData(e domain.Entrant) (event.EntrantData, error) {
	user, err := c.userData(e.UserID)
	if err != nil {
		return event.EntrantData{}, err
	}
	st := e.Status(c.race.State)
	data := event.EntrantData{
		User:           *user,
		Status:         event.Status{Value: st.Value, VerboseValue: st.Verbose, HelpText: st.HelpText},
		FinishTime:     event.DurationPtr(e.FinishTime),
		Place:          e.Place,
		Score:          e.Rating,
		ScoreChange:    e.RatingChange,
		HasComment:     e.Comment != "",
		StreamLive:     e.StreamLive,
		StreamOverride: e.StreamOverride,
	}
	if e.Place != nil {
		data.PlaceOrdinal = ordinal(*e.Place)
	}
	if e.FinishTime != nil && c.race.StartedAt != nil {
		at := c.race.StartedAt.Add(*e.FinishTime)
		data.FinishedAt = &at
	}
	if e.Comment != "" && (!c.race.HideComments || c.race.Recorded) {
		comment := e.Comment
		data.Comment = &comment
	}
	if e.Team != nil && !hidden(c.race) {
		team, err := c.tx.Team(*e.Team)
		if err != nil {
			return event.EntrantData{}, err
		}
		data.Team = &event.TeamData{ID: c.s.codec.MustEncode(idcodec.Team, team.ID), Slug: team.Slug, Name: team.Name}
	}
	return data, nil
}

// raceData is the full snapshot of the race.
func (c *call) raceData() (event.RaceData, error) {
	r := c.race
	key := r.Key()
	data := event.RaceData{
		Version:               r.Version,
		Name:                  key.String(),
		Slug:                  r.Slug,
		Category:              r.Category,
		URL:                   "/" + key.String(),
		Status:                status(r),
		Goal:                  event.GoalData{Name: r.GoalName(), Custom: r.IsCustomGoal()},
		Info:                  joinInfo(r.InfoBot, r.InfoUser),
		InfoUser:              r.InfoUser,
		InfoBot:               r.InfoBot,
		EntrantsCount:         r.NumJoined(),
		EntrantsCountFinished: r.NumFinished(),
		OpenedAt:              r.OpenedAt,
		StartDelay:            event.Duration(r.StartDelay),
		StartedAt:             r.StartedAt,
		EndedAt:               r.EndedAt,
		CancelledAt:           r.CancelledAt,
		TimeLimit:             event.Duration(r.TimeLimit),
		TimeLimitAutoComplete: r.TimeLimitAutoComplete,
		Ranked:                r.Ranked,
		Unlisted:              r.Unlisted,
		Recordable:            r.Recordable,
		Recorded:              r.Recorded,
		Hold:                  r.Hold,
		StreamingRequired:     r.StreamingRequired,
		AutoStart:             r.AutoStart,
		DisqualifyUnready:     r.DisqualifyUnready,
		AllowComments:         r.AllowComments,
		HideComments:          r.HideComments,
		HideEntrants:          r.HideEntrants,
		ChatRestricted:        !r.AllowPreraceChat || !r.AllowMidraceChat || !r.AllowNonEntrantChat,
		AllowPreraceChat:      r.AllowPreraceChat,
		AllowMidraceChat:      r.AllowMidraceChat,
		AllowNonEntrantChat:   r.AllowNonEntrantChat,
		ChatMessageDelay:      event.Duration(r.ChatMessageDelay),
		Partitionable:         r.Partitionable,
		TeamRace:              r.TeamRace,
		RequireEvenTeams:      r.RequireEvenTeams,
		BotMeta:               r.BotMeta,
		Rematch:               raceRef(r.Rematch),
		Parent:                raceRef(r.Parent),
		Entrants:              []event.EntrantData{},
		Monitors:              []event.UserData{},
	}

	for _, e := range r.OrderedEntrants() {
		if e.State == domain.EntrantJoined && (e.DNF || e.DQ) {
			data.EntrantsCountInactive++
		}
		ed, err := c.entrantData(e)
		if err != nil {
			return event.RaceData{}, err
		}
		data.Entrants = append(data.Entrants, ed)
	}
	for _, id := range r.Monitors {
		u, err := c.userData(id)
		if err != nil {
			return event.RaceData{}, err
		}
		data.Monitors = append(data.Monitors, *u)
	}
	var err error
	if data.OpenedBy, err = c.optionalUser(r.OpenedBy); err != nil {
		return event.RaceData{}, err
	}
	if data.RecordedBy, err = c.optionalUser(r.RecordedBy); err != nil {
		return event.RaceData{}, err
	}
	return data, nil
}

func joinInfo(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// raceEvents builds the race.data and race.renders events of the race.
func (c *call) raceEvents() (event.Event, event.Event, error) {
	data, err := c.raceData()
	if err != nil {
		return event.Event{}, event.Event{}, err
	}
	fragments := make(map[string]string, len(renderRegions))
	var buf bytes.Buffer
	for _, region := range renderRegions {
		buf.Reset()
		if err := renders.ExecuteTemplate(&buf, region, data); err != nil {
			return event.Event{}, event.Event{}, err
		}
		fragments[region] = buf.String()
	}
	return event.New(event.RaceDataType, c.now, event.RaceDataPayload{Race: data}),
		event.New(event.RaceRendersType, c.now, event.RaceRenders{Version: data.Version, Renders: fragments}),
		nil
}

// messageData describes m to subscribers.
func (c *call) messageData(m domain.Message) (event.MessageData, error) {
	data := event.MessageData{
		ID:        c.s.codec.MustEncode(idcodec.Message, m.ID),
		PostedAt:  m.PostedAt,
		Message:   m.Text,
		Highlight: m.Highlight,
		IsDM:      m.DirectTo != nil,
		IsBot:     m.BotID != nil,
		IsSystem:  m.Kind() == domain.MessageSystem,
		IsPinned:  m.Pinned,
		Delay:     event.Duration(m.Delay),
	}
	var err error
	if data.User, err = c.optionalUser(m.UserID); err != nil {
		return event.MessageData{}, err
	}
	if m.UserID != nil {
		data.IsMonitor = c.canMonitor(*m.UserID)
	}
	if m.BotID != nil {
		bot, err := c.tx.Bot(*m.BotID)
		if err != nil {
			return event.MessageData{}, err
		}
		data.Bot = bot.Name
	}
	if data.DirectTo, err = c.optionalUser(m.DirectTo); err != nil {
		return event.MessageData{}, err
	}
	return data, nil
}

// deliver plans the chat.message broadcast of a stored message.
func (c *call) deliver(m domain.Message) error {
	data, err := c.messageData(m)
	if err != nil {
		return err
	}
	c.plan.chats = append(c.plan.chats, contract.ChatDelivery{
		RaceID:    m.RaceID,
		MessageID: m.ID,
		Event:     event.New(event.ChatMessageType, m.PostedAt, event.ChatMessage{Message: data}),
		Delay:     m.Delay,
		Author:    m.UserID,
		Monitors:  c.monitorIDs(),
		DirectTo:  m.DirectTo,
	})
	return nil
}

// monitorIDs are the users who see delayed messages at once.
func (c *call) monitorIDs() []int64 {
	ids := append([]int64(nil), c.category.Owners...)
	ids = append(ids, c.category.Moderators...)
	ids = append(ids, c.race.Monitors...)
	if c.race.OpenedBy != nil {
		ids = append(ids, *c.race.OpenedBy)
	}
	return ids
}

// deanonymise rewrites the system messages posted while entrants were
// hidden and broadcasts them again. The race must already be done.
func (c *call) deanonymise() error {
	if !c.race.HideEntrants {
		return nil
	}
	if len(c.race.Entrants) == 0 {
		return nil
	}
	replacer := c.revealer()

	messages, err := c.tx.RaceMessages(c.race.ID)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if m.Kind() != domain.MessageSystem || m.Deleted {
			continue
		}
		text := replacer.Replace(m.Text)
		if text == m.Text {
			continue
		}
		m.Text = text
		if err := c.tx.UpdateMessage(m); err != nil {
			return err
		}
		if err := c.deliver(m); err != nil {
			return err
		}
	}
	return nil
}

// revealer maps the pseudonym of every entrant back to the real name.
func (c *call) revealer() *strings.Replacer {
	pairs := make([]string, 0, 2*len(c.race.Entrants))
	for _, e := range c.race.Entrants {
		pairs = append(pairs, c.pseudonym(e), c.realName(e.UserID))
	}
	return strings.NewReplacer(pairs...)
}

// post stores a system message and plans its broadcast.
func (c *call) post(text string, highlight bool) error {
	m := domain.Message{
		RaceID:    c.race.ID,
		PostedAt:  c.now,
		Text:      text,
		Highlight: highlight,
	}
	if err := c.tx.InsertMessage(&m); err != nil {
		return err
	}
	return c.deliver(m)
}

func (c *call) system(format string, args ...any) error {
	return c.post(fmt.Sprintf(format, args...), false)
}

func (c *call) highlight(format string, args ...any) error {
	return c.post(fmt.Sprintf(format, args...), true)
}
