// Package event defines what a race room broadcasts to its subscribers.
// Every event travels as a flat JSON object {type, date, ...payload}.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"race-lab/domain"
	"time"
)

type Type string

const (
	RaceDataType    Type = "race.data"
	RaceRendersType Type = "race.renders"
	RaceSplitType   Type = "race.split"
	ChatMessageType Type = "chat.message"
	ChatDeleteType  Type = "chat.delete"
	ChatPurgeType   Type = "chat.purge"
	ChatHistoryType Type = "chat.history"
	ErrorType       Type = "error"
	PongType        Type = "pong"
)

type Event struct {
	Type    Type
	Date    time.Time
	Payload any
}

func New(t Type, date time.Time, payload any) Event {
	return Event{Type: t, Date: date.UTC(), Payload: payload}
}

// MarshalJSON merges the payload fields next to type and date.
func (e Event) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(struct {
		Type Type      `json:"type"`
		Date time.Time `json:"date"`
	}{e.Type, e.Date})
	if err != nil {
		return nil, err
	}
	if e.Payload == nil {
		return head, nil
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s payload is not an object", e.Type)
	}
	if bytes.Equal(body, []byte("{}")) {
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// Duration is serialised as an ISO-8601 duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(domain.FormatISODuration(time.Duration(d)))
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := domain.ParseISODuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func DurationPtr(d *time.Duration) *Duration {
	if d == nil {
		return nil
	}
	v := Duration(*d)
	return &v
}

type Status struct {
	Value        string `json:"value"`
	VerboseValue string `json:"verbose_value"`
	HelpText     string `json:"help_text"`
}

type GoalData struct {
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

type UserData struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Name          string `json:"name"`
	Discriminator string `json:"discriminator,omitempty"`
	Pronouns      string `json:"pronouns,omitempty"`
	TwitchName    string `json:"twitch_name,omitempty"`
	TwitchChannel string `json:"twitch_channel,omitempty"`
	CanModerate   bool   `json:"can_moderate"`
}

type TeamData struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type EntrantData struct {
	User           UserData   `json:"user"`
	Team           *TeamData  `json:"team"`
	Status         Status     `json:"status"`
	FinishTime     *Duration  `json:"finish_time"`
	FinishedAt     *time.Time `json:"finished_at"`
	Place          *int       `json:"place"`
	PlaceOrdinal   string     `json:"place_ordinal,omitempty"`
	Score          *int       `json:"score"`
	ScoreChange    *int       `json:"score_change"`
	Comment        *string    `json:"comment"`
	HasComment     bool       `json:"has_comment"`
	StreamLive     bool       `json:"stream_live"`
	StreamOverride bool       `json:"stream_override"`
}

type RaceRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// RaceData is the full room snapshot. Version orders snapshots.
type RaceData struct {
	Version               uint64          `json:"version"`
	Name                  string          `json:"name"`
	Slug                  string          `json:"slug"`
	Category              string          `json:"category"`
	URL                   string          `json:"url"`
	Status                Status          `json:"status"`
	Goal                  GoalData        `json:"goal"`
	Info                  string          `json:"info"`
	InfoUser              string          `json:"info_user"`
	InfoBot               string          `json:"info_bot"`
	EntrantsCount         int             `json:"entrants_count"`
	EntrantsCountFinished int             `json:"entrants_count_finished"`
	EntrantsCountInactive int             `json:"entrants_count_inactive"`
	Entrants              []EntrantData   `json:"entrants"`
	OpenedAt              time.Time       `json:"opened_at"`
	StartDelay            Duration        `json:"start_delay"`
	StartedAt             *time.Time      `json:"started_at"`
	EndedAt               *time.Time      `json:"ended_at"`
	CancelledAt           *time.Time      `json:"cancelled_at"`
	TimeLimit             Duration        `json:"time_limit"`
	TimeLimitAutoComplete bool            `json:"time_limit_auto_complete"`
	OpenedBy              *UserData       `json:"opened_by"`
	Monitors              []UserData      `json:"monitors"`
	Ranked                bool            `json:"ranked"`
	Unlisted              bool            `json:"unlisted"`
	Recordable            bool            `json:"recordable"`
	Recorded              bool            `json:"recorded"`
	RecordedBy            *UserData       `json:"recorded_by"`
	Hold                  bool            `json:"hold"`
	StreamingRequired     bool            `json:"streaming_required"`
	AutoStart             bool            `json:"auto_start"`
	DisqualifyUnready     bool            `json:"disqualify_unready"`
	AllowComments         bool            `json:"allow_comments"`
	HideComments          bool            `json:"hide_comments"`
	HideEntrants          bool            `json:"hide_entrants"`
	ChatRestricted        bool            `json:"chat_restricted"`
	AllowPreraceChat      bool            `json:"allow_prerace_chat"`
	AllowMidraceChat      bool            `json:"allow_midrace_chat"`
	AllowNonEntrantChat   bool            `json:"allow_non_entrant_chat"`
	ChatMessageDelay      Duration        `json:"chat_message_delay"`
	Partitionable         bool            `json:"partitionable"`
	TeamRace              bool            `json:"team_race"`
	RequireEvenTeams      bool            `json:"require_even_teams"`
	BotMeta               json.RawMessage `json:"bot_meta"`
	Rematch               *RaceRef        `json:"rematch"`
	Parent                *RaceRef        `json:"parent"`
}

type RaceDataPayload struct {
	Race RaceData `json:"race"`
}

type RaceRenders struct {
	Version uint64            `json:"version"`
	Renders map[string]string `json:"renders"`
}

type MessageData struct {
	ID        string    `json:"id"`
	User      *UserData `json:"user"`
	Bot       string    `json:"bot,omitempty"`
	DirectTo  *UserData `json:"direct_to,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
	Message   string    `json:"message"`
	Highlight bool      `json:"highlight"`
	IsDM      bool      `json:"is_dm"`
	IsBot     bool      `json:"is_bot"`
	IsMonitor bool      `json:"is_monitor"`
	IsSystem  bool      `json:"is_system"`
	IsPinned  bool      `json:"is_pinned"`
	Delay     Duration  `json:"delay"`
}

type ChatMessage struct {
	Message MessageData `json:"message"`
}

type ChatHistory struct {
	Messages []MessageData `json:"messages"`
}

type DeleteData struct {
	ID        string    `json:"id"`
	User      *UserData `json:"user"`
	Bot       string    `json:"bot,omitempty"`
	IsBot     bool      `json:"is_bot"`
	DeletedBy *UserData `json:"deleted_by"`
}

type ChatDelete struct {
	Delete DeleteData `json:"delete"`
}

type PurgeData struct {
	User     UserData  `json:"user"`
	PurgedBy *UserData `json:"purged_by"`
}

type ChatPurge struct {
	Purge PurgeData `json:"purge"`
}

type SplitData struct {
	SplitName string   `json:"split_name"`
	SplitTime string   `json:"split_time"`
	IsUndo    bool     `json:"is_undo"`
	IsFinish  bool     `json:"is_finish"`
	User      UserData `json:"user"`
}

type RaceSplit struct {
	Split SplitData `json:"split"`
}

type Error struct {
	Errors []string `json:"errors"`
}

type Pong struct{}
