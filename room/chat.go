package room

import (
	"context"
	"encoding/json"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/domain/event"
	"race-lab/errors"
	"race-lab/idcodec"
	"strings"
	"unicode/utf8"
)

// HistoryLimit is the most non-pinned messages a history query returns.
const HistoryLimit = 100

func (c *call) postMessage() error {
	text := strings.TrimSpace(c.args.Text)
	if text == "" || utf8.RuneCountInString(text) > domain.MaxMessageLength {
		return errors.Validation("a message must hold 1 to %d characters", domain.MaxMessageLength)
	}
	if c.race.ChatClosed(c.now) {
		return errors.BadState("the chat of this race is closed")
	}

	m := domain.Message{
		RaceID:   c.race.ID,
		PostedAt: c.now,
		GUID:     c.guid,
		Pinned:   c.args.Pinned,
	}
	if c.actor.IsBot() {
		m.BotID = c.actor.BotID
		if c.args.DirectTo != 0 {
			if _, err := c.user(c.args.DirectTo); err != nil {
				return err
			}
			to := c.args.DirectTo
			m.DirectTo = &to
		}
	} else {
		userID := c.self()
		if err := c.s.checkBans(c.tx, userID, c.race.Category, c.now); err != nil {
			return err
		}
		monitor := c.canMonitor(userID)
		if !monitor {
			if err := c.chatAllowed(userID); err != nil {
				return err
			}
			if c.args.Pinned {
				return errors.Authorization("only race monitors can pin messages")
			}
			m.Delay = c.race.ChatMessageDelay
		}
		m.UserID = &userID
	}

	if c.s.moderator != nil {
		censored, found := c.s.moderator.Censor(text)
		if len(found) > 0 {
			c.s.log.Debug("Message censored", "race", c.race.Key().String(), "words", len(found))
		}
		text = censored
	}
	m.Text = text

	if err := c.tx.InsertMessage(&m); err != nil {
		return err
	}
	return c.deliver(m)
}

// chatAllowed applies the chat policy of the race to a non-monitor.
func (c *call) chatAllowed(userID int64) error {
	e := c.race.Entrant(userID)
	entrant := e != nil && e.State == domain.EntrantJoined
	switch {
	case !entrant && !c.race.AllowNonEntrantChat:
		return errors.BadState("only entrants may chat in this race")
	case c.race.State.IsPreparation() && !c.race.AllowPreraceChat:
		return errors.BadState("chat is disabled until the race starts")
	case c.race.State.IsRunning() && !c.race.AllowMidraceChat && (!entrant || e.IsRunning()):
		return errors.BadState("chat is disabled while the race is in progress")
	}
	return nil
}

// message loads a message of the race designated by Args.Message.
func (c *call) message() (domain.Message, error) {
	m, err := c.tx.Message(c.args.Message)
	if err != nil {
		return domain.Message{}, err
	}
	if m.RaceID != c.race.ID || m.Deleted {
		return domain.Message{}, errors.NotFound("message not found")
	}
	return m, nil
}

func (c *call) deleteMessage() error {
	m, err := c.message()
	if err != nil {
		return err
	}
	if m.Kind() == domain.MessageSystem {
		return errors.BadState("system messages cannot be deleted")
	}
	deletedAt := c.now
	m.Deleted = true
	m.DeletedBy = c.actor.UserID
	m.DeletedAt = &deletedAt
	if err := c.tx.UpdateMessage(m); err != nil {
		return err
	}

	data := event.DeleteData{
		ID:    c.s.codec.MustEncode(idcodec.Message, m.ID),
		IsBot: m.BotID != nil,
	}
	if data.User, err = c.optionalUser(m.UserID); err != nil {
		return err
	}
	if m.BotID != nil {
		bot, err := c.tx.Bot(*m.BotID)
		if err != nil {
			return err
		}
		data.Bot = bot.Name
	}
	if data.DeletedBy, err = c.optionalUser(c.actor.UserID); err != nil {
		return err
	}
	c.plan.deletes = append(c.plan.deletes, deleteNote{
		raceID:    c.race.ID,
		messageID: m.ID,
		evt:       event.New(event.ChatDeleteType, c.now, event.ChatDelete{Delete: data}),
	})
	return nil
}

// purgeUser deletes every message of a user in the race.
func (c *call) purgeUser() error {
	user, err := c.userData(c.args.User)
	if err != nil {
		return err
	}
	messages, err := c.tx.RaceMessages(c.race.ID)
	if err != nil {
		return err
	}
	deletedAt := c.now
	for _, m := range messages {
		if m.Deleted || m.UserID == nil || *m.UserID != c.args.User {
			continue
		}
		m.Deleted = true
		m.DeletedBy = c.actor.UserID
		m.DeletedAt = &deletedAt
		if err := c.tx.UpdateMessage(m); err != nil {
			return err
		}
		c.plan.deletes = append(c.plan.deletes, deleteNote{raceID: c.race.ID, messageID: m.ID})
	}

	purgedBy, err := c.optionalUser(c.actor.UserID)
	if err != nil {
		return err
	}
	c.plan.events = append(c.plan.events, roomEvent{
		raceID: c.race.ID,
		evt:    event.New(event.ChatPurgeType, c.now, event.ChatPurge{Purge: event.PurgeData{User: *user, PurgedBy: purgedBy}}),
	})
	return nil
}

func (c *call) setPinned(pinned bool) error {
	m, err := c.message()
	if err != nil {
		return err
	}
	if m.Pinned == pinned {
		if pinned {
			return errors.Sync("the message is already pinned")
		}
		return errors.Sync("the message is not pinned")
	}
	m.Pinned = pinned
	if err := c.tx.UpdateMessage(m); err != nil {
		return err
	}
	m.Delay = 0
	return c.deliver(m)
}

func (c *call) pinMessage() error { return c.setPinned(true) }

func (c *call) unpinMessage() error { return c.setPinned(false) }

func (c *call) setInfo() error {
	if c.args.InfoUser == nil && c.args.InfoBot == nil {
		return errors.Validation("nothing to update")
	}
	if c.args.InfoBot != nil && !c.actor.IsBot() {
		return errors.Authorization("only bots can set the bot information")
	}
	for _, info := range []*string{c.args.InfoUser, c.args.InfoBot} {
		if info != nil && utf8.RuneCountInString(*info) > domain.MaxInfoLength {
			return errors.Validation("race information cannot exceed %d characters", domain.MaxInfoLength)
		}
	}
	if c.args.InfoUser != nil {
		c.race.InfoUser = strings.TrimSpace(*c.args.InfoUser)
	}
	if c.args.InfoBot != nil {
		c.race.InfoBot = strings.TrimSpace(*c.args.InfoBot)
	}
	c.touch()
	return nil
}

// setMeta merges Args.Meta into the bot metadata of the race.
func (c *call) setMeta() error {
	meta := make(map[string]json.RawMessage)
	if len(c.race.BotMeta) > 0 {
		if err := json.Unmarshal(c.race.BotMeta, &meta); err != nil {
			return errors.Fatal(err, "bot metadata of %s is corrupt", c.race.Key())
		}
	}
	for k, v := range c.args.Meta {
		if string(v) == "null" {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return errors.Validation("invalid metadata")
	}
	if len(raw) > domain.MaxBotMetaBytes {
		return errors.Validation("bot metadata cannot exceed %d bytes", domain.MaxBotMetaBytes)
	}
	c.race.BotMeta = raw
	c.touch()
	return nil
}

// split relays a live split of the caller to the room. Splits are not
// stored.
func (c *call) split() error {
	if c.race.State != domain.StateInProgress {
		return errors.BadState("the race is not in progress")
	}
	e, err := c.requireRunningEntrant()
	if err != nil {
		return err
	}
	if e.DNF {
		return errors.BadState("you are no longer racing")
	}
	name := strings.TrimSpace(c.args.Split.Name)
	if name == "" {
		return errors.Validation("a split needs a name")
	}
	user, err := c.userData(e.UserID)
	if err != nil {
		return err
	}
	c.plan.events = append(c.plan.events, roomEvent{
		raceID: c.race.ID,
		evt: event.New(event.RaceSplitType, c.now, event.RaceSplit{Split: event.SplitData{
			SplitName: name,
			SplitTime: c.args.Split.Time,
			IsUndo:    c.args.Split.IsUndo,
			IsFinish:  c.args.Split.IsFinish,
			User:      *user,
		}}),
	})
	return nil
}

// History returns the chat of the room as actor may see it: at most
// HistoryLimit messages after the cursor, then every pinned message.
func (s *Service) History(ctx context.Context, key domain.RaceKey, actor domain.Actor, after *int64) ([]event.MessageData, error) {
	out := []event.MessageData{}
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		c, err := s.newCall(tx, race, actor, Args{}, &plan{})
		if err != nil {
			return err
		}
		messages, err := tx.History(race.ID, after, HistoryLimit)
		if err != nil {
			return err
		}
		monitor := c.actorIsMonitor()
		for _, m := range messages {
			if !c.visible(m, monitor) {
				continue
			}
			data, err := c.messageData(m)
			if err != nil {
				return err
			}
			out = append(out, data)
		}
		return nil
	})
	return out, err
}

func (c *call) visible(m domain.Message, monitor bool) bool {
	if m.Deleted {
		return false
	}
	own := c.actor.UserID != nil && m.UserID != nil && *m.UserID == *c.actor.UserID
	if m.DirectTo != nil && !own && (c.actor.UserID == nil || *m.DirectTo != *c.actor.UserID) {
		return false
	}
	return monitor || own || !c.now.Before(m.VisibleAt())
}
