package domain

import "time"

type MessageKind string

const (
	MessageSystem MessageKind = "system"
	MessageBot    MessageKind = "bot"
	MessageUser   MessageKind = "user"
)

// Message is a chat line of a race room. System messages have neither a
// user nor a bot author.
type Message struct {
	ID        int64
	RaceID    int64
	UserID    *int64
	BotID     *int64
	PostedAt  time.Time
	Text      string
	Highlight bool
	Pinned    bool
	Deleted   bool
	DeletedBy *int64
	DeletedAt *time.Time
	DirectTo  *int64
	GUID      string
	Delay     time.Duration
}

func (m Message) Kind() MessageKind {
	switch {
	case m.BotID != nil:
		return MessageBot
	case m.UserID != nil:
		return MessageUser
	}
	return MessageSystem
}

// VisibleAt is the earliest instant a non-monitor observer may see m.
func (m Message) VisibleAt() time.Time {
	return m.PostedAt.Add(m.Delay)
}
