package domain

import (
	"fmt"
	"time"
)

type User struct {
	ID            int64
	Name          string
	Discriminator string
	IsStaff       bool
	IsSupporter   bool
	Pronouns      string
	TwitchID      string
	TwitchName    string
	YoutubeID     string
	YoutubeName   string
	Teams         []int64
	Active        bool
	CreatedAt     time.Time
}

// DisplayName is the name shown to other users.
func (u User) DisplayName() string {
	if u.Discriminator == "" {
		return u.Name
	}
	return fmt.Sprintf("%s#%s", u.Name, u.Discriminator)
}

// HasStream reports whether a live streaming channel is linked.
func (u User) HasStream() bool {
	return u.TwitchID != "" || u.YoutubeID != ""
}

func (u User) InTeam(team int64) bool {
	for _, t := range u.Teams {
		if t == team {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller of an action. Anonymous observers
// have neither a user nor a bot.
type Actor struct {
	UserID  *int64
	BotID   *int64
	IsStaff bool
}

func (a Actor) IsAnonymous() bool { return a.UserID == nil && a.BotID == nil }

func (a Actor) IsBot() bool { return a.BotID != nil }

func UserActor(id int64) Actor { return Actor{UserID: &id} }

func BotActor(id int64) Actor { return Actor{BotID: &id} }

// Bot is an integration allowed to act in the rooms of one category.
type Bot struct {
	ID       int64
	Name     string
	Category string
	Active   bool
}

type Team struct {
	ID      int64
	Slug    string
	Name    string
	Members []int64
}

// Streaming providers an entrant can be live on.
const (
	StreamTwitch  = "twitch"
	StreamYoutube = "youtube"
)

// StreamAccount is the account id of u on provider, empty when unlinked.
func (u User) StreamAccount(provider string) string {
	switch provider {
	case StreamTwitch:
		return u.TwitchID
	case StreamYoutube:
		return u.YoutubeID
	}
	return ""
}
