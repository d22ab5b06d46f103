package room

import (
	"context"
	"race-lab/contract"
	"race-lab/domain"
)

// Transitions driven by the clock rather than by a caller. They run with
// an anonymous actor and skip the verb authority checks.

func (s *Service) Begin(ctx context.Context, key domain.RaceKey) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, (*call).begin)
}

func (s *Service) Start(ctx context.Context, key domain.RaceKey) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, (*call).start)
}

// Finish ends the race at its time limit.
func (s *Service) Finish(ctx context.Context, key domain.RaceKey) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, (*call).finish)
}

func (s *Service) FinishIfNoneRemaining(ctx context.Context, key domain.RaceKey) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, (*call).finishIfNoneRemaining)
}

func (s *Service) Cancel(ctx context.Context, key domain.RaceKey, reason string) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, func(c *call) error {
		return c.cancel(reason)
	})
}

// Notify posts a system message to the room without changing the race.
func (s *Service) Notify(ctx context.Context, key domain.RaceKey, text string, highlight bool) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, func(c *call) error {
		return c.post(text, highlight)
	})
}

// StreamAccounts lists, per provider, the linked accounts of the joined
// entrants of a race.
func (s *Service) StreamAccounts(ctx context.Context, key domain.RaceKey) (map[string][]string, error) {
	accounts := make(map[string][]string)
	err := s.store.View(ctx, func(tx contract.Tx) error {
		race, err := tx.LoadRoom(key)
		if err != nil {
			return err
		}
		for _, e := range race.Joined() {
			u, err := tx.User(e.UserID)
			if err != nil {
				return err
			}
			for _, provider := range []string{domain.StreamTwitch, domain.StreamYoutube} {
				if account := u.StreamAccount(provider); account != "" {
					accounts[provider] = append(accounts[provider], account)
				}
			}
		}
		return nil
	})
	return accounts, err
}

// UpdateStreams applies what provider reported about the accounts of the
// entrants. A ready entrant of a race requiring streaming who went offline
// is unreadied.
func (s *Service) UpdateStreams(ctx context.Context, key domain.RaceKey, provider string, live map[string]contract.StreamStatus) error {
	return s.mutate(ctx, key, domain.Actor{}, Args{}, func(c *call) error {
		if c.race.State.IsDone() {
			return nil
		}
		for i := range c.race.Entrants {
			e := &c.race.Entrants[i]
			if e.State != domain.EntrantJoined {
				continue
			}
			u, err := c.user(e.UserID)
			if err != nil {
				return err
			}
			account := u.StreamAccount(provider)
			if account == "" {
				continue
			}
			isLive := live[account].Live
			switch provider {
			case domain.StreamTwitch:
				if e.TwitchLive == isLive {
					continue
				}
				e.TwitchLive = isLive
			case domain.StreamYoutube:
				if e.YoutubeLive == isLive {
					continue
				}
				e.YoutubeLive = isLive
			}
			e.StreamLive = e.TwitchLive || e.YoutubeLive
			c.touch()

			if c.race.StreamingRequired && c.race.State.IsPreparation() && e.Ready && !e.IsLive() {
				e.Ready = false
				if err := c.system("%s has been unreadied as they are no longer live.", c.name(e.UserID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
