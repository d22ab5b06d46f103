package room

import (
	"race-lab/domain"
	"race-lab/rating"
)

// rate updates the goal leaderboard with the result of the race and stores
// each entrant's rating before the race along with its change.
func (c *call) rate() error {
	var entrants []*domain.Entrant
	lastPlace := 0
	for i := range c.race.Entrants {
		e := &c.race.Entrants[i]
		if e.State != domain.EntrantJoined {
			continue
		}
		entrants = append(entrants, e)
		if e.Place != nil && *e.Place > lastPlace {
			lastPlace = *e.Place
		}
	}
	if len(entrants) < 2 {
		return nil
	}

	goal := c.race.Goal.ID
	priors := make(map[int64]*domain.UserRanking, len(entrants))
	inputs := make([]rating.Entry, 0, len(entrants))
	for _, e := range entrants {
		ranking, err := c.tx.Ranking(e.UserID, c.race.Category, goal)
		if err != nil {
			return err
		}
		priors[e.UserID] = ranking

		entry := rating.Entry{UserID: e.UserID, Rank: lastPlace + 1}
		if e.Place != nil {
			entry.Rank = *e.Place
		}
		if ranking != nil {
			entry.Prior = &rating.Rating{Mu: ranking.Score, Sigma: ranking.Confidence}
		}
		inputs = append(inputs, entry)
	}

	results, err := c.s.engine.Rate(inputs)
	if err != nil {
		return err
	}
	for _, res := range results {
		e := c.race.Entrant(res.UserID)
		before, after := res.Before.Value(), res.After.Value()
		change := after - before
		e.Rating = &before
		e.RatingChange = &change

		ranking := priors[res.UserID]
		if ranking == nil {
			ranking = &domain.UserRanking{UserID: res.UserID, Category: c.race.Category, GoalID: goal}
		}
		ranking.Score = res.After.Mu
		ranking.Confidence = res.After.Sigma
		ranking.Rating = after
		ranking.TimesRaced++
		ranking.LastRaced = c.race.EndedAt
		if e.IsFinished() && (ranking.BestTime == nil || *e.FinishTime < *ranking.BestTime) {
			best := *e.FinishTime
			ranking.BestTime = &best
		}
		if err := c.tx.SaveRanking(*ranking); err != nil {
			return err
		}
	}
	return nil
}
