package room

import (
	"race-lab/domain"
	"race-lab/errors"
	"race-lab/partition"
	"race-lab/rating"
	"strings"

	"github.com/samber/lo"
)

// partition splits the joined entrants of a 1v1 pool into child rooms of
// evenly rated pairs and closes the pool.
func (c *call) partition() error {
	if !c.race.Partitionable {
		return errors.BadState("this race cannot be partitioned")
	}
	if err := c.requirePreparation(); err != nil {
		return err
	}
	joined := c.race.Joined()
	if len(joined) < 2 {
		return errors.BadState("at least 2 entrants must have joined")
	}

	players := make([]partition.Player, 0, len(joined))
	for _, e := range joined {
		p := partition.Player{UserID: e.UserID, Skill: c.s.engine.Prior()}
		if c.race.Goal != nil {
			ranking, err := c.tx.Ranking(e.UserID, c.race.Category, c.race.Goal.ID)
			if err != nil {
				return err
			}
			if ranking != nil {
				p.Skill = rating.Rating{Mu: ranking.Score, Sigma: ranking.Confidence}
			}
		}
		p.Rating = p.Skill.Value()
		players = append(players, p)
	}

	groups := c.s.partitioner.Pair(players)
	params := paramsOf(c.race)
	params.Partitionable = false
	params.HideEntrants = true
	params.AllowPreraceChat = false
	params.AllowMidraceChat = false
	params.AllowNonEntrantChat = false
	params.DisqualifyUnready = true
	params.Invitational = true

	keys := make([]string, 0, len(groups))
	for _, group := range groups {
		child := newRace(c.race.Category, c.race.Goal, params, c.race.OpenedBy, c.now)
		if c.race.Goal == nil {
			child.CustomGoal = c.race.CustomGoal
		}
		child.Monitors = append([]int64(nil), c.race.Monitors...)
		parent := c.race.Key()
		child.Parent = &parent
		if err := c.s.createRoom(c.tx, c.category, child); err != nil {
			return err
		}
		for _, p := range group {
			if err := c.seed(child, p.UserID, domain.EntrantInvited); err != nil {
				return err
			}
		}
		if _, err := c.tx.SaveRoom(child, child.Version); err != nil {
			return err
		}
		c.created = append(c.created, child)
		keys = append(keys, child.Key().String())
	}

	for i := range c.race.Entrants {
		e := &c.race.Entrants[i]
		if e.State == domain.EntrantJoined {
			e.State = domain.EntrantPartitioned
			e.Ready = false
		}
	}
	c.race.Entrants = lo.Filter(c.race.Entrants, func(e domain.Entrant, _ int) bool {
		return e.State == domain.EntrantPartitioned
	})
	ended := c.now
	c.race.State = domain.StatePartitioned
	c.race.EndedAt = &ended
	c.touch()
	return c.highlight("This race has been split into %d 1v1 races: %s", len(groups), strings.Join(keys, ", "))
}
