package room

import (
	"fmt"
	"race-lab/domain"
	"race-lab/errors"
	"strings"
	"time"

	"github.com/samber/lo"
)

func (c *call) begin() error {
	if reason := c.race.CanBegin(); reason != "" {
		return errors.BadState("the race cannot begin: %s", reason)
	}
	var dropped []int64
	for i := range c.race.Entrants {
		e := &c.race.Entrants[i]
		switch {
		case e.State == domain.EntrantJoined && e.Ready:
		case e.State == domain.EntrantJoined && c.race.DisqualifyUnready:
			e.DQ = true
		default:
			dropped = append(dropped, e.UserID)
		}
	}
	for _, userID := range dropped {
		c.race.RemoveEntrant(userID)
	}

	startAt := c.now.Add(c.race.StartDelay)
	c.race.State = domain.StatePending
	c.race.StartedAt = &startAt
	c.touch()
	return c.highlight("The race will begin in %d seconds!", int(c.race.StartDelay.Seconds()))
}

// start moves a pending race to in progress once its start time is reached.
func (c *call) start() error {
	if c.race.State != domain.StatePending {
		return errors.BadState("the race is not about to start")
	}
	if c.now.Before(*c.race.StartedAt) {
		return errors.BadState("the race starts at %s", c.race.StartedAt.Format(time.RFC3339))
	}
	c.race.State = domain.StateInProgress
	c.touch()
	return c.highlight("The race has begun! Good luck and have fun.")
}

func (c *call) requireRunningEntrant() (*domain.Entrant, error) {
	e, err := c.entrant()
	if err != nil {
		return nil, err
	}
	if e.State != domain.EntrantJoined {
		return nil, errors.BadState("you are not racing")
	}
	if e.DQ {
		return nil, errors.BadState("you have been disqualified")
	}
	return e, nil
}

func (c *call) done() error {
	if c.race.State != domain.StateInProgress {
		return errors.BadState("the race is not in progress")
	}
	e, err := c.requireRunningEntrant()
	if err != nil {
		return err
	}
	if e.DNF || e.FinishTime != nil {
		return errors.Sync("you are no longer racing")
	}
	if !e.Ready {
		return errors.BadState("you were not ready when the race started")
	}
	finish := c.now.Sub(*c.race.StartedAt)
	if finish < domain.MinFinishTime {
		return errors.BadState("you cannot finish within %s of the start", domain.MinFinishTime)
	}
	e.FinishTime = &finish
	c.race.RecalculatePlaces()
	c.touch()

	e = c.race.Entrant(e.UserID)
	if err := c.system("%s has finished in %s place with a time of %s!",
		c.name(e.UserID), ordinal(*e.Place), formatTimer(finish)); err != nil {
		return err
	}
	if err := c.personalBest(*e); err != nil {
		return err
	}
	return c.finishIfNoneRemaining()
}

func (c *call) personalBest(e domain.Entrant) error {
	if c.race.Goal == nil {
		return nil
	}
	ranking, err := c.tx.Ranking(e.UserID, c.race.Category, c.race.Goal.ID)
	if err != nil || ranking == nil || ranking.BestTime == nil {
		return err
	}
	if *e.FinishTime <= *ranking.BestTime-time.Second {
		return c.system("%s has beaten their personal best time of %s!", c.name(e.UserID), formatTimer(*ranking.BestTime))
	}
	return nil
}

// requireReopen checks that a finish or forfeit of e may be reversed.
func (c *call) requireReopen(e *domain.Entrant) error {
	if !c.race.CanReopen(c.now) {
		return errors.BadState("the race can no longer be reopened")
	}
	other, err := c.tx.ActiveEntry(e.UserID, c.race.ID)
	if err != nil {
		return err
	}
	if other != nil {
		return errors.BadState("you have already joined %s", other)
	}
	return nil
}

// reopen resumes a finished race after an entrant came back.
func (c *call) reopen() {
	if c.race.State == domain.StateFinished {
		c.race.State = domain.StateInProgress
		c.race.EndedAt = nil
	}
}

func (c *call) undone() error {
	e, err := c.requireRunningEntrant()
	if err != nil {
		return err
	}
	if e.FinishTime == nil || e.DNF {
		return errors.Sync("you have not finished")
	}
	if err := c.requireReopen(e); err != nil {
		return err
	}
	e.FinishTime = nil
	e.Place = nil
	c.race.RecalculatePlaces()
	c.reopen()
	c.touch()
	return c.system("%s has been undone from the race.", c.name(e.UserID))
}

func (c *call) forfeit() error {
	if !c.race.State.IsRunning() {
		return errors.BadState("the race is not running")
	}
	e, err := c.requireRunningEntrant()
	if err != nil {
		return err
	}
	if e.DNF || e.FinishTime != nil {
		return errors.Sync("you are no longer racing")
	}
	e.DNF = true
	c.touch()
	if err := c.system("%s has forfeited from the race.", c.name(e.UserID)); err != nil {
		return err
	}
	if c.race.State == domain.StateInProgress {
		return c.finishIfNoneRemaining()
	}
	return nil
}

func (c *call) unforfeit() error {
	e, err := c.requireRunningEntrant()
	if err != nil {
		return err
	}
	if !e.DNF {
		return errors.Sync("you have not forfeited")
	}
	if err := c.requireReopen(e); err != nil {
		return err
	}
	e.DNF = false
	c.reopen()
	c.touch()
	return c.system("%s has un-forfeited from the race.", c.name(e.UserID))
}

func (c *call) addComment() error {
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if !c.race.CanComment(*e) {
		return errors.BadState("you cannot comment on this race")
	}
	text := strings.TrimSpace(c.args.Text)
	if text == "" || len([]rune(text)) > domain.MaxCommentLength {
		return errors.Validation("a comment must hold 1 to %d characters", domain.MaxCommentLength)
	}
	e.Comment = text
	c.touch()
	if c.race.HideComments {
		return nil
	}
	return c.system("%s added a comment.", c.name(e.UserID))
}

func (c *call) finishIfNoneRemaining() error {
	if c.race.State != domain.StateInProgress || c.race.NumRunning() > 0 {
		return nil
	}
	return c.finish()
}

// finish ends an in-progress race. Without any finisher it is cancelled
// unless the time limit auto completes the race.
func (c *call) finish() error {
	if c.race.State != domain.StateInProgress {
		return errors.BadState("the race is not in progress")
	}
	for i := range c.race.Entrants {
		if c.race.Entrants[i].IsRunning() {
			c.race.Entrants[i].DNF = true
		}
	}
	ended := c.now
	c.race.EndedAt = &ended
	c.touch()

	if c.race.NumFinished() == 0 && !c.race.TimeLimitAutoComplete {
		c.race.State = domain.StateCancelled
		c.race.CancelledAt = &ended
		c.race.Recordable = false
		if err := c.deanonymise(); err != nil {
			return err
		}
		return c.highlight("Race cancelled: nobody finished.")
	}
	c.race.State = domain.StateFinished
	if err := c.deanonymise(); err != nil {
		return err
	}
	return c.highlight("Race finished in %s.", formatTimer(ended.Sub(*c.race.StartedAt)))
}

// cancel aborts a race that is not done yet.
func (c *call) cancel(reason string) error {
	if c.race.State.IsDone() {
		return errors.BadState("the race is already %s", c.race.State)
	}
	if c.race.State == domain.StateInProgress {
		for i := range c.race.Entrants {
			if c.race.Entrants[i].IsRunning() {
				c.race.Entrants[i].DNF = true
			}
		}
	}
	cancelled := c.now
	if c.race.State == domain.StatePending {
		c.race.StartedAt = nil
	}
	c.race.State = domain.StateCancelled
	c.race.CancelledAt = &cancelled
	c.race.Recordable = false
	c.touch()
	if err := c.deanonymise(); err != nil {
		return err
	}
	return c.highlight("%s", reason)
}

func (c *call) cancelByActor() error {
	return c.cancel(fmt.Sprintf("This race has been cancelled by %s.", c.actorName()))
}

func (c *call) hold() error {
	if c.race.Hold {
		return errors.Sync("the race is already on hold")
	}
	if c.race.Recorded {
		return errors.BadState("the race has already been recorded")
	}
	c.race.Hold = true
	c.touch()
	return c.system("%s has put the race on hold.", c.actorName())
}

func (c *call) unhold() error {
	if !c.race.Hold {
		return errors.Sync("the race is not on hold")
	}
	c.race.Hold = false
	c.touch()
	return c.system("%s has released the hold on the race.", c.actorName())
}

func (c *call) unrecord() error {
	if c.race.State != domain.StateFinished || c.race.Recorded {
		return errors.BadState("only a finished, unrecorded race can be set as unrecordable")
	}
	if !c.race.Recordable {
		return errors.Sync("the race is already unrecordable")
	}
	c.race.Recordable = false
	c.touch()
	return c.system("%s marked the race as not recorded.", c.actorName())
}

// record finalises a finished race and feeds its result to the leaderboard
// of its goal.
func (c *call) record() error {
	switch {
	case c.race.State != domain.StateFinished:
		return errors.BadState("only a finished race can be recorded")
	case !c.race.Recordable:
		return errors.BadState("this race cannot be recorded")
	case c.race.Recorded:
		return errors.Sync("the race is already recorded")
	case c.race.Hold:
		return errors.BadState("the race is on hold")
	}
	if lo.SomeBy(c.race.Entrants, func(e domain.Entrant) bool { return e.UserID == 0 }) {
		return errors.BadState("every entrant must be a registered user")
	}
	if c.race.Ranked && c.race.Goal != nil {
		if err := c.rate(); err != nil {
			return err
		}
	}
	c.race.Recorded = true
	c.race.RecordedBy = c.actor.UserID
	c.touch()
	return c.system("Race result recorded by %s.", c.actorName())
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

// formatTimer renders d as H:MM:SS.
func formatTimer(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
}
