package room

import (
	"race-lab/domain"
	"race-lab/errors"
	"slices"
)

func (c *call) requirePreparation() error {
	if !c.race.State.IsPreparation() {
		return errors.BadState("the race has already started")
	}
	return nil
}

// checkEligible fails when userID may not enter the race: banned, racing
// elsewhere, or missing a stream the race requires.
func (c *call) checkEligible(userID int64) error {
	if err := c.s.checkBans(c.tx, userID, c.race.Category, c.now); err != nil {
		return err
	}
	other, err := c.tx.ActiveEntry(userID, c.race.ID)
	if err != nil {
		return err
	}
	if other != nil {
		return errors.BadState("you are already entered in %s", other)
	}
	if c.race.StreamingRequired {
		u, err := c.user(userID)
		if err != nil {
			return err
		}
		if !u.HasStream() {
			return errors.BadState("this race requires a linked streaming channel")
		}
	}
	return nil
}

// addEntrant creates userID's entrant, or revives a declined one.
func (c *call) addEntrant(userID int64, state domain.EntrantState) (*domain.Entrant, error) {
	if e := c.race.Entrant(userID); e != nil {
		if e.State != domain.EntrantDeclined {
			return nil, errors.BadState("%s is already an entrant of this race", c.name(userID))
		}
		e.State = state
		e.JoinedAt = c.now
		c.touch()
		return e, nil
	}
	id, err := c.tx.NextEntrantID()
	if err != nil {
		return nil, err
	}
	c.race.Entrants = append(c.race.Entrants, domain.Entrant{
		ID:       id,
		RaceID:   c.race.ID,
		UserID:   userID,
		State:    state,
		JoinedAt: c.now,
	})
	c.touch()
	return c.race.Entrant(userID), nil
}

func (c *call) removeEntrant(userID int64) {
	c.race.RemoveEntrant(userID)
	c.touch()
}

func (c *call) makeOpen() error {
	if c.race.State != domain.StateInvitational {
		return errors.BadState("only an invitational race can be made open")
	}
	c.race.State = domain.StateOpen
	c.touch()
	return c.system("%s has made the race open to all.", c.actorName())
}

func (c *call) makeInvitational() error {
	if c.race.State != domain.StateOpen {
		return errors.BadState("only an open race can be made invitational")
	}
	c.race.State = domain.StateInvitational
	c.touch()
	return c.system("%s has made the race invitational.", c.actorName())
}

func (c *call) join() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	userID := c.self()
	if c.race.State == domain.StateInvitational && !c.canMonitor(userID) {
		return errors.BadState("this race is invitational, request an invite instead")
	}
	if err := c.checkEligible(userID); err != nil {
		return err
	}
	if _, err := c.addEntrant(userID, domain.EntrantJoined); err != nil {
		return err
	}
	return c.system("%s joins.", c.name(userID))
}

func (c *call) requestToJoin() error {
	if c.canMonitor(c.self()) {
		return c.join()
	}
	if c.race.State != domain.StateInvitational {
		return errors.BadState("invite requests are only possible in invitational races")
	}
	if err := c.checkEligible(c.self()); err != nil {
		return err
	}
	if _, err := c.addEntrant(c.self(), domain.EntrantRequested); err != nil {
		return err
	}
	return c.system("%s requests to join.", c.name(c.self()))
}

func (c *call) invite() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	if _, err := c.user(c.args.User); err != nil {
		return err
	}
	if _, err := c.addEntrant(c.args.User, domain.EntrantInvited); err != nil {
		return err
	}
	return c.system("%s invites %s to join the race.", c.actorName(), c.name(c.args.User))
}

func (c *call) acceptInvite() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantInvited {
		return errors.BadState("you have not been invited to this race")
	}
	if err := c.checkEligible(e.UserID); err != nil {
		return err
	}
	e.State = domain.EntrantJoined
	e.JoinedAt = c.now
	c.touch()
	return c.system("%s joins.", c.name(e.UserID))
}

func (c *call) declineInvite() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantInvited {
		return errors.BadState("you have not been invited to this race")
	}
	e.State = domain.EntrantDeclined
	c.touch()
	return c.system("%s declines the invitation.", c.name(e.UserID))
}

func (c *call) cancelRequest() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantRequested {
		return errors.BadState("you have no pending request to join")
	}
	name := c.name(e.UserID)
	c.removeEntrant(e.UserID)
	return c.system("%s withdraws their request to join.", name)
}

func (c *call) acceptRequest() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.target()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantRequested {
		return errors.BadState("%s has not requested to join", c.name(e.UserID))
	}
	if err := c.checkEligible(e.UserID); err != nil {
		return err
	}
	e.State = domain.EntrantJoined
	e.JoinedAt = c.now
	c.touch()
	return c.system("%s accepts a request to join from %s.", c.actorName(), c.name(e.UserID))
}

func (c *call) leave() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantJoined {
		return errors.BadState("you have not joined this race")
	}
	if c.race.DisqualifyUnready {
		return errors.BadState("entrants cannot leave this race once joined")
	}
	name := c.name(e.UserID)
	c.removeEntrant(e.UserID)
	return c.system("%s quits.", name)
}

func (c *call) ready() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	switch {
	case e.State != domain.EntrantJoined:
		return errors.BadState("you have not joined this race")
	case e.Ready:
		return errors.Sync("you are already ready")
	case c.race.Partitionable:
		return errors.BadState("entrants of a 1v1 pool cannot ready up")
	case c.race.StreamingRequired && !e.IsLive():
		return errors.BadState("you must be live on stream to ready up")
	case c.race.TeamRace && e.Team == nil:
		return errors.BadState("you must pick a team first")
	}
	e.Ready = true
	c.touch()
	return c.system("%s is ready!", c.name(e.UserID))
}

func (c *call) unready(e *domain.Entrant) error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	if e.State != domain.EntrantJoined || !e.Ready {
		return errors.Sync("%s is not ready", c.name(e.UserID))
	}
	e.Ready = false
	c.touch()
	return nil
}

func (c *call) notReady() error {
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if err := c.unready(e); err != nil {
		return err
	}
	return c.system("%s is not ready.", c.name(e.UserID))
}

func (c *call) forceUnready() error {
	e, err := c.target()
	if err != nil {
		return err
	}
	if err := c.unready(e); err != nil {
		return err
	}
	return c.system("%s has been unreadied by %s.", c.name(e.UserID), c.actorName())
}

func (c *call) remove() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	e, err := c.target()
	if err != nil {
		return err
	}
	if e.State == domain.EntrantDeclined {
		return errors.BadState("%s already declined the invitation", c.name(e.UserID))
	}
	if e.State == domain.EntrantJoined && c.race.DisqualifyUnready {
		return errors.BadState("joined entrants cannot be removed from this race")
	}
	name := c.name(e.UserID)
	c.removeEntrant(e.UserID)
	return c.system("%s was removed from the race by %s.", name, c.actorName())
}

func (c *call) addMonitor() error {
	if _, err := c.user(c.args.User); err != nil {
		return err
	}
	if c.race.IsMonitor(c.args.User) {
		return errors.Sync("%s is already a race monitor", c.realName(c.args.User))
	}
	if len(c.race.Monitors) >= domain.MaxMonitors {
		return errors.Validation("a race can have at most %d monitors", domain.MaxMonitors)
	}
	c.race.Monitors = append(c.race.Monitors, c.args.User)
	c.touch()
	return c.system("%s promoted %s to race monitor.", c.actorName(), c.realName(c.args.User))
}

func (c *call) removeMonitor() error {
	i := slices.Index(c.race.Monitors, c.args.User)
	if i < 0 {
		return errors.Sync("that user is not a race monitor")
	}
	c.race.Monitors = slices.Delete(c.race.Monitors, i, i+1)
	c.touch()
	return c.system("%s demoted %s from race monitor.", c.actorName(), c.realName(c.args.User))
}

func (c *call) overrideStream() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	if !c.race.StreamingRequired {
		return errors.BadState("this race does not require streaming")
	}
	e, err := c.target()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantJoined || e.Ready {
		return errors.BadState("the stream check can only be overridden before the entrant is ready")
	}
	if e.StreamOverride {
		return errors.Sync("the stream check of %s is already overridden", c.name(e.UserID))
	}
	e.StreamOverride = true
	c.touch()
	return c.system("%s overrode the stream check of %s.", c.actorName(), c.name(e.UserID))
}

func (c *call) setTeam() error {
	if err := c.requirePreparation(); err != nil {
		return err
	}
	if !c.race.TeamRace {
		return errors.BadState("this is not a team race")
	}
	e, err := c.entrant()
	if err != nil {
		return err
	}
	if e.State != domain.EntrantJoined || e.Ready {
		return errors.BadState("you can only pick a team after joining and before getting ready")
	}
	team, err := c.tx.Team(c.args.Team)
	if err != nil {
		return err
	}
	if !slices.Contains(team.Members, e.UserID) {
		return errors.Authorization("you are not a member of %s", team.Name)
	}
	e.Team = &team.ID
	c.touch()
	return c.system("%s joins team %s.", c.name(e.UserID), team.Name)
}
