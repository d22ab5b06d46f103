package domain

import "time"

// ActionContext carries what AvailableActions needs to know about the
// caller beyond the race itself.
type ActionContext struct {
	UserID     int64
	CanMonitor bool
	// Eligible is false when the user is banned or already racing elsewhere.
	Eligible bool
	Now      time.Time
}

// AvailableActions lists the entrant verbs the user may submit now.
func (r *Race) AvailableActions(ac ActionContext) []string {
	var actions []string
	e := r.Entrant(ac.UserID)

	if r.State.IsPreparation() {
		switch {
		case e == nil || e.State == EntrantDeclined:
			if !ac.Eligible {
				break
			}
			if r.State == StateOpen || ac.CanMonitor {
				actions = append(actions, "join")
			} else if e == nil {
				actions = append(actions, "request_invite")
			}
		case e.State == EntrantRequested:
			actions = append(actions, "cancel_invite")
		case e.State == EntrantInvited:
			actions = append(actions, "accept_invite", "decline_invite")
		case e.State == EntrantJoined:
			switch {
			case e.Ready:
				actions = append(actions, "unready")
			case r.Partitionable:
				if ac.CanMonitor {
					actions = append(actions, "partition")
				}
			case r.TeamRace && e.Team == nil:
				actions = append(actions, "set_team")
			case r.StreamingRequired && !e.IsLive():
				actions = append(actions, "not_live")
			default:
				actions = append(actions, "ready")
			}
			if !r.DisqualifyUnready {
				actions = append(actions, "leave")
			}
		}
		return actions
	}

	if e == nil || e.State != EntrantJoined || e.DQ {
		return actions
	}
	switch {
	case r.State == StateInProgress && e.IsRunning():
		actions = append(actions, "done", "forfeit")
	case e.FinishTime != nil && !e.DNF && r.CanReopen(ac.Now):
		actions = append(actions, "undone")
	case e.DNF && r.CanReopen(ac.Now):
		actions = append(actions, "unforfeit")
	}
	if r.CanComment(*e) {
		actions = append(actions, "add_comment")
	}
	return actions
}

// CanComment reports whether e may leave a post-race comment.
func (r *Race) CanComment(e Entrant) bool {
	if !r.AllowComments || r.Recorded || e.Comment != "" {
		return false
	}
	if r.State != StateInProgress && r.State != StateFinished {
		return false
	}
	return e.State == EntrantJoined && !e.DQ && (e.FinishTime != nil || e.DNF)
}
