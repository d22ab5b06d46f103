package domain

import "time"

type EntrantState string

const (
	EntrantRequested   EntrantState = "requested"
	EntrantInvited     EntrantState = "invited"
	EntrantDeclined    EntrantState = "declined"
	EntrantJoined      EntrantState = "joined"
	EntrantPartitioned EntrantState = "partitioned"
)

type Entrant struct {
	ID             int64
	RaceID         int64
	UserID         int64
	State          EntrantState
	Ready          bool
	DNF            bool
	DQ             bool
	FinishTime     *time.Duration
	Place          *int
	Rating         *int
	RatingChange   *int
	Comment        string
	StreamLive     bool
	TwitchLive     bool
	YoutubeLive    bool
	StreamOverride bool
	Team           *int64
	JoinedAt       time.Time
}

// IsRunning reports whether the entrant is still expected to finish.
func (e Entrant) IsRunning() bool {
	return e.State == EntrantJoined && !e.DNF && !e.DQ && e.FinishTime == nil
}

func (e Entrant) IsFinished() bool {
	return e.State == EntrantJoined && !e.DNF && !e.DQ && e.FinishTime != nil
}

// IsLive is true when the entrant may race with respect to the
// streaming requirement.
func (e Entrant) IsLive() bool {
	return e.StreamLive || e.StreamOverride
}

// EntrantStatus is the display status of an entrant.
type EntrantStatus struct {
	Value    string
	Verbose  string
	HelpText string
}

// Status derives the display status. The race state matters because a
// joined entrant is "not_ready" before the start and "in_progress" after.
func (e Entrant) Status(race RaceState) EntrantStatus {
	switch {
	case e.State == EntrantRequested:
		return EntrantStatus{"requested", "Requested to join", "Waiting for a monitor to accept the request"}
	case e.State == EntrantInvited:
		return EntrantStatus{"invited", "Invited", "Invited to join the race"}
	case e.State == EntrantDeclined:
		return EntrantStatus{"declined", "Declined", "Declined the invitation"}
	case e.State == EntrantPartitioned:
		return EntrantStatus{"partitioned", "Partitioned", "Moved to a 1v1 race"}
	case e.DQ:
		return EntrantStatus{"dq", "Disqualified", "Disqualified from the race"}
	case e.DNF:
		return EntrantStatus{"dnf", "Did not finish", "Did not finish the race"}
	case e.FinishTime != nil:
		return EntrantStatus{"done", "Finished", "Finished the race"}
	case race.IsRunning() || race.IsDone():
		return EntrantStatus{"in_progress", "In progress", "Still racing"}
	case e.Ready:
		return EntrantStatus{"ready", "Ready", "Ready to begin"}
	}
	return EntrantStatus{"not_ready", "Not ready", "Not ready to begin"}
}
