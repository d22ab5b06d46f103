package contract

import (
	"context"
	"race-lab/domain"
	"time"
)

// Store runs functions against a consistent view of the persisted state.
// WithTx commits every write of fn or none of them.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the typed repository surface available inside a transaction.
type Tx interface {
	RoomTx
	ChatTx
	DirectoryTx
	OwnershipTx
}

type RoomTx interface {
	LoadRoom(key domain.RaceKey) (*domain.Race, error)
	LoadRoomByID(id int64) (*domain.Race, error)
	// CreateRoom assigns ids and stores version 1 of a new race.
	CreateRoom(race *domain.Race) error
	// NextEntrantID reserves an entrant id ahead of the next SaveRoom.
	NextEntrantID() (int64, error)
	// SaveRoom persists race and its entrants, returning the new version.
	// It fails with a conflict when the stored version differs.
	SaveRoom(race *domain.Race, expectedVersion uint64) (uint64, error)
	SlugTaken(category, slug string) (bool, error)
	// ActiveEntry returns the unfinished race the user is joined to, if any.
	ActiveEntry(userID int64, except int64) (*domain.RaceKey, error)
	OpenRoomsBy(userID int64) ([]domain.RaceKey, error)
	ListRooms(category string, includeDone bool) ([]domain.Race, error)
	Ranking(userID int64, category string, goalID int64) (*domain.UserRanking, error)
	SaveRanking(r domain.UserRanking) error
}

type ChatTx interface {
	InsertMessage(m *domain.Message) error
	UpdateMessage(m domain.Message) error
	Message(id int64) (domain.Message, error)
	RaceMessages(raceID int64) ([]domain.Message, error)
	// History returns at most limit non-pinned messages posted after the
	// cursor message, oldest first, followed by every pinned message.
	History(raceID int64, after *int64, limit int) ([]domain.Message, error)
	SeenGUID(raceID int64, guid string, now time.Time) (bool, error)
	RememberGUID(raceID int64, guid string, now time.Time) error
}

type DirectoryTx interface {
	User(id int64) (domain.User, error)
	// SaveUser assigns an id to new users and calls AssignDiscriminator.
	SaveUser(u *domain.User) error
	// AssignDiscriminator picks a four digit discriminator no other user
	// of the same name holds. Users keep a discriminator that is free.
	AssignDiscriminator(u *domain.User) error
	Bans(userID int64) ([]domain.Ban, error)
	SaveBan(b domain.Ban) error
	Category(slug string) (domain.Category, error)
	SaveCategory(c domain.Category) error
	Goal(id int64) (domain.Goal, error)
	GoalByName(category, name string) (domain.Goal, error)
	SaveGoal(g *domain.Goal) error
	Team(id int64) (domain.Team, error)
	SaveTeam(t *domain.Team) error
	Bot(id int64) (domain.Bot, error)
	SaveBot(b *domain.Bot) error
}

type OwnershipTx interface {
	// ClaimRoom sets the owner of an unowned race. It reports false when
	// another instance owns it already.
	ClaimRoom(raceID int64, pid int) (bool, error)
	ReleaseRoom(raceID int64, pid int) error
	UnownedRooms(limit int) ([]int64, error)
	OwnerPIDs() ([]int, error)
	// ReleaseOwner clears every race owned by pid and returns how many.
	ReleaseOwner(pid int) (int, error)
	SaveHeartbeat(hb domain.Heartbeat, ttl time.Duration) error
	Heartbeat(pid int) (*domain.Heartbeat, error)
}
