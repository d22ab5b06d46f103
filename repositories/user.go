package repositories

import (
	"fmt"
	"math/rand/v2"
	"race-lab/domain"
	"race-lab/errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const maxDiscriminatorDraws = 100

func userKey(id int64) string { return fmt.Sprintf("user:%019d", id) }

func userDiscKey(name, disc string) string {
	return fmt.Sprintf("userdisc:%s:%s", strings.ToLower(name), disc)
}

func banPrefix(userID int64) string { return fmt.Sprintf("ban:%019d:", userID) }

func banKey(b domain.Ban) string {
	scope := b.Category
	if scope == "" {
		scope = "*"
	}
	return banPrefix(b.UserID) + scope
}

func categoryKey(slug string) string { return "category:" + slug }

func goalKey(id int64) string { return fmt.Sprintf("goal:%019d", id) }

func goalNameKey(category, name string) string {
	return fmt.Sprintf("goalname:%s:%s", category, strings.ToLower(name))
}

func teamKey(id int64) string { return fmt.Sprintf("team:%019d", id) }

func teamSlugKey(slug string) string { return "teamslug:" + slug }

func botKey(id int64) string { return fmt.Sprintf("bot:%019d", id) }

func (t *tx) User(id int64) (domain.User, error) {
	var u domain.User
	if err := t.get(userKey(id), &u); err != nil {
		return domain.User{}, notFound(err, "user %d not found", id)
	}
	return u, nil
}

func (t *tx) SaveUser(u *domain.User) error {
	if u.ID == 0 {
		id, err := t.store.nextID("user")
		if err != nil {
			return err
		}
		u.ID = id
	} else if old, err := t.User(u.ID); err == nil {
		if old.Name != u.Name || old.Discriminator != u.Discriminator {
			if err := t.del(userDiscKey(old.Name, old.Discriminator)); err != nil {
				return err
			}
		}
	} else if errors.KindOf(err) != errors.KindNotFound {
		return err
	}
	if err := t.AssignDiscriminator(u); err != nil {
		return err
	}
	if err := t.set(userDiscKey(u.Name, u.Discriminator), u.ID); err != nil {
		return err
	}
	return t.set(userKey(u.ID), *u)
}

func (t *tx) AssignDiscriminator(u *domain.User) error {
	free := func(disc string) (bool, error) {
		var owner int64
		err := t.get(userDiscKey(u.Name, disc), &owner)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return owner == u.ID, nil
	}
	if u.Discriminator != "" {
		ok, err := free(u.Discriminator)
		if err != nil || ok {
			return err
		}
	}
	for range maxDiscriminatorDraws {
		disc := fmt.Sprintf("%04d", rand.IntN(9999)+1)
		ok, err := free(disc)
		if err != nil {
			return err
		}
		if ok {
			u.Discriminator = disc
			return nil
		}
	}
	return errors.Fatal(nil, "no free discriminator left for name %q", u.Name)
}

func (t *tx) Bans(userID int64) ([]domain.Ban, error) {
	var bans []domain.Ban
	err := t.scan(banPrefix(userID), false, func(_ string, val []byte) (bool, error) {
		var b domain.Ban
		if err := decMode.Unmarshal(val, &b); err != nil {
			return false, err
		}
		bans = append(bans, b)
		return true, nil
	})
	return bans, err
}

func (t *tx) SaveBan(b domain.Ban) error { return t.set(banKey(b), b) }

func (t *tx) Category(slug string) (domain.Category, error) {
	var c domain.Category
	if err := t.get(categoryKey(slug), &c); err != nil {
		return domain.Category{}, notFound(err, "category %s not found", slug)
	}
	return c, nil
}

func (t *tx) SaveCategory(c domain.Category) error { return t.set(categoryKey(c.Slug), c) }

func (t *tx) Goal(id int64) (domain.Goal, error) {
	var g domain.Goal
	if err := t.get(goalKey(id), &g); err != nil {
		return domain.Goal{}, notFound(err, "goal %d not found", id)
	}
	return g, nil
}

func (t *tx) GoalByName(category, name string) (domain.Goal, error) {
	var id int64
	if err := t.get(goalNameKey(category, name), &id); err != nil {
		return domain.Goal{}, notFound(err, "goal %q not found in %s", name, category)
	}
	return t.Goal(id)
}

func (t *tx) SaveGoal(g *domain.Goal) error {
	if g.ID == 0 {
		if existing, err := t.GoalByName(g.Category, g.Name); err == nil {
			g.ID = existing.ID
		} else {
			id, err := t.store.nextID("goal")
			if err != nil {
				return err
			}
			g.ID = id
		}
	}
	if err := t.set(goalNameKey(g.Category, g.Name), g.ID); err != nil {
		return err
	}
	return t.set(goalKey(g.ID), *g)
}

func (t *tx) Team(id int64) (domain.Team, error) {
	var team domain.Team
	if err := t.get(teamKey(id), &team); err != nil {
		return domain.Team{}, notFound(err, "team %d not found", id)
	}
	return team, nil
}

func (t *tx) SaveTeam(team *domain.Team) error {
	if team.ID == 0 {
		var id int64
		err := t.get(teamSlugKey(team.Slug), &id)
		switch {
		case err == nil:
			team.ID = id
		case errors.Is(err, badger.ErrKeyNotFound):
			if team.ID, err = t.store.nextID("team"); err != nil {
				return err
			}
		default:
			return err
		}
	}
	if err := t.set(teamSlugKey(team.Slug), team.ID); err != nil {
		return err
	}
	return t.set(teamKey(team.ID), *team)
}

func (t *tx) Bot(id int64) (domain.Bot, error) {
	var b domain.Bot
	if err := t.get(botKey(id), &b); err != nil {
		return domain.Bot{}, notFound(err, "bot %d not found", id)
	}
	return b, nil
}

func (t *tx) SaveBot(b *domain.Bot) error {
	if b.ID == 0 {
		id, err := t.store.nextID("bot")
		if err != nil {
			return err
		}
		b.ID = id
	}
	return t.set(botKey(b.ID), *b)
}
