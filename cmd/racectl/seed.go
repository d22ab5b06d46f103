package main

import (
	"context"
	"fmt"
	"io"
	"race-lab/contract"
	"race-lab/domain"

	"gopkg.in/yaml.v3"
)

// SeedFile describes the directory racectl loads into a fresh store.
// Categories and teams name users, ids are assigned by the store.
type SeedFile struct {
	Users      []SeedUser     `yaml:"users"`
	Categories []SeedCategory `yaml:"categories"`
	Teams      []SeedTeam     `yaml:"teams"`
	Bots       []SeedBot      `yaml:"bots"`
}

type SeedUser struct {
	Name        string `yaml:"name"`
	Staff       bool   `yaml:"staff"`
	Supporter   bool   `yaml:"supporter"`
	Pronouns    string `yaml:"pronouns"`
	TwitchID    string `yaml:"twitch_id"`
	TwitchName  string `yaml:"twitch_name"`
	YoutubeID   string `yaml:"youtube_id"`
	YoutubeName string `yaml:"youtube_name"`
}

type SeedCategory struct {
	Slug       string            `yaml:"slug"`
	Name       string            `yaml:"name"`
	Owners     []string          `yaml:"owners"`
	Moderators []string          `yaml:"moderators"`
	Goals      []string          `yaml:"goals"`
	SlugWords  *domain.SlugWords `yaml:"slug_words"`
}

type SeedTeam struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type SeedBot struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// SeedResult holds the ids the store assigned.
type SeedResult struct {
	Users map[string]int64
	Bots  map[string]int64
}

func ParseSeed(r io.Reader) (SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return SeedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	return seed, nil
}

// Apply writes the seed in a single transaction.
func (s SeedFile) Apply(ctx context.Context, store contract.Store) (SeedResult, error) {
	res := SeedResult{Users: make(map[string]int64), Bots: make(map[string]int64)}
	err := store.WithTx(ctx, func(tx contract.Tx) error {
		for _, su := range s.Users {
			if _, dup := res.Users[su.Name]; dup {
				return fmt.Errorf("user %q is listed twice", su.Name)
			}
			u := domain.User{
				Name:        su.Name,
				IsStaff:     su.Staff,
				IsSupporter: su.Supporter,
				Pronouns:    su.Pronouns,
				TwitchID:    su.TwitchID,
				TwitchName:  su.TwitchName,
				YoutubeID:   su.YoutubeID,
				YoutubeName: su.YoutubeName,
				Active:      true,
			}
			if err := tx.SaveUser(&u); err != nil {
				return fmt.Errorf("save user %s: %w", su.Name, err)
			}
			res.Users[su.Name] = u.ID
		}

		ids := func(names []string) ([]int64, error) {
			out := make([]int64, 0, len(names))
			for _, n := range names {
				id, ok := res.Users[n]
				if !ok {
					return nil, fmt.Errorf("unknown user %q", n)
				}
				out = append(out, id)
			}
			return out, nil
		}

		for _, sc := range s.Categories {
			owners, err := ids(sc.Owners)
			if err != nil {
				return fmt.Errorf("category %s owners: %w", sc.Slug, err)
			}
			moderators, err := ids(sc.Moderators)
			if err != nil {
				return fmt.Errorf("category %s moderators: %w", sc.Slug, err)
			}
			if err := tx.SaveCategory(domain.Category{
				Slug:       sc.Slug,
				Name:       sc.Name,
				Owners:     owners,
				Moderators: moderators,
				SlugWords:  sc.SlugWords,
				Active:     true,
			}); err != nil {
				return err
			}
			for _, name := range sc.Goals {
				if err := tx.SaveGoal(&domain.Goal{Category: sc.Slug, Name: name, Active: true}); err != nil {
					return err
				}
			}
		}

		for _, st := range s.Teams {
			members, err := ids(st.Members)
			if err != nil {
				return fmt.Errorf("team %s: %w", st.Slug, err)
			}
			team := domain.Team{Slug: st.Slug, Name: st.Name, Members: members}
			if err := tx.SaveTeam(&team); err != nil {
				return err
			}
			for _, id := range members {
				u, err := tx.User(id)
				if err != nil {
					return err
				}
				u.Teams = append(u.Teams, team.ID)
				if err := tx.SaveUser(&u); err != nil {
					return err
				}
			}
		}

		for _, sb := range s.Bots {
			if _, err := tx.Category(sb.Category); err != nil {
				return fmt.Errorf("bot %s: %w", sb.Name, err)
			}
			bot := domain.Bot{Name: sb.Name, Category: sb.Category, Active: true}
			if err := tx.SaveBot(&bot); err != nil {
				return err
			}
			res.Bots[sb.Name] = bot.ID
		}
		return nil
	})
	return res, err
}
