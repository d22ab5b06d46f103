package domain

import "time"

type Category struct {
	Slug       string
	Name       string
	Owners     []int64
	Moderators []int64
	// SlugWords optionally replaces the default slug word lists.
	SlugWords *SlugWords
	Active    bool
}

type SlugWords struct {
	Adjectives []string `yaml:"adjectives"`
	Nouns      []string `yaml:"nouns"`
}

// CanModerate is true for staff, category owners and moderators.
func (c Category) CanModerate(userID int64, staff bool) bool {
	if staff {
		return true
	}
	for _, id := range c.Owners {
		if id == userID {
			return true
		}
	}
	for _, id := range c.Moderators {
		if id == userID {
			return true
		}
	}
	return false
}

type Goal struct {
	ID       int64
	Category string
	Name     string
	Active   bool
}

// Ban is site-wide when Category is empty.
type Ban struct {
	UserID    int64
	Category  string
	Reason    string
	ExpiresAt *time.Time
}

func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

func (b Ban) Applies(category string) bool {
	return b.Category == "" || b.Category == category
}
