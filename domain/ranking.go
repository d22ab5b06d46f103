package domain

import (
	"math"
	"time"
)

// UserRanking is a user's position on the leaderboard of one goal.
// Score and Confidence are the mean and deviation of the skill estimate.
type UserRanking struct {
	UserID     int64
	Category   string
	GoalID     int64
	Score      float64
	Confidence float64
	Rating     int
	BestTime   *time.Duration
	TimesRaced int
	LastRaced  *time.Time
}

// ComputeRating is the conservative leaderboard value of a skill
// estimate, never negative.
func ComputeRating(score, confidence float64) int {
	return int(math.Max(0, math.Round((score-2*confidence)*100)))
}
