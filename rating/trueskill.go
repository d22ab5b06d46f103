// Package rating implements the TrueSkill model used for the goal
// leaderboards: Rate updates skills after a finished race, MatchQuality
// scores how even a 1v1 would be.
package rating

import (
	"fmt"
	"math"
	"race-lab/domain"
	"sort"

	"github.com/samber/lo"
)

const (
	DefaultMu              = 25.0
	DefaultSigma           = DefaultMu / 3
	DefaultBeta            = DefaultSigma / 2
	DefaultTau             = DefaultSigma / 100
	DefaultDrawProbability = 0.10

	maxIterations = 10
	minDelta      = 0.0001
)

// Rating is a skill estimate: Mu is the score, Sigma the confidence.
type Rating struct {
	Mu    float64
	Sigma float64
}

// Value is the conservative leaderboard rating of r.
func (r Rating) Value() int { return domain.ComputeRating(r.Mu, r.Sigma) }

type Entry struct {
	UserID int64
	// Rank orders the result, lower is better. Equal ranks are a tie.
	Rank int
	// Prior is nil for users without a ranking yet.
	Prior *Rating
}

type Result struct {
	UserID int64
	Before Rating
	After  Rating
	Delta  float64
}

type Engine struct {
	Mu              float64
	Sigma           float64
	Beta            float64
	Tau             float64
	DrawProbability float64
}

func Default() Engine {
	return Engine{
		Mu:              DefaultMu,
		Sigma:           DefaultSigma,
		Beta:            DefaultBeta,
		Tau:             DefaultTau,
		DrawProbability: DefaultDrawProbability,
	}
}

func (e Engine) Prior() Rating { return Rating{Mu: e.Mu, Sigma: e.Sigma} }

func (e Engine) drawMargin(size int) float64 {
	return ppf((e.DrawProbability+1)/2) * math.Sqrt(float64(size)) * e.Beta
}

// Rate returns the updated ratings of a finished race. Entries are
// canonicalised by (rank, user) first, so the result does not depend on
// the order of the input.
func (e Engine) Rate(entries []Entry) ([]Result, error) {
	if len(entries) < 2 {
		return nil, fmt.Errorf("rating needs at least 2 entrants, got %d", len(entries))
	}
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	if len(lo.UniqBy(sorted, func(x Entry) int64 { return x.UserID })) != len(sorted) {
		return nil, fmt.Errorf("duplicate user in rating input")
	}

	n := len(sorted)
	priors := make([]Rating, n)
	skills := make([]*variable, n)
	perfs := make([]*variable, n)
	teamPerfs := make([]*variable, n)
	for i, x := range sorted {
		priors[i] = lo.FromPtrOr(x.Prior, e.Prior())
		skills[i], perfs[i], teamPerfs[i] = newVariable(), newVariable(), newVariable()
	}

	priorLayer := make([]*priorFactor, n)
	perfLayer := make([]*likelihoodFactor, n)
	teamPerfLayer := make([]*sumFactor, n)
	for i := range sorted {
		priorLayer[i] = &priorFactor{v: skills[i], prior: priors[i], dynamic: e.Tau}
		perfLayer[i] = &likelihoodFactor{mean: skills[i], value: perfs[i], variance: e.Beta * e.Beta}
		teamPerfLayer[i] = &sumFactor{sum: teamPerfs[i], terms: []*variable{perfs[i]}, coeffs: []float64{1}}
	}
	diffLayer := make([]*sumFactor, n-1)
	truncLayer := make([]*truncateFactor, n-1)
	for i := 0; i < n-1; i++ {
		diff := newVariable()
		diffLayer[i] = &sumFactor{sum: diff, terms: []*variable{teamPerfs[i], teamPerfs[i+1]}, coeffs: []float64{1, -1}}
		tf := &truncateFactor{v: diff, vFunc: vWin, wFunc: wWin, margin: e.drawMargin(2)}
		if sorted[i].Rank == sorted[i+1].Rank {
			tf.vFunc, tf.wFunc = vDraw, wDraw
		}
		truncLayer[i] = tf
	}

	for _, f := range priorLayer {
		f.down()
	}
	for _, f := range perfLayer {
		f.down()
	}
	for _, f := range teamPerfLayer {
		f.down()
	}

	last := len(diffLayer) - 1
	for iter := 0; iter < maxIterations; iter++ {
		var delta float64
		if last == 0 {
			diffLayer[0].down()
			delta = truncLayer[0].up()
		} else {
			for i := 0; i < last; i++ {
				diffLayer[i].down()
				delta = math.Max(delta, truncLayer[i].up())
				diffLayer[i].up(1)
			}
			for i := last; i > 0; i-- {
				diffLayer[i].down()
				delta = math.Max(delta, truncLayer[i].up())
				diffLayer[i].up(0)
			}
		}
		if delta <= minDelta {
			break
		}
	}
	diffLayer[0].up(0)
	diffLayer[last].up(1)
	for _, f := range teamPerfLayer {
		for i := 0; i < len(f.terms); i++ {
			f.up(i)
		}
	}
	for _, f := range perfLayer {
		f.up()
	}

	results := make([]Result, n)
	for i, x := range sorted {
		after := Rating{Mu: skills[i].value.mu(), Sigma: skills[i].value.sigma()}
		results[i] = Result{UserID: x.UserID, Before: priors[i], After: after, Delta: after.Mu - priors[i].Mu}
	}
	return results, nil
}

// MatchQuality is the draw probability of a 1v1 between a and b, in
// [0, 1]. Higher means a fairer pairing.
func (e Engine) MatchQuality(a, b Rating) float64 {
	denom := 2*e.Beta*e.Beta + a.Sigma*a.Sigma + b.Sigma*b.Sigma
	d := a.Mu - b.Mu
	return math.Sqrt(2*e.Beta*e.Beta/denom) * math.Exp(-d*d/(2*denom))
}
