// Package partition pairs the entrants of a partitionable race into 1v1
// matches of similar skill.
package partition

import (
	"math/rand/v2"
	"race-lab/rating"
	"sort"
)

// window is how many neighbours above and below an entrant are
// considered as opponents.
const window = 3

type Player struct {
	UserID int64
	Rating int
	Skill  rating.Rating
}

type Partitioner struct {
	engine rating.Engine
	rng    *rand.Rand
}

func New(engine rating.Engine, rng *rand.Rand) *Partitioner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Partitioner{engine: engine, rng: rng}
}

// Pair splits players into groups of two. When the count is odd the last
// unpaired player joins the most even pair as a third party. Fewer than
// two players yield no group.
func (p *Partitioner) Pair(players []Player) [][]Player {
	if len(players) < 2 {
		return nil
	}
	sorted := append([]Player(nil), players...)
	tiebreak := make(map[int64]uint64, len(sorted))
	for _, pl := range sorted {
		tiebreak[pl.UserID] = p.rng.Uint64()
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rating != sorted[j].Rating {
			return sorted[i].Rating > sorted[j].Rating
		}
		return tiebreak[sorted[i].UserID] < tiebreak[sorted[j].UserID]
	})

	n := len(sorted)
	scores := make([][]float64, n)
	best := make([]float64, n)
	for i := range sorted {
		scores[i] = make([]float64, n)
		for j := max(0, i-window); j <= min(n-1, i+window); j++ {
			if j == i {
				continue
			}
			q := p.engine.MatchQuality(sorted[i].Skill, sorted[j].Skill)
			scores[i][j] = q
			if q > best[i] {
				best[i] = q
			}
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return best[order[a]] < best[order[b]] })

	paired := make([]bool, n)
	var pairs [][2]int
	for _, i := range order {
		if paired[i] {
			continue
		}
		match, matchScore := -1, -1.0
		for j := max(0, i-window); j <= min(n-1, i+window); j++ {
			if j == i || paired[j] {
				continue
			}
			if scores[i][j] > matchScore {
				match, matchScore = j, scores[i][j]
			}
		}
		if match < 0 {
			continue
		}
		paired[i], paired[match] = true, true
		pairs = append(pairs, [2]int{min(i, match), max(i, match)})
	}

	var rest []int
	for i := range sorted {
		if !paired[i] {
			rest = append(rest, i)
		}
	}
	p.rng.Shuffle(len(rest), func(a, b int) { rest[a], rest[b] = rest[b], rest[a] })
	for len(rest) >= 2 {
		pairs = append(pairs, [2]int{rest[0], rest[1]})
		rest = rest[2:]
	}

	groups := make([][]Player, len(pairs))
	for k, pr := range pairs {
		groups[k] = []Player{sorted[pr[0]], sorted[pr[1]]}
	}
	if len(rest) == 1 {
		target, bestQ := 0, -1.0
		for k, g := range groups {
			if q := p.engine.MatchQuality(g[0].Skill, g[1].Skill); q > bestQ {
				target, bestQ = k, q
			}
		}
		groups[target] = append(groups[target], sorted[rest[0]])
	}
	return groups
}
