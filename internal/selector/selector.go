// Package selector implements weighted winner selection under scarcity:
// roulette-style sampling without replacement, with a configurable policy
// for the all-weights-equal case.
//
// The selector is stateless apart from its random source; candidates are
// passed as arguments, not stored.
package selector

import (
	"math/rand"
	"sort"
	"time"
)

// Tie-break modes for the all-weights-equal case.
const (
	ModeTime   = "time"   // the k earliest-created candidates win
	ModeRandom = "random" // k drawn uniformly without replacement
)

// Candidate is one entry competing for a scarce slot. Weight must be a
// positive integer.
type Candidate struct {
	ID        string
	Weight    int64
	CreatedAt time.Time
}

// Selector picks winners from candidate pools.
type Selector struct {
	mode string
	rng  *rand.Rand
}

// New creates a selector. An unknown mode falls back to ModeTime. Pass nil
// for rng to use a time-seeded source; tests inject a fixed seed.
func New(mode string, rng *rand.Rand) *Selector {
	if mode != ModeRandom {
		mode = ModeTime
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{mode: mode, rng: rng}
}

// Pick returns the ids of up to k winners. An empty candidate list yields an
// empty result, not an error. If k covers the whole pool, every candidate
// wins.
func (s *Selector) Pick(candidates []Candidate, k int) []string {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k >= len(candidates) {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return ids
	}

	if equalWeights(candidates) {
		if s.mode == ModeRandom {
			return s.uniform(candidates, k)
		}
		return earliest(candidates, k)
	}

	return s.weighted(candidates, k)
}

// weighted runs sampling without replacement: each round draws a uniform
// integer in [1, totalWeight] and walks the remaining pool accumulating
// weight until the draw lands inside a candidate's interval.
func (s *Selector) weighted(candidates []Candidate, k int) []string {
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	winners := make([]string, 0, k)
	for len(winners) < k && len(remaining) > 0 {
		var total int64
		for _, c := range remaining {
			total += c.Weight
		}

		idx := 0
		if total <= 0 {
			// Degenerate weights: fall back to a uniform draw.
			idx = s.rng.Intn(len(remaining))
		} else {
			draw := s.rng.Int63n(total) + 1
			var acc int64
			for i, c := range remaining {
				acc += c.Weight
				if draw <= acc {
					idx = i
					break
				}
			}
		}

		winners = append(winners, remaining[idx].ID)
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return winners
}

// uniform draws k candidates uniformly without replacement.
func (s *Selector) uniform(candidates []Candidate, k int) []string {
	perm := s.rng.Perm(len(candidates))
	winners := make([]string, 0, k)
	for _, i := range perm[:k] {
		winners = append(winners, candidates[i].ID)
	}
	return winners
}

// earliest returns the k earliest-created candidates, stable on input order.
func earliest(candidates []Candidate, k int) []string {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	winners := make([]string, 0, k)
	for _, c := range sorted[:k] {
		winners = append(winners, c.ID)
	}
	return winners
}

func equalWeights(candidates []Candidate) bool {
	for _, c := range candidates[1:] {
		if c.Weight != candidates[0].Weight {
			return false
		}
	}
	return true
}
