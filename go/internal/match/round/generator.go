package round

import (
	"math/rand/v2"
	"time"
)

const (
	// MinTarget and MaxTarget bound the values a target can take.
	MinTarget = 1
	MaxTarget = 20

	// BaseTargets is the number of targets in round one; one more is added every two rounds up to MaxTargets.
	BaseTargets = 3
	MaxTargets  = 8

	// AreaMin and AreaMax bound both coordinates of a placed target.
	AreaMin = 10.0
	AreaMax = 90.0

	SeparationRadius     = 16.0
	AspectWeight         = 1.2
	MaxPlacementAttempts = 1000
)

// FallbackPosition is used when no separated spot is found for a target.
var FallbackPosition = Position{Left: 50, Top: 50}

// TargetCount returns how many targets a round shows.
func TargetCount(round int) int {
	if round < 1 {
		round = 1
	}
	return min(BaseTargets+(round-1)/2, MaxTargets)
}

// Generator produces round content for play without a server.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator drawing from rng. A nil rng is seeded from the wall clock.
func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>17|1))
	}
	return &Generator{rng: rng}
}

// Targets draws count distinct values from [MinTarget, MaxTarget] without replacement.
func (g *Generator) Targets(count int) []int {
	span := MaxTarget - MinTarget + 1
	count = max(0, min(count, span))
	perm := g.rng.Perm(span)
	out := make([]int, count)
	for i := range out {
		out[i] = perm[i] + MinTarget
	}
	return out
}

// Positions places count points inside the board so that every pair is at
// least SeparationRadius apart. A point that cannot be placed within
// MaxPlacementAttempts lands on FallbackPosition.
func (g *Generator) Positions(count int) []Position {
	placed := make([]Position, 0, count)
	for i := 0; i < count; i++ {
		pos, ok := g.place(placed)
		if !ok {
			pos = FallbackPosition
		}
		placed = append(placed, pos)
	}
	return placed
}

func (g *Generator) place(placed []Position) (Position, bool) {
	for attempt := 0; attempt < MaxPlacementAttempts; attempt++ {
		candidate := Position{
			Left: AreaMin + g.rng.Float64()*(AreaMax-AreaMin),
			Top:  AreaMin + g.rng.Float64()*(AreaMax-AreaMin),
		}
		if separated(candidate, placed) {
			return candidate, true
		}
	}
	return Position{}, false
}

func separated(candidate Position, placed []Position) bool {
	for _, p := range placed {
		if p.Distance(candidate) < SeparationRadius {
			return false
		}
	}
	return true
}

// Content generates a full round.
func (g *Generator) Content(round int) Content {
	n := TargetCount(round)
	return Content{
		Round:     round,
		Numbers:   g.Targets(n),
		Positions: g.Positions(n),
	}
}
