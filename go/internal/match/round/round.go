package round

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Phase is the lifecycle stage of a single round.
type Phase string

const (
	PhaseCountdown Phase = "COUNTDOWN"
	PhaseReveal    Phase = "REVEAL"
	PhaseActive    Phase = "ACTIVE"
	PhaseResolved  Phase = "RESOLVED"
)

// ErrInvalidContent is returned when server-provided round content cannot be played.
var ErrInvalidContent = errors.New("invalid round content")

// Position is a point on the board, in percent of the board's width/height.
type Position struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// Distance returns the separation between two positions. The vertical axis
// is weighted by AspectWeight because the board is taller than it is wide.
func (p Position) Distance(o Position) float64 {
	dx := p.Left - o.Left
	dy := (p.Top - o.Top) * AspectWeight
	return math.Hypot(dx, dy)
}

// Content is the playable data of one round: the target values and where they sit.
type Content struct {
	Round     int        `json:"round"`
	Numbers   []int      `json:"numbers"`
	Positions []Position `json:"positions"`
}

// Validate checks that the content can be turned into a round.
func (c Content) Validate() error {
	if len(c.Numbers) == 0 {
		return fmt.Errorf("%w: round %d has no targets", ErrInvalidContent, c.Round)
	}
	if len(c.Positions) != len(c.Numbers) {
		return fmt.Errorf("%w: round %d has %d targets but %d positions",
			ErrInvalidContent, c.Round, len(c.Numbers), len(c.Positions))
	}
	seen := make(map[int]struct{}, len(c.Numbers))
	for _, n := range c.Numbers {
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: round %d repeats target %d", ErrInvalidContent, c.Round, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// Verdict is the outcome of submitting a target.
type Verdict int

const (
	// VerdictIgnored means the round is not accepting input.
	VerdictIgnored Verdict = iota
	// VerdictDuplicate means the target was already submitted this round.
	VerdictDuplicate
	// VerdictCorrect means the target was the next expected value.
	VerdictCorrect
	// VerdictCompleted means the target was correct and it was the last one.
	VerdictCompleted
	// VerdictWrong means the target was out of order.
	VerdictWrong
)

func (v Verdict) String() string {
	switch v {
	case VerdictIgnored:
		return "ignored"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictCorrect:
		return "correct"
	case VerdictCompleted:
		return "completed"
	case VerdictWrong:
		return "wrong"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Round is the ephemeral state of one memorize-then-select cycle.
type Round struct {
	Index     int
	Targets   []int
	Positions []Position
	Clicked   []int
	Resolved  []int
	Phase     Phase

	order     []int
	submitted map[int]struct{}
}

// New creates a round in the countdown phase. Targets keep their generation
// order; the required click order is their ascending sort.
func New(index int, content Content) *Round {
	order := slices.Clone(content.Numbers)
	slices.Sort(order)
	return &Round{
		Index:     index,
		Targets:   slices.Clone(content.Numbers),
		Positions: slices.Clone(content.Positions),
		Phase:     PhaseCountdown,
		order:     order,
		submitted: make(map[int]struct{}, len(content.Numbers)),
	}
}

// Expected returns the next value that must be submitted.
func (r *Round) Expected() (int, bool) {
	if len(r.Resolved) >= len(r.order) {
		return 0, false
	}
	return r.order[len(r.Resolved)], true
}

// Done reports whether every target has been resolved.
func (r *Round) Done() bool {
	return len(r.order) > 0 && len(r.Resolved) == len(r.order)
}

// Submit validates a selection against the ascending order. A target is
// recorded at most once per round; repeated submissions have no effect.
func (r *Round) Submit(target int) Verdict {
	if r.Phase != PhaseActive {
		return VerdictIgnored
	}
	if _, ok := r.submitted[target]; ok {
		return VerdictDuplicate
	}
	r.submitted[target] = struct{}{}
	r.Clicked = append(r.Clicked, target)

	expected, ok := r.Expected()
	if !ok || target != expected {
		return VerdictWrong
	}
	r.Resolved = append(r.Resolved, target)
	if r.Done() {
		return VerdictCompleted
	}
	return VerdictCorrect
}

// Content returns the round's playable data.
func (r *Round) Content() Content {
	return Content{
		Round:     r.Index,
		Numbers:   slices.Clone(r.Targets),
		Positions: slices.Clone(r.Positions),
	}
}
