package round

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRound(targets ...int) *Round {
	positions := make([]Position, len(targets))
	r := New(1, Content{Round: 1, Numbers: targets, Positions: positions})
	r.Phase = PhaseActive
	return r
}

func TestRound_SubmitAscendingOrder(t *testing.T) {
	r := activeRound(7, 2, 9)

	assert.Equal(t, VerdictCorrect, r.Submit(2))
	assert.Equal(t, VerdictCorrect, r.Submit(7))
	assert.Equal(t, VerdictCompleted, r.Submit(9))

	assert.Equal(t, []int{2, 7, 9}, r.Resolved)
	assert.Equal(t, []int{2, 7, 9}, r.Clicked)
	assert.True(t, r.Done())
	assert.Equal(t, []int{7, 2, 9}, r.Targets, "generation order is kept")
}

func TestRound_SubmitOutOfOrderIsRejected(t *testing.T) {
	r := activeRound(7, 2, 9)

	assert.Equal(t, VerdictWrong, r.Submit(7))
	assert.Empty(t, r.Resolved)
	assert.Equal(t, []int{7}, r.Clicked)

	next, ok := r.Expected()
	require.True(t, ok)
	assert.Equal(t, 2, next)
}

func TestRound_SubmitIsIdempotent(t *testing.T) {
	r := activeRound(4, 1, 6)

	assert.Equal(t, VerdictCorrect, r.Submit(1))
	assert.Equal(t, VerdictDuplicate, r.Submit(1))
	assert.Equal(t, VerdictDuplicate, r.Submit(1))

	assert.Equal(t, []int{1}, r.Resolved)
	assert.Equal(t, []int{1}, r.Clicked)
}

func TestRound_SubmitIgnoredOutsideActivePhase(t *testing.T) {
	r := New(1, Content{Numbers: []int{1, 2, 3}, Positions: make([]Position, 3)})

	for _, phase := range []Phase{PhaseCountdown, PhaseReveal, PhaseResolved} {
		r.Phase = phase
		assert.Equal(t, VerdictIgnored, r.Submit(1), "phase %s", phase)
	}
	assert.Empty(t, r.Clicked)
}

func TestRound_ResolvedIsAlwaysSortedPrefix(t *testing.T) {
	gen := NewGenerator(seeded(42))
	for trial := 0; trial < 200; trial++ {
		content := gen.Content(trial%20 + 1)
		r := New(content.Round, content)
		r.Phase = PhaseActive

		// Submit in generation order; only in-order values may land in Resolved.
		for _, v := range content.Numbers {
			if r.Submit(v) == VerdictWrong {
				break
			}
		}
		order := r.order
		require.LessOrEqual(t, len(r.Resolved), len(order))
		assert.True(t, slices.Equal(order[:len(r.Resolved)], r.Resolved),
			"resolved %v is not a prefix of %v", r.Resolved, order)
	}
}

func TestContent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		wantErr bool
	}{
		{
			name:    "valid",
			content: Content{Round: 1, Numbers: []int{3, 1}, Positions: make([]Position, 2)},
		},
		{
			name:    "empty",
			content: Content{Round: 2},
			wantErr: true,
		},
		{
			name:    "position mismatch",
			content: Content{Round: 3, Numbers: []int{1, 2}, Positions: make([]Position, 1)},
			wantErr: true,
		},
		{
			name:    "duplicate target",
			content: Content{Round: 4, Numbers: []int{5, 5}, Positions: make([]Position, 2)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidContent))
				return
			}
			require.NoError(t, err)
		})
	}
}
