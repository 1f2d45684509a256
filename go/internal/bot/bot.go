package bot

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/match"
	"github.com/mcdev12/brainbuffer/go/internal/match/round"
)

var ErrNoResult = errors.New("match stopped before a result")

// Player is the part of the match runner a bot needs.
type Player interface {
	Start(ctx context.Context) error
	Connect(ctx context.Context) error
	Resolve(ctx context.Context, target int) (round.Verdict, error)
	Subscribe() (<-chan match.View, func())
}

// Config tunes how well and how fast the bot plays.
type Config struct {
	// Accuracy is the chance that a selection is correct, in [0, 1].
	Accuracy float64
	// Think is the delay before each selection.
	Think time.Duration
	Clock clockwork.Clock
	Rand  *rand.Rand
}

func DefaultConfig() Config {
	return Config{Accuracy: 0.97, Think: 250 * time.Millisecond}
}

// Bot plays a match headlessly by watching views and resolving targets in
// ascending order, occasionally picking the wrong one.
type Bot struct {
	player Player
	config Config
	logger zerolog.Logger
}

func New(player Player, config Config) *Bot {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	config.Accuracy = min(max(config.Accuracy, 0), 1)
	return &Bot{
		player: player,
		config: config,
		logger: log.With().Str("component", "bot").Logger(),
	}
}

type move struct {
	round   int
	clicked int
}

// Play starts or joins the match and returns its result.
func (b *Bot) Play(ctx context.Context) (match.Result, error) {
	views, unsubscribe := b.player.Subscribe()
	defer unsubscribe()

	started := false
	var last move

	for {
		var v match.View
		select {
		case <-ctx.Done():
			return match.Result{}, ctx.Err()
		case next, ok := <-views:
			if !ok {
				return match.Result{}, ErrNoResult
			}
			v = next
		}

		if v.Result != nil {
			b.logger.Info().
				Str("outcome", string(v.Result.Outcome)).
				Int("score", v.Result.Score).
				Msg("bot finished match")
			return *v.Result, nil
		}

		if !started && v.State == match.StateIdle {
			started = true
			if err := b.begin(ctx, v.Mode); err != nil {
				return match.Result{}, err
			}
			continue
		}

		if v.State != match.StateActive || v.Paused {
			continue
		}
		current := move{round: v.Round, clicked: len(v.Clicked)}
		if current == last {
			continue
		}
		target, ok := b.choose(v)
		if !ok {
			continue
		}
		last = current

		if b.config.Think > 0 {
			select {
			case <-ctx.Done():
				return match.Result{}, ctx.Err()
			case <-b.config.Clock.After(b.config.Think):
			}
		}
		verdict, err := b.player.Resolve(ctx, target)
		if err != nil {
			return match.Result{}, err
		}
		b.logger.Debug().
			Int("round", v.Round).
			Int("target", target).
			Str("verdict", verdict.String()).
			Msg("bot selected")
	}
}

func (b *Bot) begin(ctx context.Context, mode match.Mode) error {
	if mode == match.ModeOnline {
		return b.player.Connect(ctx)
	}
	return b.player.Start(ctx)
}

// choose picks the next selection. A miss takes the largest remaining
// target, so it needs at least two left.
func (b *Bot) choose(v match.View) (int, bool) {
	remaining := make([]int, 0, len(v.Targets))
	for _, t := range v.Targets {
		if !slices.Contains(v.Clicked, t) {
			remaining = append(remaining, t)
		}
	}
	if len(remaining) == 0 {
		return 0, false
	}
	slices.Sort(remaining)
	if len(remaining) > 1 && b.config.Rand.Float64() >= b.config.Accuracy {
		return remaining[len(remaining)-1], true
	}
	return remaining[0], true
}
