package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mcdev12/brainbuffer/go/internal/bot"
	"github.com/mcdev12/brainbuffer/go/internal/match"
	"github.com/mcdev12/brainbuffer/go/internal/match/bridge"
	"github.com/mcdev12/brainbuffer/go/internal/match/view"
)

func runMatch(ctx context.Context, cfg *Config, flags *pflag.FlagSet) error {
	services, err := setupServices(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer services.Close()

	prefsCtx, stopPrefs := context.WithCancel(context.Background())
	prefsDone := make(chan error, 1)
	go func() { prefsDone <- services.Prefs.Run(prefsCtx) }()
	defer func() {
		stopPrefs()
		if err := <-prefsDone; err != nil {
			log.Error().Err(err).Msg("failed to save prefs")
		}
	}()

	if cfg.matchMode() == match.ModeOnline && cfg.precheck {
		target, err := healthURL(cfg.server)
		if err != nil {
			return err
		}
		report, err := bridge.MeasureStability(ctx, nil, target, bridge.DefaultStabilityConfig())
		if err != nil {
			return err
		}
		if !report.Passed {
			return fmt.Errorf("network too unstable for online play: %s", report)
		}
	}

	for {
		ev, err := playSession(ctx, cfg, services)
		if err != nil {
			return err
		}
		switch ev.action {
		case navRestart:
			if cfg.matchMode() == match.ModeOnline {
				log.Info().Msg("an online rematch needs a new match id from the matchmaker")
				return nil
			}
			log.Info().Msg("restarting")
		case navRequeue:
			log.Info().Msg("requeue requested; ask the matchmaker for a new match id")
			return nil
		case navLost:
			return fmt.Errorf("connection to match server lost: %w", ev.err)
		default:
			return nil
		}
	}
}

type botOutcome struct {
	result match.Result
	err    error
}

// playSession runs one match until the navigator, the bot or ctx ends it.
func playSession(ctx context.Context, cfg *Config, s *Services) (navEvent, error) {
	nav := newNavigator()
	mcfg := match.Config{
		Mode:      cfg.matchMode(),
		Rules:     s.Rules,
		Prefs:     s.Prefs,
		Feedback:  s.Feedback,
		Navigator: nav,
	}
	rcfg := match.RunnerConfig{MatchID: cfg.matchID, Publisher: s.Publisher}

	if mcfg.Mode == match.ModeOnline {
		client, err := bridge.Dial(ctx, bridge.Config{BaseURL: cfg.server, MatchID: cfg.matchID, Token: cfg.token})
		if err != nil {
			return navEvent{}, err
		}
		defer client.Close()
		mcfg.Sender = client
		rcfg.Conn = client
	}

	runner := match.NewRunner(match.NewMachine(mcfg), rcfg)
	sessionCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- runner.Run(sessionCtx) }()
	defer func() {
		cancel()
		<-runDone
	}()

	if cfg.listen != "" {
		stop := startViewServer(cfg.listen, runner)
		defer stop()
	}

	botDone := make(chan botOutcome, 1)
	if cfg.bot {
		b := bot.New(runner, bot.Config{Accuracy: cfg.botAccuracy, Think: cfg.botThink})
		go func() {
			res, err := b.Play(sessionCtx)
			botDone <- botOutcome{res, err}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down match")
		return navEvent{action: navQuit}, nil

	case ev := <-nav.events:
		return ev, nil

	case out := <-botDone:
		if out.err != nil {
			// a lost connection stops the bot too; prefer the navigator's reason
			select {
			case ev := <-nav.events:
				return ev, nil
			default:
			}
			return navEvent{}, out.err
		}
		if v, err := runner.Snapshot(ctx); err == nil {
			log.Info().
				Str("outcome", string(out.result.Outcome)).
				Str("summary", out.result.Summary).
				Int("score", out.result.Score).
				Int("opponent_score", out.result.OpponentScore).
				Bool("new_high_score", out.result.NewHighScore).
				Msg(v.ShareText())
		}
		return navEvent{action: navQuit}, nil
	}
}

func startViewServer(addr string, runner *match.Runner) func() {
	server := view.NewServer(addr, view.NewHandler(runner, view.DefaultConfig()))

	go func() {
		log.Info().Str("addr", server.Addr).Msg("view server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("view server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("view server shutdown failed")
		}
	}
}

// healthURL maps a match server base url to its plain http health endpoint.
func healthURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", base, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/health"
	return u.String(), nil
}

func runNetcheck(ctx context.Context, out io.Writer, target string) error {
	report, err := bridge.MeasureStability(ctx, nil, target, bridge.DefaultStabilityConfig())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, report)
	if !report.Passed {
		return errors.New("network is not stable enough for online play")
	}
	return nil
}
