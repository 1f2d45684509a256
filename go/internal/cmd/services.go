package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match"
	"github.com/mcdev12/brainbuffer/go/internal/match/events"
	"github.com/mcdev12/brainbuffer/go/internal/prefs"
)

type Services struct {
	Rules     match.Rules
	Prefs     *prefs.Cached
	Feedback  *feedback.Service
	Publisher events.Publisher

	closers []func()
}

func setupServices(ctx context.Context, cfg *Config, flags *pflag.FlagSet) (*Services, error) {
	s := &Services{Rules: match.DefaultRules()}

	if cfg.rules != "" {
		rules, err := match.LoadRules(cfg.rules)
		if err != nil {
			return nil, err
		}
		s.Rules = rules
		log.Info().Str("path", cfg.rules).Msg("loaded rules")
	}

	store, err := setupPrefsStore(ctx, cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	cache, err := prefs.Open(ctx, store)
	if err != nil {
		log.Warn().Err(err).Msg("could not load prefs, using defaults")
	}
	s.Prefs = cache

	settings := cache.Settings()
	if flags.Changed("music") {
		settings.Music = cfg.music
	}
	if flags.Changed("sfx") {
		settings.SFX = cfg.sfx
	}
	if flags.Changed("vibration") {
		settings.Vibration = cfg.vibration
	}
	cache.SetSettings(settings)
	s.Feedback = feedback.NewService(feedback.NewLogOutput(log.With().Str("component", "feedback").Logger()), settings)
	s.closers = append(s.closers, s.Feedback.Stop)

	s.Publisher = events.LogPublisher{}
	if cfg.natsURL != "" {
		jsCfg := events.DefaultJetStreamConfig()
		jsCfg.URL = cfg.natsURL
		publisher, err := events.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to set up outcome publisher: %w", err)
		}
		s.Publisher = publisher
		s.closers = append(s.closers, func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close outcome publisher")
			}
		})
	}

	return s, nil
}

func setupPrefsStore(ctx context.Context, cfg *Config, s *Services) (prefs.Store, error) {
	if cfg.prefsDB {
		store, err := prefs.NewPostgresStore(ctx, prefs.DBConfigFromEnv(), cfg.playerID)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	}

	path := cfg.prefsFile
	if path == "" {
		var err error
		if path, err = prefs.DefaultPath(); err != nil {
			return nil, err
		}
	}
	log.Debug().Str("path", path).Msg("using prefs file")
	return prefs.NewFileStore(path), nil
}

// Close releases services in reverse order of setup.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
