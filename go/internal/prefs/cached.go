package prefs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
)

// Cached serves preferences from memory and writes changes back to the
// store on a worker goroutine, so setters never block the match loop.
type Cached struct {
	store Store

	mu    sync.Mutex
	data  Data
	saves int

	dirty chan struct{}
}

// Open loads the stored preferences. When loading fails the defaults are
// used and the error is returned alongside a usable cache.
func Open(ctx context.Context, store Store) (*Cached, error) {
	data, err := store.Load(ctx)
	c := &Cached{
		store: store,
		data:  data,
		dirty: make(chan struct{}, 1),
	}
	if err != nil {
		c.data = DefaultData()
		return c, err
	}
	return c, nil
}

// Run saves pending changes until ctx is cancelled, then flushes once more.
func (c *Cached) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := c.Flush(flushCtx)
			log.Debug().Int("saves", c.Saves()).Msg("prefs worker stopped")
			return err
		case <-c.dirty:
			if err := c.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("failed to save prefs")
			}
		}
	}
}

// Flush writes the current preferences to the store.
func (c *Cached) Flush(ctx context.Context) error {
	c.mu.Lock()
	data := c.data
	c.mu.Unlock()

	if err := c.store.Save(ctx, data); err != nil {
		return fmt.Errorf("flush prefs: %w", err)
	}
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return nil
}

// Saves reports how many times the store was written.
func (c *Cached) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func (c *Cached) Snapshot() Data {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Cached) update(fn func(d *Data)) {
	c.mu.Lock()
	before := c.data
	fn(&c.data)
	changed := before != c.data
	c.mu.Unlock()

	if !changed {
		return
	}
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *Cached) HighScore() int {
	return c.Snapshot().HighScore
}

// SetHighScore ignores scores that do not beat the stored one.
func (c *Cached) SetHighScore(score int) {
	c.update(func(d *Data) {
		if score > d.HighScore {
			d.HighScore = score
		}
	})
}

func (c *Cached) TutorialSeen() bool {
	return c.Snapshot().TutorialSeen
}

func (c *Cached) SetTutorialSeen(seen bool) {
	c.update(func(d *Data) { d.TutorialSeen = seen })
}

// Reset clears progress. Feedback settings are kept.
func (c *Cached) Reset() {
	c.update(func(d *Data) {
		d.HighScore = 0
		d.TutorialSeen = false
	})
}

func (c *Cached) Settings() feedback.Settings {
	return c.Snapshot().Settings
}

func (c *Cached) SetSettings(s feedback.Settings) {
	c.update(func(d *Data) { d.Settings = s })
}
