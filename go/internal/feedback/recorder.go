package feedback

import (
	"fmt"
	"sync"
	"time"
)

// Recorder is an Output that remembers every effect, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *Recorder) PlayCue(cue Cue)           { r.record("play:%s", cue) }
func (r *Recorder) StopCue(cue Cue)           { r.record("stop:%s", cue) }
func (r *Recorder) Vibrate(d time.Duration)   { r.record("vibrate:%s", d) }
func (r *Recorder) SetMusic(state MusicState) { r.record("music:%s", state) }

// Events returns a copy of the recorded effects in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many times event was recorded.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}
