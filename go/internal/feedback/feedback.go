package feedback

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cue is a short sound effect.
type Cue string

const (
	CueStart    Cue = "start"
	CueTick     Cue = "tick"
	CueCorrect  Cue = "correct"
	CueWrong    Cue = "wrong"
	CueGameOver Cue = "game_over"
	CueWin      Cue = "win"
)

// MusicState is the state of the background music track.
type MusicState string

const (
	MusicStopped MusicState = "stopped"
	MusicPlaying MusicState = "playing"
	MusicPaused  MusicState = "paused"
)

// Settings are the player's feedback toggles.
type Settings struct {
	Music     bool `json:"music" yaml:"music"`
	SFX       bool `json:"sfx" yaml:"sfx"`
	Vibration bool `json:"vibration" yaml:"vibration"`
}

// DefaultSettings enables everything.
func DefaultSettings() Settings {
	return Settings{Music: true, SFX: true, Vibration: true}
}

// Output is the device side of feedback: a speaker and a vibration motor.
type Output interface {
	PlayCue(cue Cue)
	StopCue(cue Cue)
	Vibrate(d time.Duration)
	SetMusic(state MusicState)
}

// Service is the process-wide audio and haptic service. Music is set up on
// first use and torn down with Stop; the service outlives single matches.
// It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	out       Output
	settings  Settings
	musicInit bool
	music     MusicState
	ticking   bool

	// hidden is set while the app is in the background. resume remembers
	// whether music should come back with the foreground.
	hidden bool
	resume bool
}

// NewService creates a feedback service writing to out.
func NewService(out Output, settings Settings) *Service {
	return &Service{out: out, settings: settings, music: MusicStopped}
}

// Settings returns the current toggles.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the toggles. Turning music off pauses a playing track.
func (s *Service) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	if !settings.Music {
		s.resume = false
		if s.music == MusicPlaying {
			s.setMusic(MusicPaused)
		}
	}
	if !settings.SFX && s.ticking {
		s.ticking = false
		s.out.StopCue(CueTick)
	}
}

// Play fires a sound effect if effects are enabled.
func (s *Service) Play(cue Cue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.SFX {
		return
	}
	s.out.PlayCue(cue)
}

// StartTick starts the low-time tick loop. It is a no-op while ticking.
func (s *Service) StartTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticking || s.hidden || !s.settings.SFX {
		return
	}
	s.ticking = true
	s.out.PlayCue(CueTick)
}

// StopTick silences the tick loop.
func (s *Service) StopTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ticking {
		return
	}
	s.ticking = false
	s.out.StopCue(CueTick)
}

// Vibrate pulses the motor if vibration is enabled.
func (s *Service) Vibrate(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.Vibration || d <= 0 {
		return
	}
	s.out.Vibrate(d)
}

// PlayMusic starts or resumes the background track.
func (s *Service) PlayMusic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.Music {
		return
	}
	s.musicInit = true
	if s.hidden {
		s.resume = true
		return
	}
	s.setMusic(MusicPlaying)
}

// PauseMusic pauses the track, keeping its position.
func (s *Service) PauseMusic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = false
	if s.music == MusicPlaying {
		s.setMusic(MusicPaused)
	}
}

// StopMusic stops the track and rewinds it.
func (s *Service) StopMusic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume = false
	if !s.musicInit {
		return
	}
	s.setMusic(MusicStopped)
}

// Background pauses a playing track and silences the tick until Foreground.
func (s *Service) Background() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hidden {
		return
	}
	s.hidden = true
	if s.music == MusicPlaying {
		s.resume = true
		s.setMusic(MusicPaused)
	}
	if s.ticking {
		s.ticking = false
		s.out.StopCue(CueTick)
	}
}

// Foreground resumes the track paused by Background, if music is still enabled.
func (s *Service) Foreground() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hidden {
		return
	}
	s.hidden = false
	if s.resume && s.settings.Music {
		s.setMusic(MusicPlaying)
	}
	s.resume = false
}

// Stop releases everything the service holds.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticking {
		s.ticking = false
		s.out.StopCue(CueTick)
	}
	if s.musicInit {
		s.setMusic(MusicStopped)
		s.musicInit = false
	}
}

func (s *Service) setMusic(state MusicState) {
	if s.music == state {
		return
	}
	s.music = state
	s.out.SetMusic(state)
}

// LogOutput is an Output for headless runs that logs every effect at debug level.
type LogOutput struct {
	logger zerolog.Logger
}

// NewLogOutput creates a logging output.
func NewLogOutput(logger zerolog.Logger) *LogOutput {
	return &LogOutput{logger: logger.With().Str("component", "feedback").Logger()}
}

func (o *LogOutput) PlayCue(cue Cue) {
	o.logger.Debug().Str("cue", string(cue)).Msg("play")
}

func (o *LogOutput) StopCue(cue Cue) {
	o.logger.Debug().Str("cue", string(cue)).Msg("stop")
}

func (o *LogOutput) Vibrate(d time.Duration) {
	o.logger.Debug().Dur("duration", d).Msg("vibrate")
}

func (o *LogOutput) SetMusic(state MusicState) {
	o.logger.Debug().Str("music", string(state)).Msg("music")
}
