package match

import (
	"time"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
	"github.com/mcdev12/brainbuffer/go/internal/match/protocol"
)

// Sender delivers outbound protocol frames to the match server.
type Sender interface {
	Send(out protocol.Outbound) error
}

// Prefs is the local key-value store for the high score, the tutorial flag
// and the feedback settings. Implementations must not block.
type Prefs interface {
	HighScore() int
	SetHighScore(score int)
	TutorialSeen() bool
	SetTutorialSeen(seen bool)
	Settings() feedback.Settings
	SetSettings(s feedback.Settings)
	// Reset clears the high score and tutorial flag and keeps the settings.
	Reset()
}

// Feedback is the audio and haptic service.
type Feedback interface {
	Play(cue feedback.Cue)
	StartTick()
	StopTick()
	Vibrate(d time.Duration)
	PlayMusic()
	PauseMusic()
	StopMusic()
	Settings() feedback.Settings
	SetSettings(s feedback.Settings)
	Background()
	Foreground()
}

// Navigator owns the screens around a match.
type Navigator interface {
	Quit()
	Restart()
	Requeue()
	// ConnectionLost is called when the server connection closes unexpectedly
	// before the match ended.
	ConnectionLost(err error)
}

// discard is a feedback output with no device behind it.
type discard struct{}

func (discard) PlayCue(feedback.Cue)         {}
func (discard) StopCue(feedback.Cue)         {}
func (discard) Vibrate(time.Duration)        {}
func (discard) SetMusic(feedback.MusicState) {}

type nopNavigator struct{}

func (nopNavigator) Quit()                {}
func (nopNavigator) Restart()             {}
func (nopNavigator) Requeue()             {}
func (nopNavigator) ConnectionLost(error) {}

type memoryPrefs struct {
	highScore    int
	tutorialSeen bool
	settings     *feedback.Settings
}

func (p *memoryPrefs) HighScore() int            { return p.highScore }
func (p *memoryPrefs) SetHighScore(score int)    { p.highScore = score }
func (p *memoryPrefs) TutorialSeen() bool        { return p.tutorialSeen }
func (p *memoryPrefs) SetTutorialSeen(seen bool) { p.tutorialSeen = seen }

func (p *memoryPrefs) Settings() feedback.Settings {
	if p.settings == nil {
		return feedback.DefaultSettings()
	}
	return *p.settings
}

func (p *memoryPrefs) SetSettings(s feedback.Settings) { p.settings = &s }

func (p *memoryPrefs) Reset() {
	p.highScore = 0
	p.tutorialSeen = false
}
