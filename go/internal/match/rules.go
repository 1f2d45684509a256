package match

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxRounds is the number of rounds in a full match.
const MaxRounds = 20

// Rules are the tunable timings and scoring of a match.
type Rules struct {
	CountdownSteps int           `yaml:"countdown_steps"`
	CountdownStep  time.Duration `yaml:"countdown_step"`

	RevealBase  time.Duration `yaml:"reveal_base"`
	RevealStep  time.Duration `yaml:"reveal_step"`
	RevealFloor time.Duration `yaml:"reveal_floor"`

	ActiveBase  time.Duration `yaml:"active_base"`
	ActiveStep  time.Duration `yaml:"active_step"`
	ActiveFloor time.Duration `yaml:"active_floor"`

	PointsPerTarget int `yaml:"points_per_target"`

	ErrorGrace      time.Duration `yaml:"error_grace"`
	InterRoundDelay time.Duration `yaml:"inter_round_delay"`
	PerfectBanner   time.Duration `yaml:"perfect_banner"`
	TickThreshold   int           `yaml:"tick_threshold"`

	Heartbeat time.Duration `yaml:"heartbeat"`

	ReadyBackoff     time.Duration `yaml:"ready_backoff"`
	ReadyBackoffMax  time.Duration `yaml:"ready_backoff_max"`
	ReadyMaxAttempts int           `yaml:"ready_max_attempts"`

	CorrectVibration time.Duration `yaml:"correct_vibration"`
	WrongVibration   time.Duration `yaml:"wrong_vibration"`
}

// DefaultRules returns the production rules.
func DefaultRules() Rules {
	return Rules{
		CountdownSteps:   3,
		CountdownStep:    time.Second,
		RevealBase:       3000 * time.Millisecond,
		RevealStep:       300 * time.Millisecond,
		RevealFloor:      1000 * time.Millisecond,
		ActiveBase:       10000 * time.Millisecond,
		ActiveStep:       500 * time.Millisecond,
		ActiveFloor:      2000 * time.Millisecond,
		PointsPerTarget:  10,
		ErrorGrace:       600 * time.Millisecond,
		InterRoundDelay:  1000 * time.Millisecond,
		PerfectBanner:    1200 * time.Millisecond,
		TickThreshold:    3,
		Heartbeat:        5 * time.Second,
		ReadyBackoff:     time.Second,
		ReadyBackoffMax:  8 * time.Second,
		ReadyMaxAttempts: 6,
		CorrectVibration: 50 * time.Millisecond,
		WrongVibration:   200 * time.Millisecond,
	}
}

// RevealDuration is how long targets stay visible in round r.
func (r Rules) RevealDuration(round int) time.Duration {
	return max(r.RevealBase-time.Duration(round-1)*r.RevealStep, r.RevealFloor)
}

// ActiveDuration is how long the player has to select in round r.
func (r Rules) ActiveDuration(round int) time.Duration {
	return max(r.ActiveBase-time.Duration(round-1)*r.ActiveStep, r.ActiveFloor)
}

// ReadyDelay is the wait after the given (1-based) ready attempt.
func (r Rules) ReadyDelay(attempt int) time.Duration {
	d := r.ReadyBackoff
	for i := 1; i < attempt && d < r.ReadyBackoffMax; i++ {
		d *= 2
	}
	return min(d, r.ReadyBackoffMax)
}

// Validate checks that the rules can drive a match.
func (r Rules) Validate() error {
	switch {
	case r.CountdownSteps < 1 || r.CountdownStep <= 0:
		return fmt.Errorf("countdown must have at least one positive step")
	case r.RevealFloor <= 0 || r.ActiveFloor <= 0:
		return fmt.Errorf("reveal and active floors must be positive")
	case r.PointsPerTarget <= 0:
		return fmt.Errorf("points_per_target must be positive")
	case r.ReadyMaxAttempts < 1 || r.ReadyBackoff <= 0:
		return fmt.Errorf("ready retry needs at least one attempt and a positive backoff")
	case r.Heartbeat <= 0:
		return fmt.Errorf("heartbeat must be positive")
	}
	return nil
}

// LoadRules reads a YAML rules file. Keys that are absent keep their default.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("invalid rules %s: %w", path, err)
	}
	return rules, nil
}
