package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/brainbuffer/go/internal/feedback"
)

// Data is everything a player keeps between sessions.
type Data struct {
	HighScore    int               `yaml:"high_score"`
	TutorialSeen bool              `yaml:"tutorial_seen"`
	Settings     feedback.Settings `yaml:"settings"`
}

func DefaultData() Data {
	return Data{Settings: feedback.DefaultSettings()}
}

// Store loads and saves player preferences.
type Store interface {
	Load(ctx context.Context) (Data, error)
	Save(ctx context.Context, data Data) error
}

// FileStore keeps preferences in a yaml file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath is the prefs file under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "brainbuffer", "prefs.yaml"), nil
}

// Load returns defaults when the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (Data, error) {
	data := DefaultData()
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return data, fmt.Errorf("failed to read prefs file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return DefaultData(), fmt.Errorf("failed to parse prefs file: %w", err)
	}
	if data.HighScore < 0 {
		data.HighScore = 0
	}
	return data, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(_ context.Context, data Data) error {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create prefs dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp prefs file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}
	return nil
}
