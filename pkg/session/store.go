package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/powersaver/internal/wallclock"
)

// DefaultMaxAge is how long a saved session stays restorable.
const DefaultMaxAge = 24 * time.Hour

// Store keeps one session as a JSON file.
type Store struct {
	path   string
	maxAge time.Duration
	clock  wallclock.Clock
	logger *logrus.Logger
}

// NewStore creates a store backed by path. maxAge <= 0 uses DefaultMaxAge.
func NewStore(path string, maxAge time.Duration, clock wallclock.Clock, logger *logrus.Logger) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, maxAge: maxAge, clock: wallclock.OrDefault(clock), logger: logger}
}

func (s *Store) Path() string { return s.path }

// Save stamps d with the current time and writes it atomically.
func (s *Store) Save(d *Data) error {
	d.SavedAt = s.clock.Now()

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"samples": len(d.PowerData),
	}).Debug("Session saved")
	return nil
}

// Load returns the stored session. It returns nil without error when there
// is none, when it is older than the maximum age, or when the file cannot
// be decoded; expired and corrupt files are removed.
func (s *Store) Load() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Discarding corrupt session file")
		return nil, s.Clear()
	}

	if age := s.clock.Now().Sub(d.SavedAt); age > s.maxAge {
		s.logger.WithField("age", age.Round(time.Minute)).Info("Discarding expired session")
		return nil, s.Clear()
	}
	return &d, nil
}

// Clear removes the stored session. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
