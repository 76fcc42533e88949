package testutils

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a quiet logger. Set
// POWERSAVER_TEST_LOG=debug to see component logs while debugging a test.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewTestLogger(),
	}
}

// NewTestLogger returns a logger writing nowhere unless POWERSAVER_TEST_LOG
// names a level.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)

	if lvl, ok := os.LookupEnv("POWERSAVER_TEST_LOG"); ok {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logger.SetOutput(os.Stderr)
			logger.SetLevel(parsed)
		}
	}
	return logger
}

// TempFile returns a path inside a per-test temporary directory.
func (h *TestHelper) TempFile(name string) string {
	return h.T.TempDir() + string(os.PathSeparator) + name
}
