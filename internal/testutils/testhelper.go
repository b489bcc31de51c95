//go:build test

package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
)

// TestHelper bundles a debug-level logger with the test handle, the
// way every suite-style test in this tree wants one.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a logger at debug level so
// failures carry full context without configuring anything per-test.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
