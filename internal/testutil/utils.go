package testutil

import (
	"log"
	"os"
	"testing"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// NopStats satisfies stats.StatsProvider for tests that don't assert
// on metrics.
type NopStats struct{}

func (NopStats) Incr(string)           {}
func (NopStats) Add(string, int)       {}
func (NopStats) RegisterMetric(string) {}
func (NopStats) Run()                  {}
