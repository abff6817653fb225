package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSweeper struct {
	calls  chan time.Duration
	result int
}

func (s *recordingSweeper) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	s.calls <- olderThan
	return s.result, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMaintenanceRejectsInvalidSchedule(t *testing.T) {
	m := NewMaintenance(&recordingSweeper{calls: make(chan time.Duration, 1)}, "not a schedule", time.Hour, quietLogger())
	assert.Error(t, m.Start())
}

func TestMaintenanceRequiresSweeper(t *testing.T) {
	m := NewMaintenance(nil, "", time.Hour, quietLogger())
	assert.Error(t, m.Start())
}

func TestMaintenanceRunsSweepWithConfiguredAge(t *testing.T) {
	sweeper := &recordingSweeper{calls: make(chan time.Duration, 1), result: 3}
	m := NewMaintenance(sweeper, "* * * * *", 6*time.Hour, quietLogger())

	m.runSweep()

	select {
	case age := <-sweeper.calls:
		assert.Equal(t, 6*time.Hour, age)
	default:
		t.Fatal("sweep was not invoked")
	}
}

func TestMaintenanceDefaultsMaxAge(t *testing.T) {
	m := NewMaintenance(&recordingSweeper{calls: make(chan time.Duration, 1)}, "", 0, quietLogger())
	assert.Equal(t, 24*time.Hour, m.maxAge)
}

func TestMaintenanceStartAndStop(t *testing.T) {
	sweeper := &recordingSweeper{calls: make(chan time.Duration, 4)}
	m := NewMaintenance(sweeper, "* * * * *", time.Hour, quietLogger())

	require.NoError(t, m.Start())
	m.Stop()
}
