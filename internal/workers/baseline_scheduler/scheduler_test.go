package baseline_scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecomputer struct {
	updated int
	err     error
	calls   int
}

func (f *fakeRecomputer) RecomputeAll(_ context.Context) (int, error) {
	f.calls++
	return f.updated, f.err
}

func TestRunNowSweeps(t *testing.T) {
	recomputer := &fakeRecomputer{updated: 7}
	s := New(recomputer, Config{}, zap.NewNop())

	updated, err := s.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, updated)
	assert.Equal(t, 1, recomputer.calls)

	lastRun, lastErr := s.LastRun()
	assert.False(t, lastRun.IsZero())
	assert.NoError(t, lastErr)
}

func TestRunNowRecordsFailure(t *testing.T) {
	recomputer := &fakeRecomputer{err: errors.New("db unavailable")}
	s := New(recomputer, Config{}, zap.NewNop())

	_, err := s.RunNow(context.Background())
	require.Error(t, err)

	_, lastErr := s.LastRun()
	assert.Error(t, lastErr)
}

func TestStartRejectsDoubleStart(t *testing.T) {
	s := New(&fakeRecomputer{}, Config{Schedule: "0 3 * * *"}, zap.NewNop())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeRecomputer{}, Config{Schedule: "not a cron line"}, zap.NewNop())
	assert.Error(t, s.Start())
}
