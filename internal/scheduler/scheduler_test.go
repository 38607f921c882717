package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"siteline/internal/engine"
	"siteline/internal/scheduler"
)

type mockRecomputer struct {
	mock.Mock
	calls atomic.Int32
}

func (m *mockRecomputer) RecomputeAll(ctx context.Context) ([]engine.RecomputeResult, error) {
	m.calls.Add(1)
	args := m.Called(ctx)
	res, _ := args.Get(0).([]engine.RecomputeResult)
	return res, args.Error(1)
}

func TestRunOnceWithoutInterval(t *testing.T) {
	m := &mockRecomputer{}
	m.On("RecomputeAll", mock.Anything).Return(nil, nil).Once()

	err := scheduler.Scheduler{Recomputer: m, Logger: zaptest.NewLogger(t)}.Run(context.Background())
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	m := &mockRecomputer{}
	m.On("RecomputeAll", mock.Anything).Return(nil, errors.New("store offline"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Scheduler{Recomputer: m, Interval: 5 * time.Millisecond, Logger: zaptest.NewLogger(t)}.Run(ctx)
	}()

	require.Eventually(t, func() bool { return m.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
