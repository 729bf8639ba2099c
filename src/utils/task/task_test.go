package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vianetwork/btcwatch/src/utils/config"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
)

func TestTaskTestSuite(t *testing.T) {
	suite.Run(t, new(TaskTestSuite))
}

type TaskTestSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
}

func (s *TaskTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.config = config.Default()
}

func (s *TaskTestSuite) TearDownSuite() {
	s.cancel()
}

func (s *TaskTestSuite) TestPeriodicLifecycle() {
	var runs atomic.Int64
	task := NewTask(s.config, "periodic").
		WithPeriodicSubtaskFunc(10*time.Millisecond, func() error {
			runs.Inc()
			return nil
		})

	require.NoError(s.T(), task.Start())
	require.Eventually(s.T(), func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	task.StopWait()
	<-task.CtxRunning.Done()
	require.True(s.T(), task.IsStopping.Load())
}

func (s *TaskTestSuite) TestPeriodicStopsOnError() {
	task := NewTask(s.config, "failing").
		WithPeriodicSubtaskFunc(time.Millisecond, func() error {
			return errors.New("boom")
		})

	require.NoError(s.T(), task.Start())

	select {
	case <-task.CtxRunning.Done():
	case <-time.After(time.Second):
		s.T().Fatal("task should finish after subtask error")
	}
}

func (s *TaskTestSuite) TestBeforeStartError() {
	task := NewTask(s.config, "before").
		WithOnBeforeStart(func() error { return errors.New("nope") })
	require.Error(s.T(), task.Start())
}

func (s *TaskTestSuite) TestRetryTransient() {
	var calls int
	var attempts []int
	err := NewRetry().
		WithContext(s.ctx).
		WithInitialInterval(time.Millisecond).
		WithMaxRetries(5).
		WithOnError(func(err error, attempt int) { attempts = append(attempts, attempt) }).
		Run(func() error {
			calls++
			if calls < 3 {
				return errors.New("flaky")
			}
			return nil
		})
	require.NoError(s.T(), err)
	require.Equal(s.T(), 3, calls)
	require.Equal(s.T(), []int{1, 2}, attempts)
}

func (s *TaskTestSuite) TestRetryPermanent() {
	permanent := errors.New("permanent")
	var calls int
	err := NewRetry().
		WithContext(s.ctx).
		WithInitialInterval(time.Millisecond).
		WithMaxRetries(5).
		WithTransient(func(err error) bool { return !errors.Is(err, permanent) }).
		Run(func() error {
			calls++
			return permanent
		})
	require.ErrorIs(s.T(), err, permanent)
	require.Equal(s.T(), 1, calls)
}

func (s *TaskTestSuite) TestRetryExhausted() {
	var calls int
	err := NewRetry().
		WithContext(s.ctx).
		WithInitialInterval(time.Millisecond).
		WithMaxRetries(2).
		Run(func() error {
			calls++
			return errors.New("down")
		})
	require.Error(s.T(), err)
	require.Equal(s.T(), 3, calls)
}

func (s *TaskTestSuite) TestSubmitAfterStop() {
	task := NewTask(s.config, "pool").WithWorkerPool(2)
	require.NoError(s.T(), task.Start())

	var ran atomic.Int64
	require.True(s.T(), task.TrySubmitToWorker(func() { ran.Inc() }))
	require.Eventually(s.T(), func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)

	task.StopWait()

	require.NotPanics(s.T(), func() {
		require.False(s.T(), task.TrySubmitToWorker(func() { ran.Inc() }))
	})
	require.Equal(s.T(), int64(1), ran.Load())
}
