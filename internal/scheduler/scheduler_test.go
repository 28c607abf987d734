package scheduler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offpost/mailsync/internal/metrics"
)

func newScheduler() (*Scheduler, *metrics.Metrics) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.New()
	return New(m, log), m
}

func TestTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the job result", func(t *testing.T) {
		s, m := newScheduler()
		require.NoError(t, s.Add("route", "@every 1h", func(context.Context) (any, error) {
			return 42, nil
		}))

		result, err := s.Trigger(ctx, "route")
		require.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))

		statuses := s.Status()
		require.Len(t, statuses, 1)
		assert.Equal(t, "route", statuses[0].Name)
		assert.False(t, statuses[0].LastStarted.IsZero())
		assert.Empty(t, statuses[0].LastError)
	})

	t.Run("unknown job", func(t *testing.T) {
		s, _ := newScheduler()
		_, err := s.Trigger(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnknownJob)
	})

	t.Run("duplicate and invalid registrations", func(t *testing.T) {
		s, _ := newScheduler()
		noop := func(context.Context) (any, error) { return nil, nil }
		require.NoError(t, s.Add("send", "", noop))
		assert.Error(t, s.Add("send", "", noop))
		assert.Error(t, s.Add("bad", "not a spec", noop))
	})

	t.Run("errors are recorded", func(t *testing.T) {
		s, _ := newScheduler()
		require.NoError(t, s.Add("send", "", func(context.Context) (any, error) {
			return nil, errors.New("smtp down")
		}))

		_, err := s.Trigger(ctx, "send")
		assert.EqualError(t, err, "smtp down")
		assert.Equal(t, "smtp down", s.Status()[0].LastError)
	})

	t.Run("panics become errors", func(t *testing.T) {
		s, _ := newScheduler()
		require.NoError(t, s.Add("boom", "", func(context.Context) (any, error) {
			panic("boom")
		}))

		_, err := s.Trigger(ctx, "boom")
		assert.ErrorContains(t, err, "panicked")
	})

	t.Run("overlapping runs are refused", func(t *testing.T) {
		s, _ := newScheduler()
		started := make(chan struct{})
		release := make(chan struct{})
		require.NoError(t, s.Add("receive", "", func(context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}))

		done := make(chan error, 1)
		go func() {
			_, err := s.Trigger(ctx, "receive")
			done <- err
		}()
		<-started

		_, err := s.Trigger(ctx, "receive")
		assert.ErrorIs(t, err, ErrJobRunning)

		close(release)
		assert.NoError(t, <-done)
	})
}

func TestStartStop(t *testing.T) {
	s, _ := newScheduler()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) (any, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil, nil
	}))

	s.Start()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}
	assert.False(t, s.Status()[0].Next.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
