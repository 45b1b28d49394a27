package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testCloser struct {
	closed chan struct{}
}

func (c *testCloser) Close() error {
	close(c.closed)
	return nil
}

func TestRunnerStopsAll(t *testing.T) {
	boom := errors.New("boom")
	closer := &testCloser{closed: make(chan struct{})}
	r := NewRunner().Go(
		NamedRun("failing", RunFunc(func(ctx context.Context) error {
			return boom
		})),
		CloseOnCancel(closer),
	)
	done := make(chan error, 1)
	go func() { done <- r.Wait() }()
	select {
	case err := <-done:
		require.EqualError(t, err, boom.Error())
	case <-time.After(500 * time.Millisecond):
		t.Fatal("wait timeout")
	}
	select {
	case <-closer.closed:
	default:
		t.Fatal("closer not closed")
	}
}

func TestRunnerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	r := NewRunnerWith(ctx).Go(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cancel()
	require.NoError(t, r.Wait())
}

func TestRunOrFailCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	closer := &testCloser{closed: make(chan struct{})}
	r := NewRunnerWith(ctx).Go(RunFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	cancel()
	r.RunOrFail(closer)
	select {
	case <-closer.closed:
	default:
		t.Fatal("closer not closed")
	}
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil).Aggregate())
	errs.Add(errors.New("a"))
	require.Equal(t, "a", errs.Aggregate().Error())
	errs.Add(errors.New("b"), nil)
	require.Len(t, errs.Errors, 2)
	require.Equal(t, "Multiple errors:\na\nb", errs.Error())
}
