package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/222Mellow/Pulscription/internal/model"
)

func TestQueue_ProcessesInOrder(t *testing.T) {
	var processed []uint64
	done := make(chan struct{})

	q := New(func(ctx context.Context, n uint64) error {
		processed = append(processed, n)
		if len(processed) == 3 {
			close(done)
		}
		return nil
	}, time.Millisecond, log.New())

	q.Enqueue(100, time.Now())
	q.Enqueue(101, time.Now())
	q.Enqueue(102, time.Now())
	q.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocks to process")
	}

	require.Equal(t, []uint64{100, 101, 102}, processed)
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	q := New(func(ctx context.Context, n uint64) error { return nil }, time.Millisecond, log.New())
	now := time.Now()
	q.Enqueue(5, now)
	q.Enqueue(5, now)
	q.Enqueue(5, now)
	require.Equal(t, 1, q.Len())
}

func TestQueue_PausedDoesNotDequeue(t *testing.T) {
	var calls int32
	q := New(func(ctx context.Context, n uint64) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, time.Millisecond, log.New())
	q.Enqueue(1, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	q.Run(ctx)

	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
	require.Equal(t, 1, q.Len())
}

func TestQueue_RetriesOnError(t *testing.T) {
	var attempts int32
	done := make(chan struct{})

	q := New(func(ctx context.Context, n uint64) error {
		count := atomic.AddInt32(&attempts, 1)
		if count < 2 {
			return errTransient
		}
		close(done)
		return nil
	}, time.Millisecond, log.New())
	q.Enqueue(7, time.Now())
	q.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry to succeed")
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errTransient = fakeErr("transient failure")

// A model.FatalError stops Run instead of being retried/re-enqueued.
func TestQueue_FatalErrorStopsQueue(t *testing.T) {
	var calls int32
	q := New(func(ctx context.Context, n uint64) error {
		atomic.AddInt32(&calls, 1)
		return model.NewFatalError(errors.New("bridge invariant violated"))
	}, time.Millisecond, log.New())
	q.Enqueue(9, time.Now())
	q.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := q.Run(ctx)
	require.Error(t, err)
	var fatal *model.FatalError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
