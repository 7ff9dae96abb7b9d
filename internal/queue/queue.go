// Package queue implements the Block Queue: an in-memory,
// single-worker FIFO of block numbers for one chain. Items are not
// persisted, so pending items do not survive a process restart.
// Concurrency is strictly 1 so block processing order is preserved; a
// worker failure re-enqueues the same block number after a delay of at
// least minBackoff rather than dropping it.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/222Mellow/Pulscription/internal/model"
)

// ProcessFunc is the Coordinator's processBlock entry point.
type ProcessFunc func(ctx context.Context, blockNumber uint64) error

// item is one in-memory queue entry.
type item struct {
	blockNumber uint64
	discoveredAt time.Time
}

// Queue is a single-chain, single-worker in-memory FIFO of block
// numbers.
type Queue struct {
	mu      sync.Mutex
	items   []item
	seen    *lru.Cache[uint64, struct{}] // idempotency window for enqueue
	paused  bool
	notify  chan struct{}
	process ProcessFunc
	log     log.Logger

	minBackoff time.Duration
}

// New constructs a Queue bound to process, which the worker loop calls
// for every dequeued block number. minBackoff is the floor the
// exponential re-enqueue backoff is bounded at.
func New(process ProcessFunc, minBackoff time.Duration, logger log.Logger) *Queue {
	seen, _ := lru.New[uint64, struct{}](4096)
	return &Queue{
		seen:       seen,
		paused:     true,
		notify:     make(chan struct{}, 1),
		process:    process,
		log:        logger,
		minBackoff: minBackoff,
	}
}

// Enqueue adds blockNumber to the tail of the queue; idempotent on n
// within the recent window.
func (q *Queue) Enqueue(blockNumber uint64, discoveredAt time.Time) {
	q.mu.Lock()
	if _, ok := q.seen.Get(blockNumber); ok {
		q.mu.Unlock()
		return
	}
	q.seen.Add(blockNumber, struct{}{})
	q.items = append(q.items, item{blockNumber: blockNumber, discoveredAt: discoveredAt})
	q.mu.Unlock()
	q.wake()
}

// Pause stops the worker from dequeuing new items; any
// item currently being processed finishes first.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume allows the worker to dequeue again.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.wake()
}

// Clear empties the queue without resetting the idempotency window.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len reports the current queue depth, for metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) dequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || len(q.items) == 0 {
		return item{}, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

// Run drives the single worker until ctx is canceled or process
// returns a model.FatalError, at which point Run stops and returns
// that error unwrapped so the caller can halt for supervisor restart.
// Concurrency is 1 per chain by construction: Run must only ever be
// called once per Queue.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		it, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.notify:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		if err := q.processWithRetry(ctx, it); err != nil {
			return err
		}
	}
}

// processWithRetry calls process once. A model.FatalError is returned
// immediately without re-enqueuing: the item is not retryable. Any
// other error re-enqueues the same block number at the head of the
// queue after one step of an exponential backoff whose initial interval
// is raised to minBackoff, and never drops the item. Each failure
// starts a fresh backoff, so the delay does not grow across repeated
// failures of the same block.
func (q *Queue) processWithRetry(ctx context.Context, it item) error {
	err := q.process(ctx, it.blockNumber)
	if err == nil {
		return nil
	}

	var fatal *model.FatalError
	if errors.As(err, &fatal) {
		q.log.Error("fatal error processing block, stopping queue", "block", it.blockNumber, "err", err)
		return err
	}

	q.log.Warn("queue worker error, re-enqueuing", "block", it.blockNumber, "err", err)
	boff := backoff.NewExponentialBackOff()
	if boff.InitialInterval < q.minBackoff {
		boff.InitialInterval = q.minBackoff
	}
	delay := boff.NextBackOff()
	if delay < q.minBackoff {
		delay = q.minBackoff
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		q.mu.Lock()
		q.seen.Remove(it.blockNumber) // allow re-enqueue despite the idempotency window
		q.items = append([]item{it}, q.items...)
		q.mu.Unlock()
		q.wake()
	}()
	return nil
}
