package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/222Mellow/Pulscription/internal/chainclient"
	"github.com/222Mellow/Pulscription/internal/config"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/222Mellow/Pulscription/internal/reorg"
)

type fakeCheckpoint struct{}

func (fakeCheckpoint) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	return 0, false, nil
}
func (fakeCheckpoint) SetLastProcessedBlock(ctx context.Context, number uint64) error { return nil }
func (fakeCheckpoint) RollbackFrom(ctx context.Context, fromHeight uint64) error      { return nil }

// transientChain fails every GetBlock call with a plain (non-fatal) error.
type transientChain struct{ calls int }

func (f *transientChain) GetBlock(ctx context.Context, number uint64) (*chainclient.BlockData, error) {
	f.calls++
	return nil, errors.New("rpc unavailable")
}
func (f *transientChain) HeadNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *transientChain) SubscribeHeads(ctx context.Context, onBlock func(uint64), onError func(error)) {
}
func (f *transientChain) ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error) {
	return nil, nil
}

// fatalChain fails every GetBlock call with a model.FatalError.
type fatalChain struct{ calls int }

func (f *fatalChain) GetBlock(ctx context.Context, number uint64) (*chainclient.BlockData, error) {
	f.calls++
	return nil, model.NewFatalError(errors.New("bridge invariant violated"))
}
func (f *fatalChain) HeadNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fatalChain) SubscribeHeads(ctx context.Context, onBlock func(uint64), onError func(error)) {
}
func (f *fatalChain) ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error) {
	return nil, nil
}

func newTestCoordinator(chain Chain) *Coordinator {
	return &Coordinator{
		cfg:        config.Config{RetryDelay: time.Millisecond},
		chain:      chain,
		checkpoint: fakeCheckpoint{},
		guard:      reorg.New(10, 6),
		log:        log.New(),
	}
}

// A plain error retries maxAttempts times, then the failure surfaces
// as a model.FatalError so the Block Queue stops instead of
// re-enqueuing forever.
func TestProcessBlockWithAttempts_ExhaustionBecomesFatal(t *testing.T) {
	chain := &transientChain{}
	c := newTestCoordinator(chain)

	err := c.processBlockWithAttempts(context.Background(), 1)
	require.Error(t, err)
	var fatal *model.FatalError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, maxAttempts, chain.calls)
}

// A model.FatalError returned from processBlock itself (e.g. a
// bridge-lock invariant violation) skips the retry loop entirely.
func TestProcessBlockWithAttempts_FatalSkipsRetries(t *testing.T) {
	chain := &fatalChain{}
	c := newTestCoordinator(chain)

	err := c.processBlockWithAttempts(context.Background(), 1)
	require.Error(t, err)
	var fatal *model.FatalError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, 1, chain.calls)
}
