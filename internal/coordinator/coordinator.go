// Package coordinator implements the Coordinator: the
// top-level driver that backfills from the last checkpoint to head,
// then tails new blocks from the head subscription, delegating each
// block to the Transaction Classifier, Ownership State Machine, and
// Derived-State Writers in order, guarded by the Reorg Guard.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/222Mellow/Pulscription/internal/chainclient"
	"github.com/222Mellow/Pulscription/internal/classifier"
	"github.com/222Mellow/Pulscription/internal/config"
	"github.com/222Mellow/Pulscription/internal/derived"
	"github.com/222Mellow/Pulscription/internal/dictionary"
	"github.com/222Mellow/Pulscription/internal/metrics"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/222Mellow/Pulscription/internal/ownership"
	"github.com/222Mellow/Pulscription/internal/queue"
	"github.com/222Mellow/Pulscription/internal/reorg"
)

// maxAttempts bounds processBlock retries before a failure becomes
// fatal and surfaces to the supervisor.
const maxAttempts = 5

// Checkpoint is the subset of the Datastore the Coordinator needs for
// startup/resume bookkeeping.
type Checkpoint interface {
	LastProcessedBlock(ctx context.Context) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, number uint64) error
	// RollbackFrom deletes every event/state change recorded at or above
	// fromHeight, used after a reorg is detected.
	RollbackFrom(ctx context.Context, fromHeight uint64) error
}

// Chain is the subset of chainclient.Client the Coordinator drives
// directly.
type Chain interface {
	GetBlock(ctx context.Context, number uint64) (*chainclient.BlockData, error)
	HeadNumber(ctx context.Context) (uint64, error)
	SubscribeHeads(ctx context.Context, onBlock func(uint64), onError func(error))
	ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error)
}

// Coordinator wires every layer of the indexing pipeline's dependency graph:
// Coordinator → (Classifier, Reorg Guard) → (Decoders, State Machine,
// Writers) → (Chain Client, Datastore).
type Coordinator struct {
	cfg        config.Config
	chain      Chain
	checkpoint Checkpoint
	dict       *dictionary.Dictionary
	machine    *ownership.Machine
	writer     *derived.Writer
	points     *derived.PointsWriter
	bridge     *derived.BridgeWriter
	guard      *reorg.Guard
	q          *queue.Queue
	log        log.Logger
}

// New constructs a Coordinator, wiring its internal Block Queue to
// call back into the Coordinator's own attempt-bounded processBlock.
func New(
	cfg config.Config,
	chain Chain,
	checkpoint Checkpoint,
	dict *dictionary.Dictionary,
	machine *ownership.Machine,
	writer *derived.Writer,
	points *derived.PointsWriter,
	bridge *derived.BridgeWriter,
	logger log.Logger,
) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		chain:      chain,
		checkpoint: checkpoint,
		dict:       dict,
		machine:    machine,
		writer:     writer,
		points:     points,
		bridge:     bridge,
		guard:      reorg.New(cfg.BlockHistory, cfg.Confirmations),
		log:        logger,
	}
	c.q = queue.New(c.processBlockWithAttempts, cfg.RetryDelay, logger)
	return c
}

// Run executes the backfill-then-tail startup sequence and blocks
// until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.q.Clear()
	c.q.Pause()

	startBlock, ok, err := c.checkpoint.LastProcessedBlock(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: load checkpoint: %w", err)
	}
	if !ok {
		startBlock = c.cfg.OriginBlock
	} else {
		startBlock++
	}

	head, err := c.chain.HeadNumber(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: resolve head: %w", err)
	}
	for n := startBlock; n <= head; n++ {
		c.q.Enqueue(n, time.Now())
	}

	c.q.Resume()

	c.chain.SubscribeHeads(ctx, func(n uint64) {
		c.q.Enqueue(n, time.Now())
	}, func(err error) {
		c.log.Warn("head subscription error", "err", err)
	})

	if err := c.q.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("coordinator: %w", err)
	}
	return nil
}

// processBlockWithAttempts wraps processBlock with an attempt-cap
// retry: on error, wait RetryDelay and recurse on the same n, bounded
// by maxAttempts, beyond that the error becomes a model.FatalError. A
// model.FatalError from processBlock itself (e.g. a bridge-lock
// invariant violation) skips the retry loop entirely and is returned
// immediately, unwrapped, since retrying the same block cannot help.
func (c *Coordinator) processBlockWithAttempts(ctx context.Context, n uint64) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.processBlock(ctx, n)
		if err == nil {
			return nil
		}
		var fatal *model.FatalError
		if errors.As(err, &fatal) {
			c.log.Error("fatal error processing block", "block", n, "attempt", attempt, "err", err)
			return err
		}
		lastErr = err
		c.log.Warn("processBlock failed", "block", n, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return model.NewFatalError(fmt.Errorf("coordinator: block %d failed after %d attempts: %w", n, maxAttempts, lastErr))
}

// processBlock implements the body of the Coordinator's worker
//: fetch, reorg-check, classify, and apply every item
// in order.
func (c *Coordinator) processBlock(ctx context.Context, n uint64) error {
	block, err := c.chain.GetBlock(ctx, n)
	if err != nil {
		return err
	}
	if block.Number != n {
		return fmt.Errorf("coordinator: getBlock returned %d, wanted %d", block.Number, n)
	}

	if err := c.guard.Observe(model.ProcessedBlock{Number: block.Number, Hash: block.Hash, ParentHash: block.ParentHash}); err != nil {
		var detected *reorg.Detected
		if errors.As(err, &detected) {
			return c.handleReorg(ctx, detected)
		}
		return err
	}

	pointsUsers := make(map[common.Address]bool)

	for txIndex, twr := range block.Txs {
		items, err := classifier.ClassifyTx(ctx, c.chain, c.cfg, block.Number, classifier.Tx{
			Tx: twr.Tx, Receipt: twr.Receipt, From: twr.From, TxIndex: uint(txIndex),
		})
		if err != nil {
			return err
		}
		meta := derived.TxMeta{
			BlockNumber:    block.Number,
			BlockHash:      block.Hash,
			BlockTimestamp: block.Timestamp,
			TxIndex:        uint(txIndex),
			TxHash:         twr.Tx.Hash(),
			TxFrom:         twr.From,
			TxTo:           twr.Tx.To(),
		}
		if err := c.applyItems(ctx, meta, items, pointsUsers); err != nil {
			return err
		}
	}

	if c.points != nil && len(pointsUsers) > 0 {
		c.points.Sync(ctx, pointsUsers)
	}

	if err := c.checkpoint.SetLastProcessedBlock(ctx, block.Number); err != nil {
		return err
	}
	metrics.BlocksProcessed.Inc()
	metrics.QueueDepth.Set(float64(c.q.Len()))
	return nil
}

func (c *Coordinator) applyItems(ctx context.Context, meta derived.TxMeta, items []classifier.Item, pointsUsers map[common.Address]bool) error {
	for _, it := range items {
		switch it.Kind {
		case classifier.KindCreation:
			if _, err := c.machine.ApplyCreation(ctx, c.dict, ownership.CreationRequest{
				Sha:            it.Creation.Sha,
				TxHash:         meta.TxHash,
				BlockHash:      meta.BlockHash,
				From:           meta.TxFrom,
				To:             meta.TxTo,
				Coord:          it.Coord,
				BlockTimestamp: meta.BlockTimestamp,
			}); err != nil {
				return err
			}
		case classifier.KindDirectTransfer, classifier.KindBatchTransfer, classifier.KindESIP1, classifier.KindESIP2:
			if _, err := c.machine.ApplyTransfer(ctx, ownership.TransferRequest{
				HashID:        it.Transfer.HashID,
				From:          it.Transfer.From,
				To:            it.Transfer.To,
				Value:         it.Transfer.Value,
				PrevOwnerHint: it.Transfer.PrevOwnerHint,
				Coord:         it.Coord,
				TxHash:        meta.TxHash,
				BlockHash:     meta.BlockHash,
			}); err != nil {
				return err
			}
		case classifier.KindMarketplace:
			if err := c.writer.HandleMarketplace(ctx, it.Coord, meta, *it.Marketplace); err != nil {
				return err
			}
		case classifier.KindAuction:
			if err := c.writer.HandleAuction(ctx, it.Coord, meta, *it.Auction); err != nil {
				return err
			}
		case classifier.KindPoints:
			pointsUsers[it.Points.User] = true
		case classifier.KindBridge:
			if c.bridge != nil {
				if err := c.bridge.Handle(ctx, it.Coord, *it.Bridge); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// handleReorg rolls back: delete events/state changes from disagreeing
// blocks and re-enqueue from the last agreeing ancestor.
func (c *Coordinator) handleReorg(ctx context.Context, d *reorg.Detected) error {
	c.log.Warn("reorg detected", "lastAgreement", d.LastAgreement, "newBlock", d.NewBlock)
	if d.NewBlock > d.LastAgreement {
		metrics.ReorgDepth.Observe(float64(d.NewBlock - d.LastAgreement))
	}
	if err := c.checkpoint.RollbackFrom(ctx, d.LastAgreement+1); err != nil {
		return fmt.Errorf("coordinator: rollback from %d: %w", d.LastAgreement+1, err)
	}
	c.guard.Rollback(d.LastAgreement + 1)
	for n := d.LastAgreement + 1; n <= d.NewBlock; n++ {
		c.q.Enqueue(n, time.Now())
	}
	return nil
}
