// Package reorg implements the Reorg Guard: a bounded
// sliding window of recently processed blocks used to detect chain
// reorganizations by parent-hash discontinuity, and to promote blocks
// to "confirmed" once they fall far enough behind the head.
package reorg

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/222Mellow/Pulscription/internal/model"
)

// Detected is raised when a newly processed block's parent hash
// disagrees with the window's last entry.
type Detected struct {
	// LastAgreement is the height of the last block in the window whose
	// hash the Coordinator can trust; rollback must walk back at least
	// to here.
	LastAgreement uint64
	NewBlock      uint64
	NewParentHash common.Hash
}

func (e *Detected) Error() string {
	return fmt.Sprintf("reorg detected: block %d's parent does not match the window (last agreeing ancestor at or before %d)", e.NewBlock, e.LastAgreement)
}

// Guard maintains the ProcessedBlock window.
// It is not safe for concurrent use; the single-writer-per-chain model
// guarantees it never needs to be.
type Guard struct {
	window        []model.ProcessedBlock
	maxLen        int
	confirmations uint64
}

// New constructs a Guard; maxLen and confirmations are typically
// BLOCK_HISTORY=30, CONFIRMATIONS=6 by default.
func New(maxLen int, confirmations uint64) *Guard {
	return &Guard{
		window:        make([]model.ProcessedBlock, 0, maxLen),
		maxLen:        maxLen,
		confirmations: confirmations,
	}
}

// Observe records a successfully processed block. It returns
// *Detected (as an error) when the new block's parent hash disagrees
// with the current window tail; the window is left untouched in that
// case so the Coordinator can inspect it while computing the rollback
// point.
func (g *Guard) Observe(block model.ProcessedBlock) error {
	if len(g.window) > 0 {
		last := g.window[len(g.window)-1]
		if last.Hash != block.ParentHash {
			return &Detected{
				LastAgreement: g.lastAgreeingAncestor(block),
				NewBlock:      block.Number,
				NewParentHash: block.ParentHash,
			}
		}
	}

	g.window = append(g.window, block)
	if len(g.window) > g.maxLen {
		g.window = g.window[len(g.window)-g.maxLen:]
	}
	g.promoteConfirmed(block.Number)
	return nil
}

// lastAgreeingAncestor returns the height of the highest entry in the
// window whose hash equals block's parent hash, i.e. the shared
// ancestor of the window and block's chain. When no entry matches (the
// new chain forks below the window, or its parent was never observed),
// it reports one below the current tail.
func (g *Guard) lastAgreeingAncestor(block model.ProcessedBlock) uint64 {
	if len(g.window) == 0 {
		return 0
	}
	for i := len(g.window) - 1; i >= 0; i-- {
		if g.window[i].Hash == block.ParentHash {
			return g.window[i].Number
		}
	}
	return g.window[len(g.window)-1].Number - 1
}

// promoteConfirmed marks the entry at depth Confirmations behind head
// as confirmed; confirmed entries are no longer
// eligible for reorg rollback.
func (g *Guard) promoteConfirmed(head uint64) {
	for i := range g.window {
		if g.window[i].Confirmed {
			continue
		}
		if head-g.window[i].Number >= g.confirmations {
			g.window[i].Confirmed = true
		}
	}
}

// Rollback discards every window entry at or above fromHeight, used
// after the Coordinator has deleted the corresponding events/state
// changes.
func (g *Guard) Rollback(fromHeight uint64) {
	kept := g.window[:0]
	for _, b := range g.window {
		if b.Number < fromHeight {
			kept = append(kept, b)
		}
	}
	g.window = kept
}

// Entries returns a snapshot of the current window, oldest first.
func (g *Guard) Entries() []model.ProcessedBlock {
	out := make([]model.ProcessedBlock, len(g.window))
	copy(out, g.window)
	return out
}

// Last returns the most recently observed block, if any.
func (g *Guard) Last() (model.ProcessedBlock, bool) {
	if len(g.window) == 0 {
		return model.ProcessedBlock{}, false
	}
	return g.window[len(g.window)-1], true
}
