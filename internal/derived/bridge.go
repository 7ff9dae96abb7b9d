package derived

import (
	"context"
	"fmt"

	"github.com/222Mellow/Pulscription/internal/classifier"
	"github.com/222Mellow/Pulscription/internal/decode"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// BridgeStore is the subset of the Datastore interface the bridge
// writer needs.
type BridgeStore interface {
	SetLocked(ctx context.Context, hashID common.Hash, locked bool) (bool, error)
}

// BridgeOut is the external worker HashLocked events are hand off to
//; satisfied by internal/bridgeout.Publisher.
type BridgeOut interface {
	Enqueue(ctx context.Context, hashID common.Hash, prevOwner common.Address) error
}

// BridgeWriter applies HashLocked/HashUnlocked events.
type BridgeWriter struct {
	store BridgeStore
	out   BridgeOut
}

func NewBridge(store BridgeStore, out BridgeOut) *BridgeWriter {
	return &BridgeWriter{store: store, out: out}
}

// Handle applies one decoded bridge event. A HashLocked whose row
// doesn't exist is a fatal error for the whole block: bridge
// inconsistency must not be silently accepted.
func (w *BridgeWriter) Handle(ctx context.Context, coord model.LogCoord, item classifier.BridgeItem) error {
	switch item.Name {
	case "HashLocked":
		return w.handleHashLocked(ctx, *item.HashLocked)
	case "HashUnlocked":
		return w.handleHashUnlocked(ctx, *item.HashUnlocked)
	}
	return nil
}

func (w *BridgeWriter) handleHashLocked(ctx context.Context, ev decode.HashLocked) error {
	found, err := w.store.SetLocked(ctx, ev.HashID, true)
	if err != nil {
		return fmt.Errorf("derived: lock %s: %w", ev.HashID, err)
	}
	if !found {
		return model.NewFatalError(fmt.Errorf("derived: HashLocked for unknown ethscription %s", ev.HashID))
	}
	return w.out.Enqueue(ctx, ev.HashID, ev.PrevOwner)
}

func (w *BridgeWriter) handleHashUnlocked(ctx context.Context, ev decode.HashUnlocked) error {
	_, err := w.store.SetLocked(ctx, ev.HashID, false)
	return err
}
