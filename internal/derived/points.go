package derived

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/222Mellow/Pulscription/internal/metrics"
)

// PointsStore is the subset of the Datastore interface the points
// writer needs.
type PointsStore interface {
	SetUserPoints(ctx context.Context, address common.Address, points uint64) error
}

// PointsCaller is the subset of the Chain Client the points writer
// needs; satisfied by chainclient.Client.CallPoints.
type PointsCaller interface {
	CallPoints(ctx context.Context, pointsAddress, address common.Address) (uint64, error)
}

// PointsWriter re-syncs the stored point total for a set of addresses
// by re-reading the points contract's view function, rather than
// accumulating amounts from the log stream.
type PointsWriter struct {
	store         PointsStore
	chain         PointsCaller
	pointsAddress common.Address
	log           log.Logger
}

func NewPoints(store PointsStore, chain PointsCaller, pointsAddress common.Address, logger log.Logger) *PointsWriter {
	return &PointsWriter{store: store, chain: chain, pointsAddress: pointsAddress, log: logger}
}

// Sync re-reads and overwrites the stored total for every address in
// users. A failure for one address is logged and swallowed, never
// propagated: points are eventually-consistent and may be re-synced by
// any later trigger.
func (p *PointsWriter) Sync(ctx context.Context, users map[common.Address]bool) {
	for addr := range users {
		total, err := p.chain.CallPoints(ctx, p.pointsAddress, addr)
		if err != nil {
			metrics.PointsSyncFailures.Inc()
			p.log.Warn("points sync failed", "user", addr, "err", err)
			continue
		}
		if err := p.store.SetUserPoints(ctx, addr, total); err != nil {
			metrics.PointsSyncFailures.Inc()
			p.log.Warn("points store failed", "user", addr, "err", err)
			continue
		}
	}
}
