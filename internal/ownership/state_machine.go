// Package ownership implements the Ownership State Machine: the single authority that mutates Ethscription.Owner /
// PrevOwner, under the existence / transferrer-is-owner /
// prevOwner-agreement guards, with every accepted transfer recorded as
// an idempotent Event.
package ownership

import (
	"context"
	"strings"
	"time"

	"github.com/222Mellow/Pulscription/internal/dictionary"
	"github.com/222Mellow/Pulscription/internal/metrics"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Store is the subset of the Datastore interface the
// state machine needs.
type Store interface {
	GetEthscriptionByHashID(ctx context.Context, hashID common.Hash) (*model.Ethscription, error)
	GetEthscriptionBySha(ctx context.Context, sha [32]byte) (*model.Ethscription, error)
	AddEthscription(ctx context.Context, e model.Ethscription) error
	UpdateOwner(ctx context.Context, hashID common.Hash, expectedOwner, newOwner common.Address) (bool, error)
	AddEvents(ctx context.Context, events []model.Event) error
}

// CreationRequest is the normalized creation candidate the Transaction
// Classifier hands the machine.
type CreationRequest struct {
	Sha            [32]byte
	TxHash         common.Hash
	BlockHash      common.Hash
	From           common.Address
	To             *common.Address
	Coord          model.LogCoord
	BlockTimestamp time.Time
}

// ApplyCreation: a dictionary miss or a duplicate sha is silently
// ignored (first inscription wins); a novel, recognized sha is
// inserted and a "created" event is emitted.
func (m *Machine) ApplyCreation(ctx context.Context, dict *dictionary.Dictionary, req CreationRequest) (bool, error) {
	tokenID, ok := dict.Lookup(req.Sha)
	if !ok {
		return false, nil // dictionary miss: silently skipped
	}
	existing, err := m.store.GetEthscriptionBySha(ctx, req.Sha)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil // duplicate sha: first inscription wins
	}

	owner := common.Address{}
	if req.To != nil {
		owner = *req.To
	}
	rec := model.Ethscription{
		HashID:    req.TxHash,
		Sha:       req.Sha,
		Owner:     owner,
		PrevOwner: nil,
		Creator:   req.From,
		CreatedAt: req.BlockTimestamp,
		TokenID:   tokenID,
	}
	if err := m.store.AddEthscription(ctx, rec); err != nil {
		return false, err
	}

	evt := model.Event{
		TxID:        model.TxID{TxHash: req.TxHash, StableIndex: req.Coord.StableIndex},
		Type:        model.EventCreated,
		HashID:      req.TxHash,
		From:        req.From,
		To:          owner,
		Value:       uint256.NewInt(0),
		BlockNumber: req.Coord.BlockNumber,
		BlockHash:   req.BlockHash,
		TxIndex:     req.Coord.TxIndex,
		TxHash:      req.TxHash,
	}
	if err := m.store.AddEvents(ctx, []model.Event{evt}); err != nil {
		return false, err
	}
	metrics.EventsEmitted.WithLabelValues(string(evt.Type)).Inc()
	m.log.Info("ethscription created", "hashId", req.TxHash, "tokenId", tokenID, "owner", owner)
	return true, nil
}

// Machine applies transfers under the existence / transferrer-is-owner
// / prevOwner-agreement guards.
type Machine struct {
	store Store
	log   log.Logger
}

func New(store Store, logger log.Logger) *Machine {
	return &Machine{store: store, log: logger}
}

// TransferRequest is the common shape every entry point ("direct
// calldata transfer", "ESIP-1 log transfer", "ESIP-2 log transfer",
// "batch item") normalizes into before calling ApplyTransfer.
type TransferRequest struct {
	HashID         common.Hash
	From           common.Address
	To             common.Address
	Value          *uint256.Int
	PrevOwnerHint  *common.Address // only set for ESIP-2 / contract transfers that provide a hint
	Coord          model.LogCoord
	TxHash         common.Hash
	BlockHash      common.Hash
}

// ApplyTransfer is the machine's single public mutating operation. It
// returns (applied=false, nil) when a guard fails; guard failures are
// rejected silently, not errors.
func (m *Machine) ApplyTransfer(ctx context.Context, req TransferRequest) (bool, error) {
	rec, err := m.store.GetEthscriptionByHashID(ctx, req.HashID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil // existence guard
	}
	if !sameAddress(rec.Owner, req.From) {
		return false, nil // transferrer-is-owner guard
	}
	if req.PrevOwnerHint != nil && rec.PrevOwner != nil && !sameAddress(*rec.PrevOwner, *req.PrevOwnerHint) {
		return false, nil // prevOwner agreement guard
	}

	ok, err := m.store.UpdateOwner(ctx, req.HashID, rec.Owner, req.To)
	if err != nil {
		return false, err
	}
	if !ok {
		// Lost a race with a concurrent mutation of the same row; since
		// this pipeline is single-threaded per chain this
		// should not happen in practice, but the compare-and-set keeps
		// the invariant even so.
		return false, nil
	}

	evt := model.Event{
		TxID:           model.TxID{TxHash: req.TxHash, StableIndex: req.Coord.StableIndex},
		Type:           model.EventTransfer,
		HashID:         req.HashID,
		From:           req.From,
		To:             req.To,
		Value:          valueOrZero(req.Value),
		BlockNumber:    req.Coord.BlockNumber,
		BlockHash:      req.BlockHash,
		TxIndex:        req.Coord.TxIndex,
		TxHash:         req.TxHash,
	}
	if err := m.store.AddEvents(ctx, []model.Event{evt}); err != nil {
		return false, err
	}
	metrics.EventsEmitted.WithLabelValues(string(evt.Type)).Inc()
	m.log.Debug("transfer applied", "hashId", req.HashID, "from", req.From, "to", req.To)
	return true, nil
}

func sameAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
