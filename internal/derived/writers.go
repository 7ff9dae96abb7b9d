// Package derived implements the Derived-State Writers: materializing
// listings, bids, and auctions from marketplace and auction contract
// events, and emitting the corresponding domain events. Every write
// here runs strictly after any ownership transfer earlier in the same
// transaction, which falls out naturally from the in-order,
// single-threaded per-log processing of one transaction's receipt.
package derived

import (
	"context"
	"time"

	"github.com/222Mellow/Pulscription/internal/classifier"
	"github.com/222Mellow/Pulscription/internal/decode"
	"github.com/222Mellow/Pulscription/internal/metrics"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/222Mellow/Pulscription/internal/ownership"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Store is the subset of the Datastore interface the writers need.
type Store interface {
	GetEthscriptionByHashID(ctx context.Context, hashID common.Hash) (*model.Ethscription, error)
	UpsertListing(ctx context.Context, l model.Listing) error
	// RemoveListing deletes the listing for hashID, reporting whether one
	// actually existed.
	RemoveListing(ctx context.Context, hashID common.Hash) (bool, error)
	UpsertBid(ctx context.Context, b model.Bid) error
	RemoveBid(ctx context.Context, hashID common.Hash) error
	CreateAuction(ctx context.Context, a model.Auction) error
	UpdateAuctionBid(ctx context.Context, auctionID uint64, bidder common.Address, value *uint256.Int) error
	ExtendAuction(ctx context.Context, auctionID uint64, endTime time.Time) error
	SettleAuction(ctx context.Context, auctionID uint64) error
	AddEvents(ctx context.Context, events []model.Event) error
}

// TxMeta is the block/tx context every writer needs to stamp an event.
type TxMeta struct {
	BlockNumber    uint64
	BlockHash      common.Hash
	BlockTimestamp time.Time
	TxIndex        uint
	TxHash         common.Hash
	TxFrom         common.Address
	TxTo           *common.Address
}

func (m TxMeta) event(coord model.LogCoord, typ model.EventType, hashID common.Hash, from, to common.Address, value *uint256.Int) model.Event {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return model.Event{
		TxID:           model.TxID{TxHash: m.TxHash, StableIndex: coord.StableIndex},
		Type:           typ,
		HashID:         hashID,
		From:           from,
		To:             to,
		Value:          value,
		BlockNumber:    coord.BlockNumber,
		BlockHash:      m.BlockHash,
		TxIndex:        coord.TxIndex,
		TxHash:         m.TxHash,
		BlockTimestamp: m.BlockTimestamp,
	}
}

// Writer applies marketplace and auction events to derived state.
type Writer struct {
	store   Store
	machine *ownership.Machine
	log     log.Logger
}

func New(store Store, machine *ownership.Machine, logger log.Logger) *Writer {
	return &Writer{store: store, machine: machine, log: logger}
}

func (w *Writer) emit(ctx context.Context, evt model.Event) error {
	if err := w.store.AddEvents(ctx, []model.Event{evt}); err != nil {
		return err
	}
	metrics.EventsEmitted.WithLabelValues(string(evt.Type)).Inc()
	return nil
}

// HandleMarketplace applies one decoded marketplace event.
func (w *Writer) HandleMarketplace(ctx context.Context, coord model.LogCoord, meta TxMeta, item classifier.MarketplaceItem) error {
	switch item.Name {
	case "PhunkOffered":
		return w.handlePhunkOffered(ctx, coord, meta, *item.PhunkOffered)
	case "PhunkBought":
		return w.handlePhunkBought(ctx, coord, meta, *item.PhunkBought)
	case "PhunkNoLongerForSale":
		return w.handlePhunkNoLongerForSale(ctx, coord, meta, *item.PhunkNoLongerForSale)
	case "PhunkBidEntered":
		return w.handlePhunkBidEntered(ctx, coord, meta, *item.PhunkBidEntered)
	case "PhunkBidWithdrawn":
		return w.handlePhunkBidWithdrawn(ctx, coord, meta, *item.PhunkBidWithdrawn)
	}
	return nil
}

// handlePhunkOffered implements the "stale-listing rule": if the ethscription's prevOwner is non-null and differs from
// tx.from, the contract still accepted the listing but it wasn't
// placed by the legitimate previous owner; delete any existing listing
// and emit nothing. Otherwise upsert the listing and emit PhunkOffered.
func (w *Writer) handlePhunkOffered(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.PhunkOffered) error {
	rec, err := w.store.GetEthscriptionByHashID(ctx, ev.HashID)
	if err != nil {
		return err
	}
	if rec != nil && rec.PrevOwner != nil && !sameAddress(*rec.PrevOwner, meta.TxFrom) {
		if _, err := w.store.RemoveListing(ctx, ev.HashID); err != nil {
			return err
		}
		return nil
	}

	minValue, _ := uint256.FromBig(ev.MinValue)
	if minValue == nil {
		minValue = uint256.NewInt(0)
	}
	listing := model.Listing{
		HashID:    ev.HashID,
		Seller:    meta.TxFrom,
		MinValue:  minValue,
		ToAddress: ev.ToAddress,
		CreatedAt: meta.BlockTimestamp,
	}
	if err := w.store.UpsertListing(ctx, listing); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventPhunkOffered, ev.HashID, meta.TxFrom, ev.ToAddress, minValue)
	return w.emit(ctx, evt)
}

// handlePhunkBought removes the listing; only if one was actually
// removed does it emit PhunkBought, since a buy racing a cancellation
// must not surface.
func (w *Writer) handlePhunkBought(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.PhunkBought) error {
	removed, err := w.store.RemoveListing(ctx, ev.HashID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	value, _ := uint256.FromBig(ev.Value)
	evt := meta.event(coord, model.EventPhunkBought, ev.HashID, ev.FromAddress, ev.ToAddress, value)
	return w.emit(ctx, evt)
}

// handlePhunkNoLongerForSale removes the listing; it is surfaced only
// when a listing actually existed and the caller was the legitimate
// previous owner.
func (w *Writer) handlePhunkNoLongerForSale(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.PhunkNoLongerForSale) error {
	removed, err := w.store.RemoveListing(ctx, ev.HashID)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	rec, err := w.store.GetEthscriptionByHashID(ctx, ev.HashID)
	if err != nil {
		return err
	}
	if rec == nil || rec.PrevOwner == nil || !sameAddress(*rec.PrevOwner, meta.TxFrom) {
		return nil
	}
	evt := meta.event(coord, model.EventPhunkNoLongerForSale, ev.HashID, meta.TxFrom, common.Address{}, nil)
	return w.emit(ctx, evt)
}

// handlePhunkBidEntered replaces any existing bid and always emits.
func (w *Writer) handlePhunkBidEntered(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.PhunkBidEntered) error {
	value, _ := uint256.FromBig(ev.Value)
	if value == nil {
		value = uint256.NewInt(0)
	}
	bid := model.Bid{HashID: ev.HashID, Bidder: ev.FromAddress, Value: value, CreatedAt: meta.BlockTimestamp}
	if err := w.store.UpsertBid(ctx, bid); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventPhunkBidEntered, ev.HashID, ev.FromAddress, common.Address{}, value)
	return w.emit(ctx, evt)
}

// handlePhunkBidWithdrawn deletes the bid and always emits.
func (w *Writer) handlePhunkBidWithdrawn(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.PhunkBidWithdrawn) error {
	if err := w.store.RemoveBid(ctx, ev.HashID); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventPhunkBidWithdrawn, ev.HashID, meta.TxFrom, common.Address{}, nil)
	return w.emit(ctx, evt)
}

// HandleAuction applies one decoded auction event.
// Settlement calls back into the ownership state machine under the
// same guards as a regular transfer.
func (w *Writer) HandleAuction(ctx context.Context, coord model.LogCoord, meta TxMeta, item classifier.AuctionItem) error {
	switch item.Name {
	case "AuctionCreated":
		return w.handleAuctionCreated(ctx, coord, meta, *item.AuctionCreated)
	case "AuctionBid":
		return w.handleAuctionBid(ctx, coord, meta, *item.AuctionBid)
	case "AuctionExtended":
		return w.handleAuctionExtended(ctx, coord, meta, *item.AuctionExtended)
	case "AuctionSettled":
		return w.handleAuctionSettled(ctx, coord, meta, *item.AuctionSettled)
	}
	return nil
}

func (w *Writer) handleAuctionCreated(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.AuctionCreated) error {
	auction := model.Auction{
		AuctionID:    ev.AuctionID.Uint64(),
		HashID:       ev.HashID,
		StartTime:    time.Unix(ev.StartTime.Int64(), 0).UTC(),
		EndTime:      time.Unix(ev.EndTime.Int64(), 0).UTC(),
		ReservePrice: uint256.NewInt(0),
		HighestBid:   uint256.NewInt(0),
	}
	if err := w.store.CreateAuction(ctx, auction); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventAuctionCreated, ev.HashID, ev.Owner, common.Address{}, nil)
	return w.emit(ctx, evt)
}

func (w *Writer) handleAuctionBid(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.AuctionBid) error {
	value, _ := uint256.FromBig(ev.Value)
	if value == nil {
		value = uint256.NewInt(0)
	}
	if err := w.store.UpdateAuctionBid(ctx, ev.AuctionID.Uint64(), ev.Sender, value); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventAuctionBid, ev.HashID, ev.Sender, common.Address{}, value)
	return w.emit(ctx, evt)
}

func (w *Writer) handleAuctionExtended(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.AuctionExtended) error {
	endTime := time.Unix(ev.EndTime.Int64(), 0).UTC()
	if err := w.store.ExtendAuction(ctx, ev.AuctionID.Uint64(), endTime); err != nil {
		return err
	}
	evt := meta.event(coord, model.EventAuctionExtended, ev.HashID, common.Address{}, common.Address{}, nil)
	return w.emit(ctx, evt)
}

// handleAuctionSettled marks the auction settled and transfers
// ownership to the winner through the same machine and guards as any
// other transfer.
func (w *Writer) handleAuctionSettled(ctx context.Context, coord model.LogCoord, meta TxMeta, ev decode.AuctionSettled) error {
	if err := w.store.SettleAuction(ctx, ev.AuctionID.Uint64()); err != nil {
		return err
	}
	rec, err := w.store.GetEthscriptionByHashID(ctx, ev.HashID)
	if err != nil {
		return err
	}
	if rec != nil {
		amount, _ := uint256.FromBig(ev.Amount)
		_, err := w.machine.ApplyTransfer(ctx, ownership.TransferRequest{
			HashID:    ev.HashID,
			From:      rec.Owner,
			To:        ev.Winner,
			Value:     amount,
			Coord:     coord,
			TxHash:    meta.TxHash,
			BlockHash: meta.BlockHash,
		})
		if err != nil {
			return err
		}
	}
	amount, _ := uint256.FromBig(ev.Amount)
	evt := meta.event(coord, model.EventAuctionSettled, ev.HashID, common.Address{}, ev.Winner, amount)
	return w.emit(ctx, evt)
}

func sameAddress(a, b common.Address) bool {
	return a == b
}
