// Package classifier implements the Transaction Classifier: given a
// confirmed transaction and its receipt, it categorizes the
// transaction into the recognized vocabularies and emits the typed
// items internal/decode produced for each, preserving the natural
// (txIndex, logIndex) ordering within the block.
package classifier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/222Mellow/Pulscription/internal/config"
	"github.com/222Mellow/Pulscription/internal/decode"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Validator is the subset of the Chain Client the Classifier needs for
// ESIP-5 batch-transfer validation.
type Validator interface {
	ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error)
}

// Kind is the closed set of recognized transaction/log shapes.
type Kind string

const (
	KindCreation       Kind = "creation"
	KindDirectTransfer Kind = "direct_transfer"
	KindBatchTransfer  Kind = "batch_transfer"
	KindESIP1          Kind = "esip1"
	KindESIP2          Kind = "esip2"
	KindMarketplace    Kind = "marketplace"
	KindAuction        Kind = "auction"
	KindPoints         Kind = "points"
	KindBridge         Kind = "bridge"
)

// CreationCandidate carries what the Classifier recognizes about a
// creation attempt; the sha-in-dictionary decision is made downstream
// because the Classifier doesn't own the dictionary.
type CreationCandidate struct {
	Cleaned string
	Sha     [32]byte
}

// TransferItem covers direct, batch, ESIP-1 and ESIP-2 transfers,
// every variant of the ownership state machine's applyTransfer entry
// points.
type TransferItem struct {
	HashID        common.Hash
	From          common.Address
	To            common.Address
	Value         *uint256.Int
	PrevOwnerHint *common.Address
}

// Item is one classified, already-decoded unit of work, ordered by
// Coord within the block.
type Item struct {
	Kind  Kind
	Coord model.LogCoord

	Creation    *CreationCandidate
	Transfer    *TransferItem
	Marketplace *MarketplaceItem
	Auction     *AuctionItem
	Points      *decode.PointsAdded
	Bridge      *BridgeItem
}

// MarketplaceItem tags which marketplace event was decoded.
type MarketplaceItem struct {
	Name                 string
	PhunkOffered         *decode.PhunkOffered
	PhunkBought          *decode.PhunkBought
	PhunkNoLongerForSale *decode.PhunkNoLongerForSale
	PhunkBidEntered      *decode.PhunkBidEntered
	PhunkBidWithdrawn    *decode.PhunkBidWithdrawn
}

// AuctionItem tags which auction event was decoded.
type AuctionItem struct {
	Name            string
	AuctionCreated  *decode.AuctionCreated
	AuctionBid      *decode.AuctionBid
	AuctionExtended *decode.AuctionExtended
	AuctionSettled  *decode.AuctionSettled
}

// BridgeItem tags which bridge event was decoded.
type BridgeItem struct {
	Name         string
	HashLocked   *decode.HashLocked
	HashUnlocked *decode.HashUnlocked
}

// Tx is the classifier's input unit: a confirmed transaction plus its
// receipt and recovered sender.
type Tx struct {
	Tx       *types.Transaction
	Receipt  *types.Receipt
	From     common.Address
	TxIndex  uint
}

// ClassifyTx applies the classification precedence rules to a single
// transaction, returning the ordered list of classified items. Skipped
// transactions (receipt.status != success, or input == "0x") return an
// empty, nil-error result.
func ClassifyTx(ctx context.Context, v Validator, cfg config.Config, blockNumber uint64, tx Tx) ([]Item, error) {
	if tx.Receipt == nil || tx.Receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}
	input := tx.Tx.Data()
	if len(input) == 0 {
		return nil, nil
	}

	var items []Item

	switch {
	case decode.IsValidUTF8(input):
		cleaned := decode.StripNulls(input)
		switch decode.ClassifyCreation(cleaned) {
		case decode.RecognizedCreation:
			items = append(items, Item{
				Kind:  KindCreation,
				Coord: model.LogCoord{BlockNumber: blockNumber, TxIndex: tx.TxIndex, StableIndex: uint64(tx.TxIndex)},
				Creation: &CreationCandidate{
					Cleaned: cleaned,
					Sha:     decode.Sha256Of(cleaned),
				},
			})
			items = append(items, logItemsOnly(blockNumber, cfg, tx)...)
			return items, nil
		case decode.IgnoredDataURI:
			return nil, nil
		}
		// NotCreation: fall through to transfer-shape checks below.
	}

	if direct, ok := decode.IsDirectTransfer(input); ok {
		items = append(items, Item{
			Kind:  KindDirectTransfer,
			Coord: model.LogCoord{BlockNumber: blockNumber, TxIndex: tx.TxIndex, StableIndex: uint64(tx.TxIndex)},
			Transfer: &TransferItem{
				HashID: direct.HashID,
				From:   tx.From,
				To:     addrOrZero(tx.Tx.To()),
				Value:  wrapUint(tx.Tx.Value()),
			},
		})
		items = append(items, logItemsOnly(blockNumber, cfg, tx)...)
		return items, nil
	}

	if words, ok := decode.IsBatchTransfer(input); ok {
		valid, err := v.ValidateEthscriptions(ctx, words)
		if err != nil {
			return nil, fmt.Errorf("classifier: validate batch transfer: %w", err)
		}
		validSet := make(map[common.Hash]bool, len(valid))
		for _, h := range valid {
			validSet[h] = true
		}
		for pos, w := range words {
			if !validSet[w] {
				continue
			}
			items = append(items, Item{
				Kind:  KindBatchTransfer,
				Coord: model.LogCoord{BlockNumber: blockNumber, TxIndex: tx.TxIndex, StableIndex: uint64(pos)},
				Transfer: &TransferItem{
					HashID: w,
					From:   tx.From,
					To:     addrOrZero(tx.Tx.To()),
					Value:  wrapUint(tx.Tx.Value()),
				},
			})
		}
		items = append(items, logItemsOnly(blockNumber, cfg, tx)...)
		return items, nil
	}

	// Neither creation, direct, nor batch transfer shape: still process
	// logs.
	return logItemsOnly(blockNumber, cfg, tx), nil
}

func logItems(blockNumber uint64, cfg config.Config, tx Tx) ([]Item, error) {
	return logItemsOnly(blockNumber, cfg, tx), nil
}

// logItemsOnly walks receipt.Logs in emitted order and classifies each
// by its topic[0] or emitting address.
func logItemsOnly(blockNumber uint64, cfg config.Config, tx Tx) []Item {
	var items []Item
	for _, l := range tx.Receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		topic0 := l.Topics[0]
		coord := model.LogCoord{BlockNumber: blockNumber, TxIndex: tx.TxIndex, StableIndex: uint64(l.Index)}

		switch {
		case topic0 == decode.ESIP1Topic:
			esip1, err := decode.DecodeESIP1(l)
			if err != nil {
				continue // malformed event: logged and skipped
			}
			items = append(items, Item{
				Kind: KindESIP1, Coord: coord,
				Transfer: &TransferItem{
					HashID: esip1.HashID, From: esip1.From, To: esip1.Recipient,
					Value: wrapUint(tx.Tx.Value()),
				},
			})

		case topic0 == decode.ESIP2Topic:
			esip2, err := decode.DecodeESIP2(l)
			if err != nil {
				continue
			}
			hint := esip2.PrevOwnerHint
			items = append(items, Item{
				Kind: KindESIP2, Coord: coord,
				Transfer: &TransferItem{
					HashID: esip2.HashID, From: esip2.From, To: esip2.Recipient,
					Value: wrapUint(tx.Tx.Value()), PrevOwnerHint: &hint,
				},
			})

		case l.Address == cfg.MarketAddress:
			if item, ok := classifyMarketplace(coord, l); ok {
				items = append(items, item)
			}

		case l.Address == cfg.AuctionAddress:
			if item, ok := classifyAuction(coord, l); ok {
				items = append(items, item)
			}

		case l.Address == cfg.PointsAddress:
			if decode.IsPointsAdded(topic0) {
				if pa, err := decode.DecodePointsAdded(l); err == nil {
					items = append(items, Item{Kind: KindPoints, Coord: coord, Points: &pa})
				}
			}

		case l.Address == cfg.BridgeAddress:
			if item, ok := classifyBridge(coord, l); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

func classifyMarketplace(coord model.LogCoord, l *types.Log) (Item, bool) {
	name := decode.MarketplaceEventName(l.Topics[0])
	mi := MarketplaceItem{Name: name}
	var err error
	switch name {
	case "PhunkOffered":
		var v decode.PhunkOffered
		if v, err = decode.DecodePhunkOffered(l); err == nil {
			mi.PhunkOffered = &v
		}
	case "PhunkBought":
		var v decode.PhunkBought
		if v, err = decode.DecodePhunkBought(l); err == nil {
			mi.PhunkBought = &v
		}
	case "PhunkNoLongerForSale":
		var v decode.PhunkNoLongerForSale
		if v, err = decode.DecodePhunkNoLongerForSale(l); err == nil {
			mi.PhunkNoLongerForSale = &v
		}
	case "PhunkBidEntered":
		var v decode.PhunkBidEntered
		if v, err = decode.DecodePhunkBidEntered(l); err == nil {
			mi.PhunkBidEntered = &v
		}
	case "PhunkBidWithdrawn":
		var v decode.PhunkBidWithdrawn
		if v, err = decode.DecodePhunkBidWithdrawn(l); err == nil {
			mi.PhunkBidWithdrawn = &v
		}
	default:
		return Item{}, false
	}
	if err != nil {
		return Item{}, false
	}
	return Item{Kind: KindMarketplace, Coord: coord, Marketplace: &mi}, true
}

func classifyAuction(coord model.LogCoord, l *types.Log) (Item, bool) {
	name := decode.AuctionEventName(l.Topics[0])
	ai := AuctionItem{Name: name}
	var err error
	switch name {
	case "AuctionCreated":
		var v decode.AuctionCreated
		if v, err = decode.DecodeAuctionCreated(l); err == nil {
			ai.AuctionCreated = &v
		}
	case "AuctionBid":
		var v decode.AuctionBid
		if v, err = decode.DecodeAuctionBid(l); err == nil {
			ai.AuctionBid = &v
		}
	case "AuctionExtended":
		var v decode.AuctionExtended
		if v, err = decode.DecodeAuctionExtended(l); err == nil {
			ai.AuctionExtended = &v
		}
	case "AuctionSettled":
		var v decode.AuctionSettled
		if v, err = decode.DecodeAuctionSettled(l); err == nil {
			ai.AuctionSettled = &v
		}
	default:
		return Item{}, false
	}
	if err != nil {
		return Item{}, false
	}
	return Item{Kind: KindAuction, Coord: coord, Auction: &ai}, true
}

func classifyBridge(coord model.LogCoord, l *types.Log) (Item, bool) {
	name := decode.BridgeEventName(l.Topics[0])
	bi := BridgeItem{Name: name}
	var err error
	switch name {
	case "HashLocked":
		var v decode.HashLocked
		if v, err = decode.DecodeHashLocked(l); err == nil {
			bi.HashLocked = &v
		}
	case "HashUnlocked":
		var v decode.HashUnlocked
		if v, err = decode.DecodeHashUnlocked(l); err == nil {
			bi.HashUnlocked = &v
		}
	default:
		return Item{}, false
	}
	if err != nil {
		return Item{}, false
	}
	return Item{Kind: KindBridge, Coord: coord, Bridge: &bi}, true
}

// wrapUint converts a *big.Int value (as returned by go-ethereum's
// transaction accessors) into the uint256.Int the domain model uses
// for wei amounts.
func wrapUint(v *big.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0)
	}
	return out
}

func addrOrZero(a *common.Address) common.Address {
	if a == nil {
		return common.Address{}
	}
	return *a
}
