// Package model holds the domain types shared across the indexing
// pipeline: the authoritative Ethscription record, the append-only
// Event log, and the derived marketplace/auction/points rows described
// in the data model.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ZeroAddress is the sentinel "no address" value used for From/To
// fields that don't apply to a given event.
var ZeroAddress = common.Address{}

// EventType is the closed set of things that can happen to an
// ethscription. Represented as a tagged variant rather than an open
// inheritance tree.
type EventType string

const (
	EventCreated              EventType = "created"
	EventTransfer             EventType = "transfer"
	EventPhunkBought          EventType = "PhunkBought"
	EventPhunkOffered         EventType = "PhunkOffered"
	EventPhunkNoLongerForSale EventType = "PhunkNoLongerForSale"
	EventPhunkBidEntered      EventType = "PhunkBidEntered"
	EventPhunkBidWithdrawn    EventType = "PhunkBidWithdrawn"
	EventAuctionCreated       EventType = "AuctionCreated"
	EventAuctionBid           EventType = "AuctionBid"
	EventAuctionExtended      EventType = "AuctionExtended"
	EventAuctionSettled       EventType = "AuctionSettled"
)

// Ethscription is the minted inscription record.
type Ethscription struct {
	HashID     common.Hash    // identity: creating tx hash, lowercase hex
	Sha        [32]byte       // sha256 of the normalized payload, unique
	Owner      common.Address // current holder
	PrevOwner  *common.Address // holder immediately prior to Owner; nil only at creation
	Creator    common.Address
	CreatedAt  time.Time
	TokenID    uint64
	Locked     bool
}

// LogCoord identifies where within the chain an event's source data
// was found: (blockNumber, txIndex, logIndex|batchPos). It totally
// orders events for a single hashId.
type LogCoord struct {
	BlockNumber uint64
	TxIndex     uint
	StableIndex uint64 // log.logIndex, tx index, or batch position
}

// Less reports whether c sorts before o under (blockNumber, txIndex,
// stableIndex) ordering.
func (c LogCoord) Less(o LogCoord) bool {
	if c.BlockNumber != o.BlockNumber {
		return c.BlockNumber < o.BlockNumber
	}
	if c.TxIndex != o.TxIndex {
		return c.TxIndex < o.TxIndex
	}
	return c.StableIndex < o.StableIndex
}

// TxID is the append-only event log's idempotency key: txHash combined
// with the stable index.
type TxID struct {
	TxHash      common.Hash
	StableIndex uint64
}

// Event is a single append-only row describing something that happened
// to an ethscription.
type Event struct {
	TxID            TxID
	Type            EventType
	HashID          common.Hash
	From            common.Address
	To              common.Address
	Value           *uint256.Int // decimal wei amount; zero when not applicable
	BlockNumber     uint64
	BlockHash       common.Hash
	TxIndex         uint
	TxHash          common.Hash
	BlockTimestamp  time.Time
}

// Listing is an active sell offer, at most one per hashId.
type Listing struct {
	HashID    common.Hash
	Seller    common.Address
	MinValue  *uint256.Int
	ToAddress common.Address // targeted buyer, or ZeroAddress for an open listing
	CreatedAt time.Time
}

// Bid is an active buy offer, at most one per hashId; replaced, never
// stacked.
type Bid struct {
	HashID    common.Hash
	Bidder    common.Address
	Value     *uint256.Int
	CreatedAt time.Time
}

// Auction is keyed by AuctionID.
type Auction struct {
	AuctionID                 uint64
	HashID                    common.Hash
	StartTime                 time.Time
	EndTime                   time.Time
	ReservePrice              *uint256.Int
	MinBidIncrementPercentage uint64
	TimeBuffer                time.Duration
	HighestBid                *uint256.Int
	HighestBidder             common.Address
	Settled                   bool
}

// FatalError marks a failure that must stop the indexing pipeline for
// supervisor restart rather than be retried or silently re-enqueued:
// the outer retry budget exhausted, or an invariant violated that
// retrying the same block cannot fix.
type FatalError struct {
	Err error
}

// NewFatalError wraps err as fatal.
func NewFatalError(err error) *FatalError {
	return &FatalError{Err: err}
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// ProcessedBlock is one entry of the bounded sliding window the Reorg
// Guard maintains.
type ProcessedBlock struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Confirmed  bool
}

// User holds the best-effort, eventually-consistent point total for an
// address.
type User struct {
	Address   common.Address
	Points    uint64
	CreatedAt time.Time
}
