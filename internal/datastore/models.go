// Package datastore is the concrete Datastore: a
// gorm.io/gorm-backed Postgres store for every domain row shape,
// plus the durable queue and checkpoint bookkeeping the
// Coordinator and Block Queue rely on.
package datastore

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ethscriptionRow is the gorm model backing model.Ethscription.
type ethscriptionRow struct {
	HashID    string `gorm:"primaryKey;size:66"`
	Sha       string `gorm:"uniqueIndex;size:64"`
	Owner     string `gorm:"index;size:42"`
	PrevOwner *string `gorm:"size:42"`
	Creator   string `gorm:"size:42"`
	CreatedAt time.Time
	TokenID   uint64 `gorm:"index"`
	Locked    bool
}

func (ethscriptionRow) TableName() string { return "ethscriptions" }

// eventRow is the gorm model backing model.Event; the idempotency key
// is (tx_hash, stable_index).
type eventRow struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	TxHash         string `gorm:"uniqueIndex:idx_event_idempotency;size:66"`
	StableIndex    uint64 `gorm:"uniqueIndex:idx_event_idempotency"`
	Type           string `gorm:"index"`
	HashID         string `gorm:"index;size:66"`
	FromAddress    string `gorm:"size:42"`
	ToAddress      string `gorm:"size:42"`
	Value          string
	BlockNumber    uint64 `gorm:"index"`
	BlockHash      string `gorm:"size:66"`
	TxIndex        uint
	BlockTimestamp time.Time
}

func (eventRow) TableName() string { return "events" }

type listingRow struct {
	HashID    string `gorm:"primaryKey;size:66"`
	Seller    string `gorm:"size:42"`
	MinValue  string
	ToAddress string `gorm:"size:42"`
	CreatedAt time.Time
}

func (listingRow) TableName() string { return "listings" }

type bidRow struct {
	HashID    string `gorm:"primaryKey;size:66"`
	Bidder    string `gorm:"size:42"`
	Value     string
	CreatedAt time.Time
}

func (bidRow) TableName() string { return "bids" }

type auctionRow struct {
	AuctionID                 uint64 `gorm:"primaryKey"`
	HashID                    string `gorm:"index;size:66"`
	StartTime                 time.Time
	EndTime                   time.Time
	ReservePrice              string
	MinBidIncrementPercentage uint64
	TimeBuffer                int64 // nanoseconds
	HighestBid                string
	HighestBidder             string `gorm:"size:42"`
	Settled                   bool
}

func (auctionRow) TableName() string { return "auctions" }

type userRow struct {
	Address   string `gorm:"primaryKey;size:42"`
	Points    uint64
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

// queueItemRow is the table behind Store.PersistQueueItem,
// RemoveQueueItem and PendingQueueItems. queue.Queue does not call
// these, so Block Queue enqueues are not persisted here.
type queueItemRow struct {
	BlockNumber  uint64 `gorm:"primaryKey"`
	DiscoveredAt time.Time
}

func (queueItemRow) TableName() string { return "queue_items" }

// checkpointRow is a single-row table holding the last processed block
// number.
type checkpointRow struct {
	ID          uint8 `gorm:"primaryKey"`
	BlockNumber uint64
}

func (checkpointRow) TableName() string { return "checkpoints" }

func addrPtrToStr(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

func strToAddrPtr(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}
