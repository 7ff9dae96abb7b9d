package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/222Mellow/Pulscription/internal/model"
)

// Store is the concrete Postgres-backed Datastore. It satisfies
// ownership.Store, derived.Store, derived.PointsStore,
// derived.BridgeStore, and coordinator.Checkpoint.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and auto-migrates every table this package
// owns.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("datastore: open: %w", err)
	}
	if err := db.AutoMigrate(
		&ethscriptionRow{}, &eventRow{}, &listingRow{}, &bidRow{},
		&auctionRow{}, &userRow{}, &queueItemRow{}, &checkpointRow{},
	); err != nil {
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func toEthscription(r ethscriptionRow) *model.Ethscription {
	var sha [32]byte
	copy(sha[:], common.FromHex("0x"+r.Sha))
	return &model.Ethscription{
		HashID:    common.HexToHash(r.HashID),
		Sha:       sha,
		Owner:     common.HexToAddress(r.Owner),
		PrevOwner: strToAddrPtr(r.PrevOwner),
		Creator:   common.HexToAddress(r.Creator),
		CreatedAt: r.CreatedAt,
		TokenID:   r.TokenID,
		Locked:    r.Locked,
	}
}

func (s *Store) GetEthscriptionByHashID(ctx context.Context, hashID common.Hash) (*model.Ethscription, error) {
	var row ethscriptionRow
	err := s.db.WithContext(ctx).Where("hash_id = ?", hashID.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEthscription(row), nil
}

func (s *Store) GetEthscriptionBySha(ctx context.Context, sha [32]byte) (*model.Ethscription, error) {
	var row ethscriptionRow
	err := s.db.WithContext(ctx).Where("sha = ?", fmt.Sprintf("%x", sha)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEthscription(row), nil
}

func (s *Store) AddEthscription(ctx context.Context, e model.Ethscription) error {
	row := ethscriptionRow{
		HashID:    e.HashID.Hex(),
		Sha:       fmt.Sprintf("%x", e.Sha),
		Owner:     e.Owner.Hex(),
		PrevOwner: addrPtrToStr(e.PrevOwner),
		Creator:   e.Creator.Hex(),
		CreatedAt: e.CreatedAt,
		TokenID:   e.TokenID,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdateOwner performs the ownership state machine's compare-and-set
//: it only mutates the row if its current owner still
// matches expectedOwner.
func (s *Store) UpdateOwner(ctx context.Context, hashID common.Hash, expectedOwner, newOwner common.Address) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ethscriptionRow{}).
		Where("hash_id = ? AND owner = ?", hashID.Hex(), expectedOwner.Hex()).
		Updates(map[string]interface{}{
			"prev_owner": expectedOwner.Hex(),
			"owner":      newOwner.Hex(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) SetLocked(ctx context.Context, hashID common.Hash, locked bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ethscriptionRow{}).
		Where("hash_id = ?", hashID.Hex()).
		Update("locked", locked)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) AddEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, len(events))
	for i, e := range events {
		value := "0"
		if e.Value != nil {
			value = e.Value.Dec()
		}
		rows[i] = eventRow{
			TxHash:         e.TxHash.Hex(),
			StableIndex:    e.TxID.StableIndex,
			Type:           string(e.Type),
			HashID:         e.HashID.Hex(),
			FromAddress:    e.From.Hex(),
			ToAddress:      e.To.Hex(),
			Value:          value,
			BlockNumber:    e.BlockNumber,
			BlockHash:      e.BlockHash.Hex(),
			TxIndex:        e.TxIndex,
			BlockTimestamp: e.BlockTimestamp,
		}
	}
	// Idempotent on (tx_hash, stable_index): a re-applied block (e.g.
	// after the Coordinator retries a partially-failed attempt) must not
	// duplicate events.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func parseUint256(s string) *uint256.Int {
	v := new(uint256.Int)
	if err := v.SetFromDecimal(s); err != nil {
		return uint256.NewInt(0)
	}
	return v
}

// GetListing is a read accessor used by tests and any future read API;
// it is not part of the writer interfaces in internal/derived.
func (s *Store) GetListing(ctx context.Context, hashID common.Hash) (*model.Listing, error) {
	var row listingRow
	err := s.db.WithContext(ctx).Where("hash_id = ?", hashID.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Listing{
		HashID:    common.HexToHash(row.HashID),
		Seller:    common.HexToAddress(row.Seller),
		MinValue:  parseUint256(row.MinValue),
		ToAddress: common.HexToAddress(row.ToAddress),
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *Store) UpsertListing(ctx context.Context, l model.Listing) error {
	row := listingRow{
		HashID:    l.HashID.Hex(),
		Seller:    l.Seller.Hex(),
		MinValue:  l.MinValue.Dec(),
		ToAddress: l.ToAddress.Hex(),
		CreatedAt: l.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) RemoveListing(ctx context.Context, hashID common.Hash) (bool, error) {
	res := s.db.WithContext(ctx).Where("hash_id = ?", hashID.Hex()).Delete(&listingRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpsertBid(ctx context.Context, b model.Bid) error {
	row := bidRow{
		HashID:    b.HashID.Hex(),
		Bidder:    b.Bidder.Hex(),
		Value:     b.Value.Dec(),
		CreatedAt: b.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

func (s *Store) RemoveBid(ctx context.Context, hashID common.Hash) error {
	return s.db.WithContext(ctx).Where("hash_id = ?", hashID.Hex()).Delete(&bidRow{}).Error
}

func (s *Store) CreateAuction(ctx context.Context, a model.Auction) error {
	row := auctionRow{
		AuctionID:                 a.AuctionID,
		HashID:                    a.HashID.Hex(),
		StartTime:                 a.StartTime,
		EndTime:                   a.EndTime,
		ReservePrice:              a.ReservePrice.Dec(),
		MinBidIncrementPercentage: a.MinBidIncrementPercentage,
		TimeBuffer:                int64(a.TimeBuffer),
		HighestBid:                a.HighestBid.Dec(),
		HighestBidder:             a.HighestBidder.Hex(),
		Settled:                   a.Settled,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) UpdateAuctionBid(ctx context.Context, auctionID uint64, bidder common.Address, value *uint256.Int) error {
	return s.db.WithContext(ctx).Model(&auctionRow{}).
		Where("auction_id = ?", auctionID).
		Updates(map[string]interface{}{
			"highest_bid":    value.Dec(),
			"highest_bidder": bidder.Hex(),
		}).Error
}

func (s *Store) ExtendAuction(ctx context.Context, auctionID uint64, endTime time.Time) error {
	return s.db.WithContext(ctx).Model(&auctionRow{}).
		Where("auction_id = ?", auctionID).
		Update("end_time", endTime).Error
}

func (s *Store) SettleAuction(ctx context.Context, auctionID uint64) error {
	return s.db.WithContext(ctx).Model(&auctionRow{}).
		Where("auction_id = ?", auctionID).
		Update("settled", true).Error
}

func (s *Store) SetUserPoints(ctx context.Context, address common.Address, points uint64) error {
	row := userRow{Address: address.Hex(), Points: points, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"points"}),
	}).Create(&row).Error
}

// LastProcessedBlock implements coordinator.Checkpoint.
func (s *Store) LastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.BlockNumber, true, nil
}

func (s *Store) SetLastProcessedBlock(ctx context.Context, number uint64) error {
	row := checkpointRow{ID: 1, BlockNumber: number}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number"}),
	}).Create(&row).Error
}

// RollbackFrom deletes every event recorded at or above fromHeight,
// plus every ethscription created by one of those now-deleted "created"
// events (identified by hash_id before the delete, since the events
// disappear in the same transaction). Ethscriptions merely transferred
// have no stored history of prior owners beyond prevOwner, so a full
// reorg rollback relies on the Coordinator re-deriving state from the
// re-enqueued blocks after this call drops the disagreeing events.
func (s *Store) RollbackFrom(ctx context.Context, fromHeight uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var createdHashIDs []string
		if err := tx.Model(&eventRow{}).
			Where("block_number >= ? AND type = ?", fromHeight, string(model.EventCreated)).
			Pluck("hash_id", &createdHashIDs).Error; err != nil {
			return err
		}

		if err := tx.Where("block_number >= ?", fromHeight).Delete(&eventRow{}).Error; err != nil {
			return err
		}

		if len(createdHashIDs) > 0 {
			if err := tx.Where("hash_id IN ?", createdHashIDs).Delete(&ethscriptionRow{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PersistQueueItem, RemoveQueueItem and PendingQueueItems store Block
// Queue items in the queue_items table. The in-memory queue.Queue does
// not call them; after a restart the Coordinator rebuilds the queue
// from the checkpoint instead.
func (s *Store) PersistQueueItem(ctx context.Context, blockNumber uint64, discoveredAt time.Time) error {
	row := queueItemRow{BlockNumber: blockNumber, DiscoveredAt: discoveredAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) RemoveQueueItem(ctx context.Context, blockNumber uint64) error {
	return s.db.WithContext(ctx).Where("block_number = ?", blockNumber).Delete(&queueItemRow{}).Error
}

func (s *Store) PendingQueueItems(ctx context.Context) ([]uint64, error) {
	var rows []queueItemRow
	if err := s.db.WithContext(ctx).Order("discovered_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = r.BlockNumber
	}
	return out, nil
}
