package derived

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/222Mellow/Pulscription/internal/decode"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/222Mellow/Pulscription/internal/ownership"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeDerivedStore struct {
	ethscriptions map[common.Hash]*model.Ethscription
	listings      map[common.Hash]model.Listing
	bids          map[common.Hash]model.Bid
	events        []model.Event
}

func newFakeDerivedStore() *fakeDerivedStore {
	return &fakeDerivedStore{
		ethscriptions: make(map[common.Hash]*model.Ethscription),
		listings:      make(map[common.Hash]model.Listing),
		bids:          make(map[common.Hash]model.Bid),
	}
}

func (f *fakeDerivedStore) GetEthscriptionByHashID(ctx context.Context, hashID common.Hash) (*model.Ethscription, error) {
	return f.ethscriptions[hashID], nil
}

func (f *fakeDerivedStore) UpsertListing(ctx context.Context, l model.Listing) error {
	f.listings[l.HashID] = l
	return nil
}

func (f *fakeDerivedStore) RemoveListing(ctx context.Context, hashID common.Hash) (bool, error) {
	_, ok := f.listings[hashID]
	delete(f.listings, hashID)
	return ok, nil
}

func (f *fakeDerivedStore) UpsertBid(ctx context.Context, b model.Bid) error {
	f.bids[b.HashID] = b
	return nil
}

func (f *fakeDerivedStore) RemoveBid(ctx context.Context, hashID common.Hash) error {
	delete(f.bids, hashID)
	return nil
}

func (f *fakeDerivedStore) CreateAuction(ctx context.Context, a model.Auction) error { return nil }

func (f *fakeDerivedStore) UpdateAuctionBid(ctx context.Context, auctionID uint64, bidder common.Address, value *uint256.Int) error {
	return nil
}

func (f *fakeDerivedStore) ExtendAuction(ctx context.Context, auctionID uint64, endTime time.Time) error {
	return nil
}

func (f *fakeDerivedStore) SettleAuction(ctx context.Context, auctionID uint64) error { return nil }

func (f *fakeDerivedStore) AddEvents(ctx context.Context, events []model.Event) error {
	f.events = append(f.events, events...)
	return nil
}

// S5 PhunkOffered with stale prevOwner: the ethscription's prevOwner
// disagrees with tx.from, so the listing is deleted and nothing is
// created or emitted.
func TestHandlePhunkOffered_S5_StalePrevOwner(t *testing.T) {
	store := newFakeDerivedStore()
	hashID := common.HexToHash("0xdead")
	marketplace := common.HexToAddress("0xMARKET")
	prevOwner := common.HexToAddress("0xAAA")
	store.ethscriptions[hashID] = &model.Ethscription{HashID: hashID, Owner: marketplace, PrevOwner: &prevOwner}
	store.listings[hashID] = model.Listing{HashID: hashID, Seller: prevOwner}

	w := New(store, ownership.New(store2Adapter{store}, log.New()), log.New())
	meta := TxMeta{TxFrom: common.HexToAddress("0xBBB"), TxHash: common.HexToHash("0x01")}

	err := w.handlePhunkOffered(context.Background(), model.LogCoord{BlockNumber: 100}, meta, decode.PhunkOffered{
		HashID: hashID, ToAddress: common.Address{}, MinValue: big.NewInt(1e18),
	})
	require.NoError(t, err)

	_, stillListed := store.listings[hashID]
	require.False(t, stillListed)
	require.Empty(t, store.events)
}

// A matching prevOwner upserts the listing and emits PhunkOffered.
func TestHandlePhunkOffered_ValidListing(t *testing.T) {
	store := newFakeDerivedStore()
	hashID := common.HexToHash("0xdead")
	marketplace := common.HexToAddress("0xMARKET")
	seller := common.HexToAddress("0xAAA")
	store.ethscriptions[hashID] = &model.Ethscription{HashID: hashID, Owner: marketplace, PrevOwner: &seller}

	w := New(store, ownership.New(store2Adapter{store}, log.New()), log.New())
	meta := TxMeta{TxFrom: seller, TxHash: common.HexToHash("0x01")}

	err := w.handlePhunkOffered(context.Background(), model.LogCoord{BlockNumber: 100}, meta, decode.PhunkOffered{
		HashID: hashID, ToAddress: common.Address{}, MinValue: big.NewInt(5),
	})
	require.NoError(t, err)

	listing, ok := store.listings[hashID]
	require.True(t, ok)
	require.Equal(t, seller, listing.Seller)
	require.Len(t, store.events, 1)
	require.Equal(t, model.EventPhunkOffered, store.events[0].Type)
}

func TestHandlePhunkBought_NotRemovedEmitsNothing(t *testing.T) {
	store := newFakeDerivedStore()
	w := New(store, ownership.New(store2Adapter{store}, log.New()), log.New())
	err := w.handlePhunkBought(context.Background(), model.LogCoord{}, TxMeta{}, decode.PhunkBought{
		HashID: common.HexToHash("0x01"), Value: big.NewInt(1),
	})
	require.NoError(t, err)
	require.Empty(t, store.events)
}

// store2Adapter satisfies ownership.Store on top of fakeDerivedStore,
// which doesn't itself need AddEthscription/UpdateOwner/GetEthscriptionBySha.
type store2Adapter struct {
	*fakeDerivedStore
}

func (s store2Adapter) GetEthscriptionBySha(ctx context.Context, sha [32]byte) (*model.Ethscription, error) {
	return nil, nil
}

func (s store2Adapter) AddEthscription(ctx context.Context, e model.Ethscription) error {
	rec := e
	s.ethscriptions[e.HashID] = &rec
	return nil
}

func (s store2Adapter) UpdateOwner(ctx context.Context, hashID common.Hash, expectedOwner, newOwner common.Address) (bool, error) {
	rec, ok := s.ethscriptions[hashID]
	if !ok || rec.Owner != expectedOwner {
		return false, nil
	}
	prev := rec.Owner
	rec.PrevOwner = &prev
	rec.Owner = newOwner
	return true, nil
}
