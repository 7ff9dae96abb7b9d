package ownership

import (
	"context"
	"os"
	"testing"

	"github.com/222Mellow/Pulscription/internal/dictionary"
	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	byHashID map[common.Hash]*model.Ethscription
	bySha    map[[32]byte]*model.Ethscription
	events   []model.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byHashID: make(map[common.Hash]*model.Ethscription),
		bySha:    make(map[[32]byte]*model.Ethscription),
	}
}

func (f *fakeStore) GetEthscriptionByHashID(ctx context.Context, hashID common.Hash) (*model.Ethscription, error) {
	return f.byHashID[hashID], nil
}

func (f *fakeStore) GetEthscriptionBySha(ctx context.Context, sha [32]byte) (*model.Ethscription, error) {
	return f.bySha[sha], nil
}

func (f *fakeStore) AddEthscription(ctx context.Context, e model.Ethscription) error {
	rec := e
	f.byHashID[e.HashID] = &rec
	f.bySha[e.Sha] = &rec
	return nil
}

func (f *fakeStore) UpdateOwner(ctx context.Context, hashID common.Hash, expectedOwner, newOwner common.Address) (bool, error) {
	rec, ok := f.byHashID[hashID]
	if !ok || rec.Owner != expectedOwner {
		return false, nil
	}
	prev := rec.Owner
	rec.PrevOwner = &prev
	rec.Owner = newOwner
	return true, nil
}

func (f *fakeStore) AddEvents(ctx context.Context, events []model.Event) error {
	f.events = append(f.events, events...)
	return nil
}

// testDictionary writes entries to a temp CSV and loads it. Load
// rejects an empty dictionary, so an always-present filler entry keeps
// "no matching sha" tests (entries with nothing relevant) loadable.
func testDictionary(t *testing.T, entries map[[32]byte]uint64) *dictionary.Dictionary {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dict-*.csv")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())

	var filler [32]byte
	filler[31] = 0xff
	if _, ok := entries[filler]; !ok {
		entries[filler] = 999999
	}

	var lines string
	for sha, id := range entries {
		lines += common.Bytes2Hex(sha[:]) + "," + itoa(id) + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	d, err := dictionary.Load(path)
	require.NoError(t, err)
	return d
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func sha42() [32]byte {
	var s [32]byte
	s[0] = 0x42
	return s
}

// S1 Creation: a recognized sha, novel, inserts the ethscription and
// emits one "created" event.
func TestApplyCreation_S1(t *testing.T) {
	store := newFakeStore()
	dict := testDictionary(t, map[[32]byte]uint64{sha42(): 42})
	m := New(store, log.New())

	from := common.HexToAddress("0xAAA")
	to := common.HexToAddress("0xBBB")
	txHash := common.HexToHash("0x01")

	applied, err := m.ApplyCreation(context.Background(), dict, CreationRequest{
		Sha:    sha42(),
		TxHash: txHash,
		From:   from,
		To:     &to,
		Coord:  model.LogCoord{BlockNumber: 100, TxIndex: 0, StableIndex: 0},
	})
	require.NoError(t, err)
	require.True(t, applied)

	rec := store.byHashID[txHash]
	require.NotNil(t, rec)
	require.Equal(t, to, rec.Owner)
	require.Nil(t, rec.PrevOwner)
	require.Equal(t, uint64(42), rec.TokenID)
	require.Len(t, store.events, 1)
	require.Equal(t, model.EventCreated, store.events[0].Type)
}

// S1 variant: dictionary miss is silently ignored.
func TestApplyCreation_DictionaryMiss(t *testing.T) {
	store := newFakeStore()
	dict := testDictionary(t, map[[32]byte]uint64{})
	m := New(store, log.New())

	applied, err := m.ApplyCreation(context.Background(), dict, CreationRequest{
		Sha:    sha42(),
		TxHash: common.HexToHash("0x01"),
		From:   common.HexToAddress("0xAAA"),
		Coord:  model.LogCoord{BlockNumber: 100},
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.Empty(t, store.events)
}

// S1 variant: duplicate sha is ignored, first inscription wins.
func TestApplyCreation_DuplicateSha(t *testing.T) {
	store := newFakeStore()
	dict := testDictionary(t, map[[32]byte]uint64{sha42(): 42})
	m := New(store, log.New())
	ctx := context.Background()

	to := common.HexToAddress("0xBBB")
	first, err := m.ApplyCreation(ctx, dict, CreationRequest{
		Sha: sha42(), TxHash: common.HexToHash("0x01"), From: common.HexToAddress("0xAAA"), To: &to,
	})
	require.NoError(t, err)
	require.True(t, first)

	second, err := m.ApplyCreation(ctx, dict, CreationRequest{
		Sha: sha42(), TxHash: common.HexToHash("0x02"), From: common.HexToAddress("0xCCC"), To: &to,
	})
	require.NoError(t, err)
	require.False(t, second)
	require.Len(t, store.events, 1)
}

// S2 Direct transfer: owner moves, prevOwner records the old owner,
// one transfer event.
func TestApplyTransfer_S2(t *testing.T) {
	store := newFakeStore()
	hashID := common.HexToHash("0xdead")
	owner := common.HexToAddress("0xBBB")
	store.byHashID[hashID] = &model.Ethscription{HashID: hashID, Owner: owner}

	m := New(store, log.New())
	to := common.HexToAddress("0xCCC")
	applied, err := m.ApplyTransfer(context.Background(), TransferRequest{
		HashID: hashID, From: owner, To: to, Value: uint256.NewInt(0),
		Coord: model.LogCoord{BlockNumber: 101},
	})
	require.NoError(t, err)
	require.True(t, applied)

	rec := store.byHashID[hashID]
	require.Equal(t, to, rec.Owner)
	require.Equal(t, owner, *rec.PrevOwner)
	require.Len(t, store.events, 1)
	require.Equal(t, model.EventTransfer, store.events[0].Type)
}

// S3 Direct transfer rejected: the transferrer-is-owner guard fails
// silently, no state change, no event.
func TestApplyTransfer_S3_RejectedNotOwner(t *testing.T) {
	store := newFakeStore()
	hashID := common.HexToHash("0xdead")
	actualOwner := common.HexToAddress("0xZZZ")
	store.byHashID[hashID] = &model.Ethscription{HashID: hashID, Owner: actualOwner}

	m := New(store, log.New())
	applied, err := m.ApplyTransfer(context.Background(), TransferRequest{
		HashID: hashID,
		From:   common.HexToAddress("0xBBB"),
		To:     common.HexToAddress("0xCCC"),
		Value:  uint256.NewInt(0),
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, actualOwner, store.byHashID[hashID].Owner)
	require.Empty(t, store.events)
}

func TestApplyTransfer_RejectedNoSuchEthscription(t *testing.T) {
	store := newFakeStore()
	m := New(store, log.New())
	applied, err := m.ApplyTransfer(context.Background(), TransferRequest{
		HashID: common.HexToHash("0x01"),
		From:   common.HexToAddress("0xAAA"),
		To:     common.HexToAddress("0xBBB"),
	})
	require.NoError(t, err)
	require.False(t, applied)
}

func TestApplyTransfer_PrevOwnerHintMismatch(t *testing.T) {
	store := newFakeStore()
	hashID := common.HexToHash("0xdead")
	owner := common.HexToAddress("0xBBB")
	wrongPrev := common.HexToAddress("0xEEE")
	store.byHashID[hashID] = &model.Ethscription{HashID: hashID, Owner: owner, PrevOwner: &wrongPrev}

	m := New(store, log.New())
	hint := common.HexToAddress("0xFFF")
	applied, err := m.ApplyTransfer(context.Background(), TransferRequest{
		HashID: hashID, From: owner, To: common.HexToAddress("0xCCC"), PrevOwnerHint: &hint,
	})
	require.NoError(t, err)
	require.False(t, applied)
}
