package reorg

import (
	"errors"
	"testing"

	"github.com/222Mellow/Pulscription/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func block(n uint64, hash, parent byte) model.ProcessedBlock {
	return model.ProcessedBlock{
		Number:     n,
		Hash:       common.BytesToHash([]byte{hash}),
		ParentHash: common.BytesToHash([]byte{parent}),
	}
}

// S6 Reorg at depth 3: blocks 100, 101, 102 are processed in sequence,
// then a competing block at 101 arrives whose parent is 100's hash
// rather than 102's. Observe must report the discontinuity instead of
// silently appending.
func TestGuard_S6_DetectsReorg(t *testing.T) {
	g := New(30, 6)

	require.NoError(t, g.Observe(block(100, 0x64, 0x63)))
	require.NoError(t, g.Observe(block(101, 0x65, 0x64)))
	require.NoError(t, g.Observe(block(102, 0x66, 0x65)))

	err := g.Observe(block(101, 0x75, 0x64)) // 101' points back at 100's hash
	require.Error(t, err)

	var detected *Detected
	require.True(t, errors.As(err, &detected))
	require.Equal(t, uint64(101), detected.NewBlock)

	// the window is left untouched when a reorg is detected
	require.Len(t, g.Entries(), 3)
}

func TestGuard_Rollback_DropsFromHeight(t *testing.T) {
	g := New(30, 6)
	require.NoError(t, g.Observe(block(100, 0x64, 0x63)))
	require.NoError(t, g.Observe(block(101, 0x65, 0x64)))
	require.NoError(t, g.Observe(block(102, 0x66, 0x65)))

	g.Rollback(101)

	entries := g.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, uint64(100), entries[0].Number)
}

func TestGuard_PromoteConfirmed(t *testing.T) {
	g := New(30, 6)
	for n := uint64(100); n <= 107; n++ {
		require.NoError(t, g.Observe(block(n, byte(n), byte(n-1))))
	}
	entries := g.Entries()
	// head is 107; confirmations=6 means blocks <= 101 are confirmed.
	for _, e := range entries {
		if e.Number <= 101 {
			require.True(t, e.Confirmed, "block %d should be confirmed", e.Number)
		} else {
			require.False(t, e.Confirmed, "block %d should not yet be confirmed", e.Number)
		}
	}
}

func TestGuard_WindowBounded(t *testing.T) {
	g := New(3, 6)
	for n := uint64(100); n <= 105; n++ {
		require.NoError(t, g.Observe(block(n, byte(n), byte(n-1))))
	}
	require.Len(t, g.Entries(), 3)
	last, ok := g.Last()
	require.True(t, ok)
	require.Equal(t, uint64(105), last.Number)
}
