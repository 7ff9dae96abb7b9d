package classifier

import (
	"context"
	"math/big"
	"testing"

	"github.com/222Mellow/Pulscription/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	valid []common.Hash
}

func (f fakeValidator) ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error) {
	return f.valid, nil
}

func batchTx(words ...common.Hash) Tx {
	var data []byte
	for _, w := range words {
		data = append(data, w.Bytes()...)
	}
	to := common.HexToAddress("0xC0FFEE")
	txdata := &types.LegacyTx{
		Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000,
		To: &to, Value: big.NewInt(0), Data: data,
	}
	return Tx{
		Tx:      types.NewTx(txdata),
		Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		From:    common.HexToAddress("0xAAA"),
		TxIndex: 0,
	}
}

// S4 Batch of three: validateEthscriptions returns a subset; only the
// validated words become transfer items, each carrying its batch
// position as StableIndex.
func TestClassifyTx_S4_BatchOfThree(t *testing.T) {
	w1 := common.HexToHash("0x01")
	w2 := common.HexToHash("0x02")
	w3 := common.HexToHash("0x03")
	tx := batchTx(w1, w2, w3)

	v := fakeValidator{valid: []common.Hash{w1, w3}}
	items, err := ClassifyTx(context.Background(), v, config.Config{}, 100, tx)
	require.NoError(t, err)

	var transfers []Item
	for _, it := range items {
		if it.Kind == KindBatchTransfer {
			transfers = append(transfers, it)
		}
	}
	require.Len(t, transfers, 2)
	require.Equal(t, w1, transfers[0].Transfer.HashID)
	require.Equal(t, uint64(0), transfers[0].Coord.StableIndex)
	require.Equal(t, w3, transfers[1].Transfer.HashID)
	require.Equal(t, uint64(2), transfers[1].Coord.StableIndex)
}

func TestClassifyTx_BatchTransfer_NoneValid(t *testing.T) {
	w1 := common.HexToHash("0x01")
	w2 := common.HexToHash("0x02")
	tx := batchTx(w1, w2)

	v := fakeValidator{valid: nil}
	items, err := ClassifyTx(context.Background(), v, config.Config{}, 100, tx)
	require.NoError(t, err)
	for _, it := range items {
		require.NotEqual(t, KindBatchTransfer, it.Kind)
	}
}

func TestClassifyTx_FailedReceiptSkipped(t *testing.T) {
	tx := batchTx(common.HexToHash("0x01"), common.HexToHash("0x02"))
	tx.Receipt.Status = types.ReceiptStatusFailed

	items, err := ClassifyTx(context.Background(), fakeValidator{}, config.Config{}, 100, tx)
	require.NoError(t, err)
	require.Nil(t, items)
}

func TestClassifyTx_DirectTransfer(t *testing.T) {
	hashID := common.HexToHash("0xdead")
	to := common.HexToAddress("0xC0FFEE")
	txdata := &types.LegacyTx{
		Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000,
		To: &to, Value: big.NewInt(5), Data: hashID.Bytes(),
	}
	tx := Tx{
		Tx:      types.NewTx(txdata),
		Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		From:    common.HexToAddress("0xBBB"),
	}

	items, err := ClassifyTx(context.Background(), fakeValidator{}, config.Config{}, 100, tx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, KindDirectTransfer, items[0].Kind)
	require.Equal(t, hashID, items[0].Transfer.HashID)
	require.Equal(t, to, items[0].Transfer.To)
}
