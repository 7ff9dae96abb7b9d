package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PointsAdded is the decoded points-contract log: the
// classifier only cares about the user address, the amount is not
// consumed (the totals are re-read via CallPoints, not accumulated
// from the log).
type PointsAdded struct {
	User   common.Address
	Amount *big.Int
}

// IsPointsAdded reports whether topic0 is the PointsAdded signature.
func IsPointsAdded(topic0 common.Hash) bool { return topic0 == topicPointsAdded }

func DecodePointsAdded(l *types.Log) (PointsAdded, error) {
	var out struct {
		User   common.Address
		Amount *big.Int
	}
	if err := unpackLog(pointsContractABI, "PointsAdded", l.Topics, l.Data, &out); err != nil {
		return PointsAdded{}, err
	}
	return PointsAdded{User: out.User, Amount: out.Amount}, nil
}
