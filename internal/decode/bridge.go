package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// HashLocked is the decoded bridge-lock event.
type HashLocked struct {
	PrevOwner common.Address
	HashID    common.Hash
	Nonce     *big.Int
	Value     *big.Int
}

// HashUnlocked is the decoded bridge-unlock event.
type HashUnlocked struct {
	PrevOwner common.Address
	HashID    common.Hash
}

// BridgeEventName returns the name of the bridge event the log's
// topic[0] corresponds to, or "" if unrecognized.
func BridgeEventName(topic0 common.Hash) string {
	switch topic0 {
	case topicHashLocked:
		return "HashLocked"
	case topicHashUnlocked:
		return "HashUnlocked"
	default:
		return ""
	}
}

func DecodeHashLocked(l *types.Log) (HashLocked, error) {
	var out struct {
		PrevOwner common.Address
		Id        common.Hash
		Nonce     *big.Int
		Value     *big.Int
	}
	if err := unpackLog(bridgeContractABI, "HashLocked", l.Topics, l.Data, &out); err != nil {
		return HashLocked{}, err
	}
	return HashLocked{PrevOwner: out.PrevOwner, HashID: out.Id, Nonce: out.Nonce, Value: out.Value}, nil
}

func DecodeHashUnlocked(l *types.Log) (HashUnlocked, error) {
	var out struct {
		PrevOwner common.Address
		Id        common.Hash
	}
	if err := unpackLog(bridgeContractABI, "HashUnlocked", l.Topics, l.Data, &out); err != nil {
		return HashUnlocked{}, err
	}
	return HashUnlocked{PrevOwner: out.PrevOwner, HashID: out.Id}, nil
}
