package decode

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DirectTransfer is calldata shaped like a single 32-byte hashId word.
type DirectTransfer struct {
	HashID common.Hash
}

// IsDirectTransfer reports whether input is exactly one 32-byte hex
// word.
func IsDirectTransfer(input []byte) (DirectTransfer, bool) {
	if len(input) != 32 {
		return DirectTransfer{}, false
	}
	return DirectTransfer{HashID: common.BytesToHash(input)}, true
}

// IsBatchTransfer reports whether input is a multiple of 32 bytes and
// more than one word (ESIP-5 calldata form), returning the ordered
// list of candidate hashIds.
func IsBatchTransfer(input []byte) ([]common.Hash, bool) {
	if len(input) == 0 || len(input)%32 != 0 || len(input) == 32 {
		return nil, false
	}
	words := make([]common.Hash, len(input)/32)
	for i := range words {
		words[i] = common.BytesToHash(input[i*32 : (i+1)*32])
	}
	return words, true
}

// esip1Log / esip2Log mirror the indexed event arguments of the ESIP-1
// and ESIP-2 transfer events.
type esip1Log struct {
	Recipient common.Address
	Id        common.Hash
}

type esip2Log struct {
	PreviousOwner common.Address
	Recipient     common.Address
	Id            common.Hash
}

// ESIP1Transfer is the decoded form of an
// ethscriptions_protocol_TransferEthscription log. From is the
// emitting contract address, not the sender recovered from the tx.
type ESIP1Transfer struct {
	From      common.Address
	Recipient common.Address
	HashID    common.Hash
}

// ESIP2Transfer additionally carries the previous-owner hint consumed
// as a guard in the ownership state machine.
type ESIP2Transfer struct {
	From          common.Address
	Recipient     common.Address
	PrevOwnerHint common.Address
	HashID        common.Hash
}

// DecodeESIP1 decodes a log already classified as topic[0] ==
// ESIP1Topic.
func DecodeESIP1(l *types.Log) (ESIP1Transfer, error) {
	var out esip1Log
	if err := unpackLog(transferContractABI, "ethscriptions_protocol_TransferEthscription", l.Topics, l.Data, &out); err != nil {
		return ESIP1Transfer{}, err
	}
	return ESIP1Transfer{From: l.Address, Recipient: out.Recipient, HashID: out.Id}, nil
}

// DecodeESIP2 decodes a log already classified as topic[0] ==
// ESIP2Topic.
func DecodeESIP2(l *types.Log) (ESIP2Transfer, error) {
	var out esip2Log
	if err := unpackLog(transferContractABI, "ethscriptions_protocol_TransferEthscriptionForPreviousOwner", l.Topics, l.Data, &out); err != nil {
		return ESIP2Transfer{}, err
	}
	return ESIP2Transfer{
		From:          l.Address,
		Recipient:     out.Recipient,
		PrevOwnerHint: out.PreviousOwner,
		HashID:        out.Id,
	}, nil
}
