package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PhunkOffered is the decoded marketplace listing event.
type PhunkOffered struct {
	HashID    common.Hash
	ToAddress common.Address
	MinValue  *big.Int
}

// PhunkBought is the decoded marketplace purchase event.
type PhunkBought struct {
	HashID      common.Hash
	FromAddress common.Address
	ToAddress   common.Address
	Value       *big.Int
}

// PhunkNoLongerForSale is the decoded listing-cancellation event.
type PhunkNoLongerForSale struct {
	HashID common.Hash
}

// PhunkBidEntered is the decoded bid-placement event.
type PhunkBidEntered struct {
	HashID      common.Hash
	FromAddress common.Address
	Value       *big.Int
}

// PhunkBidWithdrawn is the decoded bid-withdrawal event.
type PhunkBidWithdrawn struct {
	HashID common.Hash
}

// MarketplaceEventName returns the name of the marketplace event the
// log's topic[0] corresponds to, or "" if unrecognized.
func MarketplaceEventName(topic0 common.Hash) string {
	switch topic0 {
	case topicPhunkOffered:
		return "PhunkOffered"
	case topicPhunkBought:
		return "PhunkBought"
	case topicPhunkNoLongerForSale:
		return "PhunkNoLongerForSale"
	case topicPhunkBidEntered:
		return "PhunkBidEntered"
	case topicPhunkBidWithdrawn:
		return "PhunkBidWithdrawn"
	default:
		return ""
	}
}

func DecodePhunkOffered(l *types.Log) (PhunkOffered, error) {
	var out struct {
		Id        common.Hash
		MinValue  *big.Int
		ToAddress common.Address
	}
	if err := unpackLog(marketplaceContractABI, "PhunkOffered", l.Topics, l.Data, &out); err != nil {
		return PhunkOffered{}, err
	}
	return PhunkOffered{HashID: out.Id, ToAddress: out.ToAddress, MinValue: out.MinValue}, nil
}

func DecodePhunkBought(l *types.Log) (PhunkBought, error) {
	var out struct {
		Id          common.Hash
		Value       *big.Int
		FromAddress common.Address
		ToAddress   common.Address
	}
	if err := unpackLog(marketplaceContractABI, "PhunkBought", l.Topics, l.Data, &out); err != nil {
		return PhunkBought{}, err
	}
	return PhunkBought{HashID: out.Id, FromAddress: out.FromAddress, ToAddress: out.ToAddress, Value: out.Value}, nil
}

func DecodePhunkNoLongerForSale(l *types.Log) (PhunkNoLongerForSale, error) {
	var out struct {
		Id common.Hash
	}
	if err := unpackLog(marketplaceContractABI, "PhunkNoLongerForSale", l.Topics, l.Data, &out); err != nil {
		return PhunkNoLongerForSale{}, err
	}
	return PhunkNoLongerForSale{HashID: out.Id}, nil
}

func DecodePhunkBidEntered(l *types.Log) (PhunkBidEntered, error) {
	var out struct {
		Id          common.Hash
		Value       *big.Int
		FromAddress common.Address
	}
	if err := unpackLog(marketplaceContractABI, "PhunkBidEntered", l.Topics, l.Data, &out); err != nil {
		return PhunkBidEntered{}, err
	}
	return PhunkBidEntered{HashID: out.Id, FromAddress: out.FromAddress, Value: out.Value}, nil
}

func DecodePhunkBidWithdrawn(l *types.Log) (PhunkBidWithdrawn, error) {
	var out struct {
		Id common.Hash
	}
	if err := unpackLog(marketplaceContractABI, "PhunkBidWithdrawn", l.Topics, l.Data, &out); err != nil {
		return PhunkBidWithdrawn{}, err
	}
	return PhunkBidWithdrawn{HashID: out.Id}, nil
}
