package decode

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AuctionCreated is the decoded auction-open event.
type AuctionCreated struct {
	HashID    common.Hash
	Owner     common.Address
	AuctionID *big.Int
	StartTime *big.Int
	EndTime   *big.Int
}

// AuctionBid is the decoded bid event.
type AuctionBid struct {
	HashID    common.Hash
	AuctionID *big.Int
	Sender    common.Address
	Value     *big.Int
	Extended  bool
}

// AuctionExtended is the decoded time-buffer-extension event.
type AuctionExtended struct {
	HashID    common.Hash
	AuctionID *big.Int
	EndTime   *big.Int
}

// AuctionSettled is the decoded settlement event.
type AuctionSettled struct {
	HashID    common.Hash
	AuctionID *big.Int
	Winner    common.Address
	Amount    *big.Int
}

// AuctionEventName returns the name of the auction event the log's
// topic[0] corresponds to, or "" if unrecognized.
func AuctionEventName(topic0 common.Hash) string {
	switch topic0 {
	case topicAuctionCreated:
		return "AuctionCreated"
	case topicAuctionBid:
		return "AuctionBid"
	case topicAuctionExtended:
		return "AuctionExtended"
	case topicAuctionSettled:
		return "AuctionSettled"
	default:
		return ""
	}
}

func DecodeAuctionCreated(l *types.Log) (AuctionCreated, error) {
	var out struct {
		Id        common.Hash
		Owner     common.Address
		AuctionId *big.Int
		StartTime *big.Int
		EndTime   *big.Int
	}
	if err := unpackLog(auctionContractABI, "AuctionCreated", l.Topics, l.Data, &out); err != nil {
		return AuctionCreated{}, err
	}
	return AuctionCreated{HashID: out.Id, Owner: out.Owner, AuctionID: out.AuctionId, StartTime: out.StartTime, EndTime: out.EndTime}, nil
}

func DecodeAuctionBid(l *types.Log) (AuctionBid, error) {
	var out struct {
		Id        common.Hash
		AuctionId *big.Int
		Sender    common.Address
		Value     *big.Int
		Extended  bool
	}
	if err := unpackLog(auctionContractABI, "AuctionBid", l.Topics, l.Data, &out); err != nil {
		return AuctionBid{}, err
	}
	return AuctionBid{HashID: out.Id, AuctionID: out.AuctionId, Sender: out.Sender, Value: out.Value, Extended: out.Extended}, nil
}

func DecodeAuctionExtended(l *types.Log) (AuctionExtended, error) {
	var out struct {
		Id        common.Hash
		AuctionId *big.Int
		EndTime   *big.Int
	}
	if err := unpackLog(auctionContractABI, "AuctionExtended", l.Topics, l.Data, &out); err != nil {
		return AuctionExtended{}, err
	}
	return AuctionExtended{HashID: out.Id, AuctionID: out.AuctionId, EndTime: out.EndTime}, nil
}

func DecodeAuctionSettled(l *types.Log) (AuctionSettled, error) {
	var out struct {
		Id        common.Hash
		AuctionId *big.Int
		Winner    common.Address
		Amount    *big.Int
	}
	if err := unpackLog(auctionContractABI, "AuctionSettled", l.Topics, l.Data, &out); err != nil {
		return AuctionSettled{}, err
	}
	return AuctionSettled{HashID: out.Id, AuctionID: out.AuctionId, Winner: out.Winner, Amount: out.Amount}, nil
}
