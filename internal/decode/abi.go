// Package decode implements typed, per-ABI log and calldata decoders:
// every recognized vocabulary (ESIP-1/2 transfers, marketplace,
// auction, points, bridge) is decoded into a strongly typed struct
// before any downstream code runs. The Transaction
// Classifier (internal/classifier) never passes raw log data forward.
package decode

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eventSignature returns the Keccak-256 topic hash for a Solidity
// event signature string, the same computation ethclient-based
// indexers use to recognize log topics.
func eventSignature(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

const transferABI = `[
  {"anonymous":false,"name":"ethscriptions_protocol_TransferEthscription","type":"event","inputs":[
    {"indexed":true,"name":"recipient","type":"address"},
    {"indexed":true,"name":"id","type":"bytes32"}
  ]},
  {"anonymous":false,"name":"ethscriptions_protocol_TransferEthscriptionForPreviousOwner","type":"event","inputs":[
    {"indexed":true,"name":"previousOwner","type":"address"},
    {"indexed":true,"name":"recipient","type":"address"},
    {"indexed":true,"name":"id","type":"bytes32"}
  ]}
]`

const marketplaceABI = `[
  {"anonymous":false,"name":"PhunkOffered","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"minValue","type":"uint256"},
    {"indexed":true,"name":"toAddress","type":"address"}
  ]},
  {"anonymous":false,"name":"PhunkBought","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"value","type":"uint256"},
    {"indexed":true,"name":"fromAddress","type":"address"},
    {"indexed":true,"name":"toAddress","type":"address"}
  ]},
  {"anonymous":false,"name":"PhunkNoLongerForSale","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"}
  ]},
  {"anonymous":false,"name":"PhunkBidEntered","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"value","type":"uint256"},
    {"indexed":true,"name":"fromAddress","type":"address"}
  ]},
  {"anonymous":false,"name":"PhunkBidWithdrawn","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"value","type":"uint256"},
    {"indexed":true,"name":"fromAddress","type":"address"}
  ]}
]`

const auctionABI = `[
  {"anonymous":false,"name":"AuctionCreated","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"owner","type":"address"},
    {"indexed":false,"name":"auctionId","type":"uint256"},
    {"indexed":false,"name":"startTime","type":"uint256"},
    {"indexed":false,"name":"endTime","type":"uint256"}
  ]},
  {"anonymous":false,"name":"AuctionBid","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"auctionId","type":"uint256"},
    {"indexed":false,"name":"sender","type":"address"},
    {"indexed":false,"name":"value","type":"uint256"},
    {"indexed":false,"name":"extended","type":"bool"}
  ]},
  {"anonymous":false,"name":"AuctionExtended","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"auctionId","type":"uint256"},
    {"indexed":false,"name":"endTime","type":"uint256"}
  ]},
  {"anonymous":false,"name":"AuctionSettled","type":"event","inputs":[
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"auctionId","type":"uint256"},
    {"indexed":false,"name":"winner","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"}
  ]}
]`

const pointsABI = `[
  {"anonymous":false,"name":"PointsAdded","type":"event","inputs":[
    {"indexed":true,"name":"user","type":"address"},
    {"indexed":false,"name":"amount","type":"uint256"}
  ]}
]`

const bridgeABI = `[
  {"anonymous":false,"name":"HashLocked","type":"event","inputs":[
    {"indexed":true,"name":"prevOwner","type":"address"},
    {"indexed":true,"name":"id","type":"bytes32"},
    {"indexed":false,"name":"nonce","type":"uint256"},
    {"indexed":false,"name":"value","type":"uint256"}
  ]},
  {"anonymous":false,"name":"HashUnlocked","type":"event","inputs":[
    {"indexed":true,"name":"prevOwner","type":"address"},
    {"indexed":true,"name":"id","type":"bytes32"}
  ]}
]`

var (
	transferContractABI    abi.ABI
	marketplaceContractABI abi.ABI
	auctionContractABI     abi.ABI
	pointsContractABI      abi.ABI
	bridgeContractABI      abi.ABI

	// ESIP1Topic / ESIP2Topic are the log topic[0] signatures the
	// Transaction Classifier matches on.
	ESIP1Topic = eventSignature("ethscriptions_protocol_TransferEthscription(address,bytes32)")
	ESIP2Topic = eventSignature("ethscriptions_protocol_TransferEthscriptionForPreviousOwner(address,address,bytes32)")

	topicPhunkOffered         = eventSignature("PhunkOffered(bytes32,uint256,address)")
	topicPhunkBought          = eventSignature("PhunkBought(bytes32,uint256,address,address)")
	topicPhunkNoLongerForSale = eventSignature("PhunkNoLongerForSale(bytes32)")
	topicPhunkBidEntered      = eventSignature("PhunkBidEntered(bytes32,uint256,address)")
	topicPhunkBidWithdrawn    = eventSignature("PhunkBidWithdrawn(bytes32,uint256,address)")

	topicAuctionCreated  = eventSignature("AuctionCreated(bytes32,address,uint256,uint256,uint256)")
	topicAuctionBid      = eventSignature("AuctionBid(bytes32,uint256,address,uint256,bool)")
	topicAuctionExtended = eventSignature("AuctionExtended(bytes32,uint256,uint256)")
	topicAuctionSettled  = eventSignature("AuctionSettled(bytes32,uint256,address,uint256)")

	topicPointsAdded = eventSignature("PointsAdded(address,uint256)")

	topicHashLocked   = eventSignature("HashLocked(address,bytes32,uint256,uint256)")
	topicHashUnlocked = eventSignature("HashUnlocked(address,bytes32)")
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("decode: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

func init() {
	transferContractABI = mustParseABI(transferABI)
	marketplaceContractABI = mustParseABI(marketplaceABI)
	auctionContractABI = mustParseABI(auctionABI)
	pointsContractABI = mustParseABI(pointsABI)
	bridgeContractABI = mustParseABI(bridgeABI)
}

// unpackLog fills out with the named event's arguments: non-indexed
// fields come from log.Data via contractABI.UnpackIntoInterface, indexed
// fields are parsed directly out of log.Topics[1:] with abi.ParseTopics,
// the same split go-ethereum's bind.BoundContract.UnpackLog uses.
func unpackLog(contractABI abi.ABI, eventName string, topics []common.Hash, data []byte, out interface{}) error {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return errUnknownEvent(eventName)
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(data) > 0 {
		if err := contractABI.UnpackIntoInterface(out, eventName, data); err != nil {
			return err
		}
	}
	if len(topics) > 1 {
		if err := abi.ParseTopics(out, indexed, topics[1:]); err != nil {
			return err
		}
	}
	return nil
}

type errUnknownEvent string

func (e errUnknownEvent) Error() string { return "decode: unknown event " + string(e) }
