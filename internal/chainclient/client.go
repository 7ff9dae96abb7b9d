// Package chainclient is the read-only Chain Client: it
// wraps go-ethereum's own ethclient.Client with the retry/backoff and
// reconnect behavior the indexer's Coordinator and Reorg Guard rely on.
// Two instances are constructed by cmd/indexer, one per configured
// chain.
package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/222Mellow/Pulscription/internal/metrics"
)

// TransientRpcError wraps an RPC failure that is worth retrying:
// timeouts, connection resets, 5xx.
type TransientRpcError struct{ Err error }

func (e *TransientRpcError) Error() string { return "transient rpc error: " + e.Err.Error() }
func (e *TransientRpcError) Unwrap() error { return e.Err }

// BlockNotFound means the requested block doesn't exist yet on the
// node; callers retry with delay on the assumption the head simply
// hasn't advanced far enough, or that a reorg moved it.
type BlockNotFound struct{ Number uint64 }

func (e *BlockNotFound) Error() string { return fmt.Sprintf("block %d not found", e.Number) }

// TxWithReceipt pairs a confirmed transaction with its receipt, the
// unit the Transaction Classifier consumes.
type TxWithReceipt struct {
	Tx      *types.Transaction
	Receipt *types.Receipt
	From    common.Address
}

// BlockData is the Chain Client's getBlock result: a header plus every
// (tx, receipt) pair in block order.
type BlockData struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  time.Time
	Txs        []TxWithReceipt
}

// Client is the concrete Chain Client for one chain.
type Client struct {
	eth         *ethclient.Client
	rpc         *rpc.Client
	http        *retryablehttp.Client
	providerURL string
	callTimeout time.Duration
	log         log.Logger
}

// Dial connects to url (http/https/ws/wss, whatever ethclient supports)
// and configures validateEthscriptions against providerURL.
// providerURL may be empty when this Client is only used for points
// reads.
func Dial(ctx context.Context, url, providerURL string, callTimeout time.Duration, logger log.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", url, err)
	}
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = 4
	return &Client{
		eth:         ethclient.NewClient(rc),
		rpc:         rc,
		http:        hc,
		providerURL: providerURL,
		callTimeout: callTimeout,
		log:         logger,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// retry runs op with bounded exponential backoff, classifying errors
// so that only transient failures are retried.
func (c *Client) retry(ctx context.Context, op func() error) error {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 250 * time.Millisecond
	boff.MaxInterval = 5 * time.Second
	boff.MaxElapsedTime = c.callTimeout
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var bnf *BlockNotFound
		if errors.As(err, &bnf) {
			return err // BlockNotFound is retried here too, but not counted as an RPC retry
		}
		var transient *TransientRpcError
		if errors.As(err, &transient) {
			metrics.RPCRetries.Inc()
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(boff, ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ethereum.NotFound) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "EOF") || strings.Contains(msg, "reset") {
		return &TransientRpcError{Err: err}
	}
	return err
}

// HeadNumber returns the chain's current head block number, used by
// the Coordinator to size its backfill range at startup.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.retry(ctx, func() error {
		cctx, cancel := c.withTimeout(ctx)
		defer cancel()
		n, err := c.eth.BlockNumber(cctx)
		if err != nil {
			return classify(err)
		}
		head = n
		return nil
	})
	return head, err
}

// GetBlock fetches the block header and every (tx, receipt) pair,
// batching the receipt lookups in a single JSON-RPC batch request.
func (c *Client) GetBlock(ctx context.Context, number uint64) (*BlockData, error) {
	var result *BlockData
	err := c.retry(ctx, func() error {
		cctx, cancel := c.withTimeout(ctx)
		defer cancel()

		block, err := c.eth.BlockByNumber(cctx, new(big.Int).SetUint64(number))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return &BlockNotFound{Number: number}
			}
			return classify(err)
		}
		if block.NumberU64() != number {
			return fmt.Errorf("chainclient: getBlock returned %d, wanted %d", block.NumberU64(), number)
		}

		txs := block.Transactions()
		receipts := make([]*types.Receipt, len(txs))
		if len(txs) > 0 {
			elems := make([]rpc.BatchElem, len(txs))
			for i, tx := range txs {
				receipts[i] = new(types.Receipt)
				elems[i] = rpc.BatchElem{
					Method: "eth_getTransactionReceipt",
					Args:   []interface{}{tx.Hash()},
					Result: receipts[i],
				}
			}
			if err := c.rpc.BatchCallContext(cctx, elems); err != nil {
				return classify(err)
			}
			for _, e := range elems {
				if e.Error != nil {
					return classify(e.Error)
				}
			}
		}

		signer := types.LatestSignerForChainID(block.Number())
		pairs := make([]TxWithReceipt, len(txs))
		for i, tx := range txs {
			from, err := types.Sender(signer, tx)
			if err != nil {
				from = common.Address{}
			}
			pairs[i] = TxWithReceipt{Tx: tx, Receipt: receipts[i], From: from}
		}

		result = &BlockData{
			Number:     block.NumberU64(),
			Hash:       block.Hash(),
			ParentHash: block.ParentHash(),
			Timestamp:  time.Unix(int64(block.Time()), 0).UTC(),
			Txs:        pairs,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubscribeHeads pushes new head block numbers to onBlock, reconnecting
// on transport failure with its own exponential backoff (1s initial,
// 30s max, no elapsed-time limit).
func (c *Client) SubscribeHeads(ctx context.Context, onBlock func(uint64), onError func(error)) {
	go func() {
		boff := backoff.NewExponentialBackOff()
		boff.InitialInterval = time.Second
		boff.MaxInterval = 30 * time.Second
		boff.MaxElapsedTime = 0 // reconnect forever until ctx is done
		for {
			if ctx.Err() != nil {
				return
			}
			headers := make(chan *types.Header, 16)
			sub, err := c.eth.SubscribeNewHead(ctx, headers)
			if err != nil {
				onError(err)
				select {
				case <-time.After(boff.NextBackOff()):
				case <-ctx.Done():
					return
				}
				continue
			}
			boff.Reset()
		inner:
			for {
				select {
				case <-ctx.Done():
					sub.Unsubscribe()
					return
				case err := <-sub.Err():
					onError(err)
					break inner
				case h := <-headers:
					onBlock(h.Number.Uint64())
				}
			}
		}
	}()
}

// validateRequest / validateResponse are the ethscriptions-provider
// wire shapes for ValidateEthscriptions.
type validateRequest struct {
	HashIDs []string `json:"hashIds"`
}
type validateResponse struct {
	Valid []string `json:"validHashIds"`
}

// ValidateEthscriptions returns the subset of hashIds that the
// ethscriptions-provider confirms are real, uniquely inscribed
// ethscriptions; used by the batch-transfer decoder to reject padding
// and malformed concatenations.
func (c *Client) ValidateEthscriptions(ctx context.Context, hashIDs []common.Hash) ([]common.Hash, error) {
	if len(hashIDs) == 0 {
		return nil, nil
	}
	req := validateRequest{HashIDs: make([]string, len(hashIDs))}
	for i, h := range hashIDs {
		req.HashIDs[i] = h.Hex()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.providerURL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransientRpcError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, &TransientRpcError{Err: fmt.Errorf("ethscriptions provider: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ethscriptions provider: status %d", resp.StatusCode)
	}
	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	valid := make([]common.Hash, 0, len(out.Valid))
	for _, h := range out.Valid {
		valid = append(valid, common.HexToHash(h))
	}
	return valid, nil
}

// pointsABI is the minimal view-function ABI consumed by CallPoints and
// CallActiveMultiplier.
const pointsABI = `[
  {"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"pointsOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"activeMultiplier","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var parsedPointsABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pointsABI))
	if err != nil {
		panic("chainclient: invalid embedded points ABI: " + err.Error())
	}
	parsedPointsABI = parsed
}

// CallPoints calls the points contract's view function for address.
func (c *Client) CallPoints(ctx context.Context, pointsAddress, address common.Address) (uint64, error) {
	caller := bind.NewBoundContract(pointsAddress, parsedPointsABI, c.eth, nil, nil)
	var out []interface{}
	err := c.retry(ctx, func() error {
		cctx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := caller.Call(&bind.CallOpts{Context: cctx}, &out, "pointsOf", address)
		_ = res
		return classify(err)
	})
	if err != nil {
		return 0, err
	}
	return toUint64(out, 0)
}

// CallActiveMultiplier calls the points contract's global multiplier
// view function.
func (c *Client) CallActiveMultiplier(ctx context.Context, pointsAddress common.Address) (uint64, error) {
	caller := bind.NewBoundContract(pointsAddress, parsedPointsABI, c.eth, nil, nil)
	var out []interface{}
	err := c.retry(ctx, func() error {
		cctx, cancel := c.withTimeout(ctx)
		defer cancel()
		return classify(caller.Call(&bind.CallOpts{Context: cctx}, &out, "activeMultiplier"))
	})
	if err != nil {
		return 0, err
	}
	return toUint64(out, 0)
}

func toUint64(out []interface{}, idx int) (uint64, error) {
	if idx >= len(out) {
		return 0, fmt.Errorf("chainclient: view call returned %d values, wanted index %d", len(out), idx)
	}
	n, ok := out[idx].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chainclient: view call returned %T, wanted *big.Int", out[idx])
	}
	return n.Uint64(), nil
}

func (c *Client) Close() {
	c.rpc.Close()
}
