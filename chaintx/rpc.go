package chaintx

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/shopspring/decimal"
)

// TxParams is one physical transaction handed to the node. The node holds
// the hub key and signs on our behalf; key management is out of scope here.
type TxParams struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Value decimal.Decimal `json:"value"`
	Data  string          `json:"data"`
	Gas   uint64          `json:"gas"`
	Nonce uint64          `json:"nonce"`
}

// TxInfo is what the node knows about a broadcast transaction. BlockNumber
// is nil while the transaction is still in the mempool.
type TxInfo struct {
	Hash        string  `json:"hash"`
	BlockNumber *uint64 `json:"blockNumber"`
}

// Receipt reports inclusion. Status 1 means executed, 0 means reverted.
type Receipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Client is the minimal chain RPC surface the transaction service needs,
// abstracted so it can run against a stub in tests.
type Client interface {
	GetTransactionCount(ctx context.Context, addr string) (uint64, error)
	EstimateGas(ctx context.Context, p TxParams) (uint64, error)
	SendTransaction(ctx context.Context, p TxParams) (string, error)
	GetTransactionByHash(ctx context.Context, hash string) (*TxInfo, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type rpcClient struct {
	Internal struct {
		GetTransactionCount   func(ctx context.Context, addr string) (uint64, error)
		EstimateGas           func(ctx context.Context, p TxParams) (uint64, error)
		SendTransaction       func(ctx context.Context, p TxParams) (string, error)
		GetTransactionByHash  func(ctx context.Context, hash string) (*TxInfo, error)
		GetTransactionReceipt func(ctx context.Context, hash string) (*Receipt, error)
		BlockNumber           func(ctx context.Context) (uint64, error)
	}
}

func (c *rpcClient) GetTransactionCount(ctx context.Context, addr string) (uint64, error) {
	return c.Internal.GetTransactionCount(ctx, addr)
}

func (c *rpcClient) EstimateGas(ctx context.Context, p TxParams) (uint64, error) {
	return c.Internal.EstimateGas(ctx, p)
}

func (c *rpcClient) SendTransaction(ctx context.Context, p TxParams) (string, error) {
	return c.Internal.SendTransaction(ctx, p)
}

func (c *rpcClient) GetTransactionByHash(ctx context.Context, hash string) (*TxInfo, error) {
	return c.Internal.GetTransactionByHash(ctx, hash)
}

func (c *rpcClient) GetTransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	return c.Internal.GetTransactionReceipt(ctx, hash)
}

func (c *rpcClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.Internal.BlockNumber(ctx)
}

// NewClient dials the node's websocket RPC endpoint.
func NewClient(ctx context.Context, addr string) (Client, jsonrpc.ClientCloser, error) {
	var res rpcClient
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Chain",
		[]interface{}{&res.Internal}, http.Header{})
	if err != nil {
		return nil, nil, err
	}
	return &res, closer, nil
}
