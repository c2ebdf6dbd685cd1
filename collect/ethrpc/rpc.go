// Package ethrpc implements the data collection abstractions in package
// collect by using the Ethereum JSON-RPC API.
package ethrpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	col "github.com/conroydamien/eth-squid-station/collect"
)

type Config struct {
	// HTTP(S) or WebSocket endpoint of the node.
	URL string `json:"url" yaml:"url"`
}

type Client struct {
	rpc *rpc.Client
}

// Dial connects to the node. For HTTP endpoints no request is made until the
// first call.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("ethrpc: no node URL configured")
	}
	c, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.URL)
	}
	return &Client{rpc: c}, nil
}

// Getters returns the block source functions used by the Collector.
func (c *Client) Getters() (col.HeightGetter, col.BlockGetter) {
	return c.BlockNumber, c.BlockByNumber
}

// BlockNumber returns the height of the chain head.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var n hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, &col.TransientError{Op: "eth_blockNumber", Err: err}
	}
	return int64(n), nil
}

// BlockByNumber gets a block with its txs. It returns col.ErrNotYetMined if
// the node has no block at that height.
func (c *Client) BlockByNumber(ctx context.Context, height int64) (col.Block, error) {
	const method = "eth_getBlockByNumber"
	if height < 0 {
		return nil, errors.Errorf("%s: negative height %d", method, height)
	}
	var b *block
	err := c.rpc.CallContext(ctx, &b, method, hexutil.EncodeUint64(uint64(height)), true)
	if errors.Is(err, rpc.ErrNoResult) {
		return nil, col.ErrNotYetMined
	}
	if err != nil {
		return nil, &col.TransientError{Op: method, Err: err}
	}
	if b == nil {
		return nil, col.ErrNotYetMined
	}
	if b.Height() != height {
		return nil, &col.TransientError{
			Op:  method,
			Err: errors.Errorf("requested block %d, got %d", height, b.Height()),
		}
	}
	return b, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}
