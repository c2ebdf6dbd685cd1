// Package testutil contains the common test utilities.
package testutil

import (
	"math/big"
	"math/rand"
	"net/http/httptest"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type Tx struct {
	Hash     common.Hash
	GasPrice uint64 // wei
	Gas      uint64
}

type Block struct {
	Number    int64
	Hash      common.Hash
	Timestamp int64
	Txs       []Tx
}

// Chain is an in-memory chain of blocks, safe for concurrent use. Blocks
// above the head are not visible until mined.
type Chain struct {
	blocks []*Block
	head   int64
	fail   map[int64]int
	mux    sync.Mutex
}

// NewChain generates n non-empty blocks at 15 second intervals with random
// txs, and sets the head to the last of them.
func NewChain(seed int64, n int) *Chain {
	rng := rand.New(rand.NewSource(seed))
	c := &Chain{fail: make(map[int64]int)}
	for h := 0; h < n; h++ {
		b := &Block{
			Number:    int64(h),
			Hash:      Hash(rng),
			Timestamp: 1500000000 + int64(h)*15,
		}
		for i := 1 + rng.Intn(20); i > 0; i-- {
			b.Txs = append(b.Txs, Tx{
				Hash:     Hash(rng),
				GasPrice: uint64(rng.Int63n(80e9)),
				Gas:      21000 + uint64(rng.Intn(200000)),
			})
		}
		c.blocks = append(c.blocks, b)
	}
	c.head = int64(n) - 1
	return c
}

// Hash returns a random hash.
func Hash(rng *rand.Rand) common.Hash {
	var h common.Hash
	rng.Read(h[:])
	return h
}

func (c *Chain) Head() int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.head
}

// SetHead moves the head; it is capped at the last generated block.
func (c *Chain) SetHead(h int64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if max := int64(len(c.blocks)) - 1; h > max {
		h = max
	}
	c.head = h
}

// Block returns the block at height h, or nil if it is above the head.
func (c *Chain) Block(h int64) *Block {
	c.mux.Lock()
	defer c.mux.Unlock()
	if h < 0 || h > c.head {
		return nil
	}
	return c.blocks[h]
}

// FailNext makes the next n requests for block h fail.
func (c *Chain) FailNext(h int64, n int) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.fail[h] = n
}

// ShouldFail reports whether a request for block h should fail, consuming
// one of the failures set with FailNext.
func (c *Chain) ShouldFail(h int64) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.fail[h] > 0 {
		c.fail[h]--
		return true
	}
	return false
}

// NewNode serves the chain over Ethereum JSON-RPC (eth_blockNumber and
// eth_getBlockByNumber). The caller must Close the server.
func NewNode(c *Chain) *httptest.Server {
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &ethAPI{chain: c}); err != nil {
		panic(err)
	}
	return httptest.NewServer(srv)
}

type ethAPI struct {
	chain *Chain
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.chain.Head())
}

type rpcTx struct {
	Hash     common.Hash    `json:"hash"`
	GasPrice *hexutil.Big   `json:"gasPrice"`
	Gas      hexutil.Uint64 `json:"gas"`
	Type     hexutil.Uint64 `json:"type"`
}

type rpcBlock struct {
	Number       hexutil.Uint64 `json:"number"`
	Hash         common.Hash    `json:"hash"`
	Timestamp    hexutil.Uint64 `json:"timestamp"`
	Transactions []rpcTx        `json:"transactions"`
}

func (api *ethAPI) GetBlockByNumber(number hexutil.Uint64, fullTx bool) (*rpcBlock, error) {
	h := int64(number)
	if api.chain.ShouldFail(h) {
		return nil, &rpcError{"internal error"}
	}
	b := api.chain.Block(h)
	if b == nil {
		return nil, nil
	}
	r := &rpcBlock{
		Number:       hexutil.Uint64(b.Number),
		Hash:         b.Hash,
		Timestamp:    hexutil.Uint64(b.Timestamp),
		Transactions: make([]rpcTx, len(b.Txs)),
	}
	for i, tx := range b.Txs {
		r.Transactions[i] = rpcTx{
			Hash:     tx.Hash,
			GasPrice: (*hexutil.Big)(new(big.Int).SetUint64(tx.GasPrice)),
			Gas:      hexutil.Uint64(tx.Gas),
			Type:     2,
		}
	}
	return r, nil
}

type rpcError struct {
	msg string
}

func (e *rpcError) Error() string { return e.msg }
