package ethrpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	col "github.com/conroydamien/eth-squid-station/collect"
)

// block is the eth_getBlockByNumber result, with full tx objects.
type block struct {
	Number_       hexutil.Uint64 `json:"number"`
	Hash_         common.Hash    `json:"hash"`
	Timestamp_    hexutil.Uint64 `json:"timestamp"`
	Transactions_ []*tx          `json:"transactions"`
}

func (b *block) Height() int64 {
	return int64(b.Number_)
}

func (b *block) Hash() common.Hash {
	return b.Hash_
}

func (b *block) Time() int64 {
	return int64(b.Timestamp_)
}

func (b *block) Txs() []col.BlockTx {
	txs := make([]col.BlockTx, len(b.Transactions_))
	for i, t := range b.Transactions_ {
		txs[i] = t
	}
	return txs
}

// For mined dynamic fee txs the node reports the effective gas price in the
// gasPrice field.
type tx struct {
	Hash_     common.Hash    `json:"hash"`
	GasPrice_ *hexutil.Big   `json:"gasPrice"`
	Gas_      hexutil.Uint64 `json:"gas"`
}

func (t *tx) Hash() common.Hash {
	return t.Hash_
}

// GasPrice returns the price in wei, saturating at the uint64 max. A missing
// price is 0.
func (t *tx) GasPrice() uint64 {
	if t.GasPrice_ == nil {
		return 0
	}
	p := t.GasPrice_.ToInt()
	if !p.IsUint64() {
		if p.Sign() < 0 {
			return 0
		}
		return ^uint64(0)
	}
	return p.Uint64()
}

func (t *tx) GasLimit() uint64 {
	return uint64(t.Gas_)
}
