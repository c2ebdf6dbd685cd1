/*
Package estimate derives the hashpower acceptance curve, the prediction table
and the gas price recommendations from the block statistics collected by
package collect.
*/
package estimate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/conroydamien/eth-squid-station/gas"
)

const defaultBlockInterval = 15 // seconds

type BlockStatDB interface {
	Get(start, end int64) ([]*BlockStat, error) // Result must be height-sorted
}

type TxDB interface {
	// Snapshot returns a copy of every stored tx.
	Snapshot() ([]Tx, error)
}

// TxField flags which of the optional Tx fields carry a value.
type TxField uint8

const (
	FieldBlockMined TxField = 1 << iota
	FieldGasPrice
	FieldGasLimit
)

type Tx struct {
	Hash       common.Hash `json:"hash"`
	BlockMined uint64      `json:"blockmined"`
	GasPrice   uint64      `json:"gasprice"` // wei
	GasLimit   uint64      `json:"gaslimit"`
	Bucket     gas.Bucket  `json:"bucket"` // derived from GasPrice
	Fields     TxField     `json:"fields"`
}

// NewTx returns a Tx with every field set.
func NewTx(hash common.Hash, blockMined, gasPrice, gasLimit uint64) Tx {
	return Tx{
		Hash:       hash,
		BlockMined: blockMined,
		GasPrice:   gasPrice,
		GasLimit:   gasLimit,
		Bucket:     gas.Bucketize(gasPrice),
		Fields:     FieldBlockMined | FieldGasPrice | FieldGasLimit,
	}
}

func (tx *Tx) Has(f TxField) bool {
	return tx.Fields&f != 0
}

// Merge fills in the fields of tx which are not yet set with those of other.
// Fields that are already set are never overwritten. Hashes must match.
func (tx *Tx) Merge(other Tx) {
	if tx.Hash != other.Hash {
		panic(fmt.Sprintf("Tx.Merge: hash mismatch %s != %s", tx.Hash.Hex(), other.Hash.Hex()))
	}
	if !tx.Has(FieldBlockMined) && other.Has(FieldBlockMined) {
		tx.BlockMined = other.BlockMined
		tx.Fields |= FieldBlockMined
	}
	if !tx.Has(FieldGasPrice) && other.Has(FieldGasPrice) {
		tx.GasPrice = other.GasPrice
		tx.Bucket = gas.Bucketize(other.GasPrice)
		tx.Fields |= FieldGasPrice
	}
	if !tx.Has(FieldGasLimit) && other.Has(FieldGasLimit) {
		tx.GasLimit = other.GasLimit
		tx.Fields |= FieldGasLimit
	}
}

type BlockStat struct {
	// Block height
	Height int64 `json:"height"`

	Hash common.Hash `json:"hash"`

	// Block timestamp, Unix time in seconds.
	Time int64 `json:"time"`

	// Minimum bucket accepted in the block; gas.NoBucket if the block had
	// no transactions.
	MinBucket gas.Bucket `json:"minbucket"`

	NumTxs int64 `json:"numtxs"`
}

func (b *BlockStat) String() string {
	return fmt.Sprintf("BlockStat{height: %d, minbucket: %d, numtxs: %d}",
		b.Height, b.MinBucket, b.NumTxs)
}
