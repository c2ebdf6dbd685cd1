package collect

import (
	"go.uber.org/zap"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
)

// processBlock summarizes a block and extracts its txs.
func processBlock(block Block, logger *zap.Logger) (*est.BlockStat, []est.Tx) {
	blockTxs := block.Txs()
	b := &est.BlockStat{
		Height:    block.Height(),
		Hash:      block.Hash(),
		Time:      block.Time(),
		MinBucket: gas.NoBucket,
		NumTxs:    int64(len(blockTxs)),
	}

	txs := make([]est.Tx, len(blockTxs))
	for i, btx := range blockTxs {
		tx := est.NewTx(btx.Hash(), uint64(b.Height), btx.GasPrice(), btx.GasLimit())
		if b.MinBucket == gas.NoBucket || tx.Bucket < b.MinBucket {
			b.MinBucket = tx.Bucket
		}
		txs[i] = tx
	}

	logger.Debug("Processed block",
		zap.Int64("height", b.Height),
		zap.Int64("txs", b.NumTxs),
		zap.Int64("minbucket", int64(b.MinBucket)),
		zap.Stringer("hash", b.Hash))
	return b, txs
}
