package collect

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
	"github.com/conroydamien/eth-squid-station/testutil"
)

func TestProcessBlock(t *testing.T) {
	block := &testutil.Block{
		Number:    100,
		Hash:      common.HexToHash("0x64"),
		Timestamp: 1500000000,
		Txs: []testutil.Tx{
			{Hash: common.HexToHash("0x01"), GasPrice: 21e9, Gas: 21000},
			{Hash: common.HexToHash("0x02"), GasPrice: 5e8, Gas: 50000},
			{Hash: common.HexToHash("0x03"), GasPrice: 1e9, Gas: 90000},
		},
	}
	b, txs := processBlock(chainBlock{block}, zap.NewNop())
	assert.Equal(t, &est.BlockStat{
		Height:    100,
		Hash:      block.Hash,
		Time:      1500000000,
		MinBucket: 5,
		NumTxs:    3,
	}, b)

	require.Len(t, txs, 3)
	assert.Equal(t, est.NewTx(common.HexToHash("0x01"), 100, 21e9, 21000), txs[0])
	assert.Equal(t, gas.Bucket(210), txs[0].Bucket)
	assert.Equal(t, gas.Bucket(5), txs[1].Bucket)
	assert.Equal(t, gas.Bucket(10), txs[2].Bucket)

	// Empty block
	b, txs = processBlock(chainBlock{&testutil.Block{Number: 101}}, zap.NewNop())
	assert.Equal(t, gas.NoBucket, b.MinBucket)
	assert.Equal(t, int64(0), b.NumTxs)
	assert.Empty(t, txs)
}
