package bolt

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
)

func sortTxs(txs []est.Tx) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Hash.Hex() < txs[j].Hash.Hex()
	})
}

func TestTxDB(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "tx.db")
	txsRef := []est.Tx{
		est.NewTx(common.HexToHash("0x0a"), 100, 5e9, 21000),
		est.NewTx(common.HexToHash("0x0b"), 101, 2e8, 50000),
		est.NewTx(common.HexToHash("0x0c"), 102, 12e9, 90000),
	}

	d, err := LoadTxDB(dbfile)
	require.NoError(t, err)

	// Shouldn't be able to load again
	_, err = LoadTxDB(dbfile)
	assert.Equal(t, bolt.ErrTimeout, err)

	// Close and reopen
	require.NoError(t, d.Close())
	d, err = LoadTxDB(dbfile)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Merge(txsRef))
	txs, err := d.Snapshot()
	require.NoError(t, err)
	sortTxs(txs)
	assert.Equal(t, txsRef, txs)

	n, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Delete by block range
	require.NoError(t, d.Delete(0, 101))
	txs, err = d.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, txsRef[2:], txs)

	_, ok, err := d.Get(txsRef[0].Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Delete(103, 102))
	n, err = d.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTxDBMerge(t *testing.T) {
	d, err := LoadTxDB(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	defer d.Close()

	hash := common.HexToHash("0xabc")
	partial := est.Tx{Hash: hash, GasLimit: 21000, Fields: est.FieldGasLimit}
	require.NoError(t, d.Merge([]est.Tx{partial}))

	// Set fields are kept, missing ones filled in.
	require.NoError(t, d.Merge([]est.Tx{est.NewTx(hash, 7, 3e9, 99999)}))
	tx, ok, err := d.Get(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(21000), tx.GasLimit)
	assert.Equal(t, uint64(7), tx.BlockMined)
	assert.Equal(t, uint64(3e9), tx.GasPrice)
	assert.Equal(t, gas.Bucket(30), tx.Bucket)
	assert.True(t, tx.Has(est.FieldBlockMined|est.FieldGasPrice|est.FieldGasLimit))

	// Replaying is idempotent.
	require.NoError(t, d.Merge([]est.Tx{est.NewTx(hash, 8, 1e9, 1)}))
	replayed, _, err := d.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, tx, replayed)

	n, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The index follows the first BlockMined.
	require.NoError(t, d.Delete(8, 8))
	_, ok, err = d.Get(hash)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, d.Delete(7, 7))
	_, ok, err = d.Get(hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
