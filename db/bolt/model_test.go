package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conroydamien/eth-squid-station/predict"
)

func TestModelDB(t *testing.T) {
	dbfile := filepath.Join(t.TempDir(), "model.db")
	d, err := LoadModelDB(dbfile)
	require.NoError(t, err)

	table, err := d.GetConfirmTable()
	require.NoError(t, err)
	assert.Nil(t, table)

	ref := &predict.ConfirmTable{
		Head:   1234,
		Score:  0.87,
		NumTxs: 512,
		Rows: []predict.ConfirmRow{
			{Bucket: 0, HashpowerAccepting: -1.5, ExpectedBlocks: -1},
			{Bucket: 10, HashpowerAccepting: 50, ExpectedBlocks: 4},
			{Bucket: 20, HashpowerAccepting: 100, ExpectedBlocks: 1},
		},
	}
	require.NoError(t, d.PutConfirmTable(ref))

	// Survives a restart
	require.NoError(t, d.Close())
	d, err = LoadModelDB(dbfile)
	require.NoError(t, err)
	defer d.Close()

	table, err = d.GetConfirmTable()
	require.NoError(t, err)
	assert.Equal(t, ref, table)
}
