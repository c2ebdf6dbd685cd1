package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	col "github.com/conroydamien/eth-squid-station/collect"
	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
	"github.com/conroydamien/eth-squid-station/predict"
)

func testCycle(height int64) *col.Cycle {
	blocks := []*est.BlockStat{
		{Height: 100, MinBucket: 10},
		{Height: 101, MinBucket: 20},
		{Height: 102, MinBucket: 10},
	}
	table := est.NewPredictionTable(est.NewCurve(blocks))
	rec, _ := est.Recommend(table, est.DefaultThresholds, 15, height)
	return &col.Cycle{Height: height, Table: table, Recommendation: rec, Published: true}
}

func readJSON(t *testing.T, path string, v interface{}) {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func TestPublish(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Publish(testCycle(102)))

	var rec map[string]float64
	readJSON(t, filepath.Join(dir, GasPriceFile), &rec)
	assert.Equal(t, map[string]float64{
		"safeLow":    1,
		"standard":   1,
		"fast":       2,
		"fastest":    2,
		"block_time": 15,
		"blockNum":   102,
	}, rec)

	var rows []PredictRow
	readJSON(t, filepath.Join(dir, PredictTableFile), &rows)
	require.Len(t, rows, 100)
	assert.Equal(t, PredictRow{GasPrice: 0, HashpowerAccepting: 0}, rows[0])
	assert.Equal(t, PredictRow{GasPrice: 1, HashpowerAccepting: 66}, rows[10])
	assert.Equal(t, PredictRow{GasPrice: 100, HashpowerAccepting: 100}, rows[99])

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPublishUnchanged(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Publish(testCycle(102)))

	path := filepath.Join(dir, GasPriceFile)
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, s.Publish(testCycle(102)))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, old.Equal(fi.ModTime()))

	require.NoError(t, s.Publish(testCycle(103)))
	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.False(t, old.Equal(fi.ModTime()))
}

func TestPublishError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Publish(testCycle(102)))

	// The previous documents stay in place if the sink can't write.
	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, s.Publish(testCycle(103)))
}

func TestPublishPartial(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Publish(testCycle(102)))
	tablePath := filepath.Join(dir, PredictTableFile)
	oldTable, err := os.ReadFile(tablePath)
	require.NoError(t, err)

	// A cycle with a different table, whose recommendation can't be renamed
	// into place.
	c := testCycle(103)
	c.Table = est.NewPredictionTable(est.NewCurve([]*est.BlockStat{
		{Height: 102, MinBucket: 30},
		{Height: 103, MinBucket: 40},
	}))
	recPath := filepath.Join(dir, GasPriceFile)
	require.NoError(t, os.Remove(recPath))
	require.NoError(t, os.MkdirAll(filepath.Join(recPath, "x"), 0755))
	require.Error(t, s.Publish(c))

	table, err := os.ReadFile(tablePath)
	require.NoError(t, err)
	assert.Equal(t, oldTable, table)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// The retry writes both documents.
	require.NoError(t, os.RemoveAll(recPath))
	require.NoError(t, s.Publish(c))
	table, err = os.ReadFile(tablePath)
	require.NoError(t, err)
	assert.NotEqual(t, oldTable, table)
	var rec map[string]float64
	readJSON(t, recPath, &rec)
	assert.Equal(t, 103.0, rec["blockNum"])
}

func TestPublishPartialNew(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, GasPriceFile, "x"), 0755))

	// Nothing was published before, so nothing is left behind.
	require.Error(t, s.Publish(testCycle(102)))
	_, err = os.Stat(filepath.Join(dir, PredictTableFile))
	assert.True(t, os.IsNotExist(err))
}

func TestPublishConfirmTable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(Config{OutDir: dir})
	require.NoError(t, err)
	table := &predict.ConfirmTable{
		Head:   500,
		Score:  0.75,
		NumTxs: 40,
		Rows: []predict.ConfirmRow{
			{Bucket: 0, HashpowerAccepting: -2, ExpectedBlocks: -1},
			{Bucket: 10, HashpowerAccepting: 50, ExpectedBlocks: 4},
			{Bucket: gas.MaxBucket, HashpowerAccepting: 100, ExpectedBlocks: 1},
		},
	}
	require.NoError(t, s.PublishConfirmTable(table, 15))

	var doc ConfirmDoc
	readJSON(t, filepath.Join(dir, ConfirmTableFile), &doc)
	assert.Equal(t, ConfirmDoc{
		BlockNum:     500,
		ConfirmScore: 0.75,
		NumTxs:       40,
		Rows: []ConfirmRow{
			{GasPrice: 0, HashpowerAccepting: -2, ExpectedBlocks: -1, ExpectedMinutes: -1},
			{GasPrice: 1, HashpowerAccepting: 50, ExpectedBlocks: 4, ExpectedMinutes: 1},
			{GasPrice: 100, HashpowerAccepting: 100, ExpectedBlocks: 1, ExpectedMinutes: 0.25},
		},
	}, doc)
}
