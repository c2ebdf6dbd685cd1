package estimate

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conroydamien/eth-squid-station/gas"
)

// Test implementation of BlockStatDB
type BlockStatMemDB struct {
	b   []*BlockStat
	err error
}

func (d *BlockStatMemDB) Get(start, end int64) (result []*BlockStat, err error) {
	if d.err != nil {
		return nil, d.err
	}
	for _, _b := range d.b {
		if start <= _b.Height && _b.Height <= end {
			result = append(result, _b)
		}
	}
	return
}

func stats(minBuckets map[int64]gas.Bucket) *BlockStatMemDB {
	d := &BlockStatMemDB{}
	for h := int64(0); h < 1000; h++ {
		if m, ok := minBuckets[h]; ok {
			d.b = append(d.b, &BlockStat{Height: h, Time: h * 15, MinBucket: m, NumTxs: 1})
		}
	}
	return d
}

func TestAnalyzeWindow(t *testing.T) {
	db := stats(map[int64]gas.Bucket{100: 10, 101: 20, 102: 10})
	w, err := AnalyzeWindow(102, WindowConfig{Size: 200}, db)
	require.NoError(t, err)

	assert.Equal(t, map[gas.Bucket]int64{10: 2, 20: 1}, Histogram(w.Blocks))
	assert.Equal(t, []gas.Bucket{10, 20}, w.Curve.Buckets)
	assert.InDelta(t, 66.7, w.Curve.Pct[0], 0.05)
	assert.Equal(t, 100.0, w.Curve.Pct[1])
	assert.InDelta(t, 66.7, w.Curve.Lookup(15), 0.05)
	assert.Equal(t, 0.0, w.Curve.Lookup(9))
	assert.Equal(t, 100.0, w.Curve.Lookup(20))
	assert.Equal(t, 100.0, w.Curve.Lookup(21))
	assert.Equal(t, 15.0, w.BlockInterval)

	// Window boundary: only heights > head-size are included.
	w, err = AnalyzeWindow(102, WindowConfig{Size: 2}, db)
	require.NoError(t, err)
	assert.Equal(t, map[gas.Bucket]int64{10: 1, 20: 1}, Histogram(w.Blocks))
	assert.Equal(t, 50.0, w.Curve.Lookup(10))
}

func TestAnalyzeWindowEmpty(t *testing.T) {
	db := stats(map[int64]gas.Bucket{5: gas.NoBucket, 6: gas.NoBucket})
	w, err := AnalyzeWindow(6, WindowConfig{Size: 200}, db)
	assert.Equal(t, ErrNoAcceptanceData, err)
	require.NotNil(t, w)
	assert.Len(t, w.Blocks, 2)

	dbErr := errors.New("db closed")
	_, err = AnalyzeWindow(6, WindowConfig{Size: 200}, &BlockStatMemDB{err: dbErr})
	assert.True(t, errors.Is(err, dbErr))
}

func TestHistogramExcludesEmptyBlocks(t *testing.T) {
	db := stats(map[int64]gas.Bucket{1: 30, 2: gas.NoBucket, 3: 30, 4: 5})
	c := NewCurve(db.b)
	assert.Equal(t, []gas.Bucket{5, 30}, c.Buckets)
	assert.InDelta(t, 100.0/3, c.Pct[0], 1e-9)
	assert.Equal(t, 100.0, c.Pct[1])
}

func TestLookupMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		var blocks []*BlockStat
		n := rng.Intn(50) + 1
		for i := 0; i < n; i++ {
			m := gas.Bucketize(uint64(rng.Int63n(200e9)))
			if rng.Intn(10) == 0 {
				m = gas.NoBucket
			}
			blocks = append(blocks, &BlockStat{Height: int64(i), MinBucket: m})
		}
		c := NewCurve(blocks)
		prev := c.Lookup(-1)
		for b := gas.Bucket(0); b <= 2100; b++ {
			p := c.Lookup(b)
			require.GreaterOrEqual(t, p, prev, "bucket %d, curve %s", b, c)
			require.True(t, p >= 0 && p <= 100)
			prev = p
		}
	}
}

func TestAvgBlockInterval(t *testing.T) {
	blocks := []*BlockStat{
		{Height: 6, Time: 215},
		{Height: 1, Time: 100},
		{Height: 2, Time: 112},
		{Height: 3, Time: 110}, // negative diff
		{Height: 5, Time: 200}, // height gap
	}
	assert.Equal(t, 13.5, AvgBlockInterval(blocks))
	// Input order is untouched.
	assert.Equal(t, int64(6), blocks[0].Height)

	assert.Equal(t, 15.0, AvgBlockInterval(nil))
	assert.Equal(t, 15.0, AvgBlockInterval(blocks[:2]))
}
