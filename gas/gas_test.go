package gas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketize(t *testing.T) {
	tests := []struct {
		wei    uint64
		bucket Bucket
	}{
		{0, 0},
		{50000000, 0},      // 0.5 decigwei
		{99999999, 0},      // just under 1 decigwei
		{100000000, 1},     // 1 decigwei
		{320000000, 3},     // 3.2 decigwei
		{999999999, 9},     // 9.99.. decigwei
		{1000000000, 10},   // 1 gwei
		{2500000000, 20},   // 25 decigwei snaps down to 20
		{19999999999, 190}, // 199.99.. decigwei
		{100000000000, 1000},
		{250000000000, 2500},
	}
	for _, test := range tests {
		assert.Equal(t, test.bucket, Bucketize(test.wei), "wei=%d", test.wei)
	}
}

func TestFromGwei(t *testing.T) {
	assert.Equal(t, Bucket(20), FromGwei(2.5))
	assert.Equal(t, Bucket(3), FromGwei(0.32))
	assert.Equal(t, Bucket(0), FromGwei(-1))
	assert.Equal(t, Bucket(410), FromGwei(41))
}

func TestDomain(t *testing.T) {
	d := Domain()
	assert.Len(t, d, 100)
	assert.Equal(t, Bucket(0), d[0])
	assert.Equal(t, Bucket(9), d[9])
	assert.Equal(t, Bucket(10), d[10])
	assert.Equal(t, MaxBucket, d[len(d)-1])
	for i := 1; i < len(d); i++ {
		assert.Less(t, d[i-1], d[i])
	}
}

func TestGrid(t *testing.T) {
	g := Grid(10, MaxBucket)
	assert.Len(t, g, 101)
	assert.Equal(t, Bucket(0), g[0])
	assert.Equal(t, MaxBucket, g[100])
	assert.Equal(t, 1.5, Bucket(15).Gwei())
}
