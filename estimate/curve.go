package estimate

import (
	"fmt"
	"sort"

	"github.com/conroydamien/eth-squid-station/gas"
)

// Curve is the hashpower acceptance curve: for each bucket that was the
// minimum accepted bucket of at least one block, the percentage of blocks
// whose minimum accepted bucket was at or below it.
//
// Buckets is strictly ascending and Pct is nondecreasing.
type Curve struct {
	Buckets []gas.Bucket `json:"buckets"`
	Pct     []float64    `json:"pct"`
}

// Histogram counts the blocks per minimum accepted bucket. Empty blocks are
// excluded.
func Histogram(blocks []*BlockStat) map[gas.Bucket]int64 {
	h := make(map[gas.Bucket]int64)
	for _, b := range blocks {
		if b.MinBucket == gas.NoBucket {
			continue
		}
		h[b.MinBucket]++
	}
	return h
}

// NewCurve builds the acceptance curve from the blocks' minimum accepted
// buckets.
func NewCurve(blocks []*BlockStat) Curve {
	h := Histogram(blocks)
	buckets := make([]gas.Bucket, 0, len(h))
	var total int64
	for b, n := range h {
		buckets = append(buckets, b)
		total += n
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	pct := make([]float64, len(buckets))
	var cum int64
	for i, b := range buckets {
		cum += h[b]
		pct[i] = float64(cum) / float64(total) * 100
	}
	return Curve{Buckets: buckets, Pct: pct}
}

func (c Curve) Len() int {
	return len(c.Buckets)
}

// Lookup returns the percentage of hashpower accepting bucket b. It is a
// right-continuous step function: 0 below the lowest curve bucket, 100 above
// the highest, and otherwise the percentage at the highest curve bucket <= b.
func (c Curve) Lookup(b gas.Bucket) float64 {
	n := len(c.Buckets)
	if n == 0 {
		return 0
	}
	if b > c.Buckets[n-1] {
		return 100
	}
	if b < c.Buckets[0] {
		return 0
	}
	// Smallest i with Buckets[i] > b; the answer is at i-1.
	i := sort.Search(n, func(i int) bool { return c.Buckets[i] > b })
	return c.Pct[i-1]
}

func (c Curve) String() string {
	return fmt.Sprintf("Curve{buckets: %v, pct: %v}", c.Buckets, c.Pct)
}
