// Package gas defines the gas price buckets that all aggregation in the oracle
// is keyed on.
package gas

import (
	"math"
)

const (
	// NoBucket marks the absence of a bucket, e.g. the minimum accepted
	// bucket of a block without transactions.
	NoBucket Bucket = -1

	// MaxBucket is the highest bucket of the prediction domain (100 gwei).
	MaxBucket Bucket = 1000

	weiPerDecigwei = 100000000  // 1e8
	weiPerGwei     = 1000000000 // 1e9
)

// Bucket is a quantized gas price in units of 0.1 gwei (decigwei). Below
// 1 gwei the granularity is 0.1 gwei; from 1 gwei upwards it is 1 gwei, so
// the buckets are {0,1,...,9,10,20,30,...}.
type Bucket int64

// Bucketize quantizes a gas price in wei.
func Bucketize(wei uint64) Bucket {
	switch {
	case wei >= weiPerGwei:
		// x >= 10 decigwei: snap down to a multiple of ten.
		return Bucket(wei/weiPerGwei) * 10
	case wei >= weiPerDecigwei:
		return Bucket(wei / weiPerDecigwei)
	default:
		return 0
	}
}

// FromGwei buckets a price given in gwei.
func FromGwei(gwei float64) Bucket {
	if gwei <= 0 || math.IsNaN(gwei) {
		return 0
	}
	wei := math.Round(gwei * weiPerGwei)
	if wei >= math.MaxUint64 {
		return Bucketize(math.MaxUint64)
	}
	return Bucketize(uint64(wei))
}

// Gwei converts the bucket to gwei.
func (b Bucket) Gwei() float64 {
	return float64(b) / 10
}

// Domain returns the fixed, ascending set of buckets the prediction table is
// evaluated on: 0..9 in steps of 1 and 10..1000 in steps of 10 (100 buckets).
func Domain() []Bucket {
	d := make([]Bucket, 0, 100)
	for b := Bucket(0); b < 10; b++ {
		d = append(d, b)
	}
	for b := Bucket(10); b <= MaxBucket; b += 10 {
		d = append(d, b)
	}
	return d
}

// Grid returns the buckets 0, step, 2*step, ... up to and including max.
func Grid(step, max Bucket) []Bucket {
	if step <= 0 {
		panic("gas: grid step must be positive")
	}
	g := make([]Bucket, 0, max/step+1)
	for b := Bucket(0); b <= max; b += step {
		g = append(g, b)
	}
	return g
}
