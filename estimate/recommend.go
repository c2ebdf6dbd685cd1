package estimate

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/conroydamien/eth-squid-station/gas"
)

// Undefined is the value of a recommendation tier that no bucket satisfied.
const Undefined = -1

type PredictionRow struct {
	Bucket             gas.Bucket `json:"bucket"`
	HashpowerAccepting int        `json:"hashpower_accepting"`
}

// PredictionTable lists the hashpower accepting each bucket of gas.Domain, in
// ascending bucket order.
type PredictionTable []PredictionRow

// NewPredictionTable evaluates the curve over gas.Domain. Percentages are
// truncated to whole numbers.
func NewPredictionTable(c Curve) PredictionTable {
	domain := gas.Domain()
	t := make(PredictionTable, len(domain))
	for i, b := range domain {
		t[i] = PredictionRow{Bucket: b, HashpowerAccepting: int(c.Lookup(b))}
	}
	return t
}

// Lookup returns the row of the highest table bucket <= b. Buckets below the
// table range map to the first row.
func (t PredictionTable) Lookup(b gas.Bucket) PredictionRow {
	r := t[0]
	for _, row := range t {
		if row.Bucket > b {
			break
		}
		r = row
	}
	return r
}

// minBucket returns the lowest bucket accepted by at least pct percent of the
// hashpower, or gas.NoBucket.
func (t PredictionTable) minBucket(pct float64) gas.Bucket {
	for _, row := range t {
		if float64(row.HashpowerAccepting) >= pct {
			return row.Bucket
		}
	}
	return gas.NoBucket
}

// fastest returns the lowest bucket achieving the table's maximum acceptance.
func (t PredictionTable) fastest() gas.Bucket {
	best := gas.NoBucket
	max := -1
	for _, row := range t {
		// Strict inequality: on ties the first (cheapest) bucket wins.
		if row.HashpowerAccepting > max {
			max = row.HashpowerAccepting
			best = row.Bucket
		}
	}
	return best
}

// Thresholds are the hashpower acceptance percentages defining the tiers.
type Thresholds struct {
	SafeLow  float64 `yaml:"safelow" json:"safelow"`
	Standard float64 `yaml:"standard" json:"standard"`
	Fast     float64 `yaml:"fast" json:"fast"`
}

var DefaultThresholds = Thresholds{SafeLow: 35, Standard: 60, Fast: 90}

func (t Thresholds) Validate() error {
	if t.SafeLow <= 0 || t.Fast > 100 {
		return errors.Errorf("thresholds must lie in (0, 100]: %+v", t)
	}
	if t.SafeLow > t.Standard || t.Standard > t.Fast {
		return errors.Errorf("thresholds must satisfy safelow <= standard <= fast: %+v", t)
	}
	return nil
}

type Tier int

const (
	SafeLow Tier = iota
	Standard
	Fast
	Fastest
)

func (t Tier) String() string {
	switch t {
	case SafeLow:
		return "safeLow"
	case Standard:
		return "standard"
	case Fast:
		return "fast"
	case Fastest:
		return "fastest"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ThresholdError reports the tiers for which no bucket reached the required
// acceptance.
type ThresholdError struct {
	Tiers []Tier
}

func (err *ThresholdError) Error() string {
	names := make([]string, len(err.Tiers))
	for i, t := range err.Tiers {
		names[i] = t.String()
	}
	return fmt.Sprintf("no bucket satisfies the threshold of tier(s) %s",
		strings.Join(names, ", "))
}

// Recommendation holds the tier prices in gwei.
type Recommendation struct {
	SafeLow   float64 `json:"safeLow"`
	Standard  float64 `json:"standard"`
	Fast      float64 `json:"fast"`
	Fastest   float64 `json:"fastest"`
	BlockTime float64 `json:"block_time"`
	BlockNum  int64   `json:"blockNum"`
}

// Recommend derives the tier prices from the table. Tiers with no satisfying
// bucket are set to Undefined and reported through a *ThresholdError; the
// other tiers are still filled in.
func Recommend(t PredictionTable, th Thresholds, blockTime float64, head int64) (Recommendation, error) {
	r := Recommendation{
		Fastest:   t.fastest().Gwei(),
		BlockTime: blockTime,
		BlockNum:  head,
	}
	var missing []Tier
	tiers := []struct {
		tier Tier
		pct  float64
		dst  *float64
	}{
		{SafeLow, th.SafeLow, &r.SafeLow},
		{Standard, th.Standard, &r.Standard},
		{Fast, th.Fast, &r.Fast},
	}
	for _, tier := range tiers {
		b := t.minBucket(tier.pct)
		if b == gas.NoBucket {
			*tier.dst = Undefined
			missing = append(missing, tier.tier)
			continue
		}
		*tier.dst = b.Gwei()
	}
	if len(missing) > 0 {
		return r, &ThresholdError{Tiers: missing}
	}
	return r, nil
}

// Fallback replaces undefined tiers with the Fastest price, the cheapest price
// accepted by the most hashpower. The tier ordering is preserved.
func (r *Recommendation) Fallback() {
	for _, p := range []*float64{&r.SafeLow, &r.Standard, &r.Fast} {
		if *p == Undefined {
			*p = r.Fastest
		}
	}
}

func (r Recommendation) String() string {
	return fmt.Sprintf("Recommendation{block: %d, safeLow: %g, standard: %g, fast: %g, fastest: %g, blocktime: %.2f}",
		r.BlockNum, r.SafeLow, r.Standard, r.Fast, r.Fastest, r.BlockTime)
}
