package estimate

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrNoAcceptanceData is returned when no block in the window had any
// transactions, so that no acceptance curve can be built.
var ErrNoAcceptanceData = errors.New("no non-empty blocks in window")

type WindowConfig struct {
	// Number of trailing blocks analyzed.
	Size int64 `yaml:"window" json:"window"`
}

type Window struct {
	Head   int64        `json:"head"`
	Blocks []*BlockStat `json:"-"`
	Curve  Curve        `json:"curve"`

	// Average block interval in seconds.
	BlockInterval float64 `json:"blockinterval"`
}

// AnalyzeWindow builds the acceptance curve and average block interval from
// the BlockStats with heights (head-size, head].
func AnalyzeWindow(head int64, c WindowConfig, db BlockStatDB) (*Window, error) {
	b, err := db.Get(head-c.Size+1, head)
	if err != nil {
		return nil, errors.Wrap(err, "BlockStatDB.Get")
	}
	w := &Window{
		Head:          head,
		Blocks:        b,
		Curve:         NewCurve(b),
		BlockInterval: AvgBlockInterval(b),
	}
	if w.Curve.Len() == 0 {
		return w, ErrNoAcceptanceData
	}
	return w, nil
}

// AvgBlockInterval returns the mean time between consecutive blocks. Pairs
// which are not adjacent in height, or whose time difference is negative, are
// ignored. If no pair qualifies, the default of 15 seconds is returned.
func AvgBlockInterval(blocks []*BlockStat) float64 {
	b := make([]*BlockStat, len(blocks))
	copy(b, blocks)
	sort.Slice(b, func(i, j int) bool { return b[i].Height < b[j].Height })

	var (
		sum float64
		n   int
	)
	for i := 1; i < len(b); i++ {
		if b[i].Height-b[i-1].Height != 1 {
			continue
		}
		d := b[i].Time - b[i-1].Time
		if d < 0 {
			continue
		}
		sum += float64(d)
		n++
	}
	if n == 0 {
		return defaultBlockInterval
	}
	return sum / float64(n)
}
