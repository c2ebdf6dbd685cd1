package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	est "github.com/conroydamien/eth-squid-station/estimate"
)

// ErrNotYetMined is returned by a BlockGetter when the requested height is
// above the chain head.
var ErrNotYetMined = errors.New("block not yet mined")

type Block interface {
	Height() int64
	Hash() common.Hash
	Time() int64 // Unix seconds
	Txs() []BlockTx
}

type BlockTx interface {
	Hash() common.Hash
	GasPrice() uint64 // wei
	GasLimit() uint64
}

type HeightGetter func(ctx context.Context) (int64, error)
type BlockGetter func(ctx context.Context, height int64) (Block, error)

type TxDB interface {
	Merge([]est.Tx) error
	Delete(start, end uint64) error
}

type BlockStatDB interface {
	est.BlockStatDB
	Put([]*est.BlockStat) error
	Delete(start, end int64) error
	Last() (*est.BlockStat, error)
}

// Publisher hands the result of a cycle to the outside world.
type Publisher interface {
	Publish(c *Cycle) error
}

// Cycle is the result of one committed ingestion cycle.
type Cycle struct {
	Height         int64
	Window         *est.Window
	Table          est.PredictionTable
	Recommendation est.Recommendation

	// Tiers which had no satisfying bucket and were filled in with the
	// fastest price.
	Fallback []est.Tier

	// False if the window had no acceptance data, in which case Table and
	// Recommendation are unset.
	Published bool

	Duration time.Duration
}

func (c *Cycle) String() string {
	if !c.Published {
		return fmt.Sprintf("Cycle{height: %d, no acceptance data}", c.Height)
	}
	return fmt.Sprintf("Cycle{height: %d, %s}", c.Height, c.Recommendation)
}

// State is the stage of the ingestion cycle the Collector is in.
type State int32

const (
	Idle State = iota
	Fetching
	Merging
	Analyzing
	Publishing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	case Analyzing:
		return "analyzing"
	case Publishing:
		return "publishing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TransientError is a BlockSource failure which may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
func (e *TransientError) Cause() error  { return e.Err }

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindNotYetMined
	KindStore
	KindAnalyze
	KindPublish
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotYetMined:
		return "notyetmined"
	case KindStore:
		return "store"
	case KindAnalyze:
		return "analyze"
	case KindPublish:
		return "publish"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// CycleError reports a failed cycle. The block at Height is retried on the
// next tick.
type CycleError struct {
	Height int64
	State  State
	Kind   ErrorKind
	Err    error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("block %d: %s (%s): %v", e.Height, e.State, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }
func (e *CycleError) Cause() error  { return e.Err }

// fetchErrorKind classifies a BlockGetter error.
func fetchErrorKind(err error) ErrorKind {
	if errors.Is(err, ErrNotYetMined) {
		return KindNotYetMined
	}
	return KindTransient
}
