/*
Package collect contains routines for collecting data from an Ethereum node,
which is then used by package estimate.

The Collector processes mined blocks strictly in height order, lagging the
chain head by a few blocks. Each block runs through a full cycle: it is
fetched, merged into the stores, the window is analyzed, and the resulting
recommendation is published. The cursor only moves past a block once its cycle
has committed, so a failed block is retried on the next tick.
*/
package collect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	est "github.com/conroydamien/eth-squid-station/estimate"
)

type Config struct {
	est.WindowConfig `yaml:",inline"`

	Thresholds est.Thresholds `yaml:"thresholds" json:"thresholds"`

	// Seconds between polls of the chain head.
	PollPeriod int `yaml:"pollperiod" json:"pollperiod"`

	// Number of blocks to stay behind the chain head.
	Lag int64 `yaml:"lag" json:"lag"`

	// Number of blocks to process below head-lag when starting without
	// usable stored data.
	Backfill int64 `yaml:"backfill" json:"backfill"`

	// Per-attempt timeout in seconds, and the max number of retries, of
	// block fetches.
	FetchTimeout int    `yaml:"fetchtimeout" json:"fetchtimeout"`
	FetchRetries uint64 `yaml:"fetchretries" json:"fetchretries"`

	GetHeight HeightGetter `yaml:"-" json:"-"`
	GetBlock  BlockGetter  `yaml:"-" json:"-"`
	Publisher Publisher    `yaml:"-" json:"-"`
	Logger    *zap.Logger  `yaml:"-" json:"-"`
}

// NOTE: C and E chans must be serviced.
type Collector struct {
	C <-chan *Cycle
	E <-chan error

	txdb  TxDB
	blkdb BlockStatDB
	cfg   Config

	state  atomic.Int32
	cursor int64
	head   int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mux    sync.RWMutex
}

func NewCollector(tdb TxDB, bdb BlockStatDB, cfg Config) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		txdb:   tdb,
		blkdb:  bdb,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return c
}

// State returns the stage of the current cycle.
func (c *Collector) State() State {
	return State(c.state.Load())
}

func (c *Collector) setState(s State) {
	c.state.Store(int32(s))
}

// Cursor returns the height of the next block to be processed.
func (c *Collector) Cursor() int64 {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.cursor
}

// Head returns the chain head as last polled.
func (c *Collector) Head() int64 {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.head
}

func (c *Collector) setCursor(h int64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.cursor = h
}

func (c *Collector) setHead(h int64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.head = h
}

// Run positions the cursor and starts the collection loop. An error is
// returned if the chain head or the stored data can't be read.
func (c *Collector) Run() error {
	logger := c.cfg.Logger

	head, err := c.getHeight()
	if err != nil {
		return errors.Wrap(err, "GetHeight")
	}
	last, err := c.blkdb.Last()
	if err != nil {
		return errors.Wrap(err, "BlockStatDB.Last")
	}
	c.setHead(head)
	c.setCursor(c.startCursor(head, last))
	logger.Info("Collector starting",
		zap.Int64("head", head), zap.Int64("cursor", c.Cursor()), zap.Int64("lag", c.cfg.Lag))

	cc := make(chan *Cycle)
	ec := make(chan error)
	c.C = cc
	c.E = ec
	go c.run(cc, ec)
	return nil
}

// startCursor resumes after the last stored block if that is still inside
// the window; otherwise it backfills a few blocks below the lagged head.
func (c *Collector) startCursor(head int64, last *est.BlockStat) int64 {
	tip := head - c.cfg.Lag
	if last != nil && last.Height > tip-c.cfg.Size && last.Height <= tip {
		return last.Height + 1
	}
	start := tip - c.cfg.Backfill + 1
	if start < 0 {
		start = 0
	}
	return start
}

func (c *Collector) Stop() {
	if err := c.closeDone(); err != nil {
		return
	}
	c.cancel()
	if c.E == nil {
		return
	}
	// Block until the err chan is closed when run terminates.
	for range c.E {
	}
}

func (c *Collector) run(cc chan<- *Cycle, ec chan<- error) {
	defer close(ec)
	defer close(cc)
	defer c.setState(Idle)

	logger := c.cfg.Logger
	ticker := time.NewTicker(time.Duration(c.cfg.PollPeriod) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.done:
			return
		}

		head, err := c.getHeight()
		if err != nil {
			cerr := &CycleError{Height: c.Cursor(), State: Fetching, Kind: KindTransient, Err: err}
			if !c.send(ec, cerr) {
				return
			}
			continue
		}
		if prev := c.Head(); head < prev {
			logger.Warn("Chain head decreased", zap.Int64("prev", prev), zap.Int64("head", head))
		}
		c.setHead(head)

		for c.Cursor() <= head-c.cfg.Lag {
			cycle, err := c.cycle(c.Cursor())
			if err != nil {
				if !c.send(ec, err) {
					return
				}
				break
			}
			select {
			case cc <- cycle:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Collector) send(ec chan<- error, err error) bool {
	select {
	case ec <- err:
		return true
	case <-c.done:
		return false
	}
}

// cycle processes the block at height. On success the block is committed and
// the cursor advanced to height+1; on failure nothing is advanced.
func (c *Collector) cycle(height int64) (*Cycle, error) {
	logger := c.cfg.Logger
	start := time.Now()
	defer c.setState(Idle)
	fail := func(s State, k ErrorKind, err error) error {
		return &CycleError{Height: height, State: s, Kind: k, Err: err}
	}

	c.setState(Fetching)
	block, err := c.fetch(height)
	if err != nil {
		return nil, fail(Fetching, fetchErrorKind(err), err)
	}

	c.setState(Merging)
	b, txs := processBlock(block, logger)
	if err := c.blkdb.Put([]*est.BlockStat{b}); err != nil {
		return nil, fail(Merging, KindStore, errors.Wrap(err, "BlockStatDB.Put"))
	}
	if err := c.txdb.Merge(txs); err != nil {
		return nil, fail(Merging, KindStore, errors.Wrap(err, "TxDB.Merge"))
	}

	c.setState(Analyzing)
	cycle := &Cycle{Height: height}
	w, err := est.AnalyzeWindow(height, c.cfg.WindowConfig, c.blkdb)
	cycle.Window = w
	switch {
	case err == est.ErrNoAcceptanceData:
		logger.Warn("No acceptance data in window, not publishing", zap.Int64("height", height))
	case err != nil:
		return nil, fail(Analyzing, KindAnalyze, err)
	default:
		cycle.Table = est.NewPredictionTable(w.Curve)
		rec, err := est.Recommend(cycle.Table, c.cfg.Thresholds, w.BlockInterval, height)
		if err != nil {
			var terr *est.ThresholdError
			if !errors.As(err, &terr) {
				return nil, fail(Analyzing, KindAnalyze, err)
			}
			rec.Fallback()
			cycle.Fallback = terr.Tiers
			logger.Warn("Recommendation fallback to fastest price",
				zap.Int64("height", height), zap.Error(err))
		}
		cycle.Recommendation = rec

		c.setState(Publishing)
		if err := c.cfg.Publisher.Publish(cycle); err != nil {
			return nil, fail(Publishing, KindPublish, errors.Wrap(err, "Publish"))
		}
		cycle.Published = true
	}

	c.evict(height)
	c.setCursor(height + 1)
	cycle.Duration = time.Since(start)
	logger.Debug("Cycle committed", zap.Stringer("cycle", cycle), zap.Duration("duration", cycle.Duration))
	return cycle, nil
}

// fetch gets the block at height, retrying transient failures with
// exponential backoff.
func (c *Collector) fetch(height int64) (Block, error) {
	timeout := time.Duration(c.cfg.FetchTimeout) * time.Second
	var block Block
	op := func() error {
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()
		b, err := c.cfg.GetBlock(ctx, height)
		if errors.Is(err, ErrNotYetMined) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.cfg.Logger.Debug("GetBlock failed", zap.Int64("height", height), zap.Error(err))
			return err
		}
		block = b
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxInterval = time.Duration(c.cfg.PollPeriod) * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.FetchRetries), c.ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return block, nil
}

func (c *Collector) getHeight() (int64, error) {
	ctx, cancel := context.WithTimeout(c.ctx, time.Duration(c.cfg.FetchTimeout)*time.Second)
	defer cancel()
	return c.cfg.GetHeight(ctx)
}

// evict removes the data which has dropped out of the window ending at
// height. Failures are only logged; stale data is removed on a later cycle.
func (c *Collector) evict(height int64) {
	cutoff := height - c.cfg.Size
	if cutoff < 0 {
		return
	}
	if err := c.blkdb.Delete(0, cutoff); err != nil {
		c.cfg.Logger.Error("BlockStatDB.Delete", zap.Error(err))
	}
	if err := c.txdb.Delete(0, uint64(cutoff)); err != nil {
		c.cfg.Logger.Error("TxDB.Delete", zap.Error(err))
	}
}

func (c *Collector) closeDone() error {
	c.mux.Lock()
	defer c.mux.Unlock()
	select {
	case <-c.done: // Already closed
		return errors.New("Collector.done already closed")
	default:
		close(c.done)
		return nil
	}
}
