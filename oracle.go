package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/conroydamien/eth-squid-station/api"
	col "github.com/conroydamien/eth-squid-station/collect"
	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
	"github.com/conroydamien/eth-squid-station/predict"
	"github.com/conroydamien/eth-squid-station/publish"
)

var errNoResult = errors.New("no recommendation available yet")
var errNoModel = errors.New("confirmation model not trained yet")
var errShutdown = errors.New("oracle is shutting down")

type TxDB interface {
	est.TxDB
	col.TxDB
	Count() (int, error)
	Close() error
}

type BlockStatDB interface {
	col.BlockStatDB
	Close() error
}

// Sink receives the published documents.
type Sink interface {
	col.Publisher
	PublishConfirmTable(t *predict.ConfirmTable, blockInterval float64) error
}

type OracleConfig struct {
	Collect col.Config     `yaml:",inline" json:"collect"`
	Predict predict.Config `yaml:",inline" json:"predict"`

	// Number of committed cycles between retrains of the confirmation model.
	RetrainBlocks int `yaml:"retrainblocks" json:"retrainblocks"`
	TrainTimeout  int `yaml:"traintimeout" json:"traintimeout"` // seconds

	sink   Sink        `yaml:"-" json:"-"`
	logger *zap.Logger `yaml:"-" json:"-"`
}

// Oracle runs the collector, retrains the confirmation model in the
// background, and keeps the latest results for the RPC service.
type Oracle struct {
	cycle  *col.Cycle // Last published cycle
	cycles int64      // Committed cycles since startup

	collect   *col.Collector
	estimator *predict.Estimator
	txdb      TxDB
	blkdb     BlockStatDB
	modeldb   predict.DB
	cfg       OracleConfig

	cycleTimer metrics.Timer
	trainTimer metrics.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	workers sync.WaitGroup
	mux     sync.RWMutex
}

func NewOracle(txdb TxDB, blkdb BlockStatDB, modeldb predict.DB, cfg OracleConfig) (*Oracle, error) {
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.sink == nil {
		return nil, errors.New("no sink configured")
	}
	if cfg.RetrainBlocks < 1 {
		cfg.RetrainBlocks = 1
	}
	cfg.Collect.Logger = cfg.logger.Named("collect")
	cfg.Collect.Publisher = cfg.sink
	collect := col.NewCollector(txdb, blkdb, cfg.Collect)

	cfg.Predict.Logger = cfg.logger.Named("predict")
	estimator, err := predict.NewEstimator(modeldb, cfg.Predict)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Oracle{
		collect:    collect,
		estimator:  estimator,
		txdb:       txdb,
		blkdb:      blkdb,
		modeldb:    modeldb,
		cfg:        cfg,
		cycleTimer: newTimer("cycle", 60*60*24/15), // About one day's worth of blocks
		trainTimer: newTimer("train", 100),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	return o, nil
}

func (o *Oracle) Run() error {
	logger := o.cfg.logger
	o.wg.Add(1)
	defer o.wg.Done()
	defer logger.Info("Oracle all stopped.")
	defer o.closeDBs()
	defer o.workers.Wait()

	logger.Info("Oracle starting up..", zap.String("version", version))
	th := o.cfg.Collect.Thresholds
	logger.Info("Tier thresholds (% of hashpower accepting)",
		zap.Float64("safeLow", th.SafeLow),
		zap.Float64("standard", th.Standard),
		zap.Float64("fast", th.Fast),
		zap.Int64("window", o.cfg.Collect.Size))
	if t := o.estimator.Table(); t != nil {
		logger.Info("Loaded confirmation model",
			zap.Int64("head", t.Head), zap.Float64("score", t.Score))
		confirmScore.Set(t.Score)
	}

	if err := o.collect.Run(); err != nil {
		return err
	}
	defer o.collect.Stop()

	tc := make(chan *col.Cycle)
	o.workers.Add(1)
	go o.trainWorker(tc)

	logger.Info("Oracle startup complete.")
	for {
		select {
		case cycle := <-o.collect.C:
			o.processCycle(cycle, tc)
		case err := <-o.collect.E:
			o.processError(err)
		case <-o.done:
			return nil
		}
	}
}

func (o *Oracle) processCycle(cycle *col.Cycle, tc chan<- *col.Cycle) {
	logger := o.cfg.logger

	cyclesTotal.WithLabelValues("ok").Inc()
	cycleDuration.Observe(cycle.Duration.Seconds())
	o.cycleTimer.Update(cycle.Duration)
	headHeight.Set(float64(o.collect.Head()))
	cursorHeight.Set(float64(o.collect.Cursor()))
	for _, tier := range cycle.Fallback {
		fallbackTotal.WithLabelValues(tier.String()).Inc()
	}

	o.mux.Lock()
	o.cycles++
	n := o.cycles
	if cycle.Published {
		o.cycle = cycle
	}
	o.mux.Unlock()

	if !cycle.Published {
		return
	}
	logger.Info("Published", zap.Stringer("cycle", cycle))

	// Train on every cycle until there is a model.
	if n%int64(o.cfg.RetrainBlocks) != 0 && o.estimator.Table() != nil {
		return
	}
	select {
	case tc <- cycle:
	default:
		logger.Warn("Trainer was busy.", zap.Int64("height", cycle.Height))
	}
}

func (o *Oracle) processError(err error) {
	logger := o.cfg.logger
	cyclesTotal.WithLabelValues(cycleStatus(err)).Inc()

	var cerr *col.CycleError
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case col.KindTransient, col.KindNotYetMined:
			logger.Warn("Collector", zap.Error(err))
			return
		}
	}
	logger.Error("Collector", zap.Error(err))
}

func (o *Oracle) trainWorker(tc <-chan *col.Cycle) {
	logger := o.cfg.logger
	defer o.workers.Done()
	defer logger.Info("Trainer stopped.")

	var cycle *col.Cycle
	for {
		select {
		case cycle = <-tc:
		case <-o.done:
			return
		}
		if _, err := o.train(cycle); err != nil {
			switch {
			case errors.Is(err, predict.ErrInsufficientTxs):
				trainTotal.WithLabelValues("insufficient").Inc()
				logger.Debug("Not enough txs to train", zap.Int64("height", cycle.Height))
			case errors.Is(err, context.Canceled):
				trainTotal.WithLabelValues("cancelled").Inc()
			default:
				trainTotal.WithLabelValues("error").Inc()
				logger.Warn("Training failed, keeping the previous model", zap.Error(err))
			}
			continue
		}
		trainTotal.WithLabelValues("ok").Inc()
	}
}

// train fits the confirmation model on the stored txs, labelled with the
// acceptance curve of cycle, and publishes the new table.
func (o *Oracle) train(cycle *col.Cycle) (*predict.ConfirmTable, error) {
	txs, err := o.txdb.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "TxDB.Snapshot")
	}
	ctx, cancel := context.WithTimeout(o.ctx, time.Duration(o.cfg.TrainTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	t, err := o.estimator.Train(ctx, txs, cycle.Window.Curve, cycle.Height)
	if err != nil {
		return nil, err
	}
	o.trainTimer.UpdateSince(start)
	confirmScore.Set(t.Score)
	o.cfg.logger.Info("Confirmation model trained",
		zap.Int64("head", t.Head), zap.Int("txs", t.NumTxs), zap.Float64("score", t.Score))

	if err := o.cfg.sink.PublishConfirmTable(t, cycle.Window.BlockInterval); err != nil {
		// The table is still served over RPC.
		o.cfg.logger.Error("PublishConfirmTable", zap.Error(err))
	}
	return t, nil
}

func (o *Oracle) Status() map[string]string {
	status := make(map[string]string)

	select {
	case <-o.done:
		status["collector"] = errShutdown.Error()
	default:
		status["collector"] = o.collect.State().String()
	}
	status["head"] = strconv.FormatInt(o.collect.Head(), 10)
	status["cursor"] = strconv.FormatInt(o.collect.Cursor(), 10)

	if cycle, err := o.Cycle(); err != nil {
		status["gasprice"] = err.Error()
	} else {
		status["gasprice"] = fmt.Sprintf("OK (block %d)", cycle.Height)
	}

	if t := o.estimator.Table(); t == nil {
		status["model"] = errNoModel.Error()
	} else {
		status["model"] = fmt.Sprintf("OK (block %d, score %.3f)", t.Head, t.Score)
	}
	return status
}

func (o *Oracle) Stop() {
	o.closeDone()
	o.wg.Wait()
}

// closeDone closes o.done in a concurrent-safe way.
func (o *Oracle) closeDone() {
	o.mux.Lock()
	defer o.mux.Unlock()
	select {
	case <-o.done: // Already closed
	default:
		close(o.done)
		o.cancel()
	}
}

func (o *Oracle) closeDBs() {
	for name, db := range map[string]interface{ Close() error }{
		"TxDB":        o.txdb,
		"BlockStatDB": o.blkdb,
		"ModelDB":     o.modeldb,
	} {
		if err := db.Close(); err != nil {
			o.cfg.logger.Error("Close", zap.String("db", name), zap.Error(err))
		}
	}
}

// Cycle returns the last published cycle.
func (o *Oracle) Cycle() (*col.Cycle, error) {
	o.mux.RLock()
	defer o.mux.RUnlock()
	if o.cycle == nil {
		return nil, errNoResult
	}
	return o.cycle, nil
}

func (o *Oracle) Recommendation() (est.Recommendation, error) {
	cycle, err := o.Cycle()
	if err != nil {
		return est.Recommendation{}, err
	}
	return cycle.Recommendation, nil
}

func (o *Oracle) PredictTable() (est.PredictionTable, error) {
	cycle, err := o.Cycle()
	if err != nil {
		return nil, err
	}
	return cycle.Table, nil
}

// ConfirmTable returns the current confirmation table and the block interval
// used to convert its expected blocks to minutes.
func (o *Oracle) ConfirmTable() (*predict.ConfirmTable, float64, error) {
	t := o.estimator.Table()
	if t == nil {
		return nil, 0, errNoModel
	}
	return t, o.blockInterval(), nil
}

// WaitTime estimates the confirmation time of a gas price in gwei. The
// expected blocks come from the confirmation model if there is one, and
// from the hashpower in the prediction table otherwise.
func (o *Oracle) WaitTime(gwei float64) (*api.WaitTime, error) {
	if gwei < 0 || math.IsNaN(gwei) || math.IsInf(gwei, 0) {
		return nil, errors.Errorf("invalid gas price %v", gwei)
	}
	cycle, err := o.Cycle()
	if err != nil {
		return nil, err
	}
	b := gas.FromGwei(gwei)
	row := cycle.Table.Lookup(b)
	w := &api.WaitTime{
		GasPrice:           row.Bucket.Gwei(),
		HashpowerAccepting: row.HashpowerAccepting,
		BlockNum:           cycle.Height,
	}
	if t := o.estimator.Table(); t != nil {
		w.ExpectedBlocks = t.Lookup(b).ExpectedBlocks
		w.Model = true
	} else {
		w.ExpectedBlocks = predict.ExpectedBlocks(float64(row.HashpowerAccepting))
	}
	w.ExpectedMinutes = publish.ExpectedMinutes(w.ExpectedBlocks, o.blockInterval())
	return w, nil
}

func (o *Oracle) blockInterval() float64 {
	cycle, err := o.Cycle()
	if err != nil || cycle.Window == nil {
		return est.AvgBlockInterval(nil)
	}
	return cycle.Window.BlockInterval
}
