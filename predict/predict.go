// Package predict estimates the expected number of blocks a transaction
// waits for confirmation, given its gas price. A regression model of hashpower
// acceptance is fitted to the recently mined transactions and periodically
// retrained.
package predict

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/gas"
)

// ErrInsufficientTxs is returned by Train when too few transactions are
// available to fit a model.
var ErrInsufficientTxs = errors.New("too few transactions to train the model")

// Success probability targeted by ExpectedBlocks.
const confirmProb = 0.95

type DB interface {
	// GetConfirmTable returns the last stored table, or nil if there is none.
	GetConfirmTable() (*ConfirmTable, error)
	PutConfirmTable(t *ConfirmTable) error
	Close() error
}

type Config struct {
	Model    string  `yaml:"model" json:"model"`
	MinTxs   int     `yaml:"mintxs" json:"mintxs"`
	TestFrac float64 `yaml:"testfrac" json:"testfrac"`

	// Gas limit assumed for the confirmation table.
	GasLimit uint64 `yaml:"gaslimit" json:"gaslimit"`

	Seed   int64       `yaml:"-" json:"-"`
	Logger *zap.Logger `yaml:"-" json:"-"`
}

var DefaultConfig = Config{
	Model:    "boost",
	MinTxs:   30,
	TestFrac: 0.33,
	GasLimit: 21000,
	Seed:     42,
}

type ConfirmRow struct {
	Bucket             gas.Bucket `json:"bucket"`
	HashpowerAccepting float64    `json:"hashpower_accepting"`
	ExpectedBlocks     int64      `json:"expected_blocks"`
}

// ConfirmTable is the output of one training run.
type ConfirmTable struct {
	// Block height of the window the model was trained on.
	Head int64 `json:"head"`

	// Coefficient of determination on the held out transactions.
	Score float64 `json:"score"`

	NumTxs int `json:"numtxs"`

	// One row per whole gwei from 0 to 100 inclusive, so 101 rows.
	Rows []ConfirmRow `json:"rows"`
}

// Lookup returns the row of the highest table bucket <= b. Buckets below the
// table range map to the first row. t must be non-empty.
func (t *ConfirmTable) Lookup(b gas.Bucket) ConfirmRow {
	r := t.Rows[0]
	for _, row := range t.Rows {
		if row.Bucket > b {
			break
		}
		r = row
	}
	return r
}

// ExpectedBlocks returns the number of blocks needed for a tx to be confirmed
// with 95% probability, if each block independently accepts it with
// probability pct/100. It returns -1 if pct <= 0.
func ExpectedBlocks(pct float64) int64 {
	switch {
	case pct >= 100:
		return 1
	case pct <= 0 || math.IsNaN(pct):
		return -1
	}
	return int64(math.Floor(math.Log(1-confirmProb) / math.Log(1-pct/100)))
}

// Features returns the regression features of a tx.
func Features(gasLimit uint64, b gas.Bucket) []float64 {
	g := float64(gasLimit)
	return []float64{g, float64(b), g * float64(b)}
}

// Dataset labels every tx having both a gas limit and gas price with the
// hashpower accepting its bucket.
func Dataset(txs []est.Tx, c est.Curve) (x [][]float64, y []float64) {
	for _, tx := range txs {
		if !tx.Has(est.FieldGasLimit) || !tx.Has(est.FieldGasPrice) {
			continue
		}
		x = append(x, Features(tx.GasLimit, tx.Bucket))
		y = append(y, float64(int(c.Lookup(tx.Bucket))))
	}
	return
}

// Split shuffles the dataset and holds out ceil(testFrac*n) rows for
// evaluation. Both parts are non-empty if n >= 2.
func Split(x [][]float64, y []float64, testFrac float64, rng *rand.Rand) (
	xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) {

	n := len(x)
	nTest := int(math.Ceil(testFrac * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if nTest > n-1 {
		nTest = n - 1
	}
	for k, i := range rng.Perm(n) {
		if k < nTest {
			xTest = append(xTest, x[i])
			yTest = append(yTest, y[i])
		} else {
			xTrain = append(xTrain, x[i])
			yTrain = append(yTrain, y[i])
		}
	}
	return
}

// Estimator trains the confirmation model and keeps the latest table. A
// failed or cancelled training run leaves the previous table in place.
type Estimator struct {
	db    DB
	cfg   Config
	fit   Fitter
	table *ConfirmTable
	mux   sync.RWMutex
}

func NewEstimator(db DB, cfg Config) (*Estimator, error) {
	fit, ok := Fitters[cfg.Model]
	if !ok {
		return nil, errors.Errorf("unknown model %q", cfg.Model)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	table, err := db.GetConfirmTable()
	if err != nil {
		return nil, errors.Wrap(err, "GetConfirmTable")
	}
	return &Estimator{db: db, cfg: cfg, fit: fit, table: table}, nil
}

// Table returns the latest confirmation table, or nil if no model has been
// trained yet.
func (e *Estimator) Table() *ConfirmTable {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return e.table
}

// Train fits a model to txs, labelled with the acceptance curve c of the
// window ending at head, and replaces the current table on success.
func (e *Estimator) Train(ctx context.Context, txs []est.Tx, c est.Curve, head int64) (*ConfirmTable, error) {
	logger := e.cfg.Logger

	x, y := Dataset(txs, c)
	if len(x) < e.cfg.MinTxs || len(x) < 2 {
		return nil, ErrInsufficientTxs
	}
	rng := rand.New(rand.NewSource(e.cfg.Seed))
	xTrain, yTrain, xTest, yTest := Split(x, y, e.cfg.TestFrac, rng)

	model, err := e.fit(ctx, xTrain, yTrain)
	if err != nil {
		return nil, errors.Wrap(err, "fit")
	}

	estimates := make([]float64, len(xTest))
	for i, row := range xTest {
		estimates[i] = model.Predict(row)
	}
	score := stat.RSquaredFrom(estimates, yTest, nil)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		// Undefined if the held out labels are all equal.
		score = 0
	}

	grid := gas.Grid(10, gas.MaxBucket)
	t := &ConfirmTable{
		Head:   head,
		Score:  score,
		NumTxs: len(x),
		Rows:   make([]ConfirmRow, len(grid)),
	}
	for i, b := range grid {
		pct := model.Predict(Features(e.cfg.GasLimit, b))
		t.Rows[i] = ConfirmRow{
			Bucket:             b,
			HashpowerAccepting: pct,
			ExpectedBlocks:     ExpectedBlocks(pct),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.db.PutConfirmTable(t); err != nil {
		// The table is still usable in memory.
		logger.Error("PutConfirmTable", zap.Error(err))
	}
	e.mux.Lock()
	e.table = t
	e.mux.Unlock()
	logger.Debug("Confirmation model trained",
		zap.Int64("head", head), zap.Int("txs", len(x)), zap.Float64("score", score))
	return t, nil
}
