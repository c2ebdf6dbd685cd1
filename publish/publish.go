// Package publish writes the oracle's results as JSON documents, for
// consumption by dashboards and other clients that poll the files.
package publish

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	col "github.com/conroydamien/eth-squid-station/collect"
	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/predict"
)

const (
	GasPriceFile     = "ethgasAPI.json"
	PredictTableFile = "predictTable.json"
	ConfirmTableFile = "confirmTable.json"
)

type Config struct {
	OutDir string      `yaml:"outdir" json:"outdir"`
	Logger *zap.Logger `yaml:"-" json:"-"`
}

type PredictRow struct {
	GasPrice           float64 `json:"gasprice"` // gwei
	HashpowerAccepting int     `json:"hashpower_accepting"`
}

type ConfirmRow struct {
	GasPrice           float64 `json:"gasprice"` // gwei
	HashpowerAccepting float64 `json:"hashpower_accepting"`
	ExpectedBlocks     int64   `json:"expected_blocks"`

	// -1 if the price is not expected to confirm.
	ExpectedMinutes float64 `json:"expected_minutes"`
}

type ConfirmDoc struct {
	BlockNum     int64        `json:"blockNum"`
	ConfirmScore float64      `json:"confirmScore"`
	NumTxs       int          `json:"numTxs"`
	Rows         []ConfirmRow `json:"rows"`
}

// FileSink writes each document to a temp file in OutDir and renames it into
// place, so that readers never see a partial document. The documents of a
// cycle are replaced together or not at all.
type FileSink struct {
	cfg  Config
	last map[string][]byte // last content written, per file
	mux  sync.Mutex
}

func NewFileSink(cfg Config) (*FileSink, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.OutDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create outdir")
	}
	return &FileSink{cfg: cfg, last: make(map[string][]byte)}, nil
}

// Publish writes the recommendation and prediction table of a cycle.
// Publishing an unchanged snapshot is a no-op.
func (s *FileSink) Publish(c *col.Cycle) error {
	rec, err := json.Marshal(c.Recommendation)
	if err != nil {
		return err
	}
	table, err := json.Marshal(PredictRows(c.Table))
	if err != nil {
		return err
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	// Table first: the recommendation names the block the table belongs to.
	return s.commit(document{PredictTableFile, table}, document{GasPriceFile, rec})
}

// PublishConfirmTable writes the confirmation table. Expected minutes are
// based on blockInterval, in seconds.
func (s *FileSink) PublishConfirmTable(t *predict.ConfirmTable, blockInterval float64) error {
	doc, err := json.Marshal(NewConfirmDoc(t, blockInterval))
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.commit(document{ConfirmTableFile, doc})
}

func PredictRows(t est.PredictionTable) []PredictRow {
	rows := make([]PredictRow, len(t))
	for i, row := range t {
		rows[i] = PredictRow{GasPrice: row.Bucket.Gwei(), HashpowerAccepting: row.HashpowerAccepting}
	}
	return rows
}

func NewConfirmDoc(t *predict.ConfirmTable, blockInterval float64) *ConfirmDoc {
	doc := &ConfirmDoc{
		BlockNum:     t.Head,
		ConfirmScore: t.Score,
		NumTxs:       t.NumTxs,
		Rows:         make([]ConfirmRow, len(t.Rows)),
	}
	for i, row := range t.Rows {
		doc.Rows[i] = ConfirmRow{
			GasPrice:           row.Bucket.Gwei(),
			HashpowerAccepting: row.HashpowerAccepting,
			ExpectedBlocks:     row.ExpectedBlocks,
			ExpectedMinutes:    ExpectedMinutes(row.ExpectedBlocks, blockInterval),
		}
	}
	return doc
}

// ExpectedMinutes converts a number of blocks to minutes. Negative block
// counts (never confirms) map to -1.
func ExpectedMinutes(blocks int64, blockInterval float64) float64 {
	if blocks < 0 {
		return -1
	}
	return float64(blocks) * blockInterval / 60
}

type document struct {
	name string
	data []byte
}

type staged struct {
	document
	tmp     string
	prev    []byte
	existed bool
}

// commit writes the changed documents as a set. All of them are written to
// temp files before any is renamed into place, and if a rename fails the
// documents already renamed are restored to their previous content.
func (s *FileSink) commit(docs ...document) error {
	var files []*staged
	defer func() {
		for _, f := range files {
			os.Remove(f.tmp) // No-op after a successful rename
		}
	}()
	for _, d := range docs {
		if bytes.Equal(s.last[d.name], d.data) {
			continue
		}
		tmp, err := writeTemp(s.path(d.name), d.data)
		if err != nil {
			return errors.Wrapf(err, "write %s", d.name)
		}
		files = append(files, &staged{document: d, tmp: tmp})
	}

	for i, f := range files {
		path := s.path(f.name)
		// The last document never needs restoring.
		if i < len(files)-1 {
			prev, err := os.ReadFile(path)
			switch {
			case err == nil:
				f.prev, f.existed = prev, true
			case !os.IsNotExist(err):
				s.rollback(files[:i])
				return errors.Wrapf(err, "read %s", f.name)
			}
		}
		if err := os.Rename(f.tmp, path); err != nil {
			s.rollback(files[:i])
			return errors.Wrapf(err, "write %s", f.name)
		}
	}
	for _, f := range files {
		s.last[f.name] = f.data
		s.cfg.Logger.Debug("Published", zap.String("file", f.name), zap.Int("bytes", len(f.data)))
	}
	return nil
}

func (s *FileSink) rollback(files []*staged) {
	for _, f := range files {
		path := s.path(f.name)
		var err error
		if f.existed {
			err = writeFileAtomic(path, f.prev)
		} else {
			err = os.Remove(path)
		}
		if err != nil {
			s.cfg.Logger.Error("Restore failed", zap.String("file", f.name), zap.Error(err))
			// The content on disk is unknown, so it must be rewritten next time.
			delete(s.last, f.name)
		}
	}
}

func (s *FileSink) path(name string) string {
	return filepath.Join(s.cfg.OutDir, name)
}

// writeTemp writes data to a synced temp file next to path and returns its
// name.
func writeTemp(path string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp, 0644)
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
