package collect

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	est "github.com/conroydamien/eth-squid-station/estimate"
	"github.com/conroydamien/eth-squid-station/testutil"
)

// chainBlock adapts a testutil block to Block.
type chainBlock struct {
	b *testutil.Block
}

func (b chainBlock) Height() int64     { return b.b.Number }
func (b chainBlock) Hash() common.Hash { return b.b.Hash }
func (b chainBlock) Time() int64       { return b.b.Timestamp }
func (b chainBlock) Txs() []BlockTx {
	txs := make([]BlockTx, len(b.b.Txs))
	for i, tx := range b.b.Txs {
		txs[i] = chainTx{tx}
	}
	return txs
}

type chainTx struct {
	tx testutil.Tx
}

func (t chainTx) Hash() common.Hash { return t.tx.Hash }
func (t chainTx) GasPrice() uint64  { return t.tx.GasPrice }
func (t chainTx) GasLimit() uint64  { return t.tx.Gas }

func getters(chain *testutil.Chain) (HeightGetter, BlockGetter) {
	getHeight := func(ctx context.Context) (int64, error) {
		return chain.Head(), nil
	}
	getBlock := func(ctx context.Context, height int64) (Block, error) {
		if chain.ShouldFail(height) {
			return nil, &TransientError{Op: "getblock", Err: errors.New("connection refused")}
		}
		b := chain.Block(height)
		if b == nil {
			return nil, ErrNotYetMined
		}
		return chainBlock{b}, nil
	}
	return getHeight, getBlock
}

// Test implementation of TxDB
type MockTxDB struct {
	txs map[common.Hash]est.Tx
	err error
	mux sync.Mutex
}

func newMockTxDB() *MockTxDB {
	return &MockTxDB{txs: make(map[common.Hash]est.Tx)}
}

func (d *MockTxDB) Merge(txs []est.Tx) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.err != nil {
		return d.err
	}
	for _, tx := range txs {
		if stored, ok := d.txs[tx.Hash]; ok {
			stored.Merge(tx)
			tx = stored
		}
		d.txs[tx.Hash] = tx
	}
	return nil
}

func (d *MockTxDB) Delete(start, end uint64) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	for hash, tx := range d.txs {
		if tx.Has(est.FieldBlockMined) && start <= tx.BlockMined && tx.BlockMined <= end {
			delete(d.txs, hash)
		}
	}
	return nil
}

func (d *MockTxDB) Len() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return len(d.txs)
}

// Test implementation of BlockStatDB
type MockBlockStatDB struct {
	b    map[int64]*est.BlockStat
	err  error
	gets int
	mux  sync.Mutex
}

func newMockBlockStatDB() *MockBlockStatDB {
	return &MockBlockStatDB{b: make(map[int64]*est.BlockStat)}
}

func (d *MockBlockStatDB) Get(start, end int64) ([]*est.BlockStat, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.gets++
	var stats []*est.BlockStat
	for h, b := range d.b {
		if start <= h && h <= end {
			stats = append(stats, b)
		}
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Height < stats[j].Height })
	return stats, nil
}

func (d *MockBlockStatDB) Put(b []*est.BlockStat) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	if d.err != nil {
		return d.err
	}
	for _, bi := range b {
		d.b[bi.Height] = bi
	}
	return nil
}

func (d *MockBlockStatDB) Delete(start, end int64) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	for h := range d.b {
		if start <= h && h <= end {
			delete(d.b, h)
		}
	}
	return nil
}

func (d *MockBlockStatDB) Last() (*est.BlockStat, error) {
	d.mux.Lock()
	defer d.mux.Unlock()
	var last *est.BlockStat
	for _, b := range d.b {
		if last == nil || b.Height > last.Height {
			last = b
		}
	}
	return last, nil
}

func (d *MockBlockStatDB) Gets() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.gets
}

type MockPublisher struct {
	cycles []*Cycle
	err    error
	mux    sync.Mutex
}

func (p *MockPublisher) Publish(c *Cycle) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.err != nil {
		return p.err
	}
	p.cycles = append(p.cycles, c)
	return nil
}

func (p *MockPublisher) Len() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.cycles)
}

func TestCycleError(t *testing.T) {
	terr := &TransientError{Op: "eth_getBlockByNumber", Err: context.DeadlineExceeded}
	var err error = &CycleError{Height: 12, State: Fetching, Kind: KindTransient, Err: terr}
	assert.Equal(t, "block 12: fetching (transient): eth_getBlockByNumber: context deadline exceeded", err.Error())

	var target *TransientError
	assert.True(t, errors.As(err, &target))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Equal(t, KindNotYetMined, fetchErrorKind(ErrNotYetMined))
	assert.Equal(t, KindTransient, fetchErrorKind(terr))
	assert.Equal(t, "State(9)", State(9).String())
}
