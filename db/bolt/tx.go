// Package bolt contains implementations of the DB interfaces used by package
// main.
package bolt

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ethereum/go-ethereum/common"

	est "github.com/conroydamien/eth-squid-station/estimate"
)

// txdb stores one record per tx hash. An index bucket keyed by
// blockMined||hash supports deletion by block range.
type txdb struct {
	db          *bolt.DB
	byteOrder   binary.ByteOrder
	txBucket    []byte
	indexBucket []byte
}

func LoadTxDB(dbfile string) (*txdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &txdb{
		db:          db,
		byteOrder:   binary.BigEndian,
		txBucket:    []byte("txs"),
		indexBucket: []byte("txblocks"),
	}

	err = d.db.Update(func(tr *bolt.Tx) error {
		if _, err := tr.CreateBucketIfNotExists(d.txBucket); err != nil {
			return err
		}
		_, err := tr.CreateBucketIfNotExists(d.indexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Merge wraps merge inside an Update tx.
func (d *txdb) Merge(txs []est.Tx) error {
	return d.db.Update(func(tr *bolt.Tx) error {
		return d.merge(txs, tr)
	})
}

// Snapshot returns every stored tx, in hash order.
func (d *txdb) Snapshot() ([]est.Tx, error) {
	var txs []est.Tx
	err := d.db.View(func(tr *bolt.Tx) error {
		return tr.Bucket(d.txBucket).ForEach(func(_, v []byte) error {
			tx, err := d.decode(v)
			if err != nil {
				return err
			}
			txs = append(txs, tx)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// Get returns the tx with the given hash, and whether it was found.
func (d *txdb) Get(hash common.Hash) (tx est.Tx, ok bool, err error) {
	err = d.db.View(func(tr *bolt.Tx) error {
		v := tr.Bucket(d.txBucket).Get(hash.Bytes())
		if v == nil {
			return nil
		}
		ok = true
		tx, err = d.decode(v)
		return err
	})
	return
}

// Count returns the number of stored txs.
func (d *txdb) Count() (n int, err error) {
	err = d.db.View(func(tr *bolt.Tx) error {
		n = tr.Bucket(d.txBucket).Stats().KeyN
		return nil
	})
	return
}

// Delete deletes all txs with BlockMined in between start and end.
func (d *txdb) Delete(start, end uint64) error {
	if end < start {
		return nil
	}
	err := d.db.Update(func(tr *bolt.Tx) error {
		return d.delete(start, end, tr)
	})
	return err
}

func (d *txdb) Close() error {
	return d.db.Close()
}

// merge upserts txs by hash. Fields already stored are kept.
func (d *txdb) merge(txs []est.Tx, tr *bolt.Tx) error {
	b := tr.Bucket(d.txBucket)
	idx := tr.Bucket(d.indexBucket)
	for _, tx := range txs {
		key := tx.Hash.Bytes()
		if v := b.Get(key); v != nil {
			stored, err := d.decode(v)
			if err != nil {
				return err
			}
			merged := stored
			merged.Merge(tx)
			if merged == stored {
				continue
			}
			tx = merged
		}
		value := new(bytes.Buffer)
		if err := binary.Write(value, d.byteOrder, tx); err != nil {
			return err
		}
		if err := b.Put(key, value.Bytes()); err != nil {
			return err
		}
		if tx.Has(est.FieldBlockMined) {
			if err := idx.Put(indexKey(tx.BlockMined, tx.Hash), []byte{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *txdb) delete(start, end uint64, tr *bolt.Tx) error {
	b := tr.Bucket(d.txBucket)
	idx := tr.Bucket(d.indexBucket)
	c := idx.Cursor()
	startkey := itob(int64(start))
	var del [][]byte
	for k, _ := c.Seek(startkey); k != nil && uint64(btoi(k[:8])) <= end; k, _ = c.Next() {
		del = append(del, append([]byte(nil), k...))
	}
	for _, k := range del {
		if err := b.Delete(k[8:]); err != nil {
			return err
		}
		if err := idx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (d *txdb) decode(v []byte) (est.Tx, error) {
	var tx est.Tx
	err := binary.Read(bytes.NewReader(v), d.byteOrder, &tx)
	return tx, err
}

// indexKey returns blockMined||hash.
func indexKey(blockMined uint64, hash common.Hash) []byte {
	k := make([]byte, 8+common.HashLength)
	binary.BigEndian.PutUint64(k, blockMined)
	copy(k[8:], hash.Bytes())
	return k
}

// itob returns an 8-byte big endian representation of v.
// The input argument v must be positive.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// btoi is the inverse of itob.
func btoi(b []byte) int64 {
	v := binary.BigEndian.Uint64(b)
	return int64(v)
}
