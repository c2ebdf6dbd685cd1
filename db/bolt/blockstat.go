package bolt

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/boltdb/bolt"

	est "github.com/conroydamien/eth-squid-station/estimate"
)

type blockstatdb struct {
	db          *bolt.DB
	byteOrder   binary.ByteOrder
	statsBucket []byte
}

func LoadBlockStatDB(dbfile string) (*blockstatdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &blockstatdb{
		db:          db,
		byteOrder:   binary.BigEndian,
		statsBucket: []byte("blockstats"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		_, err = tr.CreateBucketIfNotExists(d.statsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Get returns the stats with height in [start, end], in height order.
func (d *blockstatdb) Get(start, end int64) ([]*est.BlockStat, error) {
	var stats []*est.BlockStat
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}
	err := d.db.View(func(tr *bolt.Tx) error {
		c := tr.Bucket(d.statsBucket).Cursor()
		startkey, endkey := itob(start), itob(end)
		for k, v := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, v = c.Next() {
			b, err := d.decode(v)
			if err != nil {
				return err
			}
			stats = append(stats, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Last returns the stat of the highest stored block, or nil if the DB is
// empty.
func (d *blockstatdb) Last() (*est.BlockStat, error) {
	var last *est.BlockStat
	err := d.db.View(func(tr *bolt.Tx) error {
		_, v := tr.Bucket(d.statsBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		var err error
		last, err = d.decode(v)
		return err
	})
	return last, err
}

// Put stores the stats keyed by height. A stat already stored at the same
// height is overwritten.
func (d *blockstatdb) Put(b []*est.BlockStat) error {
	err := d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.statsBucket)
		for _, bi := range b {
			key := itob(bi.Height)
			value := new(bytes.Buffer)
			if err := binary.Write(value, d.byteOrder, bi); err != nil {
				return err
			}
			if err := bkt.Put(key, value.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// Delete deletes the stats with height in [start, end].
func (d *blockstatdb) Delete(start, end int64) error {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil
	}
	err := d.db.Update(func(tr *bolt.Tx) error {
		b := tr.Bucket(d.statsBucket)
		c := b.Cursor()
		startkey, endkey := itob(start), itob(end)
		var del [][]byte
		for k, _ := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, _ = c.Next() {
			del = append(del, k)
		}
		for _, k := range del {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (d *blockstatdb) Close() error {
	return d.db.Close()
}

func (d *blockstatdb) decode(v []byte) (*est.BlockStat, error) {
	b := new(est.BlockStat)
	if err := binary.Read(bytes.NewReader(v), d.byteOrder, b); err != nil {
		return nil, err
	}
	return b, nil
}
