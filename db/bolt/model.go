package bolt

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"

	"github.com/conroydamien/eth-squid-station/predict"
)

// modeldb persists the last confirmation table, so that the oracle can serve
// it before the first retrain after a restart.
type modeldb struct {
	db          *bolt.DB
	modelBucket []byte
	tableKey    []byte
}

func LoadModelDB(dbfile string) (*modeldb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &modeldb{
		db:          db,
		modelBucket: []byte("model"),
		tableKey:    []byte("confirmtable"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		_, err := tr.CreateBucketIfNotExists(d.modelBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *modeldb) GetConfirmTable() (*predict.ConfirmTable, error) {
	var t *predict.ConfirmTable
	err := d.db.View(func(tr *bolt.Tx) error {
		v := tr.Bucket(d.modelBucket).Get(d.tableKey)
		if v == nil {
			return nil
		}
		t = new(predict.ConfirmTable)
		return gob.NewDecoder(bytes.NewReader(v)).Decode(t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *modeldb) PutConfirmTable(t *predict.ConfirmTable) error {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(t); err != nil {
		return err
	}
	return d.db.Update(func(tr *bolt.Tx) error {
		return tr.Bucket(d.modelBucket).Put(d.tableKey, buf.Bytes())
	})
}

func (d *modeldb) Close() error {
	return d.db.Close()
}
