package state

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/zhiqiangxu/blockstm"
)

// LevelDB is the persistent state behind a block. Reads during execution go
// to the committed data only.
type LevelDB struct {
	db *leveldb.DB
}

var (
	_ blockstm.StateView[string, []byte]   = (*LevelDB)(nil)
	_ blockstm.StateWriter[string, []byte] = (*LevelDB)(nil)
)

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return &LevelDB{db: db}, nil
}

// OpenMemLevelDB opens a leveldb backed by memory, for tests and benchmarks.
func OpenMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open memory leveldb")
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key string) ([]byte, bool, error) {
	value, err := l.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "leveldb get %q", key)
	}
	return value, true, nil
}

// Commit writes ws in one batch.
func (l *LevelDB) Commit(ws blockstm.WriteSet[string, []byte]) error {
	batch := new(leveldb.Batch)
	for _, w := range ws {
		if w.Deleted {
			batch.Delete([]byte(w.Location))
			continue
		}
		batch.Put([]byte(w.Location), w.Val)
	}
	return errors.Wrap(l.db.Write(batch, nil), "leveldb commit")
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
