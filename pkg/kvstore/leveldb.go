package kvstore

import "github.com/syndtr/goleveldb/leveldb"

// LevelDB is a KVStore backed by github.com/syndtr/goleveldb, the
// durable reference adapter for hosts that have a writable filesystem
// but no NVS flash partition (the original firmware's actual
// persistence layer). It composes namespace and key into a single
// LevelDB key so the flat LSM keyspace still reads like the NVS
// namespace/key split the rest of the gateway is written against.
//
// LevelDB has no separate commit phase; writes are durable as soon as
// Put returns, so Commit is a no-op kept only to satisfy KVStore.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (creating if absent) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(namespace, key string) ([]byte, bool, error) {
	v, err := l.db.Get([]byte(compositeKey(namespace, key)), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (l *LevelDB) Set(namespace, key string, value []byte) error {
	return l.db.Put([]byte(compositeKey(namespace, key)), value, nil)
}

func (l *LevelDB) Commit() error { return nil }

func (l *LevelDB) Close() error { return l.db.Close() }
