package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

// Storage is the key/value surface the repositories build on.
type Storage interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	GetByPrefix(prefix string) (map[string][]byte, error)
	PutObject(key string, obj interface{}) error
	GetObject(key string, obj interface{}) error
	Close() error
	RunGC() error
}

type DBMetrics struct {
	PutCount         int64
	GetCount         int64
	DeleteCount      int64
	GetByPrefixCount int64
	Errors           int64
}

// DBStorage is a Storage backed by BadgerDB.
type DBStorage struct {
	db      *badger.DB
	config  BadgerDBConfig
	metrics DBMetrics
	stop    chan struct{}
	logger  *logrus.Entry
}

var _ Storage = (*DBStorage)(nil)

// Open opens the store described by config. Each call owns its database; the
// caller closes it.
func Open(config BadgerDBConfig) (*DBStorage, error) {
	path := ""
	if !config.InMemory {
		path = filepath.Join(config.DataDir, "badgerdb")
	}
	opts := badger.DefaultOptions(path)
	if config.DisableLogging {
		opts.Logger = nil
	}
	opts.InMemory = config.InMemory
	opts.SyncWrites = config.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &DBStorage{
		db:     db,
		config: config,
		stop:   make(chan struct{}),
		logger: logging.For("storage"),
	}
	if config.GCInterval > 0 && !config.InMemory {
		go s.startGCRoutine(config.GCInterval)
	}
	return s, nil
}

func (s *DBStorage) startGCRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				s.logger.WithError(err).Debug("BadgerDB GC pass found nothing to rewrite")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *DBStorage) record(counter *int64) {
	atomic.AddInt64(counter, 1)
}

func (s *DBStorage) logOperation(op string, key string, err error) {
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"op": op, "key": key}).Warn("BadgerDB operation failed")
		atomic.AddInt64(&s.metrics.Errors, 1)
	}
}

// Metrics returns a snapshot of the operation counters.
func (s *DBStorage) Metrics() DBMetrics {
	return DBMetrics{
		PutCount:         atomic.LoadInt64(&s.metrics.PutCount),
		GetCount:         atomic.LoadInt64(&s.metrics.GetCount),
		DeleteCount:      atomic.LoadInt64(&s.metrics.DeleteCount),
		GetByPrefixCount: atomic.LoadInt64(&s.metrics.GetByPrefixCount),
		Errors:           atomic.LoadInt64(&s.metrics.Errors),
	}
}

// Close stops the GC routine and closes the database.
func (s *DBStorage) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	return s.db.Close()
}

// Put stores a key-value pair in the database
func (s *DBStorage) Put(key string, value []byte) error {
	s.record(&s.metrics.PutCount)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	s.logOperation("put", key, err)
	return err
}

// Get retrieves a value by key. A missing key returns nil, nil.
func (s *DBStorage) Get(key string) ([]byte, error) {
	s.record(&s.metrics.GetCount)
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		s.logOperation("get", key, err)
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return valCopy, nil
}

// Delete removes a key-value pair from the database
func (s *DBStorage) Delete(key string) error {
	s.record(&s.metrics.DeleteCount)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	s.logOperation("delete", key, err)
	return err
}

// GetByPrefix retrieves all key-value pairs with a given prefix
func (s *DBStorage) GetByPrefix(prefix string) (map[string][]byte, error) {
	s.record(&s.metrics.GetByPrefixCount)
	result := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.KeyCopy(nil))] = val
		}
		return nil
	})
	if err != nil {
		s.logOperation("get_by_prefix", prefix, err)
		return nil, fmt.Errorf("failed to get values by prefix: %w", err)
	}
	return result, nil
}

// KeysByPrefix returns the keys under prefix in order, without values.
func (s *DBStorage) KeysByPrefix(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// PutObject serializes and stores an object in the database
func (s *DBStorage) PutObject(key string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}
	return s.Put(key, data)
}

// GetObject retrieves and deserializes an object. A missing key is core.ErrNotFound.
func (s *DBStorage) GetObject(key string, obj interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: key %s", core.ErrNotFound, key)
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("failed to unmarshal object: %w", err)
	}
	return nil
}

// Update runs fn inside one read-write transaction.
func (s *DBStorage) Update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

// RunGC runs garbage collection on the value log.
func (s *DBStorage) RunGC() error {
	if s.config.InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5) // rewrite if at least half can be discarded
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}
