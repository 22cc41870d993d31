package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dgraph-io/badger/v3"

	"github.com/NatureBlueee/Towow-sub000/core"
)

const (
	archivePrefix      = "archive:"
	archiveIndexPrefix = "archive-ts:"
)

// ArchiveRepository keeps brotli-compressed JSON records of finished
// negotiations, indexed by close time for eviction.
type ArchiveRepository struct {
	db *DBStorage
}

func NewArchiveRepository(db *DBStorage) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

func indexKey(closedAt time.Time, id string) string {
	return fmt.Sprintf("%s%020d:%s", archiveIndexPrefix, closedAt.UnixNano(), id)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}

// Save archives v under id.
func (r *ArchiveRepository) Save(id string, closedAt time.Time, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal archive %s: %w", id, err)
	}
	packed, err := compress(raw)
	if err != nil {
		return fmt.Errorf("failed to compress archive %s: %w", id, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(archivePrefix+id), packed); err != nil {
			return err
		}
		return txn.Set([]byte(indexKey(closedAt, id)), nil)
	})
}

// Load restores the archive stored under id into v.
func (r *ArchiveRepository) Load(id string, v interface{}) error {
	packed, err := r.db.Get(archivePrefix + id)
	if err != nil {
		return err
	}
	if packed == nil {
		return fmt.Errorf("%w: archive %s", core.ErrNotFound, id)
	}
	raw, err := decompress(packed)
	if err != nil {
		return fmt.Errorf("failed to decompress archive %s: %w", id, err)
	}
	return json.Unmarshal(raw, v)
}

// EvictBefore removes archives closed before cutoff and returns how many.
func (r *ArchiveRepository) EvictBefore(cutoff time.Time) (int, error) {
	keys, err := r.db.KeysByPrefix(archiveIndexPrefix)
	if err != nil {
		return 0, err
	}
	evicted := 0
	err = r.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			rest := strings.TrimPrefix(k, archiveIndexPrefix)
			sep := strings.IndexByte(rest, ':')
			if sep < 0 {
				continue
			}
			ts, err := strconv.ParseInt(rest[:sep], 10, 64)
			if err != nil {
				continue
			}
			// index keys are ordered by time
			if ts >= cutoff.UnixNano() {
				break
			}
			if err := txn.Delete([]byte(archivePrefix + rest[sep+1:])); err != nil {
				return err
			}
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
			evicted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evict archives: %w", err)
	}
	return evicted, nil
}
