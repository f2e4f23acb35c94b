package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketRecords = []byte("records")
)

const dbFileName = "marquee.db"

// CacheIndex implements domain.Store using BoltDB.
type CacheIndex struct {
	db  *bolt.DB
	mu  sync.RWMutex // Protects memory cache
	now func() time.Time

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// NewCacheIndex opens (or creates) the index database inside dir.
// An empty dir yields a memory-only index.
func NewCacheIndex(dir string) (*CacheIndex, error) {
	if dir == "" {
		// Memory-only mode (no persistence)
		return &CacheIndex{cache: make(map[string][]byte), now: time.Now}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &CacheIndex{db: db, cache: make(map[string][]byte), now: time.Now}, nil
}

func (s *CacheIndex) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *CacheIndex) get(key string, dest interface{}) bool {
	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[key] = data
	s.mu.Unlock()

	return json.Unmarshal(data, dest) == nil
}

func (s *CacheIndex) set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(key), data)
	})
}

func (s *CacheIndex) delete(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketRecords); b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

// === Records (keyed by absolute cache path) ===

func (s *CacheIndex) GetRecord(path string) (*domain.CacheRecord, bool) {
	var rec domain.CacheRecord
	if !s.get(path, &rec) {
		return nil, false
	}
	return &rec, true
}

func (s *CacheIndex) SaveRecord(rec domain.CacheRecord) error {
	if rec.Path == "" {
		return fmt.Errorf("cache record has no path")
	}
	now := s.now()
	if rec.StoredAt.IsZero() {
		rec.StoredAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = now
	}
	return s.set(rec.Path, rec)
}

// TouchRecord bumps LastUsedAt. Unknown paths are ignored: entries that
// predate the index (or were copied in by hand) are still valid cache hits.
func (s *CacheIndex) TouchRecord(path string) error {
	rec, ok := s.GetRecord(path)
	if !ok {
		return nil
	}
	rec.LastUsedAt = s.now()
	return s.set(path, rec)
}

func (s *CacheIndex) DeleteRecord(path string) {
	s.delete(path)
}

// ListRecords returns every record ordered by path
func (s *CacheIndex) ListRecords() ([]domain.CacheRecord, error) {
	var records []domain.CacheRecord

	if s.db == nil {
		s.mu.RLock()
		for _, data := range s.cache {
			var rec domain.CacheRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				records = append(records, rec)
			}
		}
		s.mu.RUnlock()
	} else {
		err := s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketRecords)
			if b == nil {
				return nil
			}
			return b.ForEach(func(_, v []byte) error {
				var rec domain.CacheRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return nil // skip corrupt entries
				}
				records = append(records, rec)
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}
