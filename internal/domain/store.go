package domain

// Store persists metadata about completed cache entries (BoltDB + memory).
// The filesystem stays the source of truth for presence; the store only
// remembers where an entry came from and when it was last used.
type Store interface {
	GetRecord(path string) (*CacheRecord, bool)
	SaveRecord(rec CacheRecord) error
	TouchRecord(path string) error
	DeleteRecord(path string)
	ListRecords() ([]CacheRecord, error)

	Close() error
}
