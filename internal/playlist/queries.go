package playlist

import (
	"github.com/mmcdole/marquee/internal/cache"
	"github.com/mmcdole/marquee/internal/domain"
)

// Queries provides synchronous, disk-only reads. Never touches the network.
type Queries struct {
	store *cache.Store
	index domain.Store
}

// NewQueries creates a new Queries instance. index may be nil.
func NewQueries(store *cache.Store, index domain.Store) *Queries {
	return &Queries{store: store, index: index}
}

// Lookup returns the cached location of item if it is a complete cache hit
func (q *Queries) Lookup(item domain.ScenarioItem) (string, bool) {
	plan, err := Classify(item)
	if err != nil || plan.Strategy == StrategyStream {
		return "", false
	}
	dest := q.store.DestinationFor(item, plan.Ext)
	if plan.Strategy == StrategyArchive {
		if !q.store.Exists(dest.Path) {
			return "", false
		}
		return dest.Dir, q.store.Exists(dest.Dir)
	}
	return dest.Path, q.store.Exists(dest.Path)
}

// Records returns the index records for paths still present on disk.
// Entries with no record are reported with only Path and Kind set.
func (q *Queries) Records() ([]domain.CacheRecord, error) {
	entries, err := q.store.Entries()
	if err != nil {
		return nil, err
	}

	known := make(map[string]domain.CacheRecord)
	if q.index != nil {
		records, err := q.index.ListRecords()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			known[r.Path] = r
		}
	}

	out := make([]domain.CacheRecord, 0, len(entries))
	for _, e := range entries {
		if rec, ok := known[e.Path]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, domain.CacheRecord{Path: e.Path, Kind: e.Kind})
	}
	return out, nil
}
