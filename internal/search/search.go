package search

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/mmcdole/marquee/internal/domain"
)

// Result is a cache record matched by a filter query
type Result struct {
	Record         domain.CacheRecord
	Key            string // text the query was matched against
	MatchedIndexes []int  // character positions in Key that matched
	Score          int    // higher is better
}

// RecordIndex implements sahilm/fuzzy.Source over cache records
type RecordIndex struct {
	records []domain.CacheRecord
	keys    []string // pre-computed lowercase keys
}

// NewRecordIndex indexes records by relative path and item id
func NewRecordIndex(records []domain.CacheRecord) *RecordIndex {
	idx := &RecordIndex{
		records: records,
		keys:    make([]string, len(records)),
	}
	for i, r := range records {
		idx.keys[i] = strings.ToLower(Key(r))
	}
	return idx
}

// Key returns the searchable text for a record
func Key(r domain.CacheRecord) string {
	if r.ItemID == "" || strings.Contains(r.Path, r.ItemID) {
		return r.Path
	}
	return r.Path + " " + r.ItemID
}

// String returns the lowercase key at index i (implements fuzzy.Source)
func (idx *RecordIndex) String(i int) string { return idx.keys[i] }

// Len returns the number of records (implements fuzzy.Source)
func (idx *RecordIndex) Len() int { return len(idx.records) }

// Filter returns the records matching query, best first.
// An empty query returns every record in index order.
func (idx *RecordIndex) Filter(query string) []Result {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		results := make([]Result, len(idx.records))
		for i, r := range idx.records {
			results[i] = Result{Record: r, Key: Key(r)}
		}
		return results
	}

	matches := fuzzy.FindFrom(query, idx)
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		r := idx.records[m.Index]
		results = append(results, Result{
			Record:         r,
			Key:            Key(r),
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		})
	}
	return results
}

// Filter is a convenience wrapper building a one-off index
func Filter(query string, records []domain.CacheRecord) []Result {
	return NewRecordIndex(records).Filter(query)
}
