package store

import (
	"testing"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewCacheIndex(dir)
	require.NoError(t, err)

	rec := domain.CacheRecord{
		ItemID:      "a",
		Path:        "/cache/a.jpg",
		SourceURL:   "https://example.com/file?img=a&type=jpg",
		ContentType: "image/jpeg",
		Size:        42,
		Kind:        domain.EntryFile,
	}
	require.NoError(t, idx.SaveRecord(rec))
	require.NoError(t, idx.Close())

	reopened, err := NewCacheIndex(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.GetRecord("/cache/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "a", got.ItemID)
	assert.Equal(t, int64(42), got.Size)
	assert.False(t, got.StoredAt.IsZero())
}

func TestCacheIndexTouchAndDelete(t *testing.T) {
	idx, err := NewCacheIndex(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	idx.now = func() time.Time { return base }
	require.NoError(t, idx.SaveRecord(domain.CacheRecord{ItemID: "v", Path: "/cache/v.mp4"}))

	idx.now = func() time.Time { return base.Add(time.Hour) }
	require.NoError(t, idx.TouchRecord("/cache/v.mp4"))
	require.NoError(t, idx.TouchRecord("/cache/unknown.mp4"))

	got, ok := idx.GetRecord("/cache/v.mp4")
	require.True(t, ok)
	assert.Equal(t, base, got.StoredAt)
	assert.Equal(t, base.Add(time.Hour), got.LastUsedAt)

	idx.DeleteRecord("/cache/v.mp4")
	_, ok = idx.GetRecord("/cache/v.mp4")
	assert.False(t, ok)
}

func TestCacheIndexListRecordsSorted(t *testing.T) {
	for _, dir := range []string{"", t.TempDir()} {
		idx, err := NewCacheIndex(dir)
		require.NoError(t, err)

		for _, p := range []string{"/c/b.mp4", "/c/a.jpg", "/c/c.zip"} {
			require.NoError(t, idx.SaveRecord(domain.CacheRecord{Path: p}))
		}

		records, err := idx.ListRecords()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "/c/a.jpg", records[0].Path)
		assert.Equal(t, "/c/c.zip", records[2].Path)
		require.NoError(t, idx.Close())
	}
}

func TestCacheIndexRejectsEmptyPath(t *testing.T) {
	idx, err := NewCacheIndex("")
	require.NoError(t, err)
	assert.Error(t, idx.SaveRecord(domain.CacheRecord{ItemID: "x"}))
}
