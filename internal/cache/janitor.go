package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/metrics"
)

// GraceWindow is the minimum age of an unreferenced entry before it may be deleted.
// Younger entries may belong to a download or extraction started by a concurrent pass.
const GraceWindow = 15 * time.Minute

// SweepReport summarizes one janitor run
type SweepReport struct {
	Kept    int
	Young   int
	Removed []string
	Failed  []string
}

// Janitor deletes unreferenced, stale children of the cache root
type Janitor struct {
	store   *Store
	index   domain.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	Grace time.Duration
	Now   func() time.Time
}

// NewJanitor creates a janitor for store. index may be nil.
func NewJanitor(store *Store, index domain.Store, m *metrics.Metrics, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:   store,
		index:   index,
		metrics: m,
		logger:  logger,
		Grace:   GraceWindow,
		Now:     time.Now,
	}
}

// Sweep removes every direct child of the root that is neither in keep nor
// younger than the grace window. It never descends into kept directories and
// never reads file contents. Per-entry failures are logged and the sweep continues.
func (j *Janitor) Sweep(keep *KeepSet) SweepReport {
	var report SweepReport

	entries, err := os.ReadDir(j.store.Root())
	if err != nil {
		j.logger.Warn("cache cleanup skipped", "root", j.store.Root(), "error", err)
		return report
	}

	now := j.Now()
	for _, entry := range entries {
		full := filepath.Join(j.store.Root(), entry.Name())
		if keep != nil && keep.Has(full) {
			report.Kept++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info
			continue
		}
		if now.Sub(info.ModTime()) < j.Grace {
			report.Young++
			continue
		}

		if err := os.RemoveAll(full); err != nil {
			j.logger.Warn("cache remove failed", "path", full, "error", err)
			report.Failed = append(report.Failed, full)
			continue
		}
		if j.index != nil {
			j.index.DeleteRecord(full)
		}
		report.Removed = append(report.Removed, full)
	}

	j.metrics.JanitorSwept(len(report.Removed), len(report.Failed))
	if len(report.Removed) > 0 || len(report.Failed) > 0 {
		j.logger.Info("cache swept", "removed", len(report.Removed), "failed", len(report.Failed), "kept", report.Kept, "young", report.Young)
	}
	return report
}
