package playlist

import (
	"sync"

	"github.com/mmcdole/marquee/internal/domain"
)

// progressTracker counts network-backed downloads and reports a snapshot on
// every change, in order. notify must not block. Counters restart when a new
// pass begins with nothing in flight.
type progressTracker struct {
	mu       sync.Mutex
	total    int
	finished int
	notify   domain.ProgressFunc
}

func (p *progressTracker) beginPass() {
	p.mu.Lock()
	if p.finished >= p.total {
		p.total, p.finished = 0, 0
	}
	p.mu.Unlock()
}

func (p *progressTracker) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.emit(p.snapshotLocked())
}

func (p *progressTracker) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
	p.emit(p.snapshotLocked())
}

func (p *progressTracker) snapshot() domain.DownloadProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *progressTracker) snapshotLocked() domain.DownloadProgress {
	return domain.DownloadProgress{
		Total:    p.total,
		Finished: p.finished,
		Active:   p.finished < p.total,
	}
}

func (p *progressTracker) emit(snap domain.DownloadProgress) {
	if p.notify != nil {
		p.notify(snap)
	}
}
