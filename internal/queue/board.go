package queue

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mmcdole/marquee/internal/domain"
)

// DefaultCapacity bounds how many clinics the board remembers
const DefaultCapacity = 64

// Snapshot is the latest known state of one clinic
type Snapshot struct {
	domain.Clinic
	UpdatedAt   time.Time
	HighlightAt time.Time // last "add" message
}

// Call announces a newly called patient
type Call struct {
	ClinicSeq  string
	ClinicName string
	Patient    domain.Patient
}

// Board keeps the latest snapshot per clinic, fed by roster fetches and
// realtime channel payloads. It satisfies domain.EventSink.
type Board struct {
	mu        sync.Mutex
	snapshots *lru.Cache[string, Snapshot]
	direction string
	onCall    func(Call)
	now       func() time.Time
	logger    *slog.Logger
}

// NewBoard creates a board holding at most capacity clinics
func NewBoard(capacity int, logger *slog.Logger) *Board {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	// lru.New only fails on non-positive sizes
	cache, _ := lru.New[string, Snapshot](capacity)
	return &Board{
		snapshots: cache,
		direction: "L",
		now:       time.Now,
		logger:    logger,
	}
}

// OnCall registers a callback for patient calls. It must not block.
func (b *Board) OnCall(fn func(Call)) {
	b.mu.Lock()
	b.onCall = fn
	b.mu.Unlock()
}

// SetDefaultDirection sets the panel side used when a clinic declares none
func (b *Board) SetDefaultDirection(d string) {
	b.mu.Lock()
	if nd := normalizeDirection(d); nd != "" {
		b.direction = nd
	}
	b.mu.Unlock()
}

// Seed replaces the board contents with a roster
func (b *Board) Seed(clinics []domain.Clinic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots.Purge()
	for _, c := range clinics {
		b.applyLocked(domain.QueueUpdate{Clinic: c})
	}
}

// Apply merges an update into the clinic's snapshot
func (b *Board) Apply(u domain.QueueUpdate) Snapshot {
	b.mu.Lock()
	snap := b.applyLocked(u)
	onCall := b.onCall
	b.mu.Unlock()

	if u.Kind == "add" && onCall != nil {
		if call, ok := callFor(snap, u); ok {
			onCall(call)
		}
	}
	return snap
}

func (b *Board) applyLocked(u domain.QueueUpdate) Snapshot {
	prev, _ := b.snapshots.Peek(u.Seq)
	next := Snapshot{
		Clinic: domain.Clinic{
			Seq:             u.Seq,
			Name:            firstNonEmpty(u.Name, prev.Name, "Clinic "+u.Seq),
			ScreenDirection: firstNonEmpty(u.ScreenDirection, prev.ScreenDirection, b.direction),
			Patients:        u.Patients,
			CurrentPatient:  u.CurrentPatient,
		},
		UpdatedAt:   b.now(),
		HighlightAt: prev.HighlightAt,
	}
	if next.Patients == nil {
		next.Patients = []domain.Patient{}
	}
	if u.Kind == "add" {
		next.HighlightAt = next.UpdatedAt
	}
	b.snapshots.Add(u.Seq, next)
	return next
}

func callFor(snap Snapshot, u domain.QueueUpdate) (Call, bool) {
	var p domain.Patient
	switch {
	case u.CurrentPatient != nil:
		p = *u.CurrentPatient
	case len(u.Patients) > 0:
		p = u.Patients[0]
	default:
		return Call{}, false
	}
	return Call{ClinicSeq: snap.Seq, ClinicName: snap.Name, Patient: p}, true
}

// Get returns the snapshot for a clinic
func (b *Board) Get(seq string) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshots.Peek(seq)
}

// List returns all snapshots ordered by clinic sequence (numerically when possible)
func (b *Board) List() []Snapshot {
	b.mu.Lock()
	list := b.snapshots.Values()
	b.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		a, errA := strconv.Atoi(list[i].Seq)
		c, errC := strconv.Atoi(list[j].Seq)
		if errA == nil && errC == nil {
			return a < c
		}
		return list[i].Seq < list[j].Seq
	})
	return list
}

// Seqs returns the clinic sequences in List order
func (b *Board) Seqs() []string {
	list := b.List()
	seqs := make([]string, 0, len(list))
	for _, s := range list {
		seqs = append(seqs, s.Seq)
	}
	return seqs
}

func (b *Board) OnProgress(domain.DownloadProgress) {}

// OnChannelEvent applies data events; undecodable payloads are logged and ignored
func (b *Board) OnChannelEvent(ev domain.ChannelEvent) {
	if ev.Type != domain.ChannelEventData {
		return
	}
	u, err := DecodeUpdate([]byte(ev.Raw))
	if err != nil {
		b.logger.Debug("ignoring queue payload", "topic", ev.TopicID, "error", err)
		return
	}
	b.Apply(u)
}
