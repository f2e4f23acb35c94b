package domain

import (
	"strings"
	"time"
)

// MediaKind distinguishes how a scenario item is played and cached
type MediaKind string

const (
	MediaKindImage  MediaKind = "image"
	MediaKindVideo  MediaKind = "video"
	MediaKindHLS    MediaKind = "hls"
	MediaKindHLSZip MediaKind = "hls-zip"
)

// ParseMediaKind normalizes a declared kind. Unknown values map to video.
func ParseMediaKind(s string) MediaKind {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case MediaKindImage:
		return MediaKindImage
	case MediaKindHLS:
		return MediaKindHLS
	case MediaKindHLSZip:
		return MediaKindHLSZip
	default:
		return MediaKindVideo
	}
}

// ScenarioItem is one entry of the remotely supplied scenario.
// Immutable for the duration of a resolution pass.
type ScenarioItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Kind            MediaKind `json:"type"`
	SourceURL       string    `json:"url"`
	SortOrder       int       `json:"sort"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
}

// ResolvedItem is a ScenarioItem turned into something the playback layer can open.
// Exactly one of LocalPath or StreamURL is set. A LocalPath always points at a
// complete file.
type ResolvedItem struct {
	ScenarioItem

	LocalPath  string `json:"localPath,omitempty"`
	StreamURL  string `json:"streamUrl,omitempty"`
	PackageDir string `json:"packageDir,omitempty"` // hls-zip only
	Error      string `json:"error,omitempty"`
}

// Playable returns true if the item has a local file or a stream to open
func (r ResolvedItem) Playable() bool {
	return r.LocalPath != "" || r.StreamURL != ""
}

// FromCache returns true if the item resolved to a local file
func (r ResolvedItem) FromCache() bool {
	return r.LocalPath != ""
}

// Scenario is the decoded scenario document
type Scenario struct {
	Items       []ScenarioItem
	WaitingInfo string // "Y" enables the realtime queue panel, "N" hides notices
	SubjectID   string // member sequence; topic root for realtime channels
}

// RealtimeEnabled reports whether the scenario declares realtime queue data
func (s Scenario) RealtimeEnabled() bool {
	return s.WaitingInfo == "Y" && s.SubjectID != ""
}

// EntryKind is the on-disk shape of a cache entry
type EntryKind string

const (
	EntryFile      EntryKind = "file"
	EntryDirectory EntryKind = "directory"
)

// CacheEntry is a path owned by the cache store
type CacheEntry struct {
	Path string
	Kind EntryKind
}

// CacheRecord is the persisted metadata for a completed download
type CacheRecord struct {
	ItemID      string    `json:"itemId"`
	Path        string    `json:"path"`
	SourceURL   string    `json:"sourceUrl"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	Kind        EntryKind `json:"kind"`
	StoredAt    time.Time `json:"storedAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
}

// Notice is a scrolling text notice shown alongside the playlist
type Notice struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sort    int    `json:"sort"`
}

// Patient is one entry of a clinic waiting queue
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Clinic is a roster snapshot for one clinic room
type Clinic struct {
	Seq             string    `json:"seq"`
	Name            string    `json:"name"`
	ScreenDirection string    `json:"screenDirection,omitempty"`
	Patients        []Patient `json:"patients"`
	CurrentPatient  *Patient  `json:"currentPatient,omitempty"`
}

// QueueUpdate is a decoded realtime queue message
type QueueUpdate struct {
	Clinic
	Kind string `json:"kind,omitempty"` // "add" marks a newly called patient
}
