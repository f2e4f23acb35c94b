package domain

import "context"

// ScenarioSource is the remote scenario/notice/roster API (consumed, not implemented here)
type ScenarioSource interface {
	// FetchScenario returns the sorted scenario for this device.
	// Returns ErrNotConfigured when required endpoints are missing.
	FetchScenario(ctx context.Context) (*Scenario, error)

	// FetchNotices returns the notices for a subject. Failures yield an empty list.
	FetchNotices(ctx context.Context, subjectID string) []Notice

	// FetchClinics returns the clinic roster for a subject
	FetchClinics(ctx context.Context, subjectID string) ([]Clinic, error)
}

// EventSink receives events destined for the UI layer.
// Implementations must not block.
type EventSink interface {
	OnProgress(DownloadProgress)
	OnChannelEvent(ChannelEvent)
}

// NoOpSink discards all events (for testing/batch operations).
type NoOpSink struct{}

func (NoOpSink) OnProgress(DownloadProgress) {}
func (NoOpSink) OnChannelEvent(ChannelEvent) {}
