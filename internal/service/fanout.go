package service

import "github.com/mmcdole/marquee/internal/domain"

// Fanout forwards every event to each sink in order
type Fanout []domain.EventSink

func (f Fanout) OnProgress(p domain.DownloadProgress) {
	for _, s := range f {
		s.OnProgress(p)
	}
}

func (f Fanout) OnChannelEvent(ev domain.ChannelEvent) {
	for _, s := range f {
		s.OnChannelEvent(ev)
	}
}
