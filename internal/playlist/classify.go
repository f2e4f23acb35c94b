package playlist

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/mmcdole/marquee/internal/domain"
)

// Strategy is how an item reaches the playback layer
type Strategy int

const (
	// StrategyStream passes the source URL through untouched (live HLS)
	StrategyStream Strategy = iota
	// StrategyArchive downloads and expands a zipped HLS package before playback
	StrategyArchive
	// StrategyFile plays from cache, streaming remotely until the download lands
	StrategyFile
)

func (s Strategy) String() string {
	switch s {
	case StrategyStream:
		return "stream"
	case StrategyArchive:
		return "archive"
	default:
		return "file"
	}
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Plan is the classification result for one item
type Plan struct {
	Strategy Strategy
	Kind     domain.MediaKind
	Ext      string // destination extension, with dot
}

// Classify decides the handling strategy for item. The URL extension is
// consulted first (falling back to the "type" query parameter), then the
// declared kind.
func Classify(item domain.ScenarioItem) (Plan, error) {
	u, err := parseSource(item.SourceURL)
	if err != nil {
		return Plan{}, err
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		if t := u.Query().Get("type"); t != "" {
			ext = "." + strings.ToLower(t)
		}
	}

	switch {
	case ext == ".m3u8" || item.Kind == domain.MediaKindHLS:
		return Plan{Strategy: StrategyStream, Kind: domain.MediaKindHLS}, nil
	case item.Kind == domain.MediaKindHLSZip:
		return Plan{Strategy: StrategyArchive, Kind: domain.MediaKindHLSZip, Ext: ".zip"}, nil
	case imageExts[ext] || item.Kind == domain.MediaKindImage:
		if ext == "" {
			ext = ".jpg"
		}
		return Plan{Strategy: StrategyFile, Kind: domain.MediaKindImage, Ext: ext}, nil
	default:
		if ext == "" {
			ext = ".mp4"
		}
		return Plan{Strategy: StrategyFile, Kind: domain.MediaKindVideo, Ext: ext}, nil
	}
}

func parseSource(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, raw)
	}
	return u, nil
}
