package scenario

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mmcdole/marquee/internal/domain"
)

// MapTemplates converts scenario templates to domain items, sorted by their
// declared order. Templates missing an image name or type are skipped.
func MapTemplates(templates []Template, templateBase string) ([]domain.ScenarioItem, error) {
	items := make([]domain.ScenarioItem, 0, len(templates))
	for idx, tpl := range templates {
		if tpl.Img == "" || tpl.Type == "" {
			continue
		}
		typeRaw := strings.ToLower(tpl.Type)

		src, err := BuildFileURL(templateBase, tpl.Img, typeRaw)
		if err != nil {
			return nil, err
		}

		item := domain.ScenarioItem{
			ID:        tpl.Img,
			Title:     tpl.Img,
			Kind:      kindFor(typeRaw),
			SourceURL: src,
			SortOrder: idx,
		}
		if tpl.Sort != nil {
			item.SortOrder = int(*tpl.Sort)
		}
		if tpl.TemplateStorage != nil && tpl.TemplateStorage.Title != "" {
			item.Title = tpl.TemplateStorage.Title
		}
		if item.Kind == domain.MediaKindImage && tpl.Time != nil && *tpl.Time > 0 {
			d := int(*tpl.Time)
			item.DurationSeconds = &d
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].SortOrder < items[j].SortOrder })
	return items, nil
}

func kindFor(typeRaw string) domain.MediaKind {
	switch typeRaw {
	case "jpg", "jpeg", "png", "gif", "webp":
		return domain.MediaKindImage
	case "m3u8":
		return domain.MediaKindHLSZip
	default:
		return domain.MediaKindVideo
	}
}

// BuildFileURL sets img and type on the template base URL. Still-image types
// collapse to jpg; an empty type means jpg.
func BuildFileURL(base, img, typ string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: template base %q", domain.ErrInvalidURL, base)
	}
	t := strings.ToLower(typ)
	switch t {
	case "", "jpg", "jpeg", "png":
		t = "jpg"
	}
	q := u.Query()
	q.Set("img", img)
	q.Set("type", t)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DeviceURL adds the device serial as the id query parameter.
// An empty serial leaves the URL untouched.
func DeviceURL(scenarioURL, serial string) string {
	if serial == "" {
		return scenarioURL
	}
	u, err := url.Parse(scenarioURL)
	if err != nil {
		return scenarioURL
	}
	q := u.Query()
	q.Set("id", serial)
	u.RawQuery = q.Encode()
	return u.String()
}

// NoticeURL derives the notice list endpoint from the scenario API origin
func NoticeURL(scenarioURL, memberID string) (string, error) {
	u, err := url.Parse(scenarioURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: scenario url %q", domain.ErrInvalidURL, scenarioURL)
	}
	notice := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     "/dapi/clinic/notice/list",
		RawQuery: url.Values{"memberId": {memberID}}.Encode(),
	}
	return notice.String(), nil
}

// ClinicsURL returns the roster endpoint under the clinic API origin
func ClinicsURL(apiOrigin, memberID, serial string) string {
	q := url.Values{}
	q.Set("memberId", memberID)
	q.Set("serial", serial)
	return strings.TrimRight(apiOrigin, "/") + "/dapi/clinic/list?" + q.Encode()
}

// MapNotices drops empty notices and orders the rest
func MapNotices(list []Notice) []domain.Notice {
	notices := make([]domain.Notice, 0, len(list))
	for idx, n := range list {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		notice := domain.Notice{
			ID:      string(n.ID),
			Content: n.Content,
			Sort:    idx,
		}
		if notice.ID == "" {
			notice.ID = "notice-" + strconv.Itoa(idx)
		}
		if n.Sort != nil {
			notice.Sort = int(*n.Sort)
		}
		notices = append(notices, notice)
	}
	sort.SliceStable(notices, func(i, j int) bool { return notices[i].Sort < notices[j].Sort })
	return notices
}
