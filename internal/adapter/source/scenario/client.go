package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/queue"
)

const (
	defaultTimeout = 15 * time.Second
	userAgent      = "Marquee/1.0"
)

// Config holds the endpoints the client talks to
type Config struct {
	ScenarioURL     string
	TemplateBaseURL string
	ClinicAPIOrigin string
	DeviceSerial    string
}

// Client implements domain.ScenarioSource over the scenario HTTP API
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new scenario API client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// doRequest performs a GET and returns the body of a 2xx response
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("scenario request", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("scenario request failed", "url", reqURL, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("request failed: %s: status %d", reqURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// FetchScenario fetches and maps this device's scenario
func (c *Client) FetchScenario(ctx context.Context) (*domain.Scenario, error) {
	if c.cfg.ScenarioURL == "" || c.cfg.TemplateBaseURL == "" {
		return nil, fmt.Errorf("%w: scenario url and template base url are required", domain.ErrNotConfigured)
	}

	body, err := c.doRequest(ctx, DeviceURL(c.cfg.ScenarioURL, c.cfg.DeviceSerial))
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}

	items, err := MapTemplates(resp.Templates, c.cfg.TemplateBaseURL)
	if err != nil {
		return nil, err
	}

	scenario := &domain.Scenario{
		Items:       items,
		WaitingInfo: resp.WaitingInfo,
	}
	if resp.MSeq != nil {
		scenario.SubjectID = string(resp.MSeq.Seq)
	}

	c.logger.Info("scenario fetched", "items", len(items), "subject", scenario.SubjectID, "waitingInfo", scenario.WaitingInfo)
	return scenario, nil
}

// FetchNotices returns the subject's notices. Every failure yields an empty list.
func (c *Client) FetchNotices(ctx context.Context, subjectID string) []domain.Notice {
	if subjectID == "" {
		return []domain.Notice{}
	}
	reqURL, err := NoticeURL(c.cfg.ScenarioURL, subjectID)
	if err != nil {
		c.logger.Warn("notice url unavailable", "error", err)
		return []domain.Notice{}
	}

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		c.logger.Warn("notice fetch failed", "error", err)
		return []domain.Notice{}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return []domain.Notice{}
	}
	var list []Notice
	if err := json.Unmarshal(body, &list); err != nil {
		c.logger.Warn("notice decode failed", "error", err)
		return []domain.Notice{}
	}
	return MapNotices(list)
}

// FetchClinics fetches the clinic roster for a subject
func (c *Client) FetchClinics(ctx context.Context, subjectID string) ([]domain.Clinic, error) {
	if c.cfg.ClinicAPIOrigin == "" {
		return nil, fmt.Errorf("%w: clinic api origin is required", domain.ErrNotConfigured)
	}

	body, err := c.doRequest(ctx, ClinicsURL(c.cfg.ClinicAPIOrigin, subjectID, c.cfg.DeviceSerial))
	if err != nil {
		return nil, err
	}

	clinics, err := queue.DecodeRoster(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode clinic roster: %w", err)
	}
	return clinics, nil
}

var _ domain.ScenarioSource = (*Client)(nil)
