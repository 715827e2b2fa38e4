// Package scraper handles fetching the series catalog and parsing the comick releases listing.
package scraper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 8 << 20

// Sources named in logs and metrics.
const (
	SourceCatalog  = "catalog"
	SourceReleases = "releases"
)

// ErrStatus is returned when a source answers with a non-200 status.
var ErrStatus = errors.New("unexpected HTTP status")

// Recorder receives fetch outcomes. The metrics collector implements it.
type Recorder interface {
	RecordFetch(source string, statusCode int, duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, int, time.Duration, error) {}

// Scraper fetches the catalog and releases page.
type Scraper struct {
	client      *http.Client
	logger      *slog.Logger
	recorder    Recorder
	catalogURL  string
	releasesURL string
}

// Config holds scraper configuration.
type Config struct {
	Client      *http.Client
	Logger      *slog.Logger
	Recorder    Recorder // Optional
	CatalogURL  string
	ReleasesURL string
}

// New creates a new scraper.
func New(cfg *Config) *Scraper {
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scraper{
		client:      client,
		logger:      cfg.Logger,
		recorder:    rec,
		catalogURL:  cfg.CatalogURL,
		releasesURL: cfg.ReleasesURL,
	}
}

// ReleasesURL returns the listing URL, used to resolve relative card links.
func (s *Scraper) ReleasesURL() string {
	return s.releasesURL
}

// FetchCatalog returns the series names listed in the catalog, one per line.
// Any failure is logged and yields an empty catalog.
func (s *Scraper) FetchCatalog(ctx context.Context) []string {
	body, err := s.fetch(ctx, SourceCatalog, s.catalogURL)
	if err != nil {
		s.logger.Error("Failed to fetch series catalog", "url", s.catalogURL, "error", err)
		return nil
	}
	return parseCatalog(body)
}

// FetchReleasesPage returns the raw markup of the releases listing.
// A non-nil error means the caller should skip this cycle.
func (s *Scraper) FetchReleasesPage(ctx context.Context) ([]byte, error) {
	body, err := s.fetch(ctx, SourceReleases, s.releasesURL)
	if err != nil {
		s.logger.Error("Failed to fetch releases page", "url", s.releasesURL, "error", err)
		return nil, err
	}
	return body, nil
}

func parseCatalog(body []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names
}

func (s *Scraper) fetch(ctx context.Context, source, pageURL string) ([]byte, error) {
	s.logger.Info("HTTP request starting",
		"method", "GET",
		"url", pageURL,
		"purpose", "fetch_"+source)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Set essential Chrome-like headers to avoid getting blocked
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Ch-Ua", `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`)
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")

	startTime := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		s.recorder.RecordFetch(source, 0, duration, err)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	s.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength)

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		s.recorder.RecordFetch(source, resp.StatusCode, duration, err)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		s.recorder.RecordFetch(source, resp.StatusCode, duration, err)
		return nil, fmt.Errorf("read body: %w", err)
	}
	s.recorder.RecordFetch(source, resp.StatusCode, duration, nil)
	return body, nil
}
