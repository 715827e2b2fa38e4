// Package poll runs the release check cycle and its recurring schedule.
package poll

import (
	"bytes"
	"chaptersniffer/pkg/notifier"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fetcher retrieves the releases listing.
type Fetcher interface {
	FetchReleasesPage(ctx context.Context) ([]byte, error)
	ReleasesURL() string
}

// ExtractFunc turns listing markup into release candidates.
type ExtractFunc func(body io.Reader, baseURL string, logger *slog.Logger) iter.Seq[notifier.Release]

// Platform exposes the chat platform's readiness and communities.
// Communities may return the communities it could load together with an
// error describing the ones it could not.
type Platform interface {
	Ready() <-chan struct{}
	Communities(ctx context.Context) ([]*notifier.Community, error)
}

// Dispatcher fans releases out to their audiences.
type Dispatcher interface {
	Dispatch(ctx context.Context, communities []*notifier.Community, releases []notifier.Release) notifier.Report
}

// Recorder receives cycle outcomes. The metrics collector implements it.
type Recorder interface {
	RecordCycle(result string, duration time.Duration)
	RecordReleases(found, fresh int)
	RecordDeliveries(report notifier.Report)
	SetSeenKeys(n int)
}

// Cycle results.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// ErrPanic wraps a panic recovered from a cycle.
var ErrPanic = errors.New("cycle panicked")

// Monitor runs check cycles. Only one cycle runs at a time.
type Monitor struct {
	fetcher    Fetcher
	extract    ExtractFunc
	platform   Platform
	dispatcher Dispatcher
	tracker    *Tracker
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.Mutex
}

// Config holds monitor dependencies.
type Config struct {
	Fetcher    Fetcher
	Extract    ExtractFunc
	Platform   Platform
	Dispatcher Dispatcher
	Tracker    *Tracker
	Recorder   Recorder // Optional
	Logger     *slog.Logger
	Now        func() time.Time // Optional, defaults to time.Now
}

// New creates a new poll monitor.
func New(cfg *Config) *Monitor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(DefaultCooldown)
	}
	return &Monitor{
		fetcher:    cfg.Fetcher,
		extract:    cfg.Extract,
		platform:   cfg.Platform,
		dispatcher: cfg.Dispatcher,
		tracker:    tracker,
		recorder:   cfg.Recorder,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Tracker returns the monitor's seen-release tracker.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// RunCycle waits for the platform to be ready, then fetches, extracts,
// filters and dispatches once. Panics are recovered and returned as errors.
func (m *Monitor) RunCycle(ctx context.Context) (err error) {
	select {
	case <-m.platform.Ready():
	case <-ctx.Done():
		return fmt.Errorf("wait for platform: %w", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cycleID := uuid.NewString()
	logger := m.logger.With("cycle_id", cycleID)
	start := time.Now()
	result := ResultOK

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Check cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			result = ResultFailed
		}
		if m.recorder != nil {
			m.recorder.RecordCycle(result, time.Since(start))
			m.recorder.SetSeenKeys(m.tracker.Len())
		}
		logger.Info("Check cycle completed", "result", result, "duration_ms", time.Since(start).Milliseconds())
	}()

	body, err := m.fetcher.FetchReleasesPage(ctx)
	if err != nil {
		// Already logged by the fetcher; the next cycle retries.
		result = ResultSkipped
		return nil
	}

	now := m.now().UTC()
	var found int
	var candidates []notifier.Release
	for rel := range m.extract(bytes.NewReader(body), m.fetcher.ReleasesURL(), logger) {
		found++
		if m.tracker.Candidate(rel, now) {
			candidates = append(candidates, rel)
		}
	}
	logger.Info("Releases extracted", "found", found, "candidates", len(candidates))

	if len(candidates) == 0 {
		if m.recorder != nil {
			m.recorder.RecordReleases(found, 0)
		}
		return nil
	}

	communities, err := m.platform.Communities(ctx)
	if err != nil {
		if len(communities) == 0 {
			return fmt.Errorf("list communities: %w", err)
		}
		logger.Warn("Some communities could not be loaded", "loaded", len(communities), "error", err)
	}

	var fresh []notifier.Release
	for _, rel := range candidates {
		if m.tracker.IsNew(rel, now) {
			fresh = append(fresh, rel)
			logger.Info("New release detected",
				"title", rel.Title,
				"chapter", rel.Chapter,
				"uploaded_at", rel.UploadedAt.Format(time.RFC3339))
		}
	}
	if m.recorder != nil {
		m.recorder.RecordReleases(found, len(fresh))
	}
	if len(fresh) == 0 {
		return nil
	}

	report := m.dispatcher.Dispatch(ctx, communities, fresh)
	if m.recorder != nil {
		m.recorder.RecordDeliveries(report)
	}
	logger.Info("Releases dispatched",
		"releases", len(fresh),
		"communities", len(communities),
		"direct_sent", report.Sent(notifier.AudienceDirect),
		"direct_failed", report.Failed(notifier.AudienceDirect),
		"broadcast_sent", report.Sent(notifier.AudienceBroadcast),
		"role_sent", report.Sent(notifier.AudienceRole))
	return nil
}
