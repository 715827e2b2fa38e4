package scraper

import (
	"chaptersniffer/pkg/notifier"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Selectors for the parts of a release card.
const (
	titleSelector   = ".series-title"
	chapterSelector = ".series-chapter"
	timeSelector    = "time"
)

var errIncompleteCard = errors.New("card missing title, chapter or time")

// Accepted ISO-8601 forms. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// Extract parses a releases listing into release candidates. The document is
// parsed when iteration starts; iterate again to re-parse. Cards that cannot
// be read are skipped, and markup that cannot be parsed at all yields nothing.
func Extract(body io.Reader, baseURL string, logger *slog.Logger) iter.Seq[notifier.Release] {
	return func(yield func(notifier.Release) bool) {
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			logger.Error("Failed to parse releases page", "error", err)
			return
		}

		base, err := url.Parse(baseURL)
		if err != nil {
			base = nil
		}

		cards := updateCards(doc)
		strategy := "updates_section"
		if cards.Length() == 0 {
			cards = fallbackCards(doc)
			strategy = "fallback"
		}
		logger.Debug("Release cards located", "strategy", strategy, "cards", cards.Length())

		for i := range cards.Nodes {
			rel, err := parseCard(cards.Eq(i), base)
			if err != nil {
				if !errors.Is(err, errIncompleteCard) {
					logger.Warn("Error parsing release card", "index", i, "error", err)
				}
				continue
			}
			if !yield(rel) {
				return
			}
		}
	}
}

// updateCards finds the "Updates" heading and returns the links in the
// container that follows it.
func updateCards(doc *goquery.Document) *goquery.Selection {
	var container *goquery.Selection
	doc.Find("h1, h2, h3, h4, h5, h6").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "updates") {
			return true
		}
		container = h.NextAllFiltered("div").First()
		return false
	})
	if container == nil || container.Length() == 0 {
		return doc.Find("a[href]").Slice(0, 0)
	}
	return container.Find("a[href]")
}

// fallbackCards keeps every link that carries all three card fields.
func fallbackCards(doc *goquery.Document) *goquery.Selection {
	return doc.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		return a.Find(titleSelector).Length() > 0 &&
			a.Find(chapterSelector).Length() > 0 &&
			a.Find(timeSelector).Length() > 0
	})
}

func parseCard(card *goquery.Selection, base *url.URL) (rel notifier.Release, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()

	title := strings.TrimSpace(card.Find(titleSelector).First().Text())
	chapter := strings.TrimSpace(card.Find(chapterSelector).First().Text())
	stamp, ok := card.Find(timeSelector).First().Attr("datetime")
	if title == "" || chapter == "" || !ok || strings.TrimSpace(stamp) == "" {
		return notifier.Release{}, errIncompleteCard
	}

	uploaded, err := ParseTimestamp(stamp)
	if err != nil {
		return notifier.Release{}, err
	}

	rel = notifier.Release{
		Title:      title,
		Chapter:    chapter,
		UploadedAt: uploaded,
	}
	if href, ok := card.Attr("href"); ok && base != nil {
		if u, err := base.Parse(href); err == nil {
			rel.URL = u.String()
		}
	}
	return rel, nil
}

// ParseTimestamp parses an ISO-8601 instant and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
