package scraper

import (
	"chaptersniffer/pkg/notifier"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func extractAll(t *testing.T, html string) []notifier.Release {
	t.Helper()
	return slices.Collect(Extract(strings.NewReader(html), "https://comick.io/home2", discardLogger()))
}

func card(href, title, chapter, datetime string) string {
	var b strings.Builder
	b.WriteString(`<a href="` + href + `">`)
	if title != "" {
		b.WriteString(`<p class="series-title">` + title + `</p>`)
	}
	if chapter != "" {
		b.WriteString(`<p class="series-chapter">` + chapter + `</p>`)
	}
	if datetime != "" {
		b.WriteString(`<time datetime="` + datetime + `">just now</time>`)
	}
	b.WriteString(`</a>`)
	return b.String()
}

func TestExtractUpdatesSection(t *testing.T) {
	html := `<html><body>
<h2>Trending</h2><div>` + card("/comic/ignored", "Ignored", "Ch. 1", "2025-01-01T10:00:00Z") + `</div>
<h2>Latest Updates</h2>
<div>` +
		card("/comic/solo-x", "  Solo X ", " Ch. 12 ", "2025-01-01T10:00:00Z") +
		card("/comic/other", "Other", "Ch. 3", "2025-01-01T11:30:00+02:00") +
		`</div></body></html>`

	got := extractAll(t, html)
	if len(got) != 2 {
		t.Fatalf("Extract() returned %d releases, want 2: %+v", len(got), got)
	}

	if got[0].Title != "Solo X" || got[0].Chapter != "Ch. 12" {
		t.Errorf("first release = %q/%q, want Solo X/Ch. 12", got[0].Title, got[0].Chapter)
	}
	if got[0].URL != "https://comick.io/comic/solo-x" {
		t.Errorf("first release URL = %q", got[0].URL)
	}
	want := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	if !got[1].UploadedAt.Equal(want) || got[1].UploadedAt.Location() != time.UTC {
		t.Errorf("second release UploadedAt = %v, want %v in UTC", got[1].UploadedAt, want)
	}
}

func TestExtractSkipsMalformedCards(t *testing.T) {
	html := `<h2>UPDATES</h2><div>` +
		card("/a", "A", "Ch. 1", "2025-01-01T10:00:00Z") +
		card("/b", "B", "", "2025-01-01T10:00:00Z") +
		card("/c", "C", "Ch. 3", "yesterday") +
		card("/d", "", "Ch. 4", "2025-01-01T10:00:00Z") +
		card("/e", "E", "Ch. 5", "2025-01-01T10:05:00.123Z") +
		`</div>`

	got := extractAll(t, html)
	var titles []string
	for _, r := range got {
		titles = append(titles, r.Title)
	}
	if !slices.Equal(titles, []string{"A", "E"}) {
		t.Errorf("Extract() titles = %v, want [A E]", titles)
	}
}

func TestExtractFallback(t *testing.T) {
	// No "Updates" heading: every link carrying all three fields is a card.
	html := `<body><nav><a href="/home">Home</a></nav><section>` +
		card("/1", "One", "Ch. 1", "2025-01-01T10:00:00Z") +
		card("/2", "Two", "Ch. 2", "2025-01-01T10:00:00Z") +
		card("/3", "Three", "", "2025-01-01T10:00:00Z") +
		card("/4", "Four", "Ch. 4", "2025-01-01T10:00:00Z") +
		`</section></body>`

	got := extractAll(t, html)
	if len(got) != 3 {
		t.Fatalf("Extract() returned %d releases, want 3", len(got))
	}
	for i, want := range []string{"One", "Two", "Four"} {
		if got[i].Title != want {
			t.Errorf("release %d title = %q, want %q", i, got[i].Title, want)
		}
	}
}

func TestExtractEmptyUpdatesFallsBack(t *testing.T) {
	html := `<h2>Updates</h2><div><p>nothing here</p></div><div>` +
		card("/x", "X", "Ch. 9", "2025-01-01T10:00:00Z") + `</div>`

	got := extractAll(t, html)
	if len(got) != 1 || got[0].Title != "X" {
		t.Errorf("Extract() = %+v, want single release X", got)
	}
}

func TestExtractNoCards(t *testing.T) {
	for _, html := range []string{"", "<html></html>", "not html at all <<<"} {
		if got := extractAll(t, html); len(got) != 0 {
			t.Errorf("Extract(%q) = %+v, want empty", html, got)
		}
	}
}

func TestExtractStopsWhenConsumerStops(t *testing.T) {
	html := `<h2>Updates</h2><div>` +
		card("/1", "One", "Ch. 1", "2025-01-01T10:00:00Z") +
		card("/2", "Two", "Ch. 2", "2025-01-01T10:00:00Z") +
		`</div>`

	n := 0
	for range Extract(strings.NewReader(html), "", discardLogger()) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iterated %d releases, want 1", n)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-03-04T05:06:07Z", want: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{in: "2025-03-04T05:06:07+01:00", want: time.Date(2025, 3, 4, 4, 6, 7, 0, time.UTC)},
		{in: "2025-03-04T05:06:07.5Z", want: time.Date(2025, 3, 4, 5, 6, 7, 500000000, time.UTC)},
		{in: "2025-03-04T05:06:07", want: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{in: "2025-03-04 05:06:07Z", want: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{in: "2025-06-01T11:55:00+0000", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "2025-06-01T13:55:00.25+0200", want: time.Date(2025, 6, 1, 11, 55, 0, 250000000, time.UTC)},
		{in: "2025-06-01T11:55Z", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "2025-06-01T12:55+01:00", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "2025-06-01T12:55+0100", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "2025-06-01T11:55", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "2025-06-01 11:55:00+0000", want: time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC)},
		{in: "04/03/2025", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
