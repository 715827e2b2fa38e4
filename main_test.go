package main

import (
	"bytes"
	"chaptersniffer/pkg/notifier"
	"chaptersniffer/poll"
	"chaptersniffer/storage"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// runCommand executes the root command in a scratch directory with the
// given arguments and environment.
func runCommand(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, name := range []string{"DISCORD_TOKEN", "CATALOG_URL", "RELEASES_URL", "STORAGE_BUCKET", "STATE_FILE", "LOG_LEVEL", "PORT"} {
		t.Setenv(name, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLoggerJSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, 0)
	logger.Info("Check cycle completed", "result", "ok")
	logger.Debug("Hidden")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log output is not a single JSON line: %q", buf.String())
	}
	if entry["msg"] != "Check cycle completed" || entry["result"] != "ok" {
		t.Errorf("log entry = %v", entry)
	}
}

func TestServeRequiresToken(t *testing.T) {
	for _, args := range [][]string{{}, {"serve"}} {
		_, err := runCommand(t, nil, args...)
		if err == nil || !strings.Contains(err.Error(), "DISCORD_TOKEN") {
			t.Errorf("args %v: error = %v, want missing token", args, err)
		}
	}
}

func TestCatalogCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("Tower\n\n  Solo X \n"))
	}))
	defer srv.Close()

	out, err := runCommand(t, map[string]string{"CATALOG_URL": srv.URL}, "catalog")
	if err != nil {
		t.Fatalf("catalog error = %v", err)
	}
	solo, tower := strings.Index(out, "Solo X"), strings.Index(out, "Tower")
	if solo < 0 || tower < 0 || solo > tower {
		t.Errorf("catalog output not sorted:\n%s", out)
	}
}

func TestCatalogCommandEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := runCommand(t, map[string]string{"CATALOG_URL": srv.URL}, "catalog"); err == nil {
		t.Error("catalog with unreachable source returned nil error")
	}
}

func TestCheckCommand(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)
	page := `<html><body><h2>Latest Updates</h2><div>` +
		`<a href="/comic/solo-x"><p class="series-title">Solo X</p><p class="series-chapter">Ch. 12</p><time datetime="` + now + `"></time></a>` +
		`<a href="/comic/solo-x"><p class="series-title">Solo X</p><p class="series-chapter">Ch. 12</p><time datetime="` + now + `"></time></a>` +
		`<a href="/comic/old"><p class="series-title">Old</p><p class="series-chapter">Ch. 1</p><time datetime="2020-01-01T00:00:00Z"></time></a>` +
		`</div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	out, err := runCommand(t, map[string]string{"RELEASES_URL": srv.URL}, "check")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	for _, want := range []string{statusNew, statusDuplicate, statusStale, "3 releases, 1 new"} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}
}

func TestSubsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subs.json")
	store, err := storage.Open(context.Background(), storage.NewLocalBackend(path), nil, newLogger(&bytes.Buffer{}, 0))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store.Subscribe(ctx, 42, "Solo X")
	store.EnableBroadcast(ctx, "Tower")
	store.EnableRole(ctx, "Tower", "Readers")

	out, err := runCommand(t, map[string]string{"STATE_FILE": path}, "subs")
	if err != nil {
		t.Fatalf("subs error = %v", err)
	}
	for _, want := range []string{"42", "Solo X", "@everyone", "Readers", "Tower"} {
		if !strings.Contains(out, want) {
			t.Errorf("subs output missing %q:\n%s", want, out)
		}
	}

	out, err = runCommand(t, map[string]string{"STATE_FILE": filepath.Join(dir, "none.json")}, "subs")
	if err != nil || !strings.Contains(out, "No subscriptions.") {
		t.Errorf("empty subs = %q, %v", out, err)
	}
}

func TestReleaseRows(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	releases := []notifier.Release{
		{Title: "Solo X", Chapter: "Ch. 12", UploadedAt: now.Add(-time.Minute)},
		{Title: "Solo X", Chapter: "Ch. 12", UploadedAt: now.Add(-time.Minute)},
		{Title: "Tower", Chapter: "Ch. 3", UploadedAt: now.Add(-time.Hour)},
	}
	snap := &storage.Snapshot{
		Direct:    map[int64]map[string]struct{}{1: {"Solo X": {}}, 2: {"Solo X": {}}},
		Broadcast: map[string]struct{}{"Solo X": {}},
		Roles:     map[string][]string{"Solo X": {"mod"}},
	}

	rows := releaseRows(releases, poll.NewTracker(10*time.Minute), snap, now)
	var statuses []string
	for _, r := range rows {
		statuses = append(statuses, r[3])
	}
	if want := []string{statusNew, statusDuplicate, statusStale}; !slices.Equal(statuses, want) {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
	if got := rows[0][4]; got != "2 direct; @everyone; roles: mod" {
		t.Errorf("audience = %q", got)
	}
	if got := rows[2][4]; got != "-" {
		t.Errorf("audience without subscribers = %q", got)
	}
}

func TestSubscriptionRows(t *testing.T) {
	snap := &storage.Snapshot{
		Direct:    map[int64]map[string]struct{}{9: {"B": {}, "A": {}}},
		Broadcast: map[string]struct{}{"C": {}},
		Roles:     map[string][]string{"D": {"mod", "vip"}},
	}
	got := subscriptionRows(snap)
	want := [][]string{
		{"direct", "9", "A"},
		{"direct", "9", "B"},
		{"broadcast", "@everyone", "C"},
		{"role", "mod", "D"},
		{"role", "vip", "D"},
	}
	if !slices.EqualFunc(got, want, slices.Equal) {
		t.Errorf("subscriptionRows() = %v, want %v", got, want)
	}
}

func TestRenderTable(t *testing.T) {
	if got := renderTable(nil, nil); got != "" {
		t.Errorf("renderTable(no columns) = %q", got)
	}
	out := renderTable(catalogColumns, [][]string{{"1"}, {"2", "Tower", "extra"}})
	if !strings.Contains(strings.ToUpper(out), "SERIES") || !strings.Contains(out, "Tower") {
		t.Errorf("renderTable() =\n%s", out)
	}
	if strings.Contains(out, "extra") {
		t.Errorf("renderTable() kept a cell beyond the last column:\n%s", out)
	}
}
