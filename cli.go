package main

import (
	"bytes"
	"chaptersniffer/pkg/notifier"
	"chaptersniffer/poll"
	"chaptersniffer/scraper"
	"chaptersniffer/storage"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Release statuses shown by the check command.
const (
	statusNew       = "new"
	statusDuplicate = "duplicate"
	statusStale     = "stale"
)

func newCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fetch the releases listing once and show what would be announced",
		Long: "Fetches and parses the releases listing, applies the cooldown and duplicate " +
			"filter of a fresh process, and lists the audiences each release would reach. " +
			"Nothing is sent.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			sc := a.newScraper(nil)
			body, err := sc.FetchReleasesPage(ctx)
			if err != nil {
				return err
			}
			releases := slices.Collect(scraper.Extract(bytes.NewReader(body), sc.ReleasesURL(), a.logger))
			tracker := poll.NewTracker(a.cfg.Poll.Cooldown.Std())

			rows := releaseRows(releases, tracker, store.Snapshot(), time.Now())
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(releaseColumns, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "%d releases, %d new within %s\n", len(releases), tracker.Len(), tracker.Cooldown())
			return nil
		},
	}
}

// releaseRows filters releases in listing order the way a check cycle does.
func releaseRows(releases []notifier.Release, tracker *poll.Tracker, snap *storage.Snapshot, now time.Time) [][]string {
	rows := make([][]string, 0, len(releases))
	for _, r := range releases {
		status := statusStale
		switch {
		case tracker.Seen(r.Key()):
			status = statusDuplicate
		case tracker.IsNew(r, now):
			status = statusNew
		}
		rows = append(rows, []string{
			r.UploadedAt.UTC().Format(time.DateTime),
			r.Title,
			r.Chapter,
			status,
			audienceSummary(snap, r.Title),
		})
	}
	return rows
}

// audienceSummary describes who would hear about series.
func audienceSummary(snap *storage.Snapshot, series string) string {
	var parts []string
	direct := 0
	for _, id := range snap.Users() {
		if snap.WantsDirect(id, series) {
			direct++
		}
	}
	if direct > 0 {
		parts = append(parts, fmt.Sprintf("%d direct", direct))
	}
	if snap.IsBroadcast(series) {
		parts = append(parts, "@everyone")
	}
	if roles := snap.RolesFor(series); len(roles) > 0 {
		parts = append(parts, "roles: "+strings.Join(roles, ", "))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}

func newSubsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subs",
		Short: "Print the stored subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeStore()

			rows := subscriptionRows(store.Snapshot())
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No subscriptions.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(subscriptionColumns, rows))
			return nil
		},
	}
}

// subscriptionRows lists direct subscriptions by user, then broadcast and
// role notifications by series.
func subscriptionRows(snap *storage.Snapshot) [][]string {
	var rows [][]string
	for _, id := range snap.Users() {
		for _, series := range snap.SeriesOf(id) {
			rows = append(rows, []string{string(notifier.AudienceDirect), strconv.FormatInt(id, 10), series})
		}
	}
	for _, series := range snap.BroadcastSeries() {
		rows = append(rows, []string{string(notifier.AudienceBroadcast), "@everyone", series})
	}
	for _, series := range snap.RoleSeries() {
		for _, role := range snap.RolesFor(series) {
			rows = append(rows, []string{string(notifier.AudienceRole), role, series})
		}
	}
	return rows
}

func newCatalogCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the series catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := a.newScraper(nil).FetchCatalog(cmd.Context())
			if len(names) == 0 {
				return fmt.Errorf("catalog at %s is empty or unreachable", a.cfg.Sources.CatalogURL)
			}
			rows := make([][]string, len(names))
			for i, name := range slices.Sorted(slices.Values(names)) {
				rows[i] = []string{strconv.Itoa(i + 1), name}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(catalogColumns, rows))
			return nil
		},
	}
}
