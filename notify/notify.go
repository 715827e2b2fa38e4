// Package notify fans new releases out to direct subscribers, the broadcast
// audience and role audiences of every community.
package notify

import (
	"chaptersniffer/pkg/notifier"
	"chaptersniffer/storage"
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sender defines the interface for chat platform delivery implementations.
type Sender interface {
	// SendDirect sends a private message to a member.
	SendDirect(ctx context.Context, memberID int64, text string) error
	// SendChannel posts a message to a text channel.
	SendChannel(ctx context.Context, channelID, text string) error
}

// SnapshotSource provides a consistent copy of the subscriptions.
type SnapshotSource interface {
	Snapshot() *storage.Snapshot
}

// Dispatcher delivers release notifications using a pluggable sender.
type Dispatcher struct {
	sender Sender
	subs   SnapshotSource
	logger *slog.Logger
}

// New creates a new dispatcher.
func New(sender Sender, subs SnapshotSource, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		subs:   subs,
		logger: logger,
	}
}

// FormatMessage renders the notification text for a release.
func FormatMessage(r notifier.Release) string {
	return fmt.Sprintf("📚 **%s** — %s *(Uploaded: %s)*", r.Title, r.Chapter, r.UploadedAt.UTC().Format("15:04 UTC"))
}

// Dispatch notifies every audience of every community about each release.
// One failed delivery never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, communities []*notifier.Community, releases []notifier.Release) notifier.Report {
	report := notifier.Report{}
	if len(releases) == 0 {
		return report
	}
	snap := d.subs.Snapshot()

	for _, c := range communities {
		for _, rel := range releases {
			text := FormatMessage(rel)
			d.sendDirect(ctx, c, snap, rel.Title, text, report)

			if snap.IsBroadcast(rel.Title) {
				ok := d.sendFirstChannel(ctx, c, "@everyone\n"+text)
				report.Add(notifier.AudienceBroadcast, ok)
				if !ok {
					d.logger.Warn("Broadcast dropped, no channel accepted it",
						"community", c.Name, "title", rel.Title)
				}
			}

			for _, name := range snap.RolesFor(rel.Title) {
				role, found := c.RoleByName(name)
				if !found {
					d.logger.Debug("Role not present in community", "community", c.Name, "role", name)
					continue
				}
				ok := d.sendFirstChannel(ctx, c, role.Mention+"\n"+text)
				report.Add(notifier.AudienceRole, ok)
				if !ok {
					d.logger.Warn("Role notification dropped, no channel accepted it",
						"community", c.Name, "role", name, "title", rel.Title)
				}
			}
		}
	}
	return report
}

func (d *Dispatcher) sendDirect(ctx context.Context, c *notifier.Community, snap *storage.Snapshot, title, text string, report notifier.Report) {
	for _, m := range c.Members {
		if !snap.WantsDirect(m.ID, title) {
			continue
		}
		start := time.Now()
		if err := d.sender.SendDirect(ctx, m.ID, text); err != nil {
			d.logger.Warn("Failed to send direct message",
				"member", m.Name,
				"member_id", m.ID,
				"title", title,
				"error", err)
			report.Add(notifier.AudienceDirect, false)
			continue
		}
		d.logger.Info("Direct message sent",
			"member_id", m.ID,
			"title", title,
			"duration_ms", time.Since(start).Milliseconds())
		report.Add(notifier.AudienceDirect, true)
	}
}

// sendFirstChannel tries the community's text channels in order and stops
// at the first one that accepts the message.
func (d *Dispatcher) sendFirstChannel(ctx context.Context, c *notifier.Community, text string) bool {
	for _, ch := range c.TextChannels {
		if err := d.sender.SendChannel(ctx, ch.ID, text); err != nil {
			d.logger.Debug("Channel rejected message, trying next", "community", c.Name, "channel", ch.Name, "error", err)
			continue
		}
		d.logger.Info("Channel message sent", "community", c.Name, "channel", ch.Name)
		return true
	}
	return false
}
