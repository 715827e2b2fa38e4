// Package commands implements the bot's slash command semantics on top of
// the subscription store. Handlers return replies; delivering them is the
// platform adapter's job.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Store is the subset of the subscription store the commands use.
type Store interface {
	Subscribe(ctx context.Context, userID int64, series string) bool
	SubscribeAll(ctx context.Context, userID int64, names []string) int
	Unsubscribe(ctx context.Context, userID int64, series string) bool
	UnsubscribeAll(ctx context.Context, userID int64) int
	SeriesOf(userID int64) []string
	EnableBroadcast(ctx context.Context, series string) bool
	DisableBroadcast(ctx context.Context, series string) bool
	EnableRole(ctx context.Context, series, role string) bool
	DisableRole(ctx context.Context, series, role string) bool
}

// Summary is the read side used by othernotifications.
type Summary interface {
	BroadcastSeries() []string
	RoleSeries() []string
	RolesFor(series string) []string
}

// Catalog fetches the list of subscribable series.
type Catalog interface {
	FetchCatalog(ctx context.Context) []string
}

// Caller identifies who invoked a command.
type Caller struct {
	Name  string
	ID    int64
	Admin bool // Holds the community administrator permission
}

// Reply is what a command answers with. Replies are only shown to the caller.
type Reply struct {
	Embed   *Embed
	Menu    *Menu
	Content string
	Restart bool // The adapter restarts the process after delivering the reply
}

// Embed is a rich message body.
type Embed struct {
	Title       string
	Description string
	Footer      string
	Fields      []Field
	Color       int
}

// Field is one embed section.
type Field struct {
	Name  string
	Value string
}

// Menu is a single-choice selection menu. Its ID routes the choice back to
// Handler.Select.
type Menu struct {
	ID          string
	Placeholder string
	Options     []Option
}

// Option is one menu entry.
type Option struct {
	Label       string
	Value       string
	Description string
	Emoji       string
}

// Menu IDs.
const (
	MenuSubscribe  = "notifyme"
	MenuHelp       = "help"
	menuRemoveUser = "removeseriesfromuser:"
)

// Embed colors.
const (
	colorHelp      = 0x5865F2
	colorMySeries  = 0x33ccff
	colorAvailable = 0x2ecc71
	colorSummary   = 0xf1c40f
	colorBulk      = 0x3498db
)

// Handler runs commands against a store.
type Handler struct {
	store   Store
	summary func() Summary
	catalog Catalog
	logger  *slog.Logger
}

// New creates a command handler. summary returns a consistent read view of
// the public notification settings.
func New(store Store, summary func() Summary, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		store:   store,
		summary: summary,
		catalog: catalog,
		logger:  logger,
	}
}

// NotifyMe offers the catalog as a selection menu.
func (h *Handler) NotifyMe(ctx context.Context) Reply {
	series, truncated := ListSelectableOptions(h.catalog.FetchCatalog(ctx), MaxSelectOptions)
	if len(series) == 0 {
		return Reply{Content: "❌ No series available to subscribe."}
	}
	prompt := "Please choose a series to subscribe:"
	if truncated {
		prompt = fmt.Sprintf("Please choose a series to subscribe (showing first %d).", MaxSelectOptions)
	}
	return Reply{
		Content: prompt,
		Menu: &Menu{
			ID:          MenuSubscribe,
			Placeholder: "Select a series...",
			Options:     plainOptions(series),
		},
	}
}

// Select handles a choice made in a menu created by this handler.
func (h *Handler) Select(ctx context.Context, caller Caller, menuID, value string) Reply {
	switch {
	case menuID == MenuSubscribe:
		return h.subscribe(ctx, caller, value)
	case menuID == MenuHelp:
		return helpTopic(value)
	case strings.HasPrefix(menuID, menuRemoveUser):
		id, err := strconv.ParseInt(strings.TrimPrefix(menuID, menuRemoveUser), 10, 64)
		if err != nil {
			return Reply{Content: fmt.Sprintf("❌ Error: %v", err)}
		}
		return h.removeUserSeries(ctx, caller, id, value)
	default:
		h.logger.Warn("Unknown menu selection", "menu_id", menuID, "user_id", caller.ID)
		return Reply{Content: "❌ This menu is no longer available."}
	}
}

func (h *Handler) subscribe(ctx context.Context, caller Caller, series string) Reply {
	if !h.store.Subscribe(ctx, caller.ID, series) {
		return Reply{Content: fmt.Sprintf("⚠️ You are already subscribed to **%s**.", series)}
	}
	h.logger.Info("User subscribed", "user_id", caller.ID, "series", series)
	return Reply{Content: fmt.Sprintf("✅ Subscribed to **%s**.", series)}
}

// MySeries lists the caller's subscriptions.
func (h *Handler) MySeries(caller Caller) Reply {
	series := h.store.SeriesOf(caller.ID)
	if len(series) == 0 {
		return Reply{Content: "You are not subscribed to any series."}
	}
	return Reply{Embed: &Embed{
		Title:       "📃 Your Subscribed Series",
		Description: bulletList(series, "- "),
		Color:       colorMySeries,
	}}
}

// RemoveSeries unsubscribes the caller from one series.
func (h *Handler) RemoveSeries(ctx context.Context, caller Caller, series string) Reply {
	if !h.store.Unsubscribe(ctx, caller.ID, series) {
		return Reply{Content: "You were not subscribed to this series."}
	}
	h.logger.Info("User unsubscribed", "user_id", caller.ID, "series", series)
	return Reply{Content: fmt.Sprintf("✅ Removed **%s** from your list.", series)}
}

// UnsubscribeAll removes every subscription of the caller.
func (h *Handler) UnsubscribeAll(ctx context.Context, caller Caller) Reply {
	removed := h.store.UnsubscribeAll(ctx, caller.ID)
	if removed == 0 {
		return Reply{Content: "You are not subscribed to any series."}
	}
	h.logger.Info("User unsubscribed from all series", "user_id", caller.ID, "removed", removed)
	return Reply{Content: "✅ Removed all series from your list."}
}

// AvailableSeries lists the whole catalog in embed-sized chunks.
func (h *Handler) AvailableSeries(ctx context.Context) Reply {
	catalog := h.catalog.FetchCatalog(ctx)
	if len(catalog) == 0 {
		return Reply{Content: "❌ No series available."}
	}
	sorted, _ := ListSelectableOptions(catalog, len(catalog))
	lines := make([]string, len(sorted))
	for i, s := range sorted {
		lines[i] = "• " + s + "\n"
	}
	chunks, packed := chunkLines(lines)

	embed := &Embed{Title: "📄 Available Series", Color: colorAvailable}
	for _, c := range chunks {
		embed.Fields = append(embed.Fields, Field{Name: "\u200b", Value: c})
	}
	if packed < len(sorted) {
		embed.Footer = fmt.Sprintf("Showing %d of %d series.", packed, len(sorted))
	}
	return Reply{Embed: embed}
}

// AddNotifyAll enables @everyone notifications for a series.
func (h *Handler) AddNotifyAll(ctx context.Context, caller Caller, series string) Reply {
	if !caller.Admin {
		return Reply{Content: "You must be an admin to use this."}
	}
	if h.store.EnableBroadcast(ctx, series) {
		h.logger.Info("Broadcast enabled", "series", series, "by", caller.ID)
	}
	return Reply{Content: fmt.Sprintf("✅ Now notifying @everyone for **%s**.", series)}
}

// RemoveNotifyAll disables @everyone notifications for a series.
func (h *Handler) RemoveNotifyAll(ctx context.Context, caller Caller, series string) Reply {
	if !caller.Admin {
		return Reply{Content: "You must be an admin to use this."}
	}
	if !h.store.DisableBroadcast(ctx, series) {
		return Reply{Content: "❌ That series was not set to notify @everyone."}
	}
	h.logger.Info("Broadcast disabled", "series", series, "by", caller.ID)
	return Reply{Content: fmt.Sprintf("✅ Removed @everyone for **%s**.", series)}
}

// AddNotifyRole pings a role for a series.
func (h *Handler) AddNotifyRole(ctx context.Context, caller Caller, series, role string) Reply {
	if !caller.Admin {
		return Reply{Content: "You must be an admin to use this."}
	}
	if !h.store.EnableRole(ctx, series, role) {
		return Reply{Content: fmt.Sprintf("⚠️ Role `%s` is already receiving notifications for **%s**.", role, series)}
	}
	h.logger.Info("Role notification enabled", "series", series, "role", role, "by", caller.ID)
	return Reply{Content: fmt.Sprintf("✅ Added role `%s` for **%s** notifications.", role, series)}
}

// RemoveNotifyRole stops pinging a role for a series.
func (h *Handler) RemoveNotifyRole(ctx context.Context, caller Caller, series, role string) Reply {
	if !caller.Admin {
		return Reply{Content: "You must be an admin to use this."}
	}
	if !h.store.DisableRole(ctx, series, role) {
		return Reply{Content: "❌ That role was not being notified for this series."}
	}
	h.logger.Info("Role notification disabled", "series", series, "role", role, "by", caller.ID)
	return Reply{Content: fmt.Sprintf("✅ Removed role `%s` from **%s**.", role, series)}
}

// SubscribeMeAll subscribes the caller to the whole catalog.
func (h *Handler) SubscribeMeAll(ctx context.Context, caller Caller) Reply {
	if !caller.Admin {
		return Reply{Content: "❌ You must be an admin to use this command."}
	}
	added := h.store.SubscribeAll(ctx, caller.ID, h.catalog.FetchCatalog(ctx))
	h.logger.Info("Bulk subscription", "user_id", caller.ID, "added", added)
	return Reply{Embed: &Embed{
		Title:       "📥 Bulk Subscription",
		Description: fmt.Sprintf("You have been subscribed to **%d** new series.", added),
		Color:       colorBulk,
	}}
}

// RemoveSeriesFromUser offers the target user's series as a selection menu.
func (h *Handler) RemoveSeriesFromUser(caller Caller, userID string) Reply {
	if !caller.Admin {
		return Reply{Content: "❌ Admin only command."}
	}
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return Reply{Content: fmt.Sprintf("❌ Error: invalid user ID %q", userID)}
	}
	series := h.store.SeriesOf(id)
	if len(series) == 0 {
		return Reply{Content: "User has no subscriptions."}
	}
	options, _ := ListSelectableOptions(series, MaxSelectOptions)
	return Reply{
		Content: "🔽 Select a series to remove:",
		Menu: &Menu{
			ID:          menuRemoveUser + strconv.FormatInt(id, 10),
			Placeholder: "Choose series to remove",
			Options:     plainOptions(options),
		},
	}
}

func (h *Handler) removeUserSeries(ctx context.Context, caller Caller, userID int64, series string) Reply {
	if !caller.Admin {
		return Reply{Content: "❌ Admin only command."}
	}
	if !h.store.Unsubscribe(ctx, userID, series) {
		return Reply{Content: fmt.Sprintf("❌ User %d is not subscribed to **%s**.", userID, series)}
	}
	h.logger.Info("Series removed from user", "user_id", userID, "series", series, "by", caller.ID)
	return Reply{Content: fmt.Sprintf("✅ Removed **%s** from user %d.", series, userID)}
}

// RestartBot asks the adapter to restart the process.
func (h *Handler) RestartBot(caller Caller) Reply {
	if !caller.Admin {
		return Reply{Content: "❌ You must be an admin to restart the bot."}
	}
	h.logger.Info("Restart command invoked", "by", caller.Name, "user_id", caller.ID)
	return Reply{Content: "♻️ Restarting bot...", Restart: true}
}

// OtherNotifications summarizes the broadcast and role settings.
func (h *Handler) OtherNotifications() Reply {
	s := h.summary()
	var parts []string
	if all := s.BroadcastSeries(); len(all) > 0 {
		parts = append(parts, "**@everyone:**\n"+bulletList(all, "- "))
	}
	if roleSeries := s.RoleSeries(); len(roleSeries) > 0 {
		parts = append(parts, "**Role-based:**")
		for _, series := range roleSeries {
			parts = append(parts, fmt.Sprintf("- %s → %s", series, strings.Join(s.RolesFor(series), ", ")))
		}
	}
	if len(parts) == 0 {
		return Reply{Content: "There are no public notifications set."}
	}
	return Reply{Embed: &Embed{
		Title:       "📢 Notification Summary",
		Description: strings.Join(parts, "\n"),
		Color:       colorSummary,
	}}
}

func plainOptions(values []string) []Option {
	out := make([]Option, len(values))
	for i, v := range values {
		out[i] = Option{Label: v, Value: v}
	}
	return out
}

func bulletList(items []string, bullet string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(bullet)
		b.WriteString(item)
	}
	return b.String()
}
