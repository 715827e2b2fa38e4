package discord

import (
	"chaptersniffer/commands"
	"context"
	"fmt"
	"runtime/debug"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

func stringOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

var commandDefinitions = []*discordgo.ApplicationCommand{
	{Name: "notifyme", Description: "Subscribe to notifications for a specific series"},
	{Name: "help", Description: "Interactive help menu"},
	{Name: "removeseries", Description: "Unsubscribe from a specific series", Options: []*discordgo.ApplicationCommandOption{
		stringOption("series", "Exact name of the series"),
	}},
	{Name: "unsubscribeall", Description: "Unsubscribe from all series"},
	{Name: "myseries", Description: "See all series you're subscribed to"},
	{Name: "availableseries", Description: "List all series available to subscribe"},
	{Name: "addnotifyall", Description: "(Admin) Notify @everyone for a series", Options: []*discordgo.ApplicationCommandOption{
		stringOption("series", "Series to ping @everyone for"),
	}},
	{Name: "removenotifyall", Description: "(Admin) Stop @everyone notifications for a series", Options: []*discordgo.ApplicationCommandOption{
		stringOption("series", "Series to stop notifying @everyone"),
	}},
	{Name: "addnotifyrole", Description: "(Admin) Notify a role for a series", Options: []*discordgo.ApplicationCommandOption{
		stringOption("series", "Series to notify"),
		stringOption("role", "Role name to ping"),
	}},
	{Name: "removenotifyrole", Description: "(Admin) Remove a role from notifications", Options: []*discordgo.ApplicationCommandOption{
		stringOption("series", "Series"),
		stringOption("role", "Role to remove"),
	}},
	{Name: "othernotifications", Description: "Show public notification setup"},
	{Name: "subscribemeall", Description: "(Admin) Subscribe yourself to all current series"},
	{Name: "removeseriesfromuser", Description: "(Admin) Remove a user's series", Options: []*discordgo.ApplicationCommandOption{
		stringOption("user_id", "User ID to remove series from"),
	}},
	{Name: "restartbot", Description: "(Admin) Restarts the bot"},
}

func registerCommands(s *discordgo.Session, appID string) error {
	if _, err := s.ApplicationCommandBulkOverwrite(appID, "", commandDefinitions); err != nil {
		return fmt.Errorf("overwrite commands: %w", err)
	}
	return nil
}

// callerOf identifies the invoking user. Administrator rights only exist
// inside a guild.
func callerOf(i *discordgo.Interaction) (commands.Caller, error) {
	var c commands.Caller
	user := i.User
	if i.Member != nil {
		user = i.Member.User
		c.Admin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	}
	if user == nil {
		return c, fmt.Errorf("interaction %s has no user", i.ID)
	}
	id, err := strconv.ParseInt(user.ID, 10, 64)
	if err != nil {
		return c, fmt.Errorf("parse user ID %q: %w", user.ID, err)
	}
	c.ID = id
	c.Name = user.Username
	return c, nil
}

func (b *Bot) handleInteraction(ctx context.Context, ic *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Interaction handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	i := ic.Interaction
	caller, err := callerOf(i)
	if err != nil {
		b.logger.Warn("Ignoring interaction", "error", err)
		return
	}

	var reply commands.Reply
	responseType := discordgo.InteractionResponseChannelMessageWithSource
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		b.logger.Info("Slash command invoked", "command", data.Name, "user_id", caller.ID)
		reply = b.runCommand(ctx, caller, data)
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		if len(data.Values) == 0 {
			return
		}
		reply = b.handler.Select(ctx, caller, data.CustomID, data.Values[0])
		if data.CustomID == commands.MenuSubscribe {
			responseType = discordgo.InteractionResponseUpdateMessage
		}
	default:
		return
	}

	resp := &discordgo.InteractionResponse{Type: responseType, Data: responseData(reply)}
	if err := b.api.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		b.logger.Error("Failed to respond to interaction", "user_id", caller.ID, "error", err)
		return
	}
	if reply.Restart {
		b.restart()
	}
}

func (b *Bot) runCommand(ctx context.Context, caller commands.Caller, data discordgo.ApplicationCommandInteractionData) commands.Reply {
	opts := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		if o.Type == discordgo.ApplicationCommandOptionString {
			opts[o.Name] = o.StringValue()
		}
	}

	h := b.handler
	switch data.Name {
	case "notifyme":
		return h.NotifyMe(ctx)
	case "help":
		return h.Help()
	case "removeseries":
		return h.RemoveSeries(ctx, caller, opts["series"])
	case "unsubscribeall":
		return h.UnsubscribeAll(ctx, caller)
	case "myseries":
		return h.MySeries(caller)
	case "availableseries":
		return h.AvailableSeries(ctx)
	case "addnotifyall":
		return h.AddNotifyAll(ctx, caller, opts["series"])
	case "removenotifyall":
		return h.RemoveNotifyAll(ctx, caller, opts["series"])
	case "addnotifyrole":
		return h.AddNotifyRole(ctx, caller, opts["series"], opts["role"])
	case "removenotifyrole":
		return h.RemoveNotifyRole(ctx, caller, opts["series"], opts["role"])
	case "othernotifications":
		return h.OtherNotifications()
	case "subscribemeall":
		return h.SubscribeMeAll(ctx, caller)
	case "removeseriesfromuser":
		return h.RemoveSeriesFromUser(caller, opts["user_id"])
	case "restartbot":
		return h.RestartBot(caller)
	default:
		b.logger.Warn("Unknown slash command", "command", data.Name)
		return commands.Reply{Content: "❌ Unknown command."}
	}
}

// responseData renders a reply as an ephemeral interaction response.
func responseData(r commands.Reply) *discordgo.InteractionResponseData {
	data := &discordgo.InteractionResponseData{
		Content:    r.Content,
		Flags:      discordgo.MessageFlagsEphemeral,
		Components: []discordgo.MessageComponent{},
		Embeds:     []*discordgo.MessageEmbed{},
	}
	if e := r.Embed; e != nil {
		embed := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
		}
		if e.Footer != "" {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		data.Embeds = append(data.Embeds, embed)
	}
	if m := r.Menu; m != nil {
		menu := discordgo.SelectMenu{
			CustomID:    m.ID,
			Placeholder: m.Placeholder,
		}
		for _, o := range m.Options {
			opt := discordgo.SelectMenuOption{
				Label:       truncate(o.Label, 100),
				Value:       o.Value,
				Description: o.Description,
			}
			if o.Emoji != "" {
				opt.Emoji = &discordgo.ComponentEmoji{Name: o.Emoji}
			}
			menu.Options = append(menu.Options, opt)
		}
		data.Components = append(data.Components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
	}
	return data
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
