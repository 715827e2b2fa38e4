package commands

// Help shows the command overview with a topic menu.
func (h *Handler) Help() Reply {
	return Reply{
		Embed: &Embed{
			Title: "📘 ChapterSniffer Help Menu",
			Color: colorHelp,
			Fields: []Field{
				{Name: "👤 User Commands", Value: "" +
					"• `/help` - Show this help menu\n" +
					"• `/notifyme` - Subscribe to a series\n" +
					"• `/removeseries [series]` - Unsubscribe from a series\n" +
					"• `/unsubscribeall` - Unsubscribe from all series\n" +
					"• `/myseries` - List your subscribed series\n" +
					"• `/availableseries` - Show all available series\n" +
					"• `/othernotifications` - View global notifications summary"},
				{Name: "🛠️ Admin Commands", Value: "" +
					"• `/addnotifyall [series]` - Notify @everyone for a series\n" +
					"• `/removenotifyall [series]` - Stop notifying @everyone for a series\n" +
					"• `/addnotifyrole [series] [role]` - Notify a role when a series updates\n" +
					"• `/removenotifyrole [series] [role]` - Remove role notifications for a series\n" +
					"• `/subscribemeall` - Subscribe yourself to all series\n" +
					"• `/removeseriesfromuser [user]` - Remove a series from a user's subscriptions\n" +
					"• `/restartbot` - Restart the bot"},
			},
			Footer: "Use the dropdown below to view command usage details.",
		},
		Menu: &Menu{
			ID:          MenuHelp,
			Placeholder: "Select a help category...",
			Options: []Option{
				{Emoji: "🔔", Label: "Subscribe", Value: "subscribe", Description: "/notifyme"},
				{Emoji: "🚫", Label: "Unsubscribe", Value: "unsubscribe", Description: "/removeseries [series]"},
				{Emoji: "📃", Label: "My Series", Value: "myseries", Description: "List your subscriptions"},
				{Emoji: "📄", Label: "Available Series", Value: "availableseries", Description: "All subscribable series"},
				{Emoji: "⚙️", Label: "Admin Commands", Value: "admin", Description: "Admin-only commands"},
			},
		},
	}
}

var helpTopics = map[string]string{
	"subscribe":       "Use `/notifyme` to subscribe to a series via a dropdown selection.",
	"unsubscribe":     "Use `/removeseries [series]` to unsubscribe from a series, or `/unsubscribeall` to unsubscribe from all series.",
	"myseries":        "Use `/myseries` to list all series you've subscribed to.",
	"availableseries": "Use `/availableseries` to view all series available for subscription.",
	"admin": "Admin commands:\n" +
		"`/addnotifyall`\n" +
		"`/removenotifyall`\n" +
		"`/addnotifyrole`\n" +
		"`/removenotifyrole`\n" +
		"`/subscribemeall`\n" +
		"`/removeseriesfromuser`\n" +
		"`/restartbot`",
}

func helpTopic(topic string) Reply {
	text, ok := helpTopics[topic]
	if !ok {
		text = "Unknown help topic."
	}
	return Reply{Content: text}
}
