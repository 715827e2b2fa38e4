// Package discord connects the notifier to Discord: it lists communities,
// delivers messages and routes slash commands to the command handler.
package discord

import (
	"chaptersniffer/commands"
	"chaptersniffer/pkg/notifier"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// membersPageSize is the largest page the member list endpoint returns.
const membersPageSize = 1000

// api is the subset of *discordgo.Session the bot calls.
type api interface {
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// Bot is the Discord side of the notifier.
type Bot struct {
	session   *discordgo.Session
	api       api
	guilds    func() []*discordgo.Guild
	handler   *commands.Handler
	restart   func()
	logger    *slog.Logger
	ready     chan struct{}
	dmChans   map[int64]string
	readyOnce sync.Once
	dmMu      sync.Mutex
}

// Config holds bot configuration.
type Config struct {
	Token   string
	Handler *commands.Handler
	Restart func() // Called after the restart command has been answered
	Logger  *slog.Logger
}

// New creates a bot. Call Open to connect.
func New(cfg *Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	b := newBot(session, guildsFromState(session.State), cfg)
	b.session = session
	session.AddHandler(b.onReady)
	session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handleInteraction(context.Background(), i)
	})
	return b, nil
}

func newBot(a api, guilds func() []*discordgo.Guild, cfg *Config) *Bot {
	restart := cfg.Restart
	if restart == nil {
		restart = func() {}
	}
	return &Bot{
		api:     a,
		guilds:  guilds,
		handler: cfg.Handler,
		restart: restart,
		logger:  cfg.Logger,
		ready:   make(chan struct{}),
		dmChans: make(map[int64]string),
	}
}

func guildsFromState(state *discordgo.State) func() []*discordgo.Guild {
	return func() []*discordgo.Guild {
		state.RLock()
		defer state.RUnlock()
		return slices.Clone(state.Guilds)
	}
}

// Open connects the gateway session.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects the gateway session.
func (b *Bot) Close() error {
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if err := registerCommands(s, r.User.ID); err != nil {
		b.logger.Error("Failed to register slash commands", "error", err)
	} else {
		b.logger.Info("Slash commands registered", "count", len(commandDefinitions))
	}
	b.readyOnce.Do(func() {
		b.logger.Info("Discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
		close(b.ready)
	})
}

// Ready is closed once the first gateway session is established.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

// Communities lists every guild the bot is in with its members, text
// channels and roles. A guild that fails to load is skipped; the returned
// error joins those failures and accompanies the guilds that did load.
func (b *Bot) Communities(ctx context.Context) ([]*notifier.Community, error) {
	guilds := b.guilds()
	out := make([]*notifier.Community, 0, len(guilds))
	var errs []error
	for _, g := range guilds {
		c, err := b.community(ctx, g)
		if err != nil {
			b.logger.Error("Failed to load guild", "guild_id", g.ID, "guild", g.Name, "error", err)
			errs = append(errs, fmt.Errorf("load guild %s: %w", g.ID, err))
			continue
		}
		out = append(out, c)
	}
	return out, errors.Join(errs...)
}

func (b *Bot) community(ctx context.Context, g *discordgo.Guild) (*notifier.Community, error) {
	opt := discordgo.WithContext(ctx)
	c := &notifier.Community{ID: g.ID, Name: g.Name}

	after := ""
	for {
		page, err := b.api.GuildMembers(g.ID, after, membersPageSize, opt)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			id, err := strconv.ParseInt(m.User.ID, 10, 64)
			if err != nil {
				b.logger.Warn("Skipping member with invalid ID", "guild", g.Name, "user_id", m.User.ID)
				continue
			}
			c.Members = append(c.Members, notifier.Member{ID: id, Name: m.User.Username, Roles: m.Roles})
		}
		if len(page) < membersPageSize {
			break
		}
		after = page[len(page)-1].User.ID
	}

	channels, err := b.api.GuildChannels(g.ID, opt)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	c.TextChannels = textChannels(channels)

	roles, err := b.api.GuildRoles(g.ID, opt)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	slices.SortStableFunc(roles, func(x, y *discordgo.Role) int { return cmp.Compare(x.Position, y.Position) })
	for _, r := range roles {
		c.Roles = append(c.Roles, notifier.Role{ID: r.ID, Name: r.Name, Mention: r.Mention()})
	}
	return c, nil
}

// textChannels returns the guild text channels in sidebar order.
func textChannels(channels []*discordgo.Channel) []notifier.Channel {
	var text []*discordgo.Channel
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			text = append(text, ch)
		}
	}
	slices.SortStableFunc(text, func(x, y *discordgo.Channel) int {
		if c := cmp.Compare(x.Position, y.Position); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	out := make([]notifier.Channel, len(text))
	for i, ch := range text {
		out[i] = notifier.Channel{ID: ch.ID, Name: ch.Name}
	}
	return out
}

// SendDirect sends a private message to a member.
func (b *Bot) SendDirect(ctx context.Context, memberID int64, text string) error {
	channelID, err := b.dmChannel(ctx, memberID)
	if err != nil {
		return err
	}
	if _, err := b.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send direct message: %w", err)
	}
	return nil
}

func (b *Bot) dmChannel(ctx context.Context, memberID int64) (string, error) {
	b.dmMu.Lock()
	defer b.dmMu.Unlock()
	if id, ok := b.dmChans[memberID]; ok {
		return id, nil
	}
	ch, err := b.api.UserChannelCreate(strconv.FormatInt(memberID, 10), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open direct channel: %w", err)
	}
	b.dmChans[memberID] = ch.ID
	return ch.ID, nil
}

// SendChannel posts a message to a text channel.
func (b *Bot) SendChannel(ctx context.Context, channelID, text string) error {
	if _, err := b.api.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send channel message: %w", err)
	}
	return nil
}
