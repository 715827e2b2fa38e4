package discord

import (
	"chaptersniffer/commands"
	"chaptersniffer/storage"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type sentMessage struct {
	channelID string
	content   string
}

type fakeAPI struct {
	failGuild  map[string]error
	members    []*discordgo.Member
	channels   []*discordgo.Channel
	roles      []*discordgo.Role
	failSend   map[string]bool
	sent       []sentMessage
	dmCreates  int
	pageCalls  int
	responses  []*discordgo.InteractionResponse
	membersErr error
}

func (f *fakeAPI) GuildMembers(guildID string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	f.pageCalls++
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	if err := f.failGuild[guildID]; err != nil {
		return nil, err
	}
	start := 0
	if after != "" {
		start = slices.IndexFunc(f.members, func(m *discordgo.Member) bool { return m.User.ID == after }) + 1
	}
	end := min(start+limit, len(f.members))
	return f.members[start:end], nil
}

func (f *fakeAPI) GuildChannels(string, ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, nil
}

func (f *fakeAPI) GuildRoles(string, ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return f.roles, nil
}

func (f *fakeAPI) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.dmCreates++
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.failSend[channelID] {
		return nil, errors.New("missing access")
	}
	f.sent = append(f.sent, sentMessage{channelID, content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBot(t *testing.T, f *fakeAPI, catalog []string, restart func()) (*Bot, *storage.Store) {
	t.Helper()
	logger := testLogger()
	store, err := storage.Open(context.Background(), storage.NewLocalBackend(filepath.Join(t.TempDir(), "subs.json")), nil, logger)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	h := commands.New(store, func() commands.Summary { return store.Snapshot() }, staticCatalog(catalog), logger)
	guilds := func() []*discordgo.Guild { return []*discordgo.Guild{{ID: "g1", Name: "Readers"}} }
	return newBot(f, guilds, &Config{Handler: h, Restart: restart, Logger: logger}), store
}

type staticCatalog []string

func (c staticCatalog) FetchCatalog(context.Context) []string { return c }

func member(id string, bot bool) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: "user" + id, Bot: bot}}
}

func TestCommunitiesPaginatesAndOrders(t *testing.T) {
	f := &fakeAPI{
		channels: []*discordgo.Channel{
			{ID: "voice", Type: discordgo.ChannelTypeGuildVoice, Position: 0},
			{ID: "general", Name: "general", Type: discordgo.ChannelTypeGuildText, Position: 2},
			{ID: "rules", Name: "rules", Type: discordgo.ChannelTypeGuildText, Position: 1},
		},
		roles: []*discordgo.Role{
			{ID: "r2", Name: "mod", Position: 2},
			{ID: "r0", Name: "@everyone", Position: 0},
		},
	}
	for i := range membersPageSize + 5 {
		f.members = append(f.members, member(fmt.Sprint(1000+i), i == 3))
	}
	f.members = append(f.members, member("not-a-number", false))

	b, _ := newTestBot(t, f, nil, nil)
	communities, err := b.Communities(context.Background())
	if err != nil {
		t.Fatalf("Communities() error = %v", err)
	}
	if len(communities) != 1 {
		t.Fatalf("communities = %d, want 1", len(communities))
	}
	c := communities[0]
	if f.pageCalls != 2 {
		t.Errorf("member pages fetched = %d, want 2", f.pageCalls)
	}
	// One bot and one invalid ID are skipped.
	if len(c.Members) != membersPageSize+4 {
		t.Errorf("members = %d, want %d", len(c.Members), membersPageSize+4)
	}
	if len(c.TextChannels) != 2 || c.TextChannels[0].ID != "rules" || c.TextChannels[1].ID != "general" {
		t.Errorf("text channels = %+v", c.TextChannels)
	}
	role, ok := c.RoleByName("mod")
	if !ok || role.Mention != "<@&r2>" {
		t.Errorf("RoleByName(mod) = %+v, %v", role, ok)
	}
}

func TestCommunitiesError(t *testing.T) {
	f := &fakeAPI{membersErr: errors.New("missing intent")}
	b, _ := newTestBot(t, f, nil, nil)
	communities, err := b.Communities(context.Background())
	if err == nil {
		t.Error("Communities() error = nil, want member list error")
	}
	if len(communities) != 0 {
		t.Errorf("communities = %d, want 0 when every guild failed", len(communities))
	}
}

func TestCommunitiesSkipsFailingGuild(t *testing.T) {
	f := &fakeAPI{
		members:   []*discordgo.Member{member("7", false)},
		failGuild: map[string]error{"g2": errors.New("503 upstream")},
	}
	b, _ := newTestBot(t, f, nil, nil)
	b.guilds = func() []*discordgo.Guild {
		return []*discordgo.Guild{{ID: "g1", Name: "Readers"}, {ID: "g2", Name: "Broken"}}
	}

	communities, err := b.Communities(context.Background())
	if err == nil || !strings.Contains(err.Error(), "g2") {
		t.Errorf("Communities() error = %v, want failure naming g2", err)
	}
	if len(communities) != 1 || communities[0].ID != "g1" {
		t.Fatalf("communities = %+v, want only g1", communities)
	}
	if len(communities[0].Members) != 1 {
		t.Errorf("g1 members = %d, want 1", len(communities[0].Members))
	}
}

func TestSendDirectCachesChannel(t *testing.T) {
	f := &fakeAPI{failSend: map[string]bool{"dm-9": true}}
	b, _ := newTestBot(t, f, nil, nil)
	ctx := context.Background()

	for range 2 {
		if err := b.SendDirect(ctx, 7, "hello"); err != nil {
			t.Fatalf("SendDirect() error = %v", err)
		}
	}
	if f.dmCreates != 1 {
		t.Errorf("DM channels created = %d, want 1", f.dmCreates)
	}
	if err := b.SendDirect(ctx, 9, "hello"); err == nil {
		t.Error("SendDirect() to closed DMs returned nil error")
	}
	if err := b.SendChannel(ctx, "general", "hi"); err != nil {
		t.Errorf("SendChannel() error = %v", err)
	}
	want := []sentMessage{{"dm-7", "hello"}, {"dm-7", "hello"}, {"general", "hi"}}
	if !slices.Equal(f.sent, want) {
		t.Errorf("sent = %+v", f.sent)
	}
}

func commandInteraction(name string, perms int64, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:     "i1",
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: "7", Username: "reader"}, Permissions: perms},
		Data:   discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func selectInteraction(customID, value string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:     "i2",
		Type:   discordgo.InteractionMessageComponent,
		Member: &discordgo.Member{User: &discordgo.User{ID: "7", Username: "reader"}},
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID, Values: []string{value}},
	}}
}

func TestNotifyMeInteraction(t *testing.T) {
	f := &fakeAPI{}
	b, store := newTestBot(t, f, []string{"Tower", "Solo X"}, nil)
	ctx := context.Background()

	b.handleInteraction(ctx, commandInteraction("notifyme", 0))
	if len(f.responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(f.responses))
	}
	data := f.responses[0].Data
	if data.Flags != discordgo.MessageFlagsEphemeral || len(data.Components) != 1 {
		t.Fatalf("response data = %+v", data)
	}
	menu := data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu)
	if menu.CustomID != commands.MenuSubscribe || menu.Options[0].Value != "Solo X" {
		t.Errorf("menu = %+v", menu)
	}

	b.handleInteraction(ctx, selectInteraction(commands.MenuSubscribe, "Solo X"))
	resp := f.responses[1]
	if resp.Type != discordgo.InteractionResponseUpdateMessage || resp.Data.Content != "✅ Subscribed to **Solo X**." {
		t.Errorf("selection response = %+v", resp)
	}
	if !slices.Equal(store.SeriesOf(7), []string{"Solo X"}) {
		t.Errorf("store = %v", store.SeriesOf(7))
	}
}

func TestAdminInteraction(t *testing.T) {
	f := &fakeAPI{}
	b, store := newTestBot(t, f, nil, nil)
	ctx := context.Background()
	series := &discordgo.ApplicationCommandInteractionDataOption{Name: "series", Type: discordgo.ApplicationCommandOptionString, Value: "Tower"}

	b.handleInteraction(ctx, commandInteraction("addnotifyall", 0, series))
	if got := f.responses[0].Data.Content; got != "You must be an admin to use this." {
		t.Errorf("non-admin response = %q", got)
	}

	b.handleInteraction(ctx, commandInteraction("addnotifyall", discordgo.PermissionAdministrator, series))
	if got := f.responses[1].Data.Content; got != "✅ Now notifying @everyone for **Tower**." {
		t.Errorf("admin response = %q", got)
	}
	if !store.Snapshot().IsBroadcast("Tower") {
		t.Error("broadcast not enabled")
	}
}

func TestRestartAfterResponse(t *testing.T) {
	f := &fakeAPI{}
	restarted := 0
	b, _ := newTestBot(t, f, nil, func() { restarted++ })

	b.handleInteraction(context.Background(), commandInteraction("restartbot", 0))
	if restarted != 0 {
		t.Error("non-admin restarted the bot")
	}
	b.handleInteraction(context.Background(), commandInteraction("restartbot", discordgo.PermissionAdministrator))
	if restarted != 1 || len(f.responses) != 2 {
		t.Errorf("restarted = %d, responses = %d", restarted, len(f.responses))
	}
}

func TestCallerOf(t *testing.T) {
	tests := []struct {
		name      string
		i         *discordgo.Interaction
		wantID    int64
		wantAdmin bool
		wantErr   bool
	}{
		{
			name:      "guild admin",
			i:         &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "5"}, Permissions: discordgo.PermissionAdministrator | discordgo.PermissionSendMessages}},
			wantID:    5,
			wantAdmin: true,
		},
		{
			name:   "direct message",
			i:      &discordgo.Interaction{User: &discordgo.User{ID: "6"}},
			wantID: 6,
		},
		{name: "no user", i: &discordgo.Interaction{}, wantErr: true},
		{name: "bad id", i: &discordgo.Interaction{User: &discordgo.User{ID: "x"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := callerOf(tt.i)
			if (err != nil) != tt.wantErr {
				t.Fatalf("callerOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (c.ID != tt.wantID || c.Admin != tt.wantAdmin) {
				t.Errorf("callerOf() = %+v", c)
			}
		})
	}
}

func TestResponseDataTruncatesLabels(t *testing.T) {
	long := string(make([]rune, 150))
	data := responseData(commands.Reply{Menu: &commands.Menu{ID: "m", Options: []commands.Option{{Label: long, Value: "v", Emoji: "🔔"}}}})
	opt := data.Components[0].(discordgo.ActionsRow).Components[0].(discordgo.SelectMenu).Options[0]
	if n := len([]rune(opt.Label)); n != 100 {
		t.Errorf("label length = %d, want 100", n)
	}
	if opt.Emoji == nil || opt.Emoji.Name != "🔔" {
		t.Errorf("emoji = %+v", opt.Emoji)
	}
}
