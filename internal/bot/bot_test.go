package bot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sushii/internal/modules/audit"
	"sushii/internal/settings"
	"sushii/internal/storage"
)

func testGuild() *discordgo.Guild {
	return &discordgo.Guild{
		ID:      "g1",
		OwnerID: "owner",
		Roles: []*discordgo.Role{
			{ID: "g1", Position: 0, Permissions: discordgo.PermissionSendMessages},
			{ID: "mod", Position: 5, Permissions: discordgo.PermissionModerateMembers},
			{ID: "admin", Position: 8, Permissions: discordgo.PermissionAdministrator},
			{ID: "bot", Position: 10, Permissions: discordgo.PermissionModerateMembers},
			{ID: "top", Position: 20},
		},
	}
}

func member(id string, roles ...string) *discordgo.Member {
	return &discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: id}, Roles: roles}
}

func TestCanModerate(t *testing.T) {
	guild := testGuild()
	self := member("sushii", "bot")

	assert.True(t, canModerate(guild, self, member("u1")))
	assert.True(t, canModerate(guild, self, member("u2", "mod")))
	assert.False(t, canModerate(guild, self, member("owner")))
	assert.False(t, canModerate(guild, self, member("u3", "admin")))
	assert.False(t, canModerate(guild, self, member("u4", "top")))
	assert.False(t, canModerate(guild, self, self))
	assert.False(t, canModerate(guild, member("sushii"), member("u1")), "bot without moderate members")
	assert.False(t, canModerate(guild, self, nil))
}

func TestBuildModLogEmbed(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	embed := buildModLogEmbed(storage.ModLog{
		ID:        42,
		GuildID:   "g1",
		UserID:    "u1",
		Level:     audit.LevelWarn,
		Action:    "spam_timeout",
		Reason:    "spam",
		Details:   "channel=c3 duration=10m0s",
		CreatedAt: at,
	})

	assert.Equal(t, "spam timeout", embed.Title)
	assert.Equal(t, colorWarn, embed.Color)
	require.Len(t, embed.Fields, 4)
	assert.Equal(t, "<@u1> (u1)", embed.Fields[0].Value)
	require.NotNil(t, embed.Footer)
	assert.Equal(t, "Case #42", embed.Footer.Text)
	assert.Equal(t, "2024-01-02T03:04:05Z", embed.Timestamp)

	embed = buildModLogEmbed(storage.ModLog{Level: audit.LevelInfo, Action: "spam_detected"})
	assert.Equal(t, colorInfo, embed.Color)
	assert.Nil(t, embed.Footer)
	assert.Len(t, embed.Fields, 2)

	embed = buildModLogEmbed(storage.ModLog{Level: audit.LevelCrit, Action: "action_failed"})
	assert.Equal(t, colorCrit, embed.Color)
}

func TestDiscordgoLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logFn := discordgoLogger(zap.New(core))

	logFn(discordgo.LogError, 0, "websocket closed: %s\n", "1006")
	logFn(discordgo.LogDebug, 0, "heartbeat")
	logFn(discordgo.LogInformational, 0, "connected")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "websocket closed: 1006 ", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}

type timeoutRequest struct {
	method string
	path   string
	reason string
}

func TestTimeoutSendsAuditLogReason(t *testing.T) {
	requests := make(chan timeoutRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- timeoutRequest{method: r.Method, path: r.URL.Path, reason: r.Header.Get("X-Audit-Log-Reason")}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	endpoint := discordgo.EndpointGuilds
	discordgo.EndpointGuilds = server.URL + "/guilds/"
	t.Cleanup(func() { discordgo.EndpointGuilds = endpoint })

	session, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	enforcer := &sessionEnforcer{session: session}

	err = enforcer.Timeout(context.Background(), "g1", "u1", time.Now().Add(10*time.Minute), "Automod: spam")
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/guilds/g1/members/u1", got.path)
	reason, err := url.PathUnescape(got.reason)
	require.NoError(t, err)
	assert.Equal(t, "Automod: spam", reason)
}

type countingLoader struct {
	mu     sync.Mutex
	calls  int
	seeded []string
}

func (c *countingLoader) EnsureGuildSettings(_ context.Context, settings storage.GuildSettings) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeded = append(c.seeded, settings.GuildID)
	return true, nil
}

func (c *countingLoader) GetGuildSettings(_ context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return defaults, nil
}

func (c *countingLoader) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestGuildDeleteDropsCachedSettings(t *testing.T) {
	loader := &countingLoader{}
	cache := settings.NewCache(loader, time.Minute, storage.GuildSettings{SpamEnabled: true}, zap.NewNop())
	defer cache.Close()
	b := &Bot{logger: zap.NewNop(), settings: cache}

	ctx := context.Background()
	cache.Get(ctx, "g1")
	cache.Get(ctx, "g1")
	require.Equal(t, 1, loader.callCount())

	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1", Unavailable: true}})
	cache.Get(ctx, "g1")
	assert.Equal(t, 1, loader.callCount(), "outages keep cached settings")

	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})
	cache.Get(ctx, "g1")
	assert.Equal(t, 2, loader.callCount())
}

func TestGuildCreateSeedsSettings(t *testing.T) {
	loader := &countingLoader{}
	cache := settings.NewCache(loader, time.Minute, storage.GuildSettings{SpamEnabled: true}, zap.NewNop())
	defer cache.Close()
	b := &Bot{logger: zap.NewNop(), settings: cache}

	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}})
	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g2", Unavailable: true}})

	assert.Equal(t, []string{"g1"}, loader.seeded)
}
