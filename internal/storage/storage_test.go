package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("SUSHII_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SUSHII_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be idempotent")

	_, err = store.pool.Exec(ctx, `TRUNCATE guild_automod_settings, mod_logs`)
	require.NoError(t, err)
	return store
}

func TestGuildSettingsDefaultsAndEnsure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	defaults := GuildSettings{SpamEnabled: true, TimeoutSeconds: 600, LogChannelID: "fallback"}

	got, err := store.GetGuildSettings(ctx, "g1", defaults)
	require.NoError(t, err)
	assert.Equal(t, GuildSettings{GuildID: "g1", SpamEnabled: true, TimeoutSeconds: 600, LogChannelID: "fallback"}, got)

	created, err := store.EnsureGuildSettings(ctx, GuildSettings{GuildID: "g1", SpamEnabled: true, TimeoutSeconds: 600})
	require.NoError(t, err)
	assert.True(t, created)

	_, err = store.pool.Exec(ctx, `UPDATE guild_automod_settings SET spam_enabled = FALSE, timeout_seconds = 120 WHERE guild_id = 'g1'`)
	require.NoError(t, err)

	created, err = store.EnsureGuildSettings(ctx, GuildSettings{GuildID: "g1", SpamEnabled: true, TimeoutSeconds: 600})
	require.NoError(t, err)
	assert.False(t, created)

	got, err = store.GetGuildSettings(ctx, "g1", defaults)
	require.NoError(t, err)
	assert.False(t, got.SpamEnabled)
	assert.Equal(t, 120, got.TimeoutSeconds)
	assert.Equal(t, "fallback", got.LogChannelID)
}

func TestModLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.AddModLog(ctx, ModLog{GuildID: "g1", UserID: "u1", Level: "WARN", Action: "spam_timeout", CreatedAt: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	id, err := store.AddModLog(ctx, ModLog{GuildID: "g1", UserID: "u2", Level: "WARN", Action: "spam_detected", Reason: "r"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	logs, err := store.ListModLogs(ctx, "g1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "u2", logs[0].UserID)
	assert.Equal(t, "r", logs[0].Reason)

	removed, err := store.CleanupModLogs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
