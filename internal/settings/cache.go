package settings

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/ReneKroon/ttlcache/v2"
	"go.uber.org/zap"

	"sushii/internal/storage"
)

// Loader is the storage the cache sits in front of.
type Loader interface {
	GetGuildSettings(ctx context.Context, guildID string, defaults storage.GuildSettings) (storage.GuildSettings, error)
	EnsureGuildSettings(ctx context.Context, settings storage.GuildSettings) (bool, error)
}

// Cache keeps guild automod settings for a fixed TTL so the message path
// does not hit Postgres for every message.
type Cache struct {
	loader   Loader
	cache    *ttlcache.Cache
	defaults storage.GuildSettings
	logger   *zap.Logger
}

func NewCache(loader Loader, ttl time.Duration, defaults storage.GuildSettings, logger *zap.Logger) *Cache {
	cache := ttlcache.NewCache()
	_ = cache.SetTTL(ttl)
	cache.SkipTTLExtensionOnHit(true)
	return &Cache{loader: loader, cache: cache, defaults: defaults, logger: logger}
}

// Get returns the guild's settings. Storage failures are logged and answered
// with the defaults, which are not cached.
func (c *Cache) Get(ctx context.Context, guildID string) storage.GuildSettings {
	if value, err := c.cache.Get(guildID); err == nil {
		if settings, ok := value.(storage.GuildSettings); ok {
			return settings
		}
	}

	defaults := c.defaults
	defaults.GuildID = guildID
	settings, err := c.loader.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		c.logger.Warn("guild settings fallback", zap.String("guild_id", guildID), zap.Error(err))
		return defaults
	}
	_ = c.cache.Set(guildID, settings)
	return settings
}

// Seed stores the defaults for a guild that has no settings row yet. The
// log channel is left empty so the configured default keeps applying.
func (c *Cache) Seed(ctx context.Context, guildID string) (bool, error) {
	defaults := c.defaults
	defaults.GuildID = guildID
	defaults.LogChannelID = ""
	created, err := c.loader.EnsureGuildSettings(ctx, defaults)
	if err != nil {
		return false, errors.WithDetails(err, "guild_id", guildID)
	}
	return created, nil
}

// Invalidate drops the cached copy so the next Get reloads it.
func (c *Cache) Invalidate(guildID string) {
	_ = c.cache.Remove(guildID)
}

func (c *Cache) Close() error {
	return c.cache.Close()
}
