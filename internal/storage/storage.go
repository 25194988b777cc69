package storage

import (
	"context"
	"embed"
	"path"
	"sort"

	"emperror.dev/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool *pgxpool.Pool
}

type GuildSettings struct {
	GuildID        string
	SpamEnabled    bool
	TimeoutSeconds int
	LogChannelID   string
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded migrations in file name order. Every
// migration is idempotent DDL holding a single statement.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "migration %s failed", file)
		}
	}
	return nil
}

// GetGuildSettings returns the stored settings for guildID, or defaults
// when the guild has none.
func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT spam_enabled, timeout_seconds, log_channel_id
		FROM guild_automod_settings WHERE guild_id = $1`, guildID)

	result := defaults
	result.GuildID = guildID

	err := row.Scan(&result.SpamEnabled, &result.TimeoutSeconds, &result.LogChannelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		return GuildSettings{}, errors.Wrap(err, "get guild settings")
	}
	if result.LogChannelID == "" {
		result.LogChannelID = defaults.LogChannelID
	}
	return result, nil
}

// EnsureGuildSettings inserts settings for a guild that has no row yet and
// reports whether a row was created. Existing rows are left untouched.
func (s *Store) EnsureGuildSettings(ctx context.Context, settings GuildSettings) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO guild_automod_settings (guild_id, spam_enabled, timeout_seconds, log_channel_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id) DO NOTHING
	`, settings.GuildID, settings.SpamEnabled, settings.TimeoutSeconds, settings.LogChannelID)
	if err != nil {
		return false, errors.Wrap(err, "ensure guild settings")
	}
	return tag.RowsAffected() == 1, nil
}
