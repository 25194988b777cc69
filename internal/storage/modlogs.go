package storage

import (
	"context"
	"time"

	"emperror.dev/errors"
)

type ModLog struct {
	ID         int64
	GuildID    string
	UserID     string
	ExecutorID string
	Level      string
	Action     string
	Reason     string
	Details    string
	CreatedAt  time.Time
}

func (s *Store) AddModLog(ctx context.Context, log ModLog) (int64, error) {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mod_logs (guild_id, user_id, executor_id, level, action, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, log.GuildID, log.UserID, log.ExecutorID, log.Level, log.Action, log.Reason, log.Details, log.CreatedAt).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "add mod log")
	}
	return id, nil
}

// ListModLogs returns the guild's entries created at or after since, newest first.
func (s *Store) ListModLogs(ctx context.Context, guildID string, since time.Time) ([]ModLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, executor_id, level, action, reason, details, created_at
		FROM mod_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
	`, guildID, since)
	if err != nil {
		return nil, errors.Wrap(err, "list mod logs")
	}
	defer rows.Close()

	var logs []ModLog
	for rows.Next() {
		var log ModLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.ExecutorID, &log.Level, &log.Action, &log.Reason, &log.Details, &log.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan mod log")
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// CleanupModLogs deletes entries older than the retention period and
// returns how many were removed.
func (s *Store) CleanupModLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.pool.Exec(ctx, `DELETE FROM mod_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup mod logs")
	}
	return tag.RowsAffected(), nil
}
