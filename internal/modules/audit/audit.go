package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sushii/internal/storage"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Store interface {
	AddModLog(ctx context.Context, log storage.ModLog) (int64, error)
}

type Entry struct {
	Level      string
	GuildID    string
	UserID     string
	ExecutorID string
	Action     string
	Reason     string
	Details    string
}

// Logger records moderation events in the mod log table, the process log
// and, when a notifier is set, the guild's log channel.
type Logger struct {
	store  Store
	logger *zap.Logger
	notify func(context.Context, storage.ModLog)
	now    func() time.Time
}

func NewLogger(store Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.ModLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, entry Entry) {
	row := storage.ModLog{
		GuildID:    entry.GuildID,
		UserID:     entry.UserID,
		ExecutorID: entry.ExecutorID,
		Level:      entry.Level,
		Action:     entry.Action,
		Reason:     entry.Reason,
		Details:    entry.Details,
		CreatedAt:  l.now(),
	}
	if l.store != nil {
		id, err := l.store.AddModLog(ctx, row)
		if err != nil {
			l.logger.Error("mod log insert failed", zap.String("guild_id", entry.GuildID), zap.String("action", entry.Action), zap.Error(err))
		}
		row.ID = id
	}
	if l.notify != nil {
		l.notify(ctx, row)
	}
	l.logger.Info("audit",
		zap.String("level", entry.Level),
		zap.String("guild_id", entry.GuildID),
		zap.String("user_id", entry.UserID),
		zap.String("action", entry.Action),
		zap.String("reason", entry.Reason),
		zap.String("details", entry.Details),
	)
}
