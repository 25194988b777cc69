package antispam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emperror.dev/errors"
	"go.uber.org/zap"

	"sushii/internal/config"
	"sushii/internal/metrics"
	"sushii/internal/modules/audit"
	"sushii/internal/spam"
	"sushii/internal/storage"
)

// Message is the part of a gateway message the spam check needs.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

type Settings interface {
	Get(ctx context.Context, guildID string) storage.GuildSettings
}

// Enforcer applies moderation actions on Discord.
type Enforcer interface {
	Moderatable(ctx context.Context, guildID, userID string) (bool, error)
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
}

type Module struct {
	tracker  *spam.Tracker
	settings Settings
	enforcer Enforcer
	audit    *audit.Logger
	metrics  *metrics.Metrics
	actions  config.ActionConfig
	logger   *zap.Logger
	now      func() time.Time
}

func New(tracker *spam.Tracker, settings Settings, enforcer Enforcer, auditLogger *audit.Logger, m *metrics.Metrics, actions config.ActionConfig, logger *zap.Logger) *Module {
	return &Module{
		tracker:  tracker,
		settings: settings,
		enforcer: enforcer,
		audit:    auditLogger,
		metrics:  m,
		actions:  actions,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleMessage runs the cross-channel spam check for a guild message and
// times the author out when it is flagged. It reports whether the message
// was spam.
func (m *Module) HandleMessage(ctx context.Context, msg Message) (bool, error) {
	if msg.AuthorBot || msg.GuildID == "" || strings.TrimSpace(msg.Content) == "" {
		return false, nil
	}

	settings := m.settings.Get(ctx, msg.GuildID)
	if !settings.SpamEnabled {
		return false, nil
	}

	m.metrics.MessagesChecked.Inc()
	flagged, err := m.tracker.CheckForSpam(msg.GuildID, msg.AuthorID, msg.Content, msg.ChannelID)
	if err != nil {
		m.metrics.CheckErrors.Inc()
		return false, errors.WithDetails(err, "guild_id", msg.GuildID, "message_id", msg.ID)
	}
	if !flagged {
		return false, nil
	}

	m.metrics.SpamDetected.Inc()
	m.enforce(ctx, msg, settings)
	return true, nil
}

func (m *Module) enforce(ctx context.Context, msg Message, settings storage.GuildSettings) {
	entry := audit.Entry{
		Level:   audit.LevelInfo,
		GuildID: msg.GuildID,
		UserID:  msg.AuthorID,
		Action:  "spam_detected",
		Reason:  m.actions.Reason,
		Details: fmt.Sprintf("channel=%s message=%s", msg.ChannelID, msg.ID),
	}

	if !m.actions.Enabled {
		entry.Details += " enforcement=disabled"
		m.audit.Log(ctx, entry)
		return
	}

	moderatable, err := m.enforcer.Moderatable(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		m.logger.Warn("member lookup failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		entry.Level = audit.LevelCrit
		entry.Action = "action_failed"
		entry.Details += " error=member_lookup"
		m.audit.Log(ctx, entry)
		return
	}
	if !moderatable {
		entry.Details += " moderatable=false"
		m.audit.Log(ctx, entry)
		return
	}

	duration := m.timeoutFor(settings)
	until := m.now().Add(duration)
	if err := m.enforcer.Timeout(ctx, msg.GuildID, msg.AuthorID, until, m.actions.Reason); err != nil {
		m.metrics.TimeoutFailures.Inc()
		m.logger.Warn("spam timeout failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		entry.Level = audit.LevelCrit
		entry.Action = "action_failed"
		entry.Details += " error=timeout"
		m.audit.Log(ctx, entry)
		return
	}

	m.metrics.TimeoutsApplied.Inc()
	entry.Level = audit.LevelWarn
	entry.Action = "spam_timeout"
	entry.Details += fmt.Sprintf(" duration=%s", duration)
	m.audit.Log(ctx, entry)
}

func (m *Module) timeoutFor(settings storage.GuildSettings) time.Duration {
	if settings.TimeoutSeconds > 0 {
		return time.Duration(settings.TimeoutSeconds) * time.Second
	}
	return m.actions.TimeoutDuration()
}
