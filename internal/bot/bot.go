package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sushii/internal/config"
	"sushii/internal/metrics"
	"sushii/internal/modules/antispam"
	"sushii/internal/modules/audit"
	"sushii/internal/settings"
	"sushii/internal/spam"
	"sushii/internal/storage"
)

// ModLogCleaner prunes old mod log rows.
type ModLogCleaner interface {
	CleanupModLogs(ctx context.Context, retention time.Duration) (int64, error)
}

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	session  *discordgo.Session
	settings *settings.Cache
	audit    *audit.Logger
	cleaner  ModLogCleaner
	antispam *antispam.Module

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, settingsCache *settings.Cache, auditLogger *audit.Logger, cleaner ModLogCleaner, tracker *spam.Tracker, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, errors.Wrap(err, "creating discord session")
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	discordgo.Logger = discordgoLogger(logger.Named("discordgo"))

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		session:  session,
		settings: settingsCache,
		audit:    auditLogger,
		cleaner:  cleaner,
		stop:     make(chan struct{}),
	}
	b.antispam = antispam.New(tracker, settingsCache, &sessionEnforcer{session: session}, auditLogger, m, cfg.Actions, logger.Named("antispam"))
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyModLog)
	}
	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "opening discord session")
	}

	b.startRetention()
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.stopOnce.Do(func() {
		close(b.stop)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("retention worker did not stop in time")
	}

	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	created, err := b.settings.Seed(ctx, event.ID)
	if err != nil {
		b.logger.Warn("seed guild settings failed", zap.String("guild_id", event.ID), zap.Error(err))
		return
	}
	if created {
		b.logger.Info("guild settings created", zap.String("guild_id", event.ID))
	}
}

// onGuildDelete forgets the settings of guilds the bot was removed from.
// Outages also arrive as GuildDelete and are ignored.
func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	b.settings.Invalidate(event.ID)
	b.logger.Info("left guild", zap.String("guild_id", event.ID))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	_, err := b.antispam.HandleMessage(ctx, antispam.Message{
		ID:        msg.ID,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.Author.ID,
		AuthorBot: msg.Author.Bot,
		Content:   msg.Content,
	})
	if err != nil {
		b.logger.Warn("spam check rejected message", zap.Error(err))
	}
}

func (b *Bot) notifyModLog(ctx context.Context, entry storage.ModLog) {
	channelID := b.settings.Get(ctx, entry.GuildID).LogChannelID
	if channelID == "" {
		channelID = b.cfg.DefaultLogChannel
	}
	if channelID == "" {
		return
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, buildModLogEmbed(entry)); err != nil {
		b.logger.Warn("mod log notify failed", zap.String("guild_id", entry.GuildID), zap.String("channel_id", channelID), zap.Error(err))
	}
}

const (
	colorInfo = 0x5865F2
	colorWarn = 0xF59E0B
	colorCrit = 0xEF4444
)

func buildModLogEmbed(entry storage.ModLog) *discordgo.MessageEmbed {
	color := colorInfo
	switch entry.Level {
	case audit.LevelWarn:
		color = colorWarn
	case audit.LevelCrit:
		color = colorCrit
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "User", Value: fmt.Sprintf("<@%s> (%s)", entry.UserID, entry.UserID), Inline: true},
		{Name: "Action", Value: entry.Action, Inline: true},
	}
	if entry.Reason != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Reason", Value: entry.Reason})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: "`" + entry.Details + "`"})
	}

	embed := &discordgo.MessageEmbed{
		Title:     strings.ReplaceAll(entry.Action, "_", " "),
		Color:     color,
		Fields:    fields,
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
	}
	if entry.ID != 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Case #%d", entry.ID)}
	}
	return embed
}

func (b *Bot) startRetention() {
	if b.cleaner == nil || b.cfg.RetentionDays <= 0 {
		return
	}
	retention := time.Duration(b.cfg.RetentionDays) * 24 * time.Hour

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := b.cleaner.CleanupModLogs(ctx, retention)
			cancel()
			if err != nil {
				b.logger.Warn("mod log cleanup failed", zap.Error(err))
			} else if removed > 0 {
				b.logger.Info("mod log cleanup", zap.Int64("removed", removed))
			}

			select {
			case <-b.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func discordgoLogger(logger *zap.Logger) func(msgL, caller int, format string, a ...interface{}) {
	return func(msgL, _ int, format string, a ...interface{}) {
		level := zapcore.InfoLevel
		switch msgL {
		case discordgo.LogError:
			level = zapcore.ErrorLevel
		case discordgo.LogWarning:
			level = zapcore.WarnLevel
		case discordgo.LogDebug:
			level = zapcore.DebugLevel
		}
		if ce := logger.Check(level, strings.ReplaceAll(fmt.Sprintf(format, a...), "\n", " ")); ce != nil {
			ce.Write()
		}
	}
}
