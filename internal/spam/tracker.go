package spam

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"emperror.dev/errors"
	"go.uber.org/zap"
)

// ErrInvalidArgument is returned for calls that the message pipeline should
// have filtered out already.
const ErrInvalidArgument = errors.Sentinel("invalid argument")

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Detection describes a message that crossed the channel threshold.
type Detection struct {
	GuildID   string
	UserID    string
	ChannelID string
	Hash      Hash
	Channels  []string
	At        time.Time
}

// Stats is a point-in-time view of the tracked state.
type Stats struct {
	ActiveGuilds int `json:"active_guilds"`
	TotalUsers   int `json:"total_users"`
}

type Option func(*Tracker)

func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		t.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithDetectHook registers fn to be called after every detection, outside
// of the tracker's locks.
func WithDetectHook(fn func(Detection)) Option {
	return func(t *Tracker) {
		t.onDetect = fn
	}
}

// Tracker remembers the recent messages of every (guild, user) pair and
// flags content repeated across channels. The index lock is always taken
// before a window lock.
type Tracker struct {
	mu       sync.Mutex
	guilds   map[string]map[string]*window
	cfg      Config
	clock    Clock
	logger   *zap.Logger
	onDetect func(Detection)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a tracker and starts its reaper. Call Destroy to stop it.
func NewTracker(cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		guilds: make(map[string]map[string]*window),
		cfg:    cfg.withDefaults(),
		clock:  realClock{},
		logger: zap.NewNop(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.reap()
	return t
}

func (t *Tracker) Config() Config {
	return t.cfg
}

// CheckForSpam records the message and reports whether the same content
// has now been posted in at least Threshold distinct channels within the
// horizon. Blank content is never tracked.
func (t *Tracker) CheckForSpam(guildID, userID, content, channelID string) (bool, error) {
	if err := validate(guildID, userID, content, channelID); err != nil {
		return false, err
	}
	if strings.TrimSpace(content) == "" {
		return false, nil
	}

	now := t.clock.Now()
	hash := Fingerprint(content)
	entries := t.recordAndPrune(guildID, userID, Entry{Hash: hash, ChannelID: channelID, At: now}, now)

	channels := MatchingChannels(entries, hash)
	if len(channels) < t.cfg.Threshold {
		return false, nil
	}

	t.logger.Warn("spam detected",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Int("channel_count", len(channels)),
		zap.Strings("channels", channels),
		zap.String("hash", string(hash)),
	)
	if t.onDetect != nil {
		t.onDetect(Detection{
			GuildID:   guildID,
			UserID:    userID,
			ChannelID: channelID,
			Hash:      hash,
			Channels:  channels,
			At:        now,
		})
	}
	return true, nil
}

// recordAndPrune drops expired entries from the pair's window and appends
// entry. The returned slice belongs to the tracker and must not be modified.
func (t *Tracker) recordAndPrune(guildID, userID string, entry Entry, now time.Time) []Entry {
	w := t.lockWindow(guildID, userID)
	defer w.mu.Unlock()

	w.prune(now, t.cfg.Horizon)
	w.entries = append(w.entries, entry)
	return w.entries
}

// lockWindow returns the pair's window, creating it if needed, with its
// lock held. The window lock is taken before the index lock is released so
// a concurrent sweep cannot drop a window that is about to be appended to.
func (t *Tracker) lockWindow(guildID, userID string) *window {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.guilds[guildID]
	if users == nil {
		users = make(map[string]*window)
		t.guilds[guildID] = users
	}
	w := users[userID]
	if w == nil {
		w = &window{}
		users[userID] = w
	}
	w.mu.Lock()
	return w
}

// Sweep removes users with no activity inside the horizon and guilds left
// without users.
func (t *Tracker) Sweep(now time.Time) Stats {
	t.mu.Lock()
	removed := 0
	for guildID, users := range t.guilds {
		for userID, w := range users {
			w.mu.Lock()
			active := w.hasActivity(now, t.cfg.Horizon)
			w.mu.Unlock()
			if !active {
				delete(users, userID)
				removed++
			}
		}
		if len(users) == 0 {
			delete(t.guilds, guildID)
		}
	}
	stats := t.statsLocked()
	t.mu.Unlock()

	t.logger.Debug("spam tracker swept",
		zap.Int("active_guilds", stats.ActiveGuilds),
		zap.Int("total_users", stats.TotalUsers),
		zap.Int("removed_users", removed),
	)
	return stats
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *Tracker) statsLocked() Stats {
	stats := Stats{ActiveGuilds: len(t.guilds)}
	for _, users := range t.guilds {
		stats.TotalUsers += len(users)
	}
	return stats
}

// Destroy stops the reaper and drops all tracked state. It is safe to call
// more than once.
func (t *Tracker) Destroy() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.done

	t.mu.Lock()
	t.guilds = make(map[string]map[string]*window)
	t.mu.Unlock()
}

func (t *Tracker) reap() {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Sweep(t.clock.Now())
		}
	}
}

func validate(guildID, userID, content, channelID string) error {
	switch {
	case guildID == "":
		return errors.Wrap(ErrInvalidArgument, "guild id is empty")
	case userID == "":
		return errors.Wrap(ErrInvalidArgument, "user id is empty")
	case channelID == "":
		return errors.Wrap(ErrInvalidArgument, "channel id is empty")
	case !utf8.ValidString(content):
		return errors.Wrap(ErrInvalidArgument, "content is not valid utf-8")
	}
	return nil
}
