package analytics

import (
	"context"
	"time"

	"emperror.dev/errors"

	"sushii/internal/storage"
)

type Lister interface {
	ListModLogs(ctx context.Context, guildID string, since time.Time) ([]storage.ModLog, error)
}

type Service struct {
	store Lister
}

func New(store Lister) *Service {
	return &Service{store: store}
}

type Report struct {
	GuildID  string         `json:"guild_id"`
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	ByLevel  map[string]int `json:"by_level"`
	ByAction map[string]int `json:"by_action"`
	Users    int            `json:"users"`
}

// Report summarizes the guild's mod log since the given time.
func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListModLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, errors.WithDetails(err, "guild_id", guildID)
	}

	report := Report{
		GuildID:  guildID,
		Since:    since,
		ByLevel:  make(map[string]int),
		ByAction: make(map[string]int),
	}
	users := make(map[string]struct{})
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByAction[log.Action]++
		if log.UserID != "" {
			users[log.UserID] = struct{}{}
		}
	}
	report.Users = len(users)
	return report, nil
}
