package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"sushii/internal/analytics"
	"sushii/internal/spam"
)

// StatsSource is the read-only diagnostics view of the spam tracker.
type StatsSource interface {
	Stats() spam.Stats
}

// Reporter summarizes a guild's mod log.
type Reporter interface {
	Report(ctx context.Context, guildID string, since time.Time) (analytics.Report, error)
}

const defaultReportHours = 24

// Server exposes /health, /metrics, /stats and /report on a
// connection-limited listener.
type Server struct {
	server   *http.Server
	maxConns int
	logger   *zap.Logger
}

func NewServer(addr string, maxConns int, gatherer prometheus.Gatherer, stats StatsSource, reports Reporter, logger *zap.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(gatherer, stats, reports, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		maxConns: maxConns,
		logger:   logger,
	}
}

func NewHandler(gatherer prometheus.Gatherer, stats StatsSource, reports Reporter, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats.Stats())
	})
	if reports != nil {
		mux.HandleFunc("/report", reportHandler(reports, logger))
	}
	return mux
}

// reportHandler serves GET /report?guild_id=...&hours=N.
func reportHandler(reports Reporter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guildID := r.URL.Query().Get("guild_id")
		if guildID == "" {
			http.Error(w, "guild_id is required", http.StatusBadRequest)
			return
		}
		hours := defaultReportHours
		if raw := r.URL.Query().Get("hours"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
				return
			}
			hours = parsed
		}

		since := time.Now().Add(-time.Duration(hours) * time.Hour)
		report, err := reports.Report(r.Context(), guildID, since)
		if err != nil {
			logger.Error("report failed", zap.String("guild_id", guildID), zap.Error(err))
			http.Error(w, "report failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.server.Addr)
	}
	if s.maxConns > 0 {
		listener = netutil.LimitListener(listener, s.maxConns)
	}

	go func() {
		s.logger.Info("health endpoint enabled", zap.String("addr", listener.Addr().String()))
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
