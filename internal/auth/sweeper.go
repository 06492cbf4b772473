package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ecozone/authcore/internal/infrastructure/logging"
)

// Sweeper defaults.
const (
	DefaultSweepSchedule    = "@every 15m"
	DefaultSessionRetention = 30 * 24 * time.Hour
	defaultSweepTimeout     = time.Minute
)

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Schedule  string
	Retention time.Duration
	BatchSize int
	Timeout   time.Duration
	Now       func() time.Time
}

// Sweeper deletes dead sessions on a cron schedule. Runs never overlap.
type Sweeper struct {
	sessions SessionRepository
	logger   *logging.Logger
	cfg      SweeperConfig
	cron     *cron.Cron

	// OnSweep, when set, is called with the number of removed rows.
	OnSweep func(removed int64, err error)
}

// NewSweeper creates a Sweeper and validates its schedule.
func NewSweeper(sessions SessionRepository, logger *logging.Logger, cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSessionRetention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSweepTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Sweeper{
		sessions: sessions,
		logger:   logger.With("component", "session_sweeper"),
		cfg:      cfg,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunOnce(context.Background()) }); err != nil { //nolint:contextcheck // Cron jobs have no parent context
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins scheduling on the cron goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("session sweeper started",
		"schedule", s.cfg.Schedule,
		"retention", s.cfg.Retention.String(),
	)
}

// Stop halts scheduling and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one sweep with its own timeout.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	started := time.Now()
	removed, err := s.sessions.SweepExpired(ctx, s.cfg.Now().UTC(), s.cfg.Retention, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("session sweep failed", "removed", removed, "error", err)
	} else if removed > 0 {
		s.logger.Info("session sweep completed",
			"removed", removed,
			"duration", time.Since(started).String(),
		)
	}
	if s.OnSweep != nil {
		s.OnSweep(removed, err)
	}
	return removed, err
}
