package jobs

import (
	"context"
	"fmt"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/session"

	"github.com/robfig/cron/v3"
)

// CronConfig holds the maintenance schedules.
type CronConfig struct {
	LedgerSweepSchedule    string
	StagingCleanupSchedule string
	TimeZone               string
	Timeout                time.Duration
}

func NewDefaultCronConfig() *CronConfig {
	return &CronConfig{
		LedgerSweepSchedule:    config.DefaultLedgerSweepSchedule,
		StagingCleanupSchedule: config.DefaultStagingCleanupSchedule,
		TimeZone:               config.DefaultTimeZone,
		Timeout:                5 * time.Minute,
	}
}

// CronService runs the ledger maintenance jobs: the legacy classification sweep and the purge of
// staging rows left by sessions whose heartbeat went stale.
type CronService struct {
	cfg      *CronConfig
	store    ledger.Store
	sessions *session.Manager
	cron     *cron.Cron
}

func NewCronService(cfg map[string]interface{}, store ledger.Store, sessions *session.Manager) *CronService {
	c := NewDefaultCronConfig()
	if cfg != nil {
		if s, ok := cfg["ledger_sweep_schedule"].(string); ok && s != "" {
			c.LedgerSweepSchedule = s
		}
		if s, ok := cfg["staging_cleanup_schedule"].(string); ok && s != "" {
			c.StagingCleanupSchedule = s
		}
		if s, ok := cfg["time_zone"].(string); ok && s != "" {
			c.TimeZone = s
		}
	}
	return &CronService{cfg: c, store: store, sessions: sessions}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	loc, err := time.LoadLocation(s.cfg.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))

	if _, err := c.AddFunc(s.cfg.LedgerSweepSchedule, s.runSweep); err != nil {
		return fmt.Errorf("unable to schedule ledger sweep: %w", err)
	}
	if _, err := c.AddFunc(s.cfg.StagingCleanupSchedule, s.runCleanup); err != nil {
		return fmt.Errorf("unable to schedule staging cleanup: %w", err)
	}
	c.Start()
	s.cron = c

	logger.Get().Info().
		Str("ledger_sweep", s.cfg.LedgerSweepSchedule).
		Str("staging_cleanup", s.cfg.StagingCleanupSchedule).
		Msg("cron service started")
	return nil
}

func (s *CronService) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

func (s *CronService) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if _, err := SweepLegacyMovements(ctx, s.store); err != nil {
		logger.Get().Error().Err(err).Msg("ledger sweep failed")
	}
}

func (s *CronService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	PurgeStaleSessions(ctx, s.store, s.sessions)
}

// SweepLegacyMovements finalizes ledger rows written before the staging lifecycle existed.
func SweepLegacyMovements(ctx context.Context, store ledger.Store) (int64, error) {
	n, err := store.ClassifyLegacy(ctx)
	if err != nil {
		return 0, fmt.Errorf("classify legacy movements: %w", err)
	}
	if n > 0 {
		logger.Get().Info().Int64("rows", n).Msg("legacy movements finalized")
	}
	return n, nil
}

// PurgeStaleSessions drops expired sessions and deletes the staging rows their runs left behind.
// It returns the number of rows deleted. A failed purge is logged and the next session is tried.
func PurgeStaleSessions(ctx context.Context, store ledger.Store, sessions *session.Manager) int64 {
	log := logger.Get()
	var total int64
	for _, sess := range sessions.CleanupExpiredSessions() {
		n, err := store.PurgeStaging(ctx, sess.RunID)
		if err != nil {
			log.Error().Err(err).Str("run_id", sess.RunID).Str("session_id", sess.ID).Msg("staging purge failed")
			continue
		}
		total += n
		log.Info().Int64("rows", n).Str("run_id", sess.RunID).Str("session_id", sess.ID).
			Time("heartbeat_at", sess.HeartbeatAt).Msg("stale session purged")
	}
	return total
}
