package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cuptrace/cuptrace/internal/config"
	"github.com/cuptrace/cuptrace/internal/service/reporting"
	"github.com/cuptrace/cuptrace/internal/service/ussd"
)

// Scheduler manages the daily trace report and the USSD session sweep.
type Scheduler struct {
	cron         *cron.Cron
	reportingSvc *reporting.Service
	sessions     *ussd.SessionManager
	cfg          config.ReportingConfig
	logger       *zap.Logger
}

// NewScheduler creates a new scheduler instance. The cron runs in the
// configured timezone, falling back to local time if it cannot be loaded.
func NewScheduler(cfg config.ReportingConfig, reportingSvc *reporting.Service, sessions *ussd.SessionManager, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []cron.Option{}
	if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
		opts = append(opts, cron.WithLocation(loc))
	} else {
		logger.Warn("unknown timezone, using local", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	return &Scheduler{
		cron:         cron.New(opts...),
		reportingSvc: reportingSvc,
		sessions:     sessions,
		cfg:          cfg,
		logger:       logger,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")

	if _, err := s.cron.AddFunc(s.cfg.CronSchedule, s.generateDailyReport); err != nil {
		s.logger.Error("failed to schedule daily report", zap.Error(err))
	}

	if s.sessions != nil {
		if _, err := s.cron.AddFunc("*/5 * * * *", s.sweepSessions); err != nil {
			s.logger.Error("failed to schedule session sweep", zap.Error(err))
		}
	}

	s.cron.Start()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cron.Stop()
}

func (s *Scheduler) generateDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.reportingSvc.GenerateDailyReport(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("failed to generate daily trace report", zap.Error(err))
	}
}

func (s *Scheduler) sweepSessions() {
	if removed := s.sessions.Sweep(); removed > 0 {
		s.logger.Debug("swept expired ussd sessions", zap.Int("removed", removed))
	}
}
