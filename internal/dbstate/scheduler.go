package dbstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// BackupScheduler runs periodic backups through gocron.
type BackupScheduler struct {
	scheduler gocron.Scheduler
	manager   *BackupManager
	logger    *slog.Logger
}

func NewBackupScheduler(manager *BackupManager, interval time.Duration, logger *slog.Logger) (*BackupScheduler, error) {
	if manager == nil {
		return nil, fmt.Errorf("backup scheduler: manager is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("backup scheduler: interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	bs := &BackupScheduler{scheduler: s, manager: manager, logger: logger}
	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(bs.run),
		gocron.WithName("periodic-backup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create periodic backup job: %w", err)
	}
	return bs, nil
}

func (s *BackupScheduler) Start() {
	s.logger.Info("starting backup scheduler")
	s.scheduler.Start()
}

func (s *BackupScheduler) Stop() error {
	s.logger.Info("stopping backup scheduler")
	return s.scheduler.Shutdown()
}

func (s *BackupScheduler) run() {
	art, err := s.manager.Backup(context.Background())
	if err != nil {
		return
	}
	s.logger.Info("scheduled backup completed", "path", art.Path)
}
