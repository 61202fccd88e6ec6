package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/job"
	"mailflow-go/internal/model"
	"mailflow-go/internal/service"
)

// WorkspaceLister returns workspaces eligible for periodic imports
type WorkspaceLister interface {
	ListImportEnabled(ctx context.Context) ([]model.Workspace, error)
}

// ActiveChecker reports whether a workspace has a running import
type ActiveChecker interface {
	GetActive(ctx context.Context, workspaceID string) (*model.ImportJob, error)
}

// LockJanitor reclaims leases whose holders died without releasing
type LockJanitor interface {
	Sweep(ctx context.Context, grace time.Duration) (int64, error)
}

// Scheduler runs the periodic jobs: incremental import kicks for
// enabled workspaces and the stale-lock janitor
type Scheduler struct {
	cron       *cron.Cron
	config     *config.SchedulerConfig
	workspaces WorkspaceLister
	imports    ActiveChecker
	queue      service.Enqueuer
	locks      LockJanitor
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, workspaces WorkspaceLister, imports ActiveChecker, queue service.Enqueuer, locks LockJanitor) *Scheduler {
	return &Scheduler{
		config:     cfg,
		workspaces: workspaces,
		imports:    imports,
		queue:      queue,
		locks:      locks,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Fresh cron and context each start so Stop/Start cycles work
	s.cron = cron.New(cron.WithSeconds())
	s.ctx, s.cancel = context.WithCancel(context.Background())

	importSchedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)
	if _, err := s.cron.AddFunc(importSchedule, s.kickImports); err != nil {
		return fmt.Errorf("failed to add import cron job: %w", err)
	}

	janitorSchedule := fmt.Sprintf("0 */%d * * * *", s.config.JanitorMinutes)
	if _, err := s.cron.AddFunc(janitorSchedule, s.sweepLocks); err != nil {
		return fmt.Errorf("failed to add janitor cron job: %w", err)
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started: imports every %d minutes, janitor every %d minutes",
		s.config.IntervalMinutes, s.config.JanitorMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// Wait blocks until in-flight cycles finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// kickImports queues an incremental import for every enabled workspace
// that has none running. The import lock makes an extra kick harmless,
// so this stays simple rather than exactly-once.
func (s *Scheduler) kickImports() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	startTime := time.Now()

	workspaces, err := s.workspaces.ListImportEnabled(s.ctx)
	if err != nil {
		logrus.Errorf("Failed to list workspaces for import cycle: %v", err)
		return
	}

	kicked := 0
	for _, ws := range workspaces {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		active, err := s.imports.GetActive(s.ctx, ws.ID)
		if err != nil {
			logrus.Errorf("Failed to check active import for workspace %s: %v", ws.ID, err)
			continue
		}
		if active != nil {
			continue
		}

		payload, err := job.Encode(job.KindImport, ws.ID, job.ImportPayload{TotalTarget: ws.ImportTarget})
		if err == nil {
			err = s.queue.Send(s.ctx, job.KindImport.Queue(), payload, 0)
		}
		if err != nil {
			logrus.Errorf("Failed to queue import for workspace %s: %v", ws.ID, err)
			continue
		}
		kicked++
	}

	logrus.Infof("Import cycle queued %d of %d workspaces in %v", kicked, len(workspaces), time.Since(startTime))
}

// sweepLocks clears leases whose holders died without releasing
func (s *Scheduler) sweepLocks() {
	s.wg.Add(1)
	defer s.wg.Done()

	removed, err := s.locks.Sweep(s.ctx, 5*time.Minute)
	if err != nil {
		logrus.Errorf("Lock sweep failed: %v", err)
		return
	}
	if removed > 0 {
		logrus.Infof("Lock sweep removed %d stale leases", removed)
	}
}
