package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/job"
	"mailflow-go/internal/mailbox"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

// LockNameImport is the lease name serializing importer work units per
// workspace
const LockNameImport = "email-import"

const authExpiredMessage = "mailbox authorization expired, reconnect your account"

// Importer walks the upstream mailbox page by page under a wall-clock
// budget, persisting resumable checkpoints after every page. One call
// to Process is one bounded work unit; continuation happens by
// re-enqueueing an import payload, never by blocking past the budget.
type Importer struct {
	cfg     *config.PipelineConfig
	mailbox mailbox.Client
	jobs    ImportJobStore
	staging StagingStore
	locker  Locker
	queue   Enqueuer
	metrics *metrics.Metrics
}

// NewImporter creates the batch importer
func NewImporter(cfg *config.PipelineConfig, mb mailbox.Client, jobs ImportJobStore, staging StagingStore, locker Locker, queue Enqueuer, m *metrics.Metrics) *Importer {
	return &Importer{
		cfg:     cfg,
		mailbox: mb,
		jobs:    jobs,
		staging: staging,
		locker:  locker,
		queue:   queue,
		metrics: m,
	}
}

// Process runs one bounded import unit for the workspace
func (s *Importer) Process(ctx context.Context, workspaceID string, p job.ImportPayload) error {
	acquired, err := s.locker.Acquire(ctx, workspaceID, LockNameImport, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire import lock: %w", err)
	}
	if !acquired {
		// Another relay chain is live on this workspace. Not an error.
		s.metrics.LockContention.Inc()
		logrus.Infof("Import lock busy for workspace %s, skipping", workspaceID)
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), workspaceID, LockNameImport); err != nil {
			logrus.Errorf("Failed to release import lock for %s: %v", workspaceID, err)
		}
	}()

	imp, err := s.loadOrCreateJob(ctx, workspaceID, p)
	if err != nil {
		return err
	}
	if imp == nil {
		return nil
	}

	if imp.Status.Terminal() {
		logrus.Infof("Import job %s is %s, nothing to do", imp.ID, imp.Status)
		return nil
	}

	deadline := time.Now().Add(s.cfg.TimeBudget)
	return s.runBatches(ctx, imp, deadline)
}

func (s *Importer) loadOrCreateJob(ctx context.Context, workspaceID string, p job.ImportPayload) (*model.ImportJob, error) {
	if p.JobID != "" {
		imp, err := s.jobs.GetByID(ctx, p.JobID)
		if err != nil {
			return nil, err
		}
		return imp, nil
	}

	if imp, err := s.jobs.GetActive(ctx, workspaceID); err != nil {
		return nil, err
	} else if imp != nil {
		return imp, nil
	}

	target := p.TotalTarget
	if target <= 0 {
		target = s.cfg.DefaultTarget
	}

	now := time.Now()
	imp := &model.ImportJob{
		ID:            uuid.New().String(),
		WorkspaceID:   workspaceID,
		Status:        model.ImportStatusScanningSent,
		CurrentFolder: model.FolderSent,
		TotalTarget:   target,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobs.Create(ctx, imp); err != nil {
		return nil, err
	}
	logrus.Infof("Created import job %s for workspace %s (target %d)", imp.ID, workspaceID, target)
	return imp, nil
}

// runBatches loops fetching pages until the job completes, the budget
// runs out, or the upstream forces a delayed continuation
func (s *Importer) runBatches(ctx context.Context, imp *model.ImportJob, deadline time.Time) error {
	budgetCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		done, err := s.refreshCompletion(ctx, imp)
		if err != nil {
			return err
		}
		if imp.Status == model.ImportStatusCancelled {
			return s.jobs.Update(ctx, imp)
		}
		if done {
			return s.finish(ctx, imp)
		}

		if !time.Now().Before(deadline) {
			return s.relay(ctx, imp, 0)
		}

		folder := s.pickFolder(imp)
		if folder == "" {
			// Neither folder has headroom left, which satisfies the
			// per-folder completion rule.
			return s.finish(ctx, imp)
		}
		s.setFolder(imp, folder)

		page, err := s.fetchPage(budgetCtx, imp, folder)
		if err != nil {
			var rl *mailbox.RateLimitedError
			switch {
			case errors.Is(err, mailbox.ErrAuthExpired):
				return s.fail(ctx, imp, authExpiredMessage)
			case errors.As(err, &rl):
				// Budget cannot absorb the backoff: checkpoint and hand
				// the baton to a delayed continuation.
				if err := s.jobs.Update(ctx, imp); err != nil {
					return err
				}
				return s.relay(ctx, imp, rl.Delay)
			default:
				logrus.Errorf("Page fetch failed for job %s: %v", imp.ID, err)
				imp.RetryCount++
				if err := s.jobs.Update(ctx, imp); err != nil {
					return err
				}
				return s.relay(ctx, imp, 0)
			}
		}

		if err := s.ingestPage(ctx, imp, folder, page); err != nil {
			return err
		}
	}
}

// pickFolder returns the folder the next page should come from,
// alternating when the current one is exhausted or has met its share.
// Empty means neither folder has work left.
func (s *Importer) pickFolder(imp *model.ImportJob) model.Folder {
	if s.folderHasWork(imp, imp.CurrentFolder) {
		return imp.CurrentFolder
	}
	if s.folderHasWork(imp, imp.CurrentFolder.Other()) {
		return imp.CurrentFolder.Other()
	}
	return ""
}

func (s *Importer) folderHasWork(imp *model.ImportJob, folder model.Folder) bool {
	if folder == model.FolderSent {
		return !imp.SentExhausted && imp.SentImported < imp.PerFolderTarget()
	}
	return !imp.InboxExhausted && imp.InboxImported < imp.PerFolderTarget()
}

func (s *Importer) setFolder(imp *model.ImportJob, folder model.Folder) {
	imp.CurrentFolder = folder
	if folder == model.FolderSent {
		imp.Status = model.ImportStatusScanningSent
	} else {
		imp.Status = model.ImportStatusScanningInbox
	}
}

func (s *Importer) fetchPage(ctx context.Context, imp *model.ImportJob, folder model.Folder) (*mailbox.Page, error) {
	token := ""
	if folder == model.FolderSent && imp.SentPageToken != nil {
		token = *imp.SentPageToken
	}
	if folder == model.FolderInbox && imp.InboxPageToken != nil {
		token = *imp.InboxPageToken
	}

	page, err := s.mailbox.ListMessages(ctx, folder, s.cfg.BatchSize, token)
	if err != nil {
		return nil, err
	}
	s.metrics.PagesFetched.Inc()
	return page, nil
}

// ingestPage normalizes, upserts, re-counts and checkpoints one page
func (s *Importer) ingestPage(ctx context.Context, imp *model.ImportJob, folder model.Folder, page *mailbox.Page) error {
	direction := model.DirectionInbound
	if folder == model.FolderSent {
		direction = model.DirectionOutbound
	}

	rows := make([]model.StagingMessage, 0, len(page.Records))
	now := time.Now()
	for _, rec := range page.Records {
		rows = append(rows, model.StagingMessage{
			ID:               uuid.New().String(),
			WorkspaceID:      imp.WorkspaceID,
			ExternalID:       rec.ID,
			ThreadID:         rec.ThreadID,
			Direction:        direction,
			FromAddress:      rec.From,
			ToAddress:        rec.To,
			Subject:          rec.Subject,
			Snippet:          rec.Snippet,
			RawBody:          rec.Body,
			ProcessingStatus: model.ProcessingPending,
			ReceivedAt:       rec.SentAt,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	inserted, err := s.staging.UpsertBatch(ctx, rows)
	if err != nil {
		return err
	}
	s.metrics.MessagesImported.Add(float64(inserted))

	// A non-empty page where every row already existed is the frontier
	// of an earlier run. Walking past it would re-read old mail, so the
	// folder is done for this job even if the provider offers more pages.
	caughtUp := len(rows) > 0 && inserted == 0

	// Advance the cursor
	if folder == model.FolderSent {
		if page.NextPageToken == "" || caughtUp {
			imp.SentPageToken = nil
			imp.SentExhausted = true
		} else {
			token := page.NextPageToken
			imp.SentPageToken = &token
		}
	} else {
		imp.InboxScanned = true
		if page.NextPageToken == "" || caughtUp {
			imp.InboxPageToken = nil
			imp.InboxExhausted = true
		} else {
			token := page.NextPageToken
			imp.InboxPageToken = &token
		}
	}

	// Counts come from the staging table, never from accumulation, so
	// duplicate pages and partial upserts cannot skew them. Scoping them
	// to rows staged since the job began keeps an incremental run from
	// being satisfied by mail an earlier job already imported.
	inbound, outbound, err := s.staging.CountByDirection(ctx, imp.WorkspaceID, imp.CreatedAt)
	if err != nil {
		return err
	}
	imp.InboxImported = int(inbound)
	imp.SentImported = int(outbound)

	batchAt := time.Now()
	imp.LastBatchAt = &batchAt

	return s.jobs.Update(ctx, imp)
}

// refreshCompletion re-checks for external cancellation and completion
func (s *Importer) refreshCompletion(ctx context.Context, imp *model.ImportJob) (bool, error) {
	current, err := s.jobs.GetByID(ctx, imp.ID)
	if err != nil {
		return false, err
	}
	if current.Status == model.ImportStatusCancelled {
		imp.Status = model.ImportStatusCancelled
		logrus.Infof("Import job %s cancelled externally", imp.ID)
		return false, nil
	}
	return s.isComplete(imp), nil
}

// isComplete applies the folder-convergence completion rules. An
// exhausted INBOX only completes the job once it has actually been
// scanned at least once, so a job never ends before looking at INBOX;
// an INBOX that is legitimately empty still counts as scanned.
func (s *Importer) isComplete(imp *model.ImportJob) bool {
	if imp.TotalImported() >= imp.TotalTarget {
		return true
	}

	sentDone := imp.SentExhausted || imp.SentImported >= imp.PerFolderTarget()
	inboxDone := imp.InboxExhausted || imp.InboxImported >= imp.PerFolderTarget()
	if sentDone && inboxDone {
		return true
	}

	return imp.InboxExhausted && imp.InboxScanned
}

// finish hands the workspace off to the classification phase
func (s *Importer) finish(ctx context.Context, imp *model.ImportJob) error {
	if imp.Status == model.ImportStatusCancelled {
		return s.jobs.Update(ctx, imp)
	}

	imp.Status = model.ImportStatusClassifying
	if err := s.jobs.Update(ctx, imp); err != nil {
		return err
	}

	logrus.Infof("Import job %s finished scanning (%d sent, %d inbox), handing off to classifier",
		imp.ID, imp.SentImported, imp.InboxImported)

	payload, err := job.Encode(job.KindClassify, imp.WorkspaceID, job.ClassifyPayload{JobID: imp.ID})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, job.KindClassify.Queue(), payload, 0); err != nil {
		// Handoff is fire-and-forget from the job's perspective; the
		// scheduler's next sweep will retry a classify-less workspace.
		logrus.Errorf("Failed to enqueue classification for job %s: %v", imp.ID, err)
	}
	return nil
}

// relay checkpoints stall bookkeeping and re-enqueues the continuation
func (s *Importer) relay(ctx context.Context, imp *model.ImportJob, delay time.Duration) error {
	total := imp.TotalImported()
	if total <= imp.LastProgress {
		imp.StalledRelays++
	} else {
		imp.StalledRelays = 0
	}
	imp.LastProgress = total

	if imp.StalledRelays >= s.cfg.MaxStalledRelays {
		s.metrics.StalledAborts.Inc()
		return s.fail(ctx, imp, fmt.Sprintf("no progress across %d consecutive relays", imp.StalledRelays))
	}

	if err := s.jobs.Update(ctx, imp); err != nil {
		return err
	}

	payload, err := job.Encode(job.KindImport, imp.WorkspaceID, job.ImportPayload{JobID: imp.ID})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, job.KindImport.Queue(), payload, delay); err != nil {
		return fmt.Errorf("failed to enqueue import continuation: %w", err)
	}

	s.metrics.RelayHops.Inc()
	logrus.Infof("Import job %s relayed (total %d, stalled %d, delay %s)",
		imp.ID, total, imp.StalledRelays, delay)
	return nil
}

// fail marks the job terminally errored with a user-visible message
func (s *Importer) fail(ctx context.Context, imp *model.ImportJob, msg string) error {
	imp.Status = model.ImportStatusError
	imp.LastError = &msg
	if err := s.jobs.Update(ctx, imp); err != nil {
		return err
	}
	logrus.Errorf("Import job %s failed: %s", imp.ID, msg)
	return nil
}
