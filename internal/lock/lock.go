package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailflow-go/internal/model"
)

// Locker provides per-(workspace, name) mutual exclusion via leased
// rows. Acquire is first-writer-wins; a lease that outlives its TTL may
// be taken over, so a crashed holder cannot strand the lock.
type Locker struct {
	db     *gorm.DB
	holder string
}

// New creates a locker. holder identifies this process in lock rows.
func New(db *gorm.DB, holder string) *Locker {
	return &Locker{db: db, holder: holder}
}

// Acquire attempts to take the lease for ttl. It returns false, without
// error, when another live holder has it: callers treat that as a
// silent no-op, not a failure.
func (l *Locker) Acquire(ctx context.Context, workspaceID, name string, ttl time.Duration) (bool, error) {
	now := time.Now()
	row := model.WorkerLock{
		WorkspaceID: workspaceID,
		Name:        name,
		LockedBy:    l.holder,
		LockedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	err := l.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return true, nil
	}
	if !isDuplicateKey(err) {
		return false, fmt.Errorf("failed to insert lock: %w", err)
	}

	// A row exists. Take over only if its lease expired.
	result := l.db.WithContext(ctx).Model(&model.WorkerLock{}).
		Where("workspace_id = ? AND name = ? AND expires_at < ?", workspaceID, name, now).
		Updates(map[string]interface{}{
			"locked_by":  l.holder,
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to take over expired lock: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		logrus.Warnf("Took over expired lock %s/%s", workspaceID, name)
		return true, nil
	}

	return false, nil
}

// Renew extends the current holder's lease by ttl
func (l *Locker) Renew(ctx context.Context, workspaceID, name string, ttl time.Duration) error {
	result := l.db.WithContext(ctx).Model(&model.WorkerLock{}).
		Where("workspace_id = ? AND name = ? AND locked_by = ?", workspaceID, name, l.holder).
		Update("expires_at", time.Now().Add(ttl))
	if result.Error != nil {
		return fmt.Errorf("failed to renew lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lock %s/%s is no longer held by %s", workspaceID, name, l.holder)
	}
	return nil
}

// Release drops the lease if this process still holds it
func (l *Locker) Release(ctx context.Context, workspaceID, name string) error {
	result := l.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ? AND locked_by = ?", workspaceID, name, l.holder).
		Delete(&model.WorkerLock{})
	if result.Error != nil {
		return fmt.Errorf("failed to release lock: %w", result.Error)
	}
	return nil
}

// Sweep removes leases that expired more than grace ago. Run
// periodically by the scheduler janitor.
func (l *Locker) Sweep(ctx context.Context, grace time.Duration) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().Add(-grace)).
		Delete(&model.WorkerLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
