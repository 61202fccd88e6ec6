package lock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailflow-go/internal/model"
)

// These tests exercise the first-writer-wins insert and the expired
// lease takeover against a live database. They skip unless a DSN is
// provided.
func integrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("MAILFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set MAILFLOW_TEST_POSTGRES_DSN to run Postgres integration tests")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.WorkerLock{}))
	return db
}

// testWorkspace isolates each run in its own workspace id so repeated
// runs never collide on lock rows.
func testWorkspace(t *testing.T, db *gorm.DB) string {
	t.Helper()
	ws := fmt.Sprintf("ws_itest_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		db.Where("workspace_id = ?", ws).Delete(&model.WorkerLock{})
	})
	return ws
}

func TestLockerMutualExclusion(t *testing.T) {
	db := integrationDB(t)
	ws := testWorkspace(t, db)
	ctx := context.Background()

	a := New(db, "holder-a")
	b := New(db, "holder-b")

	got, err := a.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	got, err = b.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	assert.False(t, got, "second holder must not acquire a live lease")

	// A different worker name is an independent lock.
	got, err = b.Acquire(ctx, ws, "classify", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, a.Release(ctx, ws, "import"))

	got, err = b.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	assert.True(t, got, "released lock must be acquirable")
}

func TestLockerReleaseIgnoresForeignLease(t *testing.T) {
	db := integrationDB(t)
	ws := testWorkspace(t, db)
	ctx := context.Background()

	a := New(db, "holder-a")
	b := New(db, "holder-b")

	got, err := a.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	// Releasing a lock held by someone else is a no-op.
	require.NoError(t, b.Release(ctx, ws, "import"))

	got, err = b.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	assert.False(t, got, "foreign release must not free the lease")
}

func TestLockerExpiredLeaseTakeover(t *testing.T) {
	db := integrationDB(t)
	ws := testWorkspace(t, db)
	ctx := context.Background()

	a := New(db, "holder-a")
	b := New(db, "holder-b")

	got, err := a.Acquire(ctx, ws, "import", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, got)

	time.Sleep(60 * time.Millisecond)

	got, err = b.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	assert.True(t, got, "expired lease must be taken over")

	var row model.WorkerLock
	require.NoError(t, db.Where("workspace_id = ? AND name = ?", ws, "import").First(&row).Error)
	assert.Equal(t, "holder-b", row.LockedBy)
}

func TestLockerRenewRequiresOwnership(t *testing.T) {
	db := integrationDB(t)
	ws := testWorkspace(t, db)
	ctx := context.Background()

	a := New(db, "holder-a")
	b := New(db, "holder-b")

	got, err := a.Acquire(ctx, ws, "import", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	require.NoError(t, a.Renew(ctx, ws, "import", time.Minute))
	assert.Error(t, b.Renew(ctx, ws, "import", time.Minute))
}

func TestLockerSweepRemovesStaleLeases(t *testing.T) {
	db := integrationDB(t)
	ws := testWorkspace(t, db)
	ctx := context.Background()

	a := New(db, "holder-a")

	got, err := a.Acquire(ctx, ws, "import", time.Millisecond)
	require.NoError(t, err)
	require.True(t, got)

	got, err = a.Acquire(ctx, ws, "consolidate", time.Hour)
	require.NoError(t, err)
	require.True(t, got)

	time.Sleep(20 * time.Millisecond)

	swept, err := a.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, swept, int64(1))

	var rows []model.WorkerLock
	require.NoError(t, db.Where("workspace_id = ?", ws).Find(&rows).Error)
	require.Len(t, rows, 1, "the live lease must survive the sweep")
	assert.Equal(t, "consolidate", rows[0].Name)
}
