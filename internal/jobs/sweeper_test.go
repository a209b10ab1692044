package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"soundcrate/internal/blob"
	"soundcrate/internal/models"
)

func (env *testEnv) backdate(t *testing.T, id string, column string, at time.Time) {
	t.Helper()
	if _, err := env.db.Exec(`UPDATE jobs SET `+column+` = ? WHERE id = ?`, at.Unix(), id); err != nil {
		t.Fatalf("backdate %s: %v", column, err)
	}
}

func (env *testEnv) seedJob(t *testing.T, status string) *models.DownloadJob {
	t.Helper()
	job := &models.DownloadJob{
		OwnerID:     "user-1",
		OwnerEmail:  "user-1@example.com",
		SourceID:    "track-123",
		Title:       "Blue in Green",
		Artist:      "Miles Davis",
		Status:      status,
		Description: "seeded",
	}
	if err := env.jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

// A processing job last updated 11 minutes ago is failed by one sweep.
func TestSweepFailsStuckJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuck := env.seedJob(t, models.JobStatusProcessing)
	env.backdate(t, stuck.ID, "updated_at", time.Now().Add(-11*time.Minute))

	fresh := env.seedJob(t, models.JobStatusProcessing)

	result, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.MarkedFailed != 1 {
		t.Fatalf("markedFailed = %d, want 1", result.MarkedFailed)
	}

	got, _ := env.jobs.GetByID(ctx, stuck.ID)
	if got.Status != models.JobStatusFailed {
		t.Fatalf("stuck job status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", got.Error)
	}

	untouched, _ := env.jobs.GetByID(ctx, fresh.ID)
	if untouched.Status != models.JobStatusProcessing {
		t.Fatalf("fresh job was swept to %s", untouched.Status)
	}
}

func TestSweepPurgesOldFailedAndCancelledWithBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	failed := env.seedJob(t, models.JobStatusFailed)
	env.backdate(t, failed.ID, "updated_at", time.Now().Add(-25*time.Hour))
	if _, err := env.blobs.Put(blob.JobPrefix(failed.ID)+"partial.flac", strings.NewReader("partial")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := env.blobs.Put(blob.JobPrefix(failed.ID)+"cover.jpg", strings.NewReader("img")); err != nil {
		t.Fatalf("put: %v", err)
	}

	cancelled := env.seedJob(t, models.JobStatusCancelled)
	env.backdate(t, cancelled.ID, "updated_at", time.Now().Add(-25*time.Hour))

	recentFailed := env.seedJob(t, models.JobStatusFailed)

	result, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeletedRecords != 2 {
		t.Fatalf("deletedRecords = %d, want 2", result.DeletedRecords)
	}
	if result.DeletedBlobs != 2 {
		t.Fatalf("deletedBlobs = %d, want 2", result.DeletedBlobs)
	}

	if job, _ := env.jobs.GetByID(ctx, failed.ID); job != nil {
		t.Fatal("old failed record survived")
	}
	if job, _ := env.jobs.GetByID(ctx, recentFailed.ID); job == nil {
		t.Fatal("recent failed record purged too early")
	}
	if keys, _ := env.blobs.ListByPrefix(blob.JobPrefix(failed.ID)); len(keys) != 0 {
		t.Fatalf("blobs survived purge: %v", keys)
	}
}

// Completed jobs and their artifacts are permanent: no matter how old, the
// sweep must not touch them.
func TestSweepNeverTouchesCompletedJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done := env.seedJob(t, models.JobStatusCompleted)
	env.backdate(t, done.ID, "updated_at", time.Now().Add(-30*24*time.Hour))
	env.backdate(t, done.ID, "created_at", time.Now().Add(-30*24*time.Hour))
	key, err := env.blobs.Put(blob.JobPrefix(done.ID)+"album.flac", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	result, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.MarkedFailed != 0 || result.DeletedRecords != 0 || result.DeletedBlobs != 0 {
		t.Fatalf("sweep touched a completed job: %+v", result)
	}

	job, _ := env.jobs.GetByID(ctx, done.ID)
	if job == nil || job.Status != models.JobStatusCompleted {
		t.Fatal("completed record mutated or removed")
	}
	if keys, _ := env.blobs.ListByPrefix(blob.JobPrefix(done.ID)); len(keys) != 1 || keys[0] != key {
		t.Fatalf("completed job's blobs touched: %v", keys)
	}
}

func TestSweepEvictsExpiredScaffolding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	job := env.seedJob(t, models.JobStatusPending)
	if _, err := env.db.Exec(`UPDATE jobs SET expires_at = ? WHERE id = ?`, past.Unix(), job.ID); err != nil {
		t.Fatalf("set expiry: %v", err)
	}

	result, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.DeletedRecords != 1 {
		t.Fatalf("deletedRecords = %d, want 1", result.DeletedRecords)
	}
	if got, _ := env.jobs.GetByID(ctx, job.ID); got != nil {
		t.Fatal("expired scaffolding record survived")
	}
}

// Running the sweep twice in a row must not find anything new to do.
func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stuck := env.seedJob(t, models.JobStatusDownloading)
	env.backdate(t, stuck.ID, "updated_at", time.Now().Add(-11*time.Minute))

	first, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.MarkedFailed != 1 {
		t.Fatalf("first sweep markedFailed = %d", first.MarkedFailed)
	}

	second, err := env.svc.RunCleanupSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.MarkedFailed != 0 || second.DeletedRecords != 0 {
		t.Fatalf("second sweep repeated work: %+v", second)
	}
}
