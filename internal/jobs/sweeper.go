package jobs

import (
	"context"
	"log"
	"time"

	"soundcrate/internal/blob"
	"soundcrate/internal/models"
)

// SweepResult は1回の掃除パスの集計
type SweepResult struct {
	MarkedFailed   int `json:"marked_failed"`
	DeletedRecords int `json:"deleted_records"`
	DeletedBlobs   int `json:"deleted_blobs"`
}

// RunCleanupSweep reconciles the job store in three passes: fail jobs with
// no recent progress, purge old failed/cancelled records with their blobs,
// and evict expired scaffolding records. The scheduled trigger and the
// admin endpoint both call this one method.
//
// The sweep is idempotent and safe to run concurrently with itself or with
// live mutations: transitions are terminal-guarded in the store and blob
// deletes are delete-if-exists. One bad record never aborts the rest.
func (s *Service) RunCleanupSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := time.Now()

	// Pass 1: fail anything non-terminal that stopped making progress.
	// Keyed on updated_at, not created_at, so jobs that advanced partway
	// and then stalled are caught too.
	stale, err := s.jobs.ListStale(ctx, now.Add(-StuckThreshold))
	if err != nil {
		return result, &StoreError{Op: "sweep stale query", Err: err}
	}
	for i := range stale {
		job := &stale[i]
		ok, err := s.jobs.Transition(ctx, job.ID, models.JobStatusFailed, descStuck, errStuck)
		if err != nil {
			log.Printf("sweep: failing stuck job %s: %v", job.ID, err)
			continue
		}
		if ok {
			log.Printf("sweep: job %s stuck in %s since %s, marked failed", job.ID, job.Status, job.UpdatedAt.Format(time.RFC3339))
			result.MarkedFailed++
		}
	}

	// Pass 2: purge old failed/cancelled records. The query itself can only
	// return those two statuses, so a completed job can never reach this
	// loop no matter what happens above.
	purgeable, err := s.jobs.ListPurgeable(ctx, now.Add(-PurgeAge))
	if err != nil {
		return result, &StoreError{Op: "sweep purge query", Err: err}
	}
	result.add(s.purge(ctx, purgeable))

	// Pass 3: evict expired never-completed scaffolding. Completed records
	// carry no expiry marker and are excluded by the query as well.
	expired, err := s.jobs.ListExpired(ctx, now)
	if err != nil {
		return result, &StoreError{Op: "sweep expiry query", Err: err}
	}
	result.add(s.purge(ctx, expired))

	if n, err := s.buckets.DeleteExpired(ctx, now); err != nil {
		log.Printf("sweep: dropping expired rate buckets: %v", err)
	} else if n > 0 {
		log.Printf("sweep: dropped %d expired rate buckets", n)
	}

	log.Printf("sweep: markedFailed=%d deletedRecords=%d deletedBlobs=%d",
		result.MarkedFailed, result.DeletedRecords, result.DeletedBlobs)
	return result, nil
}

// purge removes each job's blobs then its record, isolating per-job
// failures so the rest of the batch still gets cleaned.
func (s *Service) purge(ctx context.Context, batch []models.DownloadJob) SweepResult {
	var result SweepResult
	for i := range batch {
		job := &batch[i]

		keys, err := s.blobs.ListByPrefix(blob.JobPrefix(job.ID))
		if err != nil {
			log.Printf("sweep: listing blobs for %s: %v", job.ID, err)
		}
		if len(keys) > 0 {
			n, err := s.blobs.DeleteBatch(keys)
			result.DeletedBlobs += n
			if err != nil {
				log.Printf("sweep: deleting blobs for %s: %v", job.ID, err)
			}
		}

		if err := s.jobs.Delete(ctx, job.ID); err != nil {
			log.Printf("sweep: deleting record %s: %v", job.ID, err)
			continue
		}
		result.DeletedRecords++
	}
	return result
}

func (r *SweepResult) add(other SweepResult) {
	r.MarkedFailed += other.MarkedFailed
	r.DeletedRecords += other.DeletedRecords
	r.DeletedBlobs += other.DeletedBlobs
}
