package jobs

import (
	"context"
	"log"
	"strings"
	"time"

	"soundcrate/internal/auth"
	"soundcrate/internal/blob"
	"soundcrate/internal/models"
	"soundcrate/internal/ratelimit"
	"soundcrate/internal/storage"
)

// Design values for the lifecycle machine.
const (
	// MaxActiveJobs is the global ceiling on concurrently active jobs.
	MaxActiveJobs = 10

	// PendingTimeout fails a pending job whose processing trigger never
	// fired. Checked inline on every read.
	PendingTimeout = 3 * time.Minute

	// StuckThreshold fails any non-terminal job with no update for this
	// long. Checked by the cleanup sweep.
	StuckThreshold = 10 * time.Minute

	// PurgeAge is how long failed/cancelled records are kept before the
	// sweep removes them and their blobs.
	PurgeAge = 24 * time.Hour

	// scaffoldTTL bounds the life of a record that never completes. The
	// marker is cleared the moment a job completes.
	scaffoldTTL = 24 * time.Hour

	// capacityRetryAfter is the hint returned with capacity rejections.
	capacityRetryAfter = 30 * time.Second
)

const (
	descPending      = "waiting for processing to start"
	descCancelled    = "cancelled by user"
	descPendingStall = "download failed"
	descStuck        = "download failed"

	errPendingStall = "processing never started within the expected window"
	errStuck        = "job made no progress and timed out"
)

// Service owns the download job state machine. It keeps no in-memory job
// state: every decision re-reads or conditionally writes the store, so any
// number of instances can run side by side.
type Service struct {
	jobs    *storage.JobRepository
	buckets *storage.BucketRepository
	blobs   *blob.Store
	limiter *ratelimit.Limiter

	maxActive  int
	guestLimit int64
}

// NewService は新しいServiceを作成
func NewService(jobs *storage.JobRepository, buckets *storage.BucketRepository, blobs *blob.Store, limiter *ratelimit.Limiter) *Service {
	return &Service{
		jobs:       jobs,
		buckets:    buckets,
		blobs:      blobs,
		limiter:    limiter,
		maxActive:  MaxActiveJobs,
		guestLimit: ratelimit.DefaultGuestLimit,
	}
}

// SetLimits overrides the capacity ceiling and guest quota (tests, config).
func (s *Service) SetLimits(maxActive int, guestLimit int64) {
	s.maxActive = maxActive
	s.guestLimit = guestLimit
}

// Create admits and persists a new pending job, returning its public view.
//
// Admission order for guests: status check, then increment, then create.
// The check and the increment are not atomic end to end, so concurrent
// requests can over-admit by at most the number in flight; the increment
// itself is atomic, so counts stay exact.
func (s *Service) Create(ctx context.Context, owner auth.Owner, req models.CreateJobRequest) (*models.JobView, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	active, err := s.jobs.CountActive(ctx)
	if err != nil {
		return nil, &StoreError{Op: "admission", Err: err}
	}
	if active >= s.maxActive {
		return nil, &CapacityError{Active: active, Limit: s.maxActive, RetryAfter: capacityRetryAfter}
	}

	limit, err := s.quotaFor(ctx, owner)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		st := s.limiter.GetStatus(ctx, owner.ID, limit)
		if st.Limited {
			return nil, &QuotaError{Limit: st.Limit, Remaining: 0, ResetsAt: st.ResetsAt}
		}
		s.limiter.Increment(ctx, owner.ID, limit)
	}

	expires := time.Now().Add(scaffoldTTL)
	job := &models.DownloadJob{
		OwnerID:     owner.ID,
		OwnerEmail:  owner.Email,
		SourceID:    req.SourceID,
		Title:       req.Title,
		Artist:      req.Artist,
		CoverURL:    req.CoverURL,
		Status:      models.JobStatusPending,
		Progress:    0,
		Description: descPending,
		ExpiresAt:   &expires,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, &StoreError{Op: "create", Err: err}
	}

	view := job.View()
	return &view, nil
}

// quotaFor resolves the hourly limit for the caller. Guests share the fixed
// limit; authenticated callers are unlimited unless a policy record says
// otherwise.
func (s *Service) quotaFor(ctx context.Context, owner auth.Owner) (int64, error) {
	if owner.Guest {
		return s.guestLimit, nil
	}
	policy, err := s.buckets.GetPolicy(ctx, owner.ID)
	if err != nil {
		// Same fail-open stance as the limiter itself.
		log.Printf("jobs: policy lookup failed for %s, treating as unlimited: %v", owner.ID, err)
		return 0, nil
	}
	if policy == nil {
		return 0, nil
	}
	return policy.MaxPerHour, nil
}

// Get returns the public view of a job. A pending job whose trigger never
// fired is failed in the store first and the updated view returned — a
// caller polling a zombie job must not wait forever.
func (s *Service) Get(ctx context.Context, id string) (*models.JobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	if job == nil {
		return nil, ErrNotFound
	}

	if job.Status == models.JobStatusPending && time.Since(job.CreatedAt) > PendingTimeout {
		ok, err := s.jobs.Transition(ctx, id, models.JobStatusFailed, descPendingStall, errPendingStall)
		if err != nil {
			return nil, &StoreError{Op: "pending timeout", Err: err}
		}
		if ok {
			log.Printf("jobs: %s pending for over %s, marked failed", id, PendingTimeout)
		}
		if job, err = s.jobs.GetByID(ctx, id); err != nil {
			return nil, &StoreError{Op: "get", Err: err}
		}
		if job == nil {
			return nil, ErrNotFound
		}
	}

	view := job.View()
	return &view, nil
}

// Cancel moves a non-terminal job to cancelled. No ownership check: a cancel
// leaves the record and artifacts in place, unlike Delete.
func (s *Service) Cancel(ctx context.Context, id string) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return &StoreError{Op: "cancel", Err: err}
	}
	if job == nil {
		return ErrNotFound
	}
	if models.IsTerminal(job.Status) {
		return ErrInvalidTransition
	}
	ok, err := s.jobs.Transition(ctx, id, models.JobStatusCancelled, descCancelled, "")
	if err != nil {
		return &StoreError{Op: "cancel", Err: err}
	}
	if !ok {
		// Lost the race against a concurrent terminal transition.
		return ErrInvalidTransition
	}
	return nil
}

// Delete removes a job's blobs and record. Only the owner (by id or email)
// may delete; this is the one path where a user purges permanent storage.
func (s *Service) Delete(ctx context.Context, id string, actor auth.Owner) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if job == nil {
		return ErrNotFound
	}
	if !ownsJob(actor, job) {
		return ErrForbidden
	}

	// Blob failures are logged, not fatal: the record delete still runs and
	// a later sweep can retry orphaned objects.
	keys, err := s.blobs.ListByPrefix(blob.JobPrefix(id))
	if err != nil {
		log.Printf("jobs: listing blobs for %s failed: %v", id, err)
	}
	if len(keys) > 0 {
		n, err := s.blobs.DeleteBatch(keys)
		if err != nil {
			log.Printf("jobs: deleting blobs for %s failed after %d objects: %v", id, n, err)
		}
	}

	if err := s.jobs.Delete(ctx, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Update merges pipeline-supplied fields into a job. Nil fields are left
// alone, updated_at is refreshed, and updates against terminal records are
// ignored so a late completion callback becomes a no-op.
func (s *Service) Update(ctx context.Context, id string, patch models.JobPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := s.jobs.MergeUpdate(ctx, id, patch); err != nil {
		return &StoreError{Op: "update", Err: err}
	}
	return nil
}

// GuestStatus reports the caller's current quota standing.
func (s *Service) GuestStatus(ctx context.Context, owner auth.Owner) ratelimit.Status {
	return s.limiter.GetStatus(ctx, owner.ID, s.guestLimit)
}

// ListByOwner returns the caller's own jobs as public views.
func (s *Service) ListByOwner(ctx context.Context, owner auth.Owner) ([]models.JobView, error) {
	records, err := s.jobs.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	views := make([]models.JobView, 0, len(records))
	for i := range records {
		views = append(views, records[i].View())
	}
	return views, nil
}

func ownsJob(actor auth.Owner, job *models.DownloadJob) bool {
	if actor.ID != "" && actor.ID == job.OwnerID {
		return true
	}
	if actor.Email != "" && job.OwnerEmail != "" && strings.EqualFold(actor.Email, job.OwnerEmail) {
		return true
	}
	return false
}

func validateRequest(req models.CreateJobRequest) error {
	switch {
	case strings.TrimSpace(req.SourceID) == "":
		return &ValidationError{Field: "source_id"}
	case strings.TrimSpace(req.Title) == "":
		return &ValidationError{Field: "title"}
	case strings.TrimSpace(req.Artist) == "":
		return &ValidationError{Field: "artist"}
	}
	return nil
}
