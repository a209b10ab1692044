package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"soundcrate/internal/models"
)

const jobColumns = `id, owner_id, owner_email, source_id, title, artist, cover_url,
	status, progress, description, error, file_name, file_size, download_url,
	created_at, updated_at, expires_at`

// アクティブ（非終了）ステータス
const activeStatuses = `'pending','processing','downloading'`

// JobRepository はジョブのデータアクセス層
type JobRepository struct {
	db *DB
}

// NewJobRepository は新しいJobRepositoryを作成
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create は新しいジョブを作成
func (r *JobRepository) Create(ctx context.Context, job *models.DownloadJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	var expiresAt any
	if job.ExpiresAt != nil {
		expiresAt = job.ExpiresAt.Unix()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.OwnerEmail, job.SourceID, job.Title, job.Artist, job.CoverURL,
		job.Status, job.Progress, job.Description,
		nullIfEmpty(job.Error), nullIfEmpty(job.FileName), nullIfZero(job.FileSize), nullIfEmpty(job.DownloadURL),
		job.CreatedAt.Unix(), job.UpdatedAt.Unix(), expiresAt,
	)
	return err
}

// GetByID はIDでジョブを取得（存在しない場合は nil, nil）
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.DownloadJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// MergeUpdate applies a partial update to a non-terminal job, refreshing
// updated_at. Updates targeting terminal records are silently ignored so a
// late pipeline callback can never resurrect a finished job. When the patch
// moves the job to completed, the expiry marker is cleared: completed records
// are permanent and must never be evicted.
func (r *JobRepository) MergeUpdate(ctx context.Context, id string, patch models.JobPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	clearExpiry := patch.Status != nil && *patch.Status == models.JobStatusCompleted

	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = COALESCE(?, status),
		     progress = COALESCE(?, progress),
		     description = COALESCE(?, description),
		     error = COALESCE(?, error),
		     file_name = COALESCE(?, file_name),
		     file_size = COALESCE(?, file_size),
		     download_url = COALESCE(?, download_url),
		     expires_at = CASE WHEN ? THEN NULL ELSE expires_at END,
		     updated_at = ?
		 WHERE id = ? AND status IN (`+activeStatuses+`)`,
		nullableString(patch.Status),
		nullableInt(patch.Progress),
		nullableString(patch.Description),
		nullableString(patch.Error),
		nullableString(patch.FileName),
		nullableInt64(patch.FileSize),
		nullableString(patch.DownloadURL),
		clearExpiry,
		time.Now().Unix(),
		id,
	)
	return err
}

// Transition moves a non-terminal job to the given status. Returns false when
// the job is missing or already terminal (a concurrent writer won the race).
func (r *JobRepository) Transition(ctx context.Context, id, status, description string, errMsg string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = ?, description = ?, error = COALESCE(NULLIF(?, ''), error), updated_at = ?
		 WHERE id = ? AND status IN (`+activeStatuses+`)`,
		status, description, errMsg, time.Now().Unix(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountActive は進行中（pending/processing/downloading）のジョブ数を返す
//
// Live query on purpose: multiple instances run concurrently, so a cached
// counter would drift from ground truth.
func (r *JobRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status IN (`+activeStatuses+`)`,
	).Scan(&count)
	return count, err
}

// ListStale returns non-terminal jobs whose last update is older than cutoff.
func (r *JobRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.DownloadJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN (`+activeStatuses+`) AND updated_at < ?
		 ORDER BY updated_at ASC`,
		cutoff.Unix(),
	)
}

// ListPurgeable returns failed/cancelled jobs older than cutoff. The status
// filter is part of the query itself: completed records can never appear in
// the purge candidate set.
func (r *JobRepository) ListPurgeable(ctx context.Context, cutoff time.Time) ([]models.DownloadJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ('failed','cancelled') AND updated_at < ?
		 ORDER BY updated_at ASC`,
		cutoff.Unix(),
	)
}

// ListExpired returns records whose expiry marker has passed. Completed jobs
// never carry the marker, and are excluded here as well.
func (r *JobRepository) ListExpired(ctx context.Context, now time.Time) ([]models.DownloadJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE expires_at IS NOT NULL AND expires_at < ? AND status != 'completed'
		 ORDER BY expires_at ASC`,
		now.Unix(),
	)
}

// ListByOwner は所有者キーでジョブ一覧を取得
func (r *JobRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.DownloadJob, error) {
	return r.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID,
	)
}

// Delete はジョブレコードを削除
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]models.DownloadJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DownloadJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.DownloadJob, error) {
	var (
		job                  models.DownloadJob
		errMsg, fileName     sql.NullString
		downloadURL          sql.NullString
		fileSize             sql.NullInt64
		createdAt, updatedAt int64
		expiresAt            sql.NullInt64
	)
	if err := row.Scan(
		&job.ID, &job.OwnerID, &job.OwnerEmail, &job.SourceID, &job.Title, &job.Artist, &job.CoverURL,
		&job.Status, &job.Progress, &job.Description, &errMsg, &fileName, &fileSize, &downloadURL,
		&createdAt, &updatedAt, &expiresAt,
	); err != nil {
		return nil, err
	}
	job.Error = errMsg.String
	job.FileName = fileName.String
	job.FileSize = fileSize.Int64
	job.DownloadURL = downloadURL.String
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		job.ExpiresAt = &t
	}
	return &job, nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
