package models

import "time"

// DownloadJob は1件のダウンロード処理のライフサイクルを表す
type DownloadJob struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	OwnerEmail  string     `json:"owner_email,omitempty"`
	SourceID    string     `json:"source_id"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	CoverURL    string     `json:"cover_url,omitempty"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Description string     `json:"description"`
	Error       string     `json:"error,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	FileSize    int64      `json:"file_size,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"-"`
}

// ジョブステータス
const (
	JobStatusPending     = "pending"
	JobStatusProcessing  = "processing"
	JobStatusDownloading = "downloading"
	JobStatusCompleted   = "completed"
	JobStatusFailed      = "failed"
	JobStatusCancelled   = "cancelled"
)

// IsTerminal reports whether a job in this status accepts further transitions.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobView is the public projection returned to callers. It never carries
// owner identifiers or internal scaffolding fields.
type JobView struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Description string    `json:"description"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	CoverURL    string    `json:"cover_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// View はジョブの公開ビューを返す
func (j *DownloadJob) View() JobView {
	return JobView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Description: j.Description,
		Title:       j.Title,
		Artist:      j.Artist,
		CoverURL:    j.CoverURL,
		Error:       j.Error,
		FileName:    j.FileName,
		FileSize:    j.FileSize,
		DownloadURL: j.DownloadURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// CreateJobRequest はジョブ作成リクエスト
type CreateJobRequest struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"cover_url"`
	Quality  string `json:"quality"`
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status      *string
	Progress    *int
	Description *string
	Error       *string
	FileName    *string
	FileSize    *int64
	DownloadURL *string
}

// IsEmpty reports whether the patch carries no fields at all.
func (p JobPatch) IsEmpty() bool {
	return p.Status == nil && p.Progress == nil && p.Description == nil &&
		p.Error == nil && p.FileName == nil && p.FileSize == nil && p.DownloadURL == nil
}

// RateBucket は (呼び出し元 × 時間) ごとのカウンタ
type RateBucket struct {
	Identity  string    `json:"identity"`
	HourKey   string    `json:"hour_key"`
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RatePolicy は認証済み呼び出し元ごとの時間あたり上限の上書き
type RatePolicy struct {
	Identity   string `json:"identity"`
	MaxPerHour int64  `json:"max_per_hour"`
}
