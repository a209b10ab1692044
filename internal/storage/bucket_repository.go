package storage

import (
	"context"
	"database/sql"
	"time"

	"soundcrate/internal/models"
)

// BucketRepository はレート制限バケットのデータアクセス層
type BucketRepository struct {
	db *DB
}

// NewBucketRepository は新しいBucketRepositoryを作成
func NewBucketRepository(db *DB) *BucketRepository {
	return &BucketRepository{db: db}
}

// Increment bumps the counter for identity × hourKey and returns the new
// count. The upsert is a single statement, so two concurrent increments can
// never overwrite each other.
func (r *BucketRepository) Increment(ctx context.Context, identity, hourKey string, expiresAt time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rate_buckets (identity, hour_key, count, expires_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (identity, hour_key) DO UPDATE SET count = count + 1
		 RETURNING count`,
		identity, hourKey, expiresAt.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Get はバケットの現在値を取得（存在しない場合は 0）
func (r *BucketRepository) Get(ctx context.Context, identity, hourKey string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM rate_buckets WHERE identity = ? AND hour_key = ?`,
		identity, hourKey,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteExpired removes stale buckets past their relevance window.
func (r *BucketRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_buckets WHERE expires_at < ?`, now.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPolicy は呼び出し元ごとのポリシーを取得（存在しない場合は nil, nil）
func (r *BucketRepository) GetPolicy(ctx context.Context, identity string) (*models.RatePolicy, error) {
	var p models.RatePolicy
	err := r.db.QueryRowContext(ctx,
		`SELECT identity, max_per_hour FROM rate_policies WHERE identity = ?`,
		identity,
	).Scan(&p.Identity, &p.MaxPerHour)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPolicy はポリシーを登録・更新する（管理用）
func (r *BucketRepository) SetPolicy(ctx context.Context, p models.RatePolicy) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_policies (identity, max_per_hour) VALUES (?, ?)
		 ON CONFLICT (identity) DO UPDATE SET max_per_hour = excluded.max_per_hour`,
		p.Identity, p.MaxPerHour,
	)
	return err
}
