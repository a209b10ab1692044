package ratelimit

import (
	"context"
	"log"
	"time"

	"soundcrate/internal/storage"
)

// DefaultGuestLimit is the shared hourly quota for all guest identities.
const DefaultGuestLimit = 50

// bucketTTL keeps a bucket around past its hour so late readers still see
// it, then lets cleanup drop it.
const bucketTTL = 2 * time.Hour

// Status はある呼び出し元の現在の制限状態
type Status struct {
	Count     int64     `json:"count"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
	Limited   bool      `json:"limited"`
}

// Limiter counts requests in fixed hourly buckets per caller identity.
// Fixed buckets reset together at the hour boundary; that thundering herd is
// accepted in exchange for a single atomic upsert per request.
type Limiter struct {
	buckets *storage.BucketRepository
}

// NewLimiter は新しいLimiterを作成
func NewLimiter(buckets *storage.BucketRepository) *Limiter {
	return &Limiter{buckets: buckets}
}

// hourKey returns the fixed bucket key for t, e.g. "2025082414".
func hourKey(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// nextHour returns the wall-clock start of the hour after t.
func nextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

// GetStatus reads the current bucket without incrementing. Store errors
// degrade to "not limited": availability wins over strict enforcement.
func (l *Limiter) GetStatus(ctx context.Context, identity string, limit int64) Status {
	now := time.Now()
	count, err := l.buckets.Get(ctx, identity, hourKey(now))
	if err != nil {
		log.Printf("ratelimit: status check failed for %s, failing open: %v", identity, err)
		count = 0
	}
	return statusFor(count, limit, now)
}

// Increment bumps the caller's bucket and returns the resulting status.
// Store errors degrade to "not limited", same as GetStatus.
func (l *Limiter) Increment(ctx context.Context, identity string, limit int64) Status {
	now := time.Now()
	count, err := l.buckets.Increment(ctx, identity, hourKey(now), now.Add(bucketTTL))
	if err != nil {
		log.Printf("ratelimit: increment failed for %s, failing open: %v", identity, err)
		return statusFor(0, limit, now)
	}
	return statusFor(count, limit, now)
}

func statusFor(count, limit int64, now time.Time) Status {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetsAt:  nextHour(now),
		Limited:   limit > 0 && count >= limit,
	}
}
