// Package idempotency replays the stored response when a client retries a mutating request
// with the same Idempotency-Key, so a retried return request or checkout never runs twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// State is the outcome of reserving a key.
type State int

const (
	// StateNew means the caller owns the key and should run the request.
	StateNew State = iota
	// StateReplay means a completed response is stored for the key.
	StateReplay
	// StateInFlight means another request holds the key.
	StateInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Record is the persisted state of one key.
type Record struct {
	Key         string
	Fingerprint string
	Completed   bool
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the HTTP response replayed for a completed key.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists key reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]struct{}{
	"Connection": {}, "Content-Length": {}, "Date": {}, "Keep-Alive": {},
	"Trailer": {}, "Transfer-Encoding": {}, "Upgrade": {},
}

// storableHeader drops hop-by-hop headers that must not be replayed.
func storableHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, hop := hopHeaders[name]; hop {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// Sweeper purges expired keys on an interval until ctx is done.
type Sweeper struct {
	Store    Store
	Interval time.Duration
	Batch    int
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Run blocks until ctx is cancelled.
func (s Sweeper) Run(ctx context.Context) {
	if s.Store == nil || s.Interval <= 0 {
		return
	}
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Store.Purge(ctx, clock().UTC(), s.Batch)
			if s.Logger == nil {
				continue
			}
			if err != nil {
				s.Logger(ctx, "idempotency.purge.failed", map[string]any{"error": err.Error()})
			} else if removed > 0 {
				s.Logger(ctx, "idempotency.purged", map[string]any{"removed": removed})
			}
		}
	}
}
