package idempotency

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. It also serves as the webhook nonce store for local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	nonces  map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), nonces: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	record, ok := s.records[id]
	if !ok || record.expired(now) {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		s.records[id] = record
		return StateNew, record, nil
	}
	if record.Fingerprint != fingerprint {
		return 0, Record{}, ErrFingerprintMismatch
	}
	if record.Completed {
		return StateReplay, cloneRecord(record), nil
	}
	return StateInFlight, record, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	record, ok := s.records[id]
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	record.Completed = true
	record.Response = Response{Status: resp.Status, Header: storableHeader(resp.Header), Body: slices.Clone(resp.Body)}
	record.ExpiresAt = now.Add(ttl)
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	for id, expiry := range s.nonces {
		if !now.Before(expiry) {
			delete(s.nonces, id)
		}
	}
	return removed, nil
}

// UseNonce records a signed delivery nonce, reporting false on replay.
func (s *MemoryStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(scope + "\x00" + nonce)
	if exp, seen := s.nonces[id]; seen && s.now().Before(exp) {
		return false, nil
	}
	s.nonces[id] = expiry
	return true, nil
}

func cloneRecord(r Record) Record {
	r.Response.Header = r.Response.Header.Clone()
	r.Response.Body = slices.Clone(r.Response.Body)
	return r
}
