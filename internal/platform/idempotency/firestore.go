package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/firestore"
)

const (
	keysCollection   = "idempotency_keys"
	noncesCollection = "webhook_nonces"
)

// FirestoreStore keeps keys in the idempotency_keys collection and webhook nonces in
// webhook_nonces. Both carry expiresAt so a Firestore TTL policy can also reap them.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore returns a store over provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

type keyDocument struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Completed      bool                `firestore:"completed"`
	ResponseStatus int                 `firestore:"responseStatus,omitempty"`
	ResponseHeader map[string][]string `firestore:"responseHeader,omitempty"`
	ResponseBody   []byte              `firestore:"responseBody,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	ExpiresAt      time.Time           `firestore:"expiresAt"`
}

func (d keyDocument) record() Record {
	return Record{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Response:    Response{Status: d.ResponseStatus, Header: http.Header(d.ResponseHeader), Body: d.ResponseBody},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) keyRef(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(keysCollection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.keyRef(ctx, key)
	if err != nil {
		return 0, Record{}, err
	}
	var (
		state  State
		record Record
	)
	err = s.provider.RunTransaction(ctx, "idempotency.reserve", func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFoundCode(err) {
			return err
		}
		if err == nil {
			var doc keyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			existing := doc.record()
			if !existing.expired(now) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				state, record = StateInFlight, existing
				if existing.Completed {
					state = StateReplay
				}
				return nil
			}
		}
		doc := keyDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		state, record = StateNew, doc.record()
		return tx.Set(ref, doc)
	})
	return state, record, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref, err := s.keyRef(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, "idempotency.complete", func(ctx context.Context, tx *firestore.Transaction) error {
		doc := keyDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !pfirestore.IsNotFoundCode(err):
			return err
		}
		doc.Completed = true
		doc.ResponseStatus = resp.Status
		doc.ResponseHeader = storableHeader(resp.Header)
		doc.ResponseBody = resp.Body
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.keyRef(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFoundCode(err) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

// Purge deletes up to limit expired keys and nonces.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range []string{keysCollection, noncesCollection} {
		docs, err := client.Collection(name).Where("expiresAt", "<=", now).Limit(limit).Documents(ctx).GetAll()
		if err != nil {
			return removed, pfirestore.WrapError("idempotency.purge", err)
		}
		if len(docs) == 0 {
			continue
		}
		writer := client.BulkWriter(ctx)
		for _, doc := range docs {
			if _, err := writer.Delete(doc.Ref); err != nil {
				writer.End()
				return removed, pfirestore.WrapError("idempotency.purge", err)
			}
		}
		writer.End()
		if name == keysCollection {
			removed += len(docs)
		}
	}
	return removed, nil
}

type nonceDocument struct {
	Scope     string    `firestore:"scope"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// UseNonce creates the nonce document, reporting false when it already exists and has not expired.
func (s *FirestoreStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	ref := client.Collection(noncesCollection).Doc(documentID(scope + "\x00" + nonce))
	_, err = ref.Create(ctx, nonceDocument{Scope: scope, ExpiresAt: expiry})
	if err == nil {
		return true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return false, pfirestore.WrapError("idempotency.nonce", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return false, pfirestore.WrapError("idempotency.nonce", err)
	}
	var doc nonceDocument
	if err := snap.DataTo(&doc); err != nil {
		return false, err
	}
	if time.Now().Before(doc.ExpiresAt) {
		return false, nil
	}
	if _, err := ref.Set(ctx, nonceDocument{Scope: scope, ExpiresAt: expiry}); err != nil {
		return false, pfirestore.WrapError("idempotency.nonce", err)
	}
	return true, nil
}
