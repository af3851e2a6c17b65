package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrKeyNotFound is returned when no published key matches the token kid.
	ErrKeyNotFound = errors.New("auth: signing key not found")
	// ErrKeySetUnavailable wraps transport and decoding failures while fetching the key set.
	ErrKeySetUnavailable = errors.New("auth: key set unavailable")
)

// KeySet fetches and caches a JSON Web Key Set. The cache lifetime follows Cache-Control max-age
// and falls back to a fixed interval.
type KeySet struct {
	url      string
	client   *http.Client
	now      func() time.Time
	fallback time.Duration

	mu      sync.RWMutex
	keys    map[string]jose.JSONWebKey
	expires time.Time

	fetchMu sync.Mutex
}

// KeySetOption customises a KeySet.
type KeySetOption func(*KeySet)

// WithKeySetClient overrides the HTTP client.
func WithKeySetClient(client *http.Client) KeySetOption {
	return func(k *KeySet) {
		if client != nil {
			k.client = client
		}
	}
}

// WithKeySetClock overrides the time source.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if now != nil {
			k.now = now
		}
	}
}

// WithKeySetRefresh sets the lifetime used when the response carries no max-age.
func WithKeySetRefresh(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.fallback = d
		}
	}
}

// NewKeySet returns a KeySet for url. Nothing is fetched until the first lookup.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		now:      time.Now,
		fallback: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Keyfunc adapts the set for jwt parsing. Only RS256 tokens with a kid are accepted.
func (k *KeySet) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token has no kid")
		}
		return k.Key(ctx, kid)
	}
}

// Key returns the public key for kid. An unknown kid forces one refetch to pick up rotations.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if k.stale() {
		if err := k.fetch(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	if err := k.fetch(ctx); err != nil {
		return nil, err
	}
	if key, ok := k.lookup(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
}

func (k *KeySet) lookup(kid string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	jwk, ok := k.keys[kid]
	return jwk.Key, ok
}

func (k *KeySet) stale() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) == 0 || !k.now().Before(k.expires)
}

func (k *KeySet) fetch(ctx context.Context) error {
	k.fetchMu.Lock()
	defer k.fetchMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrKeySetUnavailable)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = k.fallback
	}
	k.mu.Lock()
	k.keys = keys
	k.expires = k.now().Add(ttl)
	k.mu.Unlock()
	return nil
}

func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
