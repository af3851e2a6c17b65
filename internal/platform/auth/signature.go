package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// NonceStore remembers delivery nonces so a signed request cannot be replayed.
type NonceStore interface {
	// UseNonce stores nonce under scope until expiry. It reports false when the nonce was already used.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewMemoryNonceStore returns an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: nonce scope and value are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "/" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// SignatureConfig configures a SignatureVerifier.
type SignatureConfig struct {
	// Secrets maps a sender name (for example "carrier") to its shared HMAC secret.
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
	Nonces          NonceStore
	Clock           func() time.Time
	Logger          Logger
	Meter           metric.Meter
}

// SignatureVerifier authenticates webhook deliveries signed with a shared secret.
//
// The signed message is METHOD, escaped path, timestamp, nonce and the hex SHA-256 of the body,
// joined by newlines. Signatures may be hex or base64 encoded.
type SignatureVerifier struct {
	secrets         map[string][]byte
	signatureHeader string
	timestampHeader string
	nonceHeader     string
	skew            time.Duration
	nonceTTL        time.Duration
	nonces          NonceStore
	now             func() time.Time
	logger          Logger
	metrics         verificationMetrics
}

// NewSignatureVerifier builds a verifier. Missing header names and windows take the defaults.
func NewSignatureVerifier(cfg SignatureConfig) *SignatureVerifier {
	v := &SignatureVerifier{
		secrets:         make(map[string][]byte, len(cfg.Secrets)),
		signatureHeader: firstNonEmpty(cfg.SignatureHeader, "X-Signature"),
		timestampHeader: firstNonEmpty(cfg.TimestampHeader, "X-Signature-Timestamp"),
		nonceHeader:     firstNonEmpty(cfg.NonceHeader, "X-Signature-Nonce"),
		skew:            cfg.ClockSkew,
		nonceTTL:        cfg.NonceTTL,
		nonces:          cfg.Nonces,
		now:             cfg.Clock,
		logger:          cfg.Logger,
		metrics:         newVerificationMetrics("hmac", cfg.Meter),
	}
	for name, secret := range cfg.Secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			v.secrets[strings.ToLower(strings.TrimSpace(name))] = []byte(secret)
		}
	}
	if v.skew <= 0 {
		v.skew = 5 * time.Minute
	}
	if v.nonceTTL <= 0 {
		v.nonceTTL = 5 * time.Minute
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.logger == nil {
		v.logger = noopLogger
	}
	return v
}

// Signature describes a verified delivery.
type Signature struct {
	Sender    string
	Timestamp time.Time
	Nonce     string
}

type signatureContextKey struct{}

// SignatureFromContext returns the delivery verified by RequireSignature.
func SignatureFromContext(ctx context.Context) (Signature, bool) {
	sig, ok := ctx.Value(signatureContextKey{}).(Signature)
	return sig, ok
}

// RequireSignature rejects requests not signed with the secret registered for sender.
func (v *SignatureVerifier) RequireSignature(sender string) func(http.Handler) http.Handler {
	sender = strings.ToLower(strings.TrimSpace(sender))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()
			sig, rej := v.verify(r, sender)
			if rej != nil {
				v.metrics.record(ctx, rej.reason, start, v.now())
				v.logger(ctx, "auth.signature.failed", map[string]any{"sender": sender, "reason": rej.reason})
				rej.write(ctx, w)
				return
			}
			v.metrics.record(ctx, "ok", start, v.now())
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, signatureContextKey{}, sig)))
		})
	}
}

func (v *SignatureVerifier) verify(r *http.Request, sender string) (Signature, *rejection) {
	secret, ok := v.secrets[sender]
	if !ok {
		return Signature{}, reject(http.StatusServiceUnavailable, "verification_unavailable", "secret_not_configured", "signing secret not configured")
	}
	rawSig := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	rawTS := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	switch {
	case rawSig == "":
		return Signature{}, reject(http.StatusUnauthorized, "signature_missing", "signature_missing", "signature header missing")
	case rawTS == "":
		return Signature{}, reject(http.StatusUnauthorized, "timestamp_missing", "timestamp_missing", "signature timestamp missing")
	case nonce == "":
		return Signature{}, reject(http.StatusUnauthorized, "nonce_missing", "nonce_missing", "signature nonce missing")
	}

	ts, err := parseSignatureTimestamp(rawTS)
	if err != nil {
		return Signature{}, reject(http.StatusUnauthorized, "timestamp_invalid", "timestamp_invalid", "signature timestamp invalid")
	}
	now := v.now()
	if drift := now.Sub(ts); drift > v.skew || drift < -v.skew {
		return Signature{}, reject(http.StatusUnauthorized, "timestamp_skew", "timestamp_skew", "signature timestamp outside allowed window")
	}

	body, err := bufferBody(r)
	if err != nil {
		return Signature{}, reject(http.StatusBadRequest, "invalid_body", "body_unreadable", "unable to read request body")
	}
	given, err := decodeSignature(rawSig)
	if err != nil {
		return Signature{}, reject(http.StatusUnauthorized, "signature_invalid", "signature_invalid", "signature encoding invalid")
	}
	if !hmac.Equal(given, Sign(secret, signedMessage(r, body, rawTS, nonce))) {
		return Signature{}, reject(http.StatusUnauthorized, "signature_mismatch", "signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return Signature{}, reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_unavailable", "nonce store unavailable")
	}
	expiry := ts.Add(v.nonceTTL)
	if expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(r.Context(), sender, nonce, expiry)
	if err != nil {
		return Signature{}, reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_error", "nonce store unavailable")
	}
	if !fresh {
		return Signature{}, reject(http.StatusUnauthorized, "nonce_replay", "nonce_replay", "signature nonce already used")
	}
	return Signature{Sender: sender, Timestamp: ts, Nonce: nonce}, nil
}

// Sign computes the HMAC-SHA256 of message with secret.
func Sign(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// SignRequest signs r with secret, setting the default signature headers. The body must already be set.
func SignRequest(r *http.Request, secret string, at time.Time, nonce string) error {
	body, err := bufferBody(r)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	r.Header.Set("X-Signature", hex.EncodeToString(Sign([]byte(secret), signedMessage(r, body, ts, nonce))))
	r.Header.Set("X-Signature-Timestamp", ts)
	r.Header.Set("X-Signature-Nonce", nonce)
	return nil
}

func signedMessage(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method), path, timestamp, nonce, hex.EncodeToString(digest[:]),
	}, "\n"))
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64")
}

// parseSignatureTimestamp accepts unix seconds or RFC 3339.
func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unparsable timestamp %q", value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
