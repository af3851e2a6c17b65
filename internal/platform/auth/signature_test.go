package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("unavailable")
}

func newCarrierVerifier(now time.Time, nonces NonceStore) *SignatureVerifier {
	return NewSignatureVerifier(SignatureConfig{
		Secrets: map[string]string{"carrier": "shh"},
		Nonces:  nonces,
		Clock:   func() time.Time { return now },
	})
}

func signedDelivery(t *testing.T, secret string, at time.Time, nonce, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier/delivery", strings.NewReader(body))
	if err := SignRequest(req, secret, at, nonce); err != nil {
		t.Fatalf("sign request: %v", err)
	}
	return req
}

func serveSigned(v *SignatureVerifier, req *http.Request) (*httptest.ResponseRecorder, string) {
	var got string
	handler := v.RequireSignature("carrier")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig, _ := SignatureFromContext(r.Context())
		body, _ := io.ReadAll(r.Body)
		got = sig.Nonce + "|" + string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

func TestRequireSignature_AcceptsAndRestoresBody(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := newCarrierVerifier(now, NewMemoryNonceStore())
	body := `{"orderId":"ord_1","deliveredAt":"2026-03-01T11:00:00Z"}`

	rec, got := serveSigned(v, signedDelivery(t, "shh", now, "dlv_1", body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if got != "dlv_1|"+body {
		t.Fatalf("handler saw %q", got)
	}
}

func TestRequireSignature_RejectsReplay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := newCarrierVerifier(now, NewMemoryNonceStore())

	if rec, _ := serveSigned(v, signedDelivery(t, "shh", now, "dlv_1", "{}")); rec.Code != http.StatusAccepted {
		t.Fatalf("first delivery: %d", rec.Code)
	}
	rec, _ := serveSigned(v, signedDelivery(t, "shh", now, "dlv_1", "{}"))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "nonce_replay") {
		t.Fatalf("expected replay rejection, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRequireSignature_Rejections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		req    func() *http.Request
		nonces NonceStore
		status int
		code   string
	}{
		{
			name:   "wrong secret",
			req:    func() *http.Request { return signedDelivery(t, "other", now, "n1", "{}") },
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name:   "stale timestamp",
			req:    func() *http.Request { return signedDelivery(t, "shh", now.Add(-10*time.Minute), "n2", "{}") },
			status: http.StatusUnauthorized,
			code:   "timestamp_skew",
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				req := signedDelivery(t, "shh", now, "n3", `{"a":1}`)
				signed := httptest.NewRequest(http.MethodPost, req.URL.Path, strings.NewReader(`{"a":2}`))
				signed.Header = req.Header
				return signed
			},
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "missing signature",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/webhooks/carrier/delivery", strings.NewReader("{}"))
			},
			status: http.StatusUnauthorized,
			code:   "signature_missing",
		},
		{
			name:   "nonce store down",
			req:    func() *http.Request { return signedDelivery(t, "shh", now, "n4", "{}") },
			nonces: failingNonceStore{},
			status: http.StatusServiceUnavailable,
			code:   "verification_unavailable",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nonces := tc.nonces
			if nonces == nil {
				nonces = NewMemoryNonceStore()
			}
			rec, got := serveSigned(newCarrierVerifier(now, nonces), tc.req())
			if rec.Code != tc.status || !strings.Contains(rec.Body.String(), tc.code) {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rec.Code, rec.Body.String())
			}
			if got != "" {
				t.Fatalf("handler should not run")
			}
		})
	}
}

func TestRequireSignature_UnknownSender(t *testing.T) {
	v := NewSignatureVerifier(SignatureConfig{Nonces: NewMemoryNonceStore()})
	rec, _ := serveSigned(v, signedDelivery(t, "shh", time.Now(), "n", "{}"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
