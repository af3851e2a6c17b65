package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `}`))
	})
}

func post(handler http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/returns", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ReplaysCompletedResponse(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(), Config{})(countingHandler(&calls, http.StatusCreated))

	first := post(handler, "k1", `{"reason":"wrong_size"}`)
	second := post(handler, "k1", `{"reason":"wrong_size"}`)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddleware_KeyReusedWithDifferentBody(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(), Config{})(countingHandler(&calls, http.StatusCreated))

	post(handler, "k1", `{"reason":"wrong_size"}`)
	rec := post(handler, "k1", `{"reason":"damaged"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_ServerErrorsAreNotRemembered(t *testing.T) {
	var calls atomic.Int32
	handler := Middleware(NewMemoryStore(), Config{})(countingHandler(&calls, http.StatusServiceUnavailable))

	post(handler, "k1", `{}`)
	post(handler, "k1", `{}`)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_MissingKey(t *testing.T) {
	var calls atomic.Int32
	optional := Middleware(NewMemoryStore(), Config{})(countingHandler(&calls, http.StatusCreated))
	assert.Equal(t, http.StatusCreated, post(optional, "", `{}`).Code)

	required := Middleware(NewMemoryStore(), Config{Required: true})(countingHandler(&calls, http.StatusCreated))
	assert.Equal(t, http.StatusBadRequest, post(required, "", `{}`).Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMiddleware_InFlight(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/returns", strings.NewReader(`{}`))
	_, _, err := store.Reserve(context.Background(), "anonymous|k1", fingerprintOf(req, []byte(`{}`)), now, time.Hour)
	require.NoError(t, err)

	var calls atomic.Int32
	rec := post(Middleware(store, Config{})(countingHandler(&calls, http.StatusCreated)), "k1", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Zero(t, calls.Load())
}

type brokenStore struct{ Store }

func (brokenStore) Reserve(context.Context, string, string, time.Time, time.Duration) (State, Record, error) {
	return 0, Record{}, errors.New("down")
}

func TestMiddleware_StoreUnavailable(t *testing.T) {
	var calls atomic.Int32
	rec := post(Middleware(brokenStore{}, Config{})(countingHandler(&calls, http.StatusCreated)), "k1", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMemoryStore_PurgeAndNonces(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _, err := store.Reserve(ctx, "a", "fp", now, time.Minute)
	require.NoError(t, err)
	_, _, err = store.Reserve(ctx, "b", "fp", now, time.Hour)
	require.NoError(t, err)

	removed, err := store.Purge(ctx, now.Add(2*time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	fresh, err := store.UseNonce(ctx, "carrier", "n1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = store.UseNonce(ctx, "carrier", "n1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, fresh)
}
