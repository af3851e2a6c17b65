package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DeiCroissant/Ecommerce-Clothing-store-sub002/internal/platform/requestctx"
)

func newObservedRouter(logger *zap.Logger, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(InjectLoggerMiddleware(logger))
	r.Use(TraceMiddleware("demo-project"))
	r.Use(RequestLoggerMiddleware())
	r.Use(RecoveryMiddleware(logger))
	r.Get("/orders/{orderID}", handler)
	return r
}

func TestRequestLoggerMiddleware_LogsRoutePatternAndTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(w http.ResponseWriter, r *http.Request) {
		requestctx.Logger(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_42", nil)
	req.Header.Set("X-Cloud-Trace-Context", "4bf92f3577b34da6a3ce929d0e0e4736/1;o=1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("X-Cloud-Trace-Context"), "4bf92f3577b34da6a3ce929d0e0e4736/")

	handlerLogs := logs.FilterMessage("handler ran").All()
	require.Len(t, handlerLogs, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", handlerLogs[0].ContextMap()["trace_id"])
	assert.Equal(t, "projects/demo-project/traces/4bf92f3577b34da6a3ce929d0e0e4736",
		handlerLogs[0].ContextMap()["logging.googleapis.com/trace"])

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.WarnLevel, completed[0].Level)
	fields := completed[0].ContextMap()
	assert.Equal(t, "/orders/{orderID}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
}

func TestRecoveryMiddleware_WritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal"`)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.ErrorLevel, completed[0].Level)
}

func TestEventLogger_PrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(fallbackCore), "lifecycle")

	log(context.Background(), "lifecycle.order.transitioned", map[string]any{"orderId": "ord_1"})
	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "lifecycle.cascade.failed", map[string]any{"returnId": "ret_1"})

	require.Equal(t, 1, fallbackLogs.Len())
	assert.Equal(t, zapcore.DebugLevel, fallbackLogs.All()[0].Level)
	require.Equal(t, 1, requestLogs.Len())
	entry := requestLogs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "lifecycle.cascade.failed", entry.ContextMap()["event"])
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("4bf92f3577b34da6a3ce929d0e0e4736/12345;o=1")
	require.True(t, ok)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.True(t, sc.IsSampled())

	_, ok = parseCloudTraceContext("not-a-trace")
	assert.False(t, ok)
}

func TestScrub(t *testing.T) {
	assert.Equal(t, "abc", scrub("a\nb\tc", 10))
	assert.Equal(t, "ab", scrub("abcdef", 2))
}
