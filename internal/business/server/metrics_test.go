package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamcompare/authsync/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name:        "test-app",
				Environment: "test",
			},
		},
	}
}

func TestInitMeters(t *testing.T) {
	err := initMeters(t.Context(), testConfig())
	require.NoError(t, err)
	assert.NotNil(t, counter)
	assert.NotNil(t, hist)
}

func TestNewTraceMiddleware(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(context.Background(), cfg))

	mw := newTraceMiddleware(cfg)

	t.Run("passes the request through", func(t *testing.T) {
		handlerCalled := false
		handler := mw("TestOperation", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			handlerCalled = true
			w.WriteHeader(http.StatusAccepted)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("User-Agent", "test-agent")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("extracts parent trace context from headers", func(t *testing.T) {
		prev := otel.GetTextMapPropagator()
		otel.SetTextMapPropagator(propagation.TraceContext{})
		t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

		var got trace.SpanContext
		handler := mw("TraceOperation", http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = trace.SpanContextFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/trace-test", nil)
		req.Header.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID().String())
	})

	t.Run("handles multiple sequential requests", func(t *testing.T) {
		calls := 0
		handler := mw("MultiOperation", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls++
			_, _ = w.Write([]byte("ok"))
		}))

		for range 3 {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/multi", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
		assert.Equal(t, 3, calls)
	})
}
