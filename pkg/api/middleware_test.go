package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geyserpipe/geyserpipe/internal/logger"
)

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := RecoveryMiddleware(logger.NewNopLogger())(panicking)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "internal server error")
}

func TestRecoveryMiddleware_PassThrough(t *testing.T) {
	t.Parallel()

	handler := RecoveryMiddleware(logger.NewNopLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		allowedOrigins []string
		origin         string
		expectedHeader string
	}{
		{
			name:           "wildcard allows any origin",
			allowedOrigins: []string{"*"},
			origin:         "https://example.com",
			expectedHeader: "*",
		},
		{
			name:           "listed origin is echoed",
			allowedOrigins: []string{"https://example.com"},
			origin:         "https://example.com",
			expectedHeader: "https://example.com",
		},
		{
			name:           "unlisted origin gets nothing",
			allowedOrigins: []string{"https://example.com"},
			origin:         "https://evil.test",
			expectedHeader: "",
		},
		{
			name:           "empty list allows any origin",
			allowedOrigins: nil,
			origin:         "https://example.com",
			expectedHeader: "*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := CORSMiddleware(tt.allowedOrigins)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			require.Equal(t, tt.expectedHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	t.Parallel()

	handler := CORSMiddleware([]string{"https://example.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("preflight must not reach the handler")
		}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestResponseWriterCapturesStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	wrapped.WriteHeader(http.StatusCreated)
	require.Equal(t, http.StatusCreated, wrapped.statusCode)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestMiddlewareChaining(t *testing.T) {
	t.Parallel()

	log := logger.NewNopLogger()
	handler := RecoveryMiddleware(log)(
		LoggingMiddleware(log)(
			CORSMiddleware([]string{"*"})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}))))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
