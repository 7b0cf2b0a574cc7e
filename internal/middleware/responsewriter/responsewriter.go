// Package responsewriter provides utilities to inject the response writer
// for the original *http.Request into the context and also retrieve it.
//
// The injected writer records whether the response has been committed, so
// that late cookie writes can be detected instead of silently lost.
package responsewriter

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
)

// Using an unexported type prevents key collisions from other packages.
type responseWriterKey string

// ResponseWriterKey is the context key for the response writer.
const ResponseWriterKey responseWriterKey = "response-writer"

// Committer is implemented by writers that know whether the status line
// and headers have already been sent.
type Committer interface {
	Committed() bool
}

// Writer wraps an http.ResponseWriter and tracks whether the header was written.
type Writer struct {
	http.ResponseWriter

	committed atomic.Bool
	status    atomic.Int32
}

var _ Committer = (*Writer)(nil)

func NewWriter(w http.ResponseWriter) *Writer {
	if gw, ok := w.(*Writer); ok {
		return gw
	}
	return &Writer{ResponseWriter: w}
}

func (w *Writer) WriteHeader(statusCode int) {
	if w.committed.CompareAndSwap(false, true) {
		w.status.Store(int32(statusCode)) //nolint:gosec
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *Writer) Write(b []byte) (int, error) {
	w.committed.Store(true)
	return w.ResponseWriter.Write(b)
}

func (w *Writer) Flush() {
	w.committed.Store(true)
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Committed reports whether headers can no longer be changed.
func (w *Writer) Committed() bool {
	return w.committed.Load()
}

// Status returns the status code sent to the client, 200 when the handler
// wrote a body without an explicit status and 0 when nothing was written.
func (w *Writer) Status() int {
	if s := w.status.Load(); s != 0 {
		return int(s)
	}
	if w.committed.Load() {
		return http.StatusOK
	}
	return 0
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// ResponseWriterMiddleware is an http.Handler middleware that injects
// the response writer for the original *http.Request into the context.
func ResponseWriterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw := NewWriter(w)
		ctx := context.WithValue(r.Context(), ResponseWriterKey, gw)
		next.ServeHTTP(gw, r.WithContext(ctx))
	})
}

// ResponseWriterFromContext is a helper function that retrieves the response
// writer from the context.
func ResponseWriterFromContext(ctx context.Context) (http.ResponseWriter, error) {
	w, ok := ctx.Value(ResponseWriterKey).(http.ResponseWriter)
	if !ok {
		return nil, errors.New("response writer not found in context")
	}
	return w, nil
}
