package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SecurityHeaders are set on every response.
var SecurityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "origin-when-cross-origin",
}

type loggingResponseWriter struct {
	http.ResponseWriter
	log    zerolog.Logger
	status int
	bytes  int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if enabled(lw.log, zerolog.TraceLevel) {
		lw.log.Trace().Bytes("body", b).Msg("http response chunk")
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.bytes += n
	return n, err
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacker not supported")
}

func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter { return lw.ResponseWriter }

// MiddlewareChain returns the middleware applied to every route.
func MiddlewareChain(log zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		chiMiddleware.RequestID,
		chiMiddleware.Recoverer,
		RequestLogger(log),
		securityHeaders,
	}
}

const maxLoggedBody = 64 << 10

// enabled reports whether log would write at lvl, honouring both the global
// level and the logger's own.
func enabled(log zerolog.Logger, lvl zerolog.Level) bool {
	return lvl >= zerolog.GlobalLevel() && lvl >= log.GetLevel()
}

// RequestLogger logs one line per request. At debug level the request body
// is logged as well.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With().Str("request_id", chiMiddleware.GetReqID(r.Context())).Logger()
			lrw := &loggingResponseWriter{ResponseWriter: w, log: reqLog, status: http.StatusOK}
			if enabled(reqLog, zerolog.DebugLevel) && r.Body != nil {
				prefix, _ := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(prefix), r.Body), r.Body}
				reqLog.Debug().Str("method", r.Method).Str("url", r.URL.String()).Bytes("body", prefix).Msg("http request")
			}
			next.ServeHTTP(lrw, r.WithContext(reqLog.WithContext(r.Context())))
			reqLog.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", lrw.status).
				Int("bytes", lrw.bytes).Dur("duration", time.Since(start)).Msg("http")
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range SecurityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
