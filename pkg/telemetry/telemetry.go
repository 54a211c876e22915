// Package telemetry records per-request timing: prometheus counters for every
// request, a slow-request log line, and span traces for sampled requests.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"assetdesk/pkg/logger"
	"assetdesk/pkg/metrics"
)

type ctxKeyType struct{}

type reqIDKey struct{}

var (
	requestCtr    uint64
	sampleEvery   atomic.Int64
	slowThreshold atomic.Int64
)

func init() {
	sampleEvery.Store(1000)
	slowThreshold.Store(int64(500 * time.Millisecond))
}

// Span is a timed step relative to request start.
type Span struct {
	Op       string
	StartMs  int64
	Duration int64
}

// Trace holds the spans of one sampled request.
type Trace struct {
	RequestID string
	startTime time.Time
	mu        sync.Mutex
	spans     []Span
}

// Middleware measures each request. Use it with mux.Router.Use so the route
// template is known; requests outside a route are labelled "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "r-" + strconv.FormatUint(atomic.AddUint64(&requestCtr, 1), 36) + "-" + strconv.FormatInt(start.UnixNano()%1e6, 36)
		}
		w.Header().Set("X-Request-ID", reqID)
		r = r.WithContext(context.WithValue(r.Context(), reqIDKey{}, reqID))

		var tr *Trace
		if shouldSample(r) {
			tr = &Trace{RequestID: reqID, startTime: start}
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyType{}, tr))
		}

		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		route := routeName(r)
		dur := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(srw.status)).Inc()
		metrics.HTTPSeconds.WithLabelValues(route).Observe(dur.Seconds())

		if tr != nil {
			tr.mu.Lock()
			spans := append([]Span(nil), tr.spans...)
			tr.mu.Unlock()
			logger.Log.Debug("request_trace",
				zap.String("request_id", reqID),
				zap.String("route", route),
				zap.Int("status", srw.status),
				zap.Duration("duration", dur),
				zap.Any("spans", spans))
			return
		}
		if dur > time.Duration(slowThreshold.Load()) {
			logger.Warn("slow_request", "request_id", reqID, "route", route, "status", srw.status, "duration_ms", dur.Milliseconds())
		}
	})
}

// RequestID returns the id Middleware assigned to the request in ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(reqIDKey{}).(string)
	return id
}

func routeName(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return r.Method + " " + tpl
		}
	}
	return "unmatched"
}

// StartSpan returns an end function. Requests that were not sampled get a no-op.
func StartSpan(ctx context.Context, name string) func() {
	tr, ok := ctx.Value(ctxKeyType{}).(*Trace)
	if !ok || tr == nil {
		return func() {}
	}
	tr.mu.Lock()
	tr.spans = append(tr.spans, Span{Op: name, StartMs: time.Since(tr.startTime).Milliseconds()})
	idx := len(tr.spans) - 1
	tr.mu.Unlock()
	return func() {
		tr.mu.Lock()
		tr.spans[idx].Duration = time.Since(tr.startTime).Milliseconds() - tr.spans[idx].StartMs
		tr.mu.Unlock()
	}
}

// X-Debug-Telemetry: 1 forces a trace.
func shouldSample(r *http.Request) bool {
	if r.Header.Get("X-Debug-Telemetry") == "1" {
		return true
	}
	n := sampleEvery.Load()
	if n <= 0 {
		return false
	}
	return atomic.AddUint64(&requestCtr, 1)%uint64(n) == 0
}

// SetSampleRate sets the approximate share of requests traced (0..1).
func SetSampleRate(rate float64) {
	switch {
	case rate <= 0:
		sampleEvery.Store(0)
	case rate >= 1:
		sampleEvery.Store(1)
	default:
		sampleEvery.Store(int64(1 / rate))
	}
}

// SetSlowThreshold sets the duration above which untraced requests are logged.
func SetSlowThreshold(d time.Duration) {
	if d < 0 {
		d = 0
	}
	slowThreshold.Store(int64(d))
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Flush lets streaming handlers push through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
