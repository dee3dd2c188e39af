package registry

import (
	"io"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonLogEntry is a single access log record, one JSON object per line.
type jsonLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	Size       int       `json:"size"`
	Duration   float64   `json:"duration_seconds"`
	Referer    string    `json:"referer,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// responseLogger wraps a ResponseWriter, recording the status and number of
// body bytes for the access log.
type responseLogger struct {
	http.ResponseWriter
	status int
	size   int
}

func (l *responseLogger) Write(p []byte) (int, error) {
	if l.status == 0 {
		l.status = http.StatusOK
	}
	size, err := l.ResponseWriter.Write(p)
	l.size += size
	return size, err
}

func (l *responseLogger) WriteHeader(status int) {
	if l.status == 0 {
		l.status = status
	}
	l.ResponseWriter.WriteHeader(status)
}

func (l *responseLogger) Flush() {
	if f, ok := l.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (l *responseLogger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

// JSONLoggingHandler returns a http.Handler that wraps h and writes one JSON
// access log line per request to out, carrying roughly the Combined Log
// Format fields.
func JSONLoggingHandler(out io.Writer, h http.Handler) http.Handler {
	var mu sync.Mutex
	enc := json.NewEncoder(out)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		logger := &responseLogger{ResponseWriter: w}

		h.ServeHTTP(logger, req)

		if req.MultipartForm != nil {
			// nolint:errcheck
			req.MultipartForm.RemoveAll()
		}

		mu.Lock()
		defer mu.Unlock()
		// nolint:errcheck
		enc.Encode(&jsonLogEntry{
			Timestamp:  start.UTC(),
			RemoteAddr: req.RemoteAddr,
			Method:     req.Method,
			Path:       req.URL.Path,
			Status:     logger.Status(),
			Size:       logger.size,
			Duration:   time.Since(start).Seconds(),
			Referer:    req.Referer(),
			UserAgent:  req.UserAgent(),
		})
	})
}
