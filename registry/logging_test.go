package registry

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := JSONLoggingHandler(&buf, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		// nolint:errcheck
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v2/test/tags/list", nil)
	req.Header.Set("User-Agent", "test-agent")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d != %d", resp.Code, http.StatusTeapot)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("no access log line written")
	}
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("expected a single log line, got %q", line)
	}

	var entry jsonLogEntry
	if err := json.UnmarshalFromString(line, &entry); err != nil {
		t.Fatalf("unmarshaling access log line: %v", err)
	}

	if entry.Method != http.MethodGet {
		t.Errorf("unexpected method: %q", entry.Method)
	}
	if entry.Path != "/v2/test/tags/list" {
		t.Errorf("unexpected path: %q", entry.Path)
	}
	if entry.Status != http.StatusTeapot {
		t.Errorf("unexpected status: %d", entry.Status)
	}
	if entry.Size != len("short and stout") {
		t.Errorf("unexpected size: %d", entry.Size)
	}
	if entry.UserAgent != "test-agent" {
		t.Errorf("unexpected user agent: %q", entry.UserAgent)
	}
}

func TestResponseLoggerDefaultsToOK(t *testing.T) {
	resp := httptest.NewRecorder()
	logger := &responseLogger{ResponseWriter: resp}

	// Write without an explicit WriteHeader implies 200.
	if _, err := logger.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if logger.Status() != http.StatusOK {
		t.Errorf("unexpected status: %d", logger.Status())
	}
	if logger.size != 2 {
		t.Errorf("unexpected size: %d", logger.size)
	}
}
