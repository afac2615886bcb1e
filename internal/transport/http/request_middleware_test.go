// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddlewareGeneratesAndPropagatesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotRequestID string
	h := requestIDMiddleware()(requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		gotRequestID = requestID
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	respRequestID := rec.Header().Get(headerRequestID)
	if respRequestID == "" {
		t.Fatal("expected X-Request-Id response header")
	}
	if gotRequestID != respRequestID {
		t.Fatalf("expected context request_id %q got %q", respRequestID, gotRequestID)
	}
}

func TestRequestIDMiddlewarePreservesIncomingRequestID(t *testing.T) {
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		if requestID != "req-fixed-id" {
			t.Fatalf("expected request_id req-fixed-id got %q", requestID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-fixed-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-fixed-id" {
		t.Fatalf("expected X-Request-Id req-fixed-id got %q", got)
	}
}

type logLine struct {
	Level  string `json:"level"`
	Path   string `json:"path"`
	Status int    `json:"status"`
}

func captureLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) logLine {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var line logLine
	if err := json.Unmarshal(lines[len(lines)-1], &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	return line
}

func TestRequestLoggingMiddlewareLevelFollowsStatus(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{name: "server error", path: "/api/deploy", status: http.StatusBadGateway, level: "ERROR"},
		{name: "client error", path: "/api/deploy", status: http.StatusTooManyRequests, level: "INFO"},
		{name: "health probe", path: "/healthz", status: http.StatusOK, level: "DEBUG"},
		{name: "metrics scrape", path: "/metrics", status: http.StatusOK, level: "DEBUG"},
		{name: "api read", path: "/api/quota", status: http.StatusOK, level: "INFO"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := requestLoggingMiddleware(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))

			line := lastLogLine(t, &buf)
			if line.Level != tc.level || line.Status != tc.status || line.Path != tc.path {
				t.Fatalf("expected %s %d %s, got %+v", tc.level, tc.status, tc.path, line)
			}
		})
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestRequestLoggingMiddlewarePassesHijackThrough(t *testing.T) {
	var buf bytes.Buffer
	h := requestLoggingMiddleware(captureLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("expected the recorder to expose http.Hijacker")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatalf("hijack: %v", err)
		}
		_ = conn.Close()
	}))

	w := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/stream", nil))

	if !w.hijacked {
		t.Fatal("expected hijack to reach the underlying writer")
	}
	if line := lastLogLine(t, &buf); line.Status != http.StatusSwitchingProtocols || line.Level != "INFO" {
		t.Fatalf("expected upgraded request logged as 101 INFO, got %+v", line)
	}
}

func TestStatusRecorderHijackWithoutSupport(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatal("expected an error when the writer cannot be hijacked")
	}
	if rec.wroteHeader {
		t.Fatal("failed hijack must not mark the response as written")
	}
}
