package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type stubStats struct {
	rooms int
}

func (s *stubStats) RoomCount() int {
	return s.rooms
}

func newTestServer(rooms int) *Server {
	logger := zerolog.Nop()
	return NewServer(Config{
		Logger:     &logger,
		Stats:      &stubStats{rooms: rooms},
		WS:         http.NotFoundHandler(),
		ListenAddr: ":0",
	})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(3)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid health body: %v", err)
	}
	if resp.Status != "ok" || resp.Rooms != 3 {
		t.Errorf("health = %+v, want {ok 3}", resp)
	}
}

func TestRootBanner(t *testing.T) {
	srv := newTestServer(0)

	for _, path := range []string{"/", "/anything", "/health/extra"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
			t.Errorf("%s: content type = %q", path, ct)
		}
		if !strings.Contains(rec.Body.String(), "clipboard-fly") {
			t.Errorf("%s: unexpected body %q", path, rec.Body.String())
		}
	}
}
