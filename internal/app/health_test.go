package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestHealthCheckEchoesMethod(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	tests := []struct {
		method string
		want   string
	}{
		{method: http.MethodGet, want: "GET method"},
		{method: http.MethodPost, want: "POST method"},
		{method: http.MethodPut, want: "default method"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rr := doRequest(t, server, tt.method, "/healthCheck", "", nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if data := parseBody(t, rr)["data"]; data != tt.want {
				t.Errorf("expected data=%q, got %v", tt.want, data)
			}
		})
	}
}

func TestHealthCheckNeedsNoAuth(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/healthCheck", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 without any key, got %d", rr.Code)
	}
}

func TestReadyCheck(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(fs, &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/readyCheck", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok := parseBody(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyCheckDatabaseFailure(t *testing.T) {
	fs := newFakeStore()
	fs.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := newTestServer(fs, &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/readyCheck", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	response := parseBody(t, rr)
	if response["status"] != "not_ready" {
		t.Errorf("expected status=not_ready, got %v", response["status"])
	}
}

func TestOptionsPreflight(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	rr := doRequest(t, server, http.MethodOptions, "/visit", "",
		map[string]string{"Origin": "http://localhost:5173"})
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestCORSAllowListedOrigin(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/healthCheck", "",
		map[string]string{"Origin": "http://localhost:5173"})
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:5173" {
		t.Errorf("expected origin echoed for allow-listed origin, got %q", origin)
	}
	if creds := rr.Header().Get("Access-Control-Allow-Credentials"); creds != "true" {
		t.Errorf("expected credentials allowed, got %q", creds)
	}
}

func TestCORSUnknownOriginGetsNoAllowHeader(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/healthCheck", "",
		map[string]string{"Origin": "https://evil.example"})
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Errorf("expected no allow-origin header for unknown origin, got %q", origin)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeNotifier{})

	rr := doRequest(t, server, http.MethodGet, "/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}
