package workerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			t.Errorf("missing or wrong bearer token: %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rustic":{"success":true},"summary":{"snapshot_id":"abc","data_added":1024}}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Call(context.Background(), srv.URL, "/rustic/backup", "tok123", map[string]string{"backend": "local"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true")
	}
}

func TestCall_FailureWithError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rustic":{"success":false},"error":"disk full"}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Call(context.Background(), srv.URL, "/rustic/backup", "tok123", map[string]string{})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Success {
		t.Errorf("Success = true, want false")
	}
	if resp.Error != "disk full" {
		t.Errorf("Error = %q, want %q", resp.Error, "disk full")
	}
}

func TestCall_HTTPStatusFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Call(context.Background(), srv.URL, "/rustic/backup", "tok123", map[string]string{})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if resp.Success {
		t.Errorf("Success = true, want false on HTTP 500 with no rustic.success field")
	}
}
