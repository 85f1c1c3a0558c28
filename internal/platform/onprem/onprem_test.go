package onprem

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3e-network/cyberrange/internal/domain/resource"
	"github.com/r3e-network/cyberrange/internal/errs"
	"github.com/r3e-network/cyberrange/internal/platform"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := New(Config{
		Instance:    "cluster-a",
		Host:        srv.URL,
		User:        "admin",
		Token:       "tok",
		TemplateMap: map[string]string{"ubuntu22": "tmpl-1"},
	})
	return a, srv
}

func TestCloneFromTemplateSuccess(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/clone" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"native_id": "vm-123"})
	})

	id, err := a.CloneFromTemplate(context.Background(), platform.CloneSpec{
		RequestID: "req-1", TemplateRef: "ubuntu22", Name: "vm-a",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "vm-123" {
		t.Fatalf("unexpected native id: %s", id)
	}
}

func TestCloneFromTemplateUnknownTemplate(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("should not reach backend for unknown template")
	})
	_, err := a.CloneFromTemplate(context.Background(), platform.CloneSpec{TemplateRef: "missing"})
	if errs.KindOf(err) != errs.ResourceMissing {
		t.Fatalf("expected ResourceMissing, got %v", err)
	}
}

func TestCloneFromTemplateNameCollision(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"message": "name already exists"})
	})
	_, err := a.CloneFromTemplate(context.Background(), platform.CloneSpec{TemplateRef: "ubuntu22", Name: "dup"})
	if errs.KindOf(err) != errs.NameCollision {
		t.Fatalf("expected NameCollision, got %v", err)
	}
}

func TestDeleteAlreadyMissingIsSuccess(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := a.Delete(context.Background(), "vm-gone", false); err != nil {
		t.Fatalf("expected idempotent success deleting missing vm, got %v", err)
	}
}

func TestWaitForLivenessTimesOut(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"observed_ip": ""})
	})
	_, err := a.WaitForLiveness(context.Background(), "vm-1", time.Now().Add(-time.Second))
	if errs.KindOf(err) != errs.Timeout {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestListResources(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"native_id": "vm-1", "name": "a", "state": "running", "cpu": 2, "memory_mb": 2048, "observed_ip": "10.0.0.2"},
				{"native_id": "vm-2", "name": "b", "state": "stopped"},
			},
		})
	})

	var seen []resource.Resource
	err := a.ListResources(context.Background(), resource.KindVM, func(r resource.Resource) bool {
		seen = append(seen, r)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(seen))
	}
	if seen[0].Config.ObservedIP != "10.0.0.2" {
		t.Fatalf("expected observed ip to be parsed, got %q", seen[0].Config.ObservedIP)
	}
}
