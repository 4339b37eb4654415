package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/lokivisor/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var gotBody []byte
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	sink := New(ts.URL+"/", "lokinet-history")
	e := history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: history.Record{Name: "lokinet", PID: 5, Status: "stopping"}}
	if err := sink.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/lokinet-history/_doc" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	var m map[string]any
	if err := json.Unmarshal(gotBody, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m["type"] != "stop" {
		t.Fatalf("unexpected type in %v", m)
	}
	rec, ok := m["record"].(map[string]any)
	if !ok || rec["name"] != "lokinet" || rec["status"] != "stopping" {
		t.Fatalf("unexpected record: %v", m["record"])
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	sink := New(ts.URL, "idx")
	if err := sink.Send(context.Background(), history.Event{Type: history.EventStart}); err == nil {
		t.Fatalf("expected error on 400 response")
	}
}
