package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/gamewatch/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL, receivedMethod, contentType, user, pass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		user, pass, _ = r.BasicAuth()
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"gamewatch","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "gamewatch", WithBasicAuth("admin", "s3cret"))
	sink.newID = func() string { return "fixed-id" }
	event := history.Event{
		Type:       history.EventPlayerJoin,
		OccurredAt: time.Date(2026, 1, 26, 19, 0, 36, 0, time.UTC),
		Program:    "hytale-server",
		PlayerID:   "u1",
		PlayerName: "Bob",
		World:      "orbis",
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPut {
		t.Errorf("Expected PUT method, got: %s", receivedMethod)
	}
	if receivedURL != "/gamewatch/_create/fixed-id" {
		t.Errorf("Expected URL path /gamewatch/_create/fixed-id, got: %s", receivedURL)
	}
	if user != "admin" || pass != "s3cret" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}
	if contentType != "application/json" {
		t.Errorf("Expected JSON content type, got: %s", contentType)
	}

	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if doc["type"] != string(history.EventPlayerJoin) {
		t.Errorf("Expected type %s, got: %v", history.EventPlayerJoin, doc["type"])
	}
	if doc["player_name"] != "Bob" || doc["world"] != "orbis" {
		t.Errorf("unexpected player fields: %v", doc)
	}
	if _, ok := doc["lifecycle"]; ok {
		t.Errorf("empty lifecycle should be omitted: %v", doc)
	}
	if doc["occurred_at"] != "2026-01-26T19:00:36Z" {
		t.Errorf("occurred_at = %v", doc["occurred_at"])
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "gamewatch")
	err := sink.Send(context.Background(), history.Event{Type: history.EventLifecycle, Program: "hytale-server"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") || !strings.Contains(err.Error(), "bad request") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

func TestOpenSearchSink_UniqueIDsAndConflict(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if _, _, ok := r.BasicAuth(); ok {
			t.Errorf("no credentials configured, got basic auth")
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	sink := New(server.URL, "gamewatch", WithHTTPClient(server.Client()))
	for i := 0; i < 2; i++ {
		if err := sink.Send(context.Background(), history.Event{Type: history.EventLifecycle}); err != nil {
			t.Fatalf("conflict must count as delivered: %v", err)
		}
	}
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Fatalf("expected two distinct document ids, got %v", paths)
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := New(url, "gamewatch").Send(context.Background(), history.Event{Type: history.EventLifecycle}); err == nil {
		t.Fatal("expected error for closed server")
	}
}
