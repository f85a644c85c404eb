package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	if got := normalizeBaseURL("localhost:9000/", ":8000"); got != "http://localhost:9000" {
		t.Fatalf("expected normalized URL, got %s", got)
	}
	if got := normalizeBaseURL("", "8000"); got != "http://localhost:8000" {
		t.Fatalf("expected fallback URL, got %s", got)
	}
	if got := normalizeBaseURL("", ""); got != "http://localhost:8080" {
		t.Fatalf("expected default URL, got %s", got)
	}
}

func TestParseNotes(t *testing.T) {
	in := "# exported\n2025-05-01\tstorm outage\n\n2025-05-02, holiday hours\n"
	got, err := parseNotes(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []note{{Date: "2025-05-01", Note: "storm outage"}, {Date: "2025-05-02", Note: "holiday hours"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected notes %#v", got)
	}
	if _, err := parseNotes(strings.NewReader("2025-05-01 no separator\n")); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestSyncCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/contacts" || body["action"] != "sync" || body["phoneNumber"] != "+15559990000" {
			t.Errorf("unexpected request %s %v", r.URL.Path, body)
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "runId": "abc", "newContactsAdded": 2, "totalContacts": 5})
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--url", srv.URL, "sync", "--phone", "+15559990000"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "added 2, total 5") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if err := run(context.Background(), []string{"--url", srv.URL, "clear"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected refusal without --yes")
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("server called without confirmation")
	}
	if err := run(context.Background(), []string{"--url", srv.URL, "clear", "--yes"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"Failed to sync contacts","details":"call record source unavailable"}`))
	}))
	defer srv.Close()

	err := run(context.Background(), []string{"--url", srv.URL, "sync"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "Failed to sync contacts") {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestExportToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Phone Number,First Call,Last Call,Total Calls,Date Added\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := run(context.Background(), []string{"--url", srv.URL, "export", "--out", path}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "Phone Number,") {
		t.Fatalf("unexpected export %q", data)
	}
}

func TestImportNotesCountsFailures(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n note
		_ = json.NewDecoder(r.Body).Decode(&n)
		if n.Date == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Failed to save note","details":"invalid argument"}`))
			return
		}
		mu.Lock()
		seen[n.Date] = n.Note
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "notes.txt")
	body := "2025-05-01\tone\n2025-05-02\ttwo\nbad\tthree\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err := run(context.Background(), []string{"--url", srv.URL, "import-notes", "--file", path, "--concurrency", "2"}, &out)
	if err == nil {
		t.Fatalf("expected failure count error")
	}
	if !strings.Contains(out.String(), "imported 2 notes, 1 failed") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if len(seen) != 2 || seen["2025-05-02"] != "two" {
		t.Fatalf("unexpected uploads %v", seen)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}
