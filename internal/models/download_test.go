package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreResolveDownloads(t *testing.T) {
	body := strings.Repeat("x", 4096)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	store := NewStore(t.TempDir())
	store.BaseURL = srv.URL
	store.Client = srv.Client()

	var reports []float64
	c, _ := Lookup("tiny.en")
	path, err := store.Resolve(context.Background(), c, DeviceAccelerated, func(p float64) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotPath != "/ggml-tiny.en-q5_1.bin" {
		t.Errorf("requested %q, want /ggml-tiny.en-q5_1.bin", gotPath)
	}
	if filepath.Base(path) != "ggml-tiny.en-q5_1.bin" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading model: %v", err)
	}
	if string(data) != body {
		t.Errorf("model content length = %d, want %d", len(data), len(body))
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	if len(reports) == 0 || reports[len(reports)-1] != 100 {
		t.Errorf("progress reports = %v, want ending at 100", reports)
	}
}

func TestStoreResolveExistingSkipsDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected download of %s", r.URL.Path)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir())
	store.BaseURL = srv.URL
	c, _ := Lookup("base.en")
	if err := os.WriteFile(store.Path(c, DeviceGeneric), []byte("weights"), 0644); err != nil {
		t.Fatal(err)
	}

	var last float64
	path, err := store.Resolve(context.Background(), c, DeviceGeneric, func(p float64) { last = p })
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if path != store.Path(c, DeviceGeneric) {
		t.Errorf("path = %q, want %q", path, store.Path(c, DeviceGeneric))
	}
	if last != 100 {
		t.Errorf("progress = %v, want 100", last)
	}
}

func TestStoreResolveHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := NewStore(t.TempDir())
	store.BaseURL = srv.URL
	c, _ := Lookup("small.en")
	_, err := store.Resolve(context.Background(), c, DeviceGeneric, nil)
	if err == nil {
		t.Fatal("Resolve() should fail on HTTP 404")
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("error = %v, want HTTP 404", err)
	}
	if _, statErr := os.Stat(store.Path(c, DeviceGeneric)); !os.IsNotExist(statErr) {
		t.Error("model file should not exist after failed download")
	}
}

func TestStoreResolveCanceled(t *testing.T) {
	store := NewStore(t.TempDir())
	store.BaseURL = "http://127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := Lookup("tiny.en")
	if _, err := store.Resolve(ctx, c, DeviceGeneric, nil); err == nil {
		t.Fatal("Resolve() with canceled context should fail")
	}
}

func TestProgressWriter(t *testing.T) {
	tmpDir := t.TempDir()
	f, err := os.Create(filepath.Join(tmpDir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	var last float64
	pw := &progressWriter{
		writer: f,
		total:  100,
		report: func(p float64) { last = p },
	}

	data := make([]byte, 50)
	n, err := pw.Write(data)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 50 {
		t.Errorf("Write() n = %d, want 50", n)
	}
	if pw.written != 50 {
		t.Errorf("written = %d, want 50", pw.written)
	}
	if last != 50 {
		t.Errorf("reported = %v, want 50", last)
	}
}
