package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBaseURL hosts the whisper.cpp ggml weight files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Store keeps downloaded model files in a local directory.
type Store struct {
	Dir     string
	BaseURL string
	Client  *http.Client
}

// NewStore returns a Store rooted at dir that downloads from DefaultBaseURL.
func NewStore(dir string) *Store {
	return &Store{Dir: dir, BaseURL: DefaultBaseURL, Client: http.DefaultClient}
}

// Path returns where the weights for c on device live locally.
func (s *Store) Path(c Candidate, device Device) string {
	return filepath.Join(s.Dir, FileName(c.ID, device))
}

// URL returns the remote location of the weights for c on device.
func (s *Store) URL(c Candidate, device Device) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + FileName(c.ID, device)
}

// Resolve returns the local path of the weights for c on device,
// downloading them first when missing. progress receives percentages in
// [0, 100]; it may be nil.
func (s *Store) Resolve(ctx context.Context, c Candidate, device Device, progress func(float64)) (string, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	destPath := s.Path(c, device)

	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		progress(100)
		return destPath, nil
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("models: creating models dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(c, device), nil)
	if err != nil {
		return "", fmt.Errorf("models: building request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("models: downloading %s: %w", FileName(c.ID, device), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("models: download %s failed: HTTP %d", FileName(c.ID, device), resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("models: creating temp file: %w", err)
	}

	pw := &progressWriter{
		writer: f,
		total:  resp.ContentLength,
		report: progress,
	}

	_, err = io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("models: writing model file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("models: moving model file: %w", err)
	}

	progress(100)
	return destPath, nil
}

// progressWriter wraps an io.Writer and reports download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	report  func(float64)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 && pw.report != nil {
		pct := float64(pw.written) / float64(pw.total) * 100
		if pct > 100 {
			pct = 100
		}
		pw.report(pct)
	}
	return n, err
}

// ConsoleProgress returns a progress callback that prints a single
// updating line to stdout, for CLI prefetching.
func ConsoleProgress(label string) func(float64) {
	done := false
	return func(pct float64) {
		if done {
			return
		}
		fmt.Printf("\r  %s: %.0f%%", label, pct)
		if pct >= 100 {
			done = true
			fmt.Println()
		}
	}
}
