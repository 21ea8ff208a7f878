package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(opts Options) *Manager {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	return New(testLogger(), opts, nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestDownloadWithChecksum(t *testing.T) {
	payload := []byte(strings.Repeat("abc123", 1000))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "file.bin")
	m := testManager(Options{})

	got, kind, err := m.DownloadFile(context.Background(), srv.URL+"/file.bin", target, sha256Hex(payload), true)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if kind != domain.DownloadErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if got != target {
		t.Fatalf("returned path = %q, want %q", got, target)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("downloaded content differs from payload")
	}
	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should be gone after rename")
	}
}

func TestDownloadChecksumMismatchLeavesNoFinalFile(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "m.bin")
	m := testManager(Options{})

	wrongChecksum := sha256Hex([]byte("a different payload"))
	_, kind, err := m.DownloadFile(context.Background(), srv.URL+"/m.bin", target, wrongChecksum, true)
	if err == nil {
		t.Fatal("expected checksum mismatch")
	}
	if kind != domain.DownloadErrChecksumMismatch {
		t.Fatalf("kind = %v, want checksum_mismatch", kind)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("final target must not exist after checksum mismatch")
	}
}

func TestDownloadResumeSendsRangeHeader(t *testing.T) {
	full := []byte(strings.Repeat("0123456789", 2048))
	partial := int64(8192)

	var gotRange atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(full)))
			return
		}
		rangeHeader := r.Header.Get("Range")
		gotRange.Store(rangeHeader)
		if rangeHeader != "" {
			var from int64
			fmt.Sscanf(rangeHeader, "bytes=%d-", &from)
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(full[from:])
			return
		}
		_, _ = w.Write(full)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "resume.bin")
	if err := os.WriteFile(target+".tmp", full[:partial], 0o644); err != nil {
		t.Fatal(err)
	}

	m := testManager(Options{})
	_, kind, err := m.DownloadFile(context.Background(), srv.URL+"/resume.bin", target, sha256Hex(full), true)
	if err != nil {
		t.Fatalf("resume download failed: %v", err)
	}
	if kind != domain.DownloadErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if want := fmt.Sprintf("bytes=%d-", partial); gotRange.Load() != want {
		t.Fatalf("Range header = %v, want %q", gotRange.Load(), want)
	}
	data, _ := os.ReadFile(target)
	if sha256Hex(data) != sha256Hex(full) {
		t.Fatal("resumed file content does not match")
	}
}

func TestDownloadInvalidURL(t *testing.T) {
	m := testManager(Options{})
	tests := []string{
		"ftp://example.com/x",
		"not a url at all://",
		"http://",
	}
	for _, raw := range tests {
		_, kind, err := m.DownloadFile(context.Background(), raw, filepath.Join(t.TempDir(), "x"), "", true)
		if err == nil || kind != domain.DownloadErrInvalidURL {
			t.Fatalf("url %q: kind = %v, want invalid_url", raw, kind)
		}
	}
}

func TestDownloadRetriesOnServerError(t *testing.T) {
	payload := []byte("eventually fine")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "retry.bin")
	m := testManager(Options{MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	_, kind, err := m.DownloadFile(context.Background(), srv.URL+"/retry.bin", target, "", true)
	if err != nil {
		t.Fatalf("download should succeed on retry: %v", err)
	}
	if kind != domain.DownloadErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if calls.Load() != 2 {
		t.Fatalf("GET calls = %d, want 2", calls.Load())
	}
}

func TestDownloadCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000000")
			return
		}
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	m := testManager(Options{})
	_, kind, err := m.DownloadFile(ctx, srv.URL+"/big.bin", filepath.Join(t.TempDir(), "big.bin"), "", true)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if kind != domain.DownloadErrCancellationRequested {
		t.Fatalf("kind = %v, want cancellation_requested", kind)
	}
}

func TestDownloadRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every request redirects back to itself.
		http.Redirect(w, r, srv.URL+r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	m := testManager(Options{MaxRedirects: 3})
	_, kind, err := m.DownloadFile(context.Background(), srv.URL+"/loop", filepath.Join(t.TempDir(), "loop"), "", true)
	if err == nil {
		t.Fatal("expected redirect loop failure")
	}
	if kind != domain.DownloadErrNetworkError {
		t.Fatalf("kind = %v, want network_error", kind)
	}
}

func TestPercentageInvariant(t *testing.T) {
	info := domain.DownloadInfo{TotalSize: 200, DownloadedSize: 50}
	if got := info.Percentage(); got != 25 {
		t.Fatalf("percentage = %v, want 25", got)
	}
	unknown := domain.DownloadInfo{DownloadedSize: 50}
	if got := unknown.Percentage(); got != 0 {
		t.Fatalf("percentage with unknown total = %v, want 0", got)
	}
}

func TestKindClassification(t *testing.T) {
	if Kind(nil) != domain.DownloadErrNone {
		t.Fatal("nil error should map to none")
	}
	if Kind(newError(domain.DownloadErrTimeoutError, nil)) != domain.DownloadErrTimeoutError {
		t.Fatal("typed error kind lost")
	}
	if Kind(fmt.Errorf("plain")) != domain.DownloadErrUnknownError {
		t.Fatal("untyped error should map to unknown")
	}
}
