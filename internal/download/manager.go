// Package download implements the resumable HTTP download engine: HEAD
// probing, byte-range resume, redirect limits, SHA-256 verification, atomic
// rename into place, bounded concurrent slots, and exponential retry.
package download

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
	"github.com/vodscribe/corekit/internal/resilience/retry"
	"github.com/vodscribe/corekit/internal/resource"
)

// Options configures a Manager.
type Options struct {
	MaxConcurrentDownloads int
	Timeout                time.Duration
	MaxRetries             int
	RetryDelay             time.Duration
	UserAgent              string
	MaxRedirects           int
	VerifySSL              bool
	// BytesPerSecond caps per-download throughput; 0 = unlimited.
	BytesPerSecond int64
}

// DefaultOptions returns the stock download configuration: three slots,
// five minute timeout, five redirects.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentDownloads: 3,
		Timeout:                5 * time.Minute,
		MaxRetries:             3,
		RetryDelay:             2 * time.Second,
		UserAgent:              "corekit/1.0",
		MaxRedirects:           5,
		VerifySSL:              true,
	}
}

// Error carries the typed download failure kind alongside the cause.
type Error struct {
	Kind domain.DownloadErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.DownloadErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the DownloadErrorKind from an error returned by the
// manager; unknown errors map to UnknownError.
func Kind(err error) domain.DownloadErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if err == nil {
		return domain.DownloadErrNone
	}
	return domain.DownloadErrUnknownError
}

type downloadState struct {
	mu     sync.Mutex
	info   domain.DownloadInfo
	cancel context.CancelFunc
}

func (s *downloadState) snapshot() domain.DownloadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *downloadState) update(fn func(info *domain.DownloadInfo)) {
	s.mu.Lock()
	fn(&s.info)
	s.mu.Unlock()
}

type noopObserver struct{}

func (noopObserver) DownloadStarted(string)                          {}
func (noopObserver) DownloadProgress(string, int64, int64, float64)  {}
func (noopObserver) DownloadCompleted(string)                        {}
func (noopObserver) DownloadFailed(string, domain.DownloadErrorKind) {}
func (noopObserver) DownloadCancelled(string)                        {}
func (noopObserver) DownloadResumed(string, int64)                   {}

// Manager owns the download slots and per-download state.
type Manager struct {
	logger   *slog.Logger
	opts     Options
	client   *http.Client
	sem      *semaphore.Weighted
	observer ports.DownloadObserver

	mu        sync.Mutex
	downloads map[string]*downloadState
}

// New builds a Manager. A nil observer is replaced with a no-op.
func New(logger *slog.Logger, opts Options, observer ports.DownloadObserver) *Manager {
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = DefaultOptions().MaxConcurrentDownloads
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultOptions().MaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}
	if observer == nil {
		observer = noopObserver{}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	maxRedirects := opts.MaxRedirects
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Manager{
		logger:    logger,
		opts:      opts,
		client:    client,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrentDownloads)),
		observer:  observer,
		downloads: make(map[string]*downloadState),
	}
}

// ActiveDownloads returns a snapshot of every tracked download.
func (m *Manager) ActiveDownloads() []domain.DownloadInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DownloadInfo, 0, len(m.downloads))
	for _, st := range m.downloads {
		out = append(out, st.snapshot())
	}
	return out
}

// CancelDownload aborts a download's transport and marks it cancelled.
func (m *Manager) CancelDownload(id string) error {
	m.mu.Lock()
	st, ok := m.downloads[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("download: unknown id %q", id)
	}
	st.update(func(info *domain.DownloadInfo) {
		info.Status = domain.DownloadStatusCancelled
	})
	st.cancel()
	return nil
}

// DownloadFile fetches url into localPath. When expectedChecksum is
// non-empty, the finished temp file must hash to it (SHA-256,
// case-insensitive) before the atomic rename; a mismatch leaves the final
// path untouched. Excess requests past the slot limit queue FIFO on the
// semaphore. Transient transport failures retry with exponential backoff.
func (m *Manager) DownloadFile(ctx context.Context, rawURL, localPath, expectedChecksum string, resume bool) (string, domain.DownloadErrorKind, error) {
	if err := validateURL(rawURL); err != nil {
		return "", domain.DownloadErrInvalidURL, err
	}
	if err := ensureTargetDir(localPath); err != nil {
		return "", Kind(err), err
	}

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &downloadState{
		cancel: cancel,
		info: domain.DownloadInfo{
			ID:               uuid.NewString(),
			URL:              rawURL,
			LocalPath:        localPath,
			TempPath:         localPath + ".tmp",
			ExpectedChecksum: strings.ToLower(expectedChecksum),
			Status:           domain.DownloadStatusPending,
			StartTime:        time.Now(),
			MaxRetries:       m.opts.MaxRetries,
		},
	}
	id := st.info.ID

	m.mu.Lock()
	m.downloads[id] = st
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.downloads, id)
		m.mu.Unlock()
	}()

	if err := m.sem.Acquire(dlCtx, 1); err != nil {
		m.observer.DownloadCancelled(id)
		return "", domain.DownloadErrCancellationRequested, newError(domain.DownloadErrCancellationRequested, err)
	}
	defer m.sem.Release(1)

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	retryCfg := domain.RetryConfig{
		Policy:            domain.RetryPolicyExponential,
		MaxAttempts:       m.opts.MaxRetries + 1,
		InitialDelay:      m.opts.RetryDelay,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.25,
		EnableJitter:      true,
	}
	engine := retry.New(retryCfg, nil)

	attempt := 0
	var lastAttemptErr error
	_, retryKind, err := retry.Execute(dlCtx, engine, func(attemptCtx context.Context) (struct{}, error) {
		attempt++
		if attempt > 1 {
			st.update(func(info *domain.DownloadInfo) { info.RetryCount = attempt - 1 })
		}
		attemptErr := m.runAttempt(attemptCtx, st, resume)
		if attemptErr != nil {
			lastAttemptErr = attemptErr
			metrics.RetryAttemptsTotal.WithLabelValues("download", "failure").Inc()
		} else {
			metrics.RetryAttemptsTotal.WithLabelValues("download", "success").Inc()
		}
		return struct{}{}, attemptErr
	}, func(err error) bool {
		if dlCtx.Err() != nil {
			return false
		}
		return Kind(err).Retryable()
	})

	if err != nil {
		if lastAttemptErr != nil {
			err = lastAttemptErr
		}
		kind := m.finalKind(dlCtx, st, retryKind, err)
		st.update(func(info *domain.DownloadInfo) {
			if kind == domain.DownloadErrCancellationRequested {
				info.Status = domain.DownloadStatusCancelled
			} else {
				info.Status = domain.DownloadStatusFailed
			}
		})
		metrics.DownloadsTotal.WithLabelValues(st.snapshot().Status.String()).Inc()
		if kind == domain.DownloadErrCancellationRequested {
			m.observer.DownloadCancelled(id)
			m.cleanupTemp(st)
		} else {
			m.observer.DownloadFailed(id, kind)
		}
		return "", kind, err
	}

	st.update(func(info *domain.DownloadInfo) { info.Status = domain.DownloadStatusCompleted })
	metrics.DownloadsTotal.WithLabelValues("completed").Inc()
	m.observer.DownloadCompleted(id)
	return localPath, domain.DownloadErrNone, nil
}

// finalKind maps the retry outcome back onto a download kind: the last
// attempt error wins unless the caller cancelled or the retry budget ran
// out first.
func (m *Manager) finalKind(ctx context.Context, st *downloadState, retryKind domain.RetryErrorKind, err error) domain.DownloadErrorKind {
	if ctx.Err() != nil || st.snapshot().Status == domain.DownloadStatusCancelled {
		return domain.DownloadErrCancellationRequested
	}
	switch retryKind {
	case domain.RetryErrUserCancelled:
		return domain.DownloadErrCancellationRequested
	case domain.RetryErrTimeoutExceeded:
		return domain.DownloadErrTimeoutError
	}
	if kind := Kind(err); kind != domain.DownloadErrNone {
		return kind
	}
	return domain.DownloadErrUnknownError
}

// runAttempt performs one full probe+GET+verify+rename cycle.
func (m *Manager) runAttempt(ctx context.Context, st *downloadState, resume bool) error {
	info := st.snapshot()

	attemptCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	totalSize, supportsResume, err := m.probe(attemptCtx, info.URL)
	if err != nil {
		return err
	}
	st.update(func(info *domain.DownloadInfo) {
		info.TotalSize = totalSize
		info.SupportsResume = supportsResume
	})

	if totalSize > 0 {
		free, err := resource.DiskFreeBytes(filepath.Dir(info.LocalPath))
		if err != nil {
			m.logger.Warn("disk space check unavailable", slog.String("error", err.Error()))
		} else if free < totalSize {
			return newError(domain.DownloadErrInsufficientDiskSpace,
				fmt.Errorf("need %d bytes, %d free", totalSize, free))
		}
	}

	var resumeFrom int64
	if resume && supportsResume {
		if fi, err := os.Stat(info.TempPath); err == nil && fi.Size() > 0 && (totalSize == 0 || fi.Size() < totalSize) {
			resumeFrom = fi.Size()
		}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, info.URL, nil)
	if err != nil {
		return newError(domain.DownloadErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return classifyTransportError(attemptCtx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range request; restart from scratch.
		resumeFrom = 0
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode >= 500:
		return newError(domain.DownloadErrServerError, fmt.Errorf("server status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return newError(domain.DownloadErrNetworkError, fmt.Errorf("client status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		// A 3xx surviving the redirect-following client means no usable target.
		return newError(domain.DownloadErrNetworkError, fmt.Errorf("unresolved redirect status %d", resp.StatusCode))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	tmp, err := os.OpenFile(info.TempPath, flags, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return newError(domain.DownloadErrPermissionDenied, err)
		}
		return newError(domain.DownloadErrFileSystemError, err)
	}

	st.update(func(info *domain.DownloadInfo) {
		info.Status = domain.DownloadStatusDownloading
		info.ResumePosition = resumeFrom
		info.DownloadedSize = resumeFrom
	})
	if resumeFrom > 0 {
		m.observer.DownloadResumed(info.ID, resumeFrom)
	} else {
		m.observer.DownloadStarted(info.ID)
	}

	err = m.stream(attemptCtx, st, resp.Body, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return newError(domain.DownloadErrFileSystemError, closeErr)
	}

	if err := m.verifyChecksum(st); err != nil {
		return err
	}
	return m.moveIntoPlace(st)
}

// stream copies the response body into the temp file, publishing progress
// and applying the optional per-slot rate limit.
func (m *Manager) stream(ctx context.Context, st *downloadState, body io.Reader, dst io.Writer) error {
	var limiter *rate.Limiter
	if m.opts.BytesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.opts.BytesPerSecond), int(m.opts.BytesPerSecond))
	}

	buf := make([]byte, 32*1024)
	lastReport := time.Now()
	var windowBytes int64

	for {
		select {
		case <-ctx.Done():
			return newError(domain.DownloadErrCancellationRequested, ctx.Err())
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, n); err != nil {
					return newError(domain.DownloadErrCancellationRequested, err)
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return newError(domain.DownloadErrFileSystemError, err)
			}
			windowBytes += int64(n)
			metrics.DownloadBytesTotal.Add(float64(n))
			st.update(func(info *domain.DownloadInfo) {
				info.DownloadedSize += int64(n)
			})

			if elapsed := time.Since(lastReport); elapsed >= 200*time.Millisecond {
				speed := float64(windowBytes) / elapsed.Seconds()
				st.update(func(info *domain.DownloadInfo) { info.SpeedBps = speed })
				metrics.DownloadSpeedBytes.Set(speed)
				info := st.snapshot()
				m.observer.DownloadProgress(info.ID, info.DownloadedSize, info.TotalSize, speed)
				lastReport = time.Now()
				windowBytes = 0
			}
		}
		if readErr == io.EOF {
			info := st.snapshot()
			m.observer.DownloadProgress(info.ID, info.DownloadedSize, info.TotalSize, info.SpeedBps)
			return nil
		}
		if readErr != nil {
			return classifyTransportError(ctx, readErr)
		}
	}
}

func (m *Manager) verifyChecksum(st *downloadState) error {
	info := st.snapshot()
	if info.ExpectedChecksum == "" {
		return nil
	}
	f, err := os.Open(info.TempPath)
	if err != nil {
		return newError(domain.DownloadErrFileSystemError, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return newError(domain.DownloadErrFileSystemError, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, info.ExpectedChecksum) {
		return newError(domain.DownloadErrChecksumMismatch,
			fmt.Errorf("expected %s, got %s", info.ExpectedChecksum, got))
	}
	return nil
}

// moveIntoPlace renames temp to final, falling back to copy+unlink when the
// rename crosses filesystems.
func (m *Manager) moveIntoPlace(st *downloadState) error {
	info := st.snapshot()
	if err := os.Rename(info.TempPath, info.LocalPath); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		if os.IsPermission(err) {
			return newError(domain.DownloadErrPermissionDenied, err)
		}
		return newError(domain.DownloadErrFileSystemError, err)
	}

	src, err := os.Open(info.TempPath)
	if err != nil {
		return newError(domain.DownloadErrFileSystemError, err)
	}
	defer src.Close()
	dst, err := os.Create(info.LocalPath)
	if err != nil {
		return newError(domain.DownloadErrFileSystemError, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(info.LocalPath)
		return newError(domain.DownloadErrFileSystemError, err)
	}
	if err := dst.Close(); err != nil {
		return newError(domain.DownloadErrFileSystemError, err)
	}
	os.Remove(info.TempPath)
	return nil
}

func (m *Manager) cleanupTemp(st *downloadState) {
	info := st.snapshot()
	if info.SupportsResume {
		// Keep the partial file so a later request can resume it.
		return
	}
	if info.TempPath != "" {
		os.Remove(info.TempPath)
	}
}

// probe issues a HEAD request for Content-Length and Accept-Ranges. Servers
// that reject HEAD are tolerated; the GET still proceeds.
func (m *Manager) probe(ctx context.Context, rawURL string) (totalSize int64, supportsResume bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false, newError(domain.DownloadErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, false, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return 0, false, newError(domain.DownloadErrServerError, fmt.Errorf("server status %d on probe", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		// HEAD not allowed is common; let the GET decide.
		return 0, false, nil
	}
	supportsResume = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	return resp.ContentLength, supportsResume, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return newError(domain.DownloadErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newError(domain.DownloadErrInvalidURL, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return newError(domain.DownloadErrInvalidURL, errors.New("missing host"))
	}
	return nil
}

func ensureTargetDir(localPath string) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if os.IsPermission(err) {
			return newError(domain.DownloadErrPermissionDenied, err)
		}
		return newError(domain.DownloadErrFileSystemError, err)
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return newError(domain.DownloadErrTimeoutError, err)
	case ctx.Err() != nil:
		return newError(domain.DownloadErrCancellationRequested, err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(domain.DownloadErrTimeoutError, err)
	case errors.Is(err, context.Canceled):
		return newError(domain.DownloadErrCancellationRequested, err)
	default:
		return newError(domain.DownloadErrNetworkError, err)
	}
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return strings.Contains(linkErr.Err.Error(), "cross-device")
}
