// Package model owns the STT model catalogue and lifecycle: discovery,
// download with integrity verification, format validation, load/unload
// through the native recognizer, and unused-model eviction.
package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
)

// Error carries the typed model failure kind alongside the cause.
type Error struct {
	Kind domain.ModelErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind domain.ModelErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Kind extracts the ModelErrorKind from a manager error.
func Kind(err error) domain.ModelErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if err == nil {
		return domain.ModelErrNone
	}
	return domain.ModelErrInitializationFailed
}

// knownMagics are the file prefixes of valid native model formats. The
// legacy ggml/ggjt magics are uint32 values written little-endian, so the
// byte-reversed forms appear on disk; GGUF stores its magic as ASCII.
var knownMagics = [][]byte{
	[]byte("ggml"),
	[]byte("ggjt"),
	[]byte("gguf"),
	[]byte("GGUF"),
	[]byte("lmgg"),
	[]byte("tjgg"),
}

// Options configures a Manager.
type Options struct {
	MaxConcurrentDownloads int
	DownloadTimeout        time.Duration
	MaxRetryAttempts       int
	AutoCleanupEnabled     bool
	AutoCleanupInterval    time.Duration
	UnusedThreshold        time.Duration
}

// DefaultOptions returns the stock manager configuration: two download
// slots, hourly cleanup, 30 day unused threshold.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentDownloads: 2,
		DownloadTimeout:        30 * time.Minute,
		MaxRetryAttempts:       3,
		AutoCleanupEnabled:     true,
		AutoCleanupInterval:    time.Hour,
		UnusedThreshold:        30 * 24 * time.Hour,
	}
}

// Manager is the single writer for every catalogue entry's status.
type Manager struct {
	logger     *slog.Logger
	opts       Options
	downloader ports.Downloader
	recognizer ports.SpeechRecognizer

	mu        sync.Mutex
	dir       string
	models    map[string]*domain.ModelInfo
	loadedID  string
	cancels   map[string]context.CancelFunc
	dlSem     *semaphore.Weighted
	cleanupFn context.CancelFunc
}

// New builds a Manager around a downloader and the native recognizer.
func New(logger *slog.Logger, opts Options, downloader ports.Downloader, recognizer ports.SpeechRecognizer) *Manager {
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = DefaultOptions().MaxConcurrentDownloads
	}
	if opts.AutoCleanupInterval <= 0 {
		opts.AutoCleanupInterval = DefaultOptions().AutoCleanupInterval
	}
	if opts.UnusedThreshold <= 0 {
		opts.UnusedThreshold = DefaultOptions().UnusedThreshold
	}
	return &Manager{
		logger:     logger,
		opts:       opts,
		downloader: downloader,
		recognizer: recognizer,
		models:     make(map[string]*domain.ModelInfo),
		cancels:    make(map[string]context.CancelFunc),
		dlSem:      semaphore.NewWeighted(int64(opts.MaxConcurrentDownloads)),
	}
}

// Initialize loads the catalogue from dir, merges in the default entries
// and any discovered model files, and starts the cleanup loop.
func (m *Manager) Initialize(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(domain.ModelErrPermissionDenied, err)
	}

	m.mu.Lock()
	m.dir = dir
	for _, info := range defaultCatalogue() {
		cp := info
		cp.FilePath = filepath.Join(dir, modelFileName(info.ID))
		m.models[info.ID] = &cp
	}
	m.mu.Unlock()

	persisted, err := loadCatalogue(dir)
	if err != nil {
		m.logger.Warn("catalogue load failed, starting from defaults", slog.String("error", err.Error()))
	}
	m.mu.Lock()
	for _, info := range persisted {
		cp := info
		m.models[info.ID] = &cp
	}
	m.mu.Unlock()

	if err := m.RefreshModelList(ctx); err != nil {
		return err
	}

	if m.opts.AutoCleanupEnabled {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.cleanupFn = cancel
		m.mu.Unlock()
		go m.cleanupLoop(cleanupCtx)
	}
	return nil
}

// Close stops the cleanup loop and persists the catalogue.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.cleanupFn != nil {
		m.cleanupFn()
		m.cleanupFn = nil
	}
	m.mu.Unlock()
	return m.persist()
}

func (m *Manager) persist() error {
	m.mu.Lock()
	dir := m.dir
	models := make([]domain.ModelInfo, 0, len(m.models))
	for _, info := range m.models {
		models = append(models, *info)
	}
	m.mu.Unlock()
	if dir == "" {
		return nil
	}
	return saveCatalogue(dir, models)
}

// RefreshModelList re-scans the models directory, folding discovered files
// into the catalogue and marking vanished files NotDownloaded.
func (m *Manager) RefreshModelList(ctx context.Context) error {
	m.mu.Lock()
	dir := m.dir
	m.mu.Unlock()
	if dir == "" {
		return newError(domain.ModelErrInitializationFailed, errors.New("not initialized"))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return newError(domain.ModelErrDiskError, err)
	}

	onDisk := make(map[string]int64)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := idFromFileName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		onDisk[id] = fi.Size()
	}

	m.mu.Lock()
	for id, size := range onDisk {
		info, known := m.models[id]
		if !known {
			// User-imported file outside the default catalogue.
			info = &domain.ModelInfo{
				ID:       id,
				Name:     "ggml-" + id,
				Type:     typeFromID(id),
				Language: "",
			}
			m.models[id] = info
		}
		info.FilePath = filepath.Join(m.dir, modelFileName(id))
		info.FileSize = size
		if info.Status == domain.ModelStatusNotDownloaded || info.Status == domain.ModelStatusFailed {
			info.Status = domain.ModelStatusDownloaded
		}
	}
	for id, info := range m.models {
		if _, exists := onDisk[id]; exists {
			continue
		}
		if info.Status == domain.ModelStatusDownloaded || info.Status == domain.ModelStatusCorrupted {
			info.Status = domain.ModelStatusNotDownloaded
			info.FileSize = 0
		}
	}
	m.mu.Unlock()

	return m.persist()
}

// AvailableModels snapshots the whole catalogue.
func (m *Manager) AvailableModels() []domain.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ModelInfo, 0, len(m.models))
	for _, info := range m.models {
		out = append(out, *info)
	}
	return out
}

// DownloadedModels lists models with a file on disk.
func (m *Manager) DownloadedModels() []domain.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ModelInfo
	for _, info := range m.models {
		switch info.Status {
		case domain.ModelStatusDownloaded, domain.ModelStatusLoading, domain.ModelStatusLoaded:
			out = append(out, *info)
		}
	}
	return out
}

// FindModel returns the first catalogue entry matching type and (optional)
// language, preferring downloaded entries.
func (m *Manager) FindModel(t domain.ModelType, lang string) (domain.ModelInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fallback *domain.ModelInfo
	for _, info := range m.models {
		if info.Type != t {
			continue
		}
		if lang != "" && info.Language != "" && info.Language != lang {
			continue
		}
		if info.Status == domain.ModelStatusDownloaded || info.Status == domain.ModelStatusLoaded {
			return *info, true
		}
		if fallback == nil {
			fallback = info
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.ModelInfo{}, false
}

// FindBestModel walks the preference order from richest to smallest.
func (m *Manager) FindBestModel(lang string) (domain.ModelInfo, bool) {
	for _, t := range domain.ModelPreferenceOrder {
		if info, ok := m.FindModel(t, lang); ok {
			return info, true
		}
	}
	return domain.ModelInfo{}, false
}

func (m *Manager) get(id string) (*domain.ModelInfo, error) {
	info, ok := m.models[id]
	if !ok {
		return nil, newError(domain.ModelErrModelNotFound, fmt.Errorf("model %q not in catalogue", id))
	}
	return info, nil
}

// DownloadModel fetches the model file through the download manager,
// queueing FIFO behind the slot limit. Entries without a published checksum
// download anyway with a logged integrity warning.
func (m *Manager) DownloadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	m.mu.Lock()
	info, err := m.get(id)
	if err != nil {
		m.mu.Unlock()
		return Kind(err), err
	}
	if info.Status == domain.ModelStatusDownloading {
		m.mu.Unlock()
		return domain.ModelErrNone, nil
	}
	if info.DownloadURL == "" {
		m.mu.Unlock()
		err := newError(domain.ModelErrModelNotAvailable, fmt.Errorf("model %q has no download source", id))
		return Kind(err), err
	}
	url := info.DownloadURL
	dest := info.FilePath
	if dest == "" {
		dest = filepath.Join(m.dir, modelFileName(id))
		info.FilePath = dest
	}
	checksum := info.Checksum
	info.Status = domain.ModelStatusDownloading
	info.DownloadProgress = 0

	dlCtx, cancel := context.WithCancel(ctx)
	m.cancels[id] = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
	}()

	if checksum == "" {
		m.logger.Warn("model has no published checksum, downloading without integrity verification",
			slog.String("model", id))
	}

	if err := m.dlSem.Acquire(dlCtx, 1); err != nil {
		m.setStatus(id, domain.ModelStatusNotDownloaded)
		e := newError(domain.ModelErrDownloadFailed, err)
		return Kind(e), e
	}
	defer m.dlSem.Release(1)

	timeoutCtx := dlCtx
	if m.opts.DownloadTimeout > 0 {
		var tcancel context.CancelFunc
		timeoutCtx, tcancel = context.WithTimeout(dlCtx, m.opts.DownloadTimeout)
		defer tcancel()
	}

	_, dlKind, err := m.downloader.DownloadFile(timeoutCtx, url, dest, checksum, true)
	if err != nil {
		metrics.ModelDownloadsTotal.WithLabelValues("failure").Inc()
		var status domain.ModelStatus
		var kind domain.ModelErrorKind
		switch dlKind {
		case domain.DownloadErrChecksumMismatch:
			status, kind = domain.ModelStatusCorrupted, domain.ModelErrCorruptedModel
		case domain.DownloadErrInsufficientDiskSpace:
			status, kind = domain.ModelStatusFailed, domain.ModelErrDiskError
		case domain.DownloadErrPermissionDenied:
			status, kind = domain.ModelStatusFailed, domain.ModelErrPermissionDenied
		case domain.DownloadErrCancellationRequested:
			status, kind = domain.ModelStatusNotDownloaded, domain.ModelErrDownloadFailed
		default:
			status, kind = domain.ModelStatusFailed, domain.ModelErrNetworkError
		}
		m.setStatus(id, status)
		e := newError(kind, err)
		return kind, e
	}

	fi, statErr := os.Stat(dest)
	m.mu.Lock()
	if info, ok := m.models[id]; ok {
		info.Status = domain.ModelStatusDownloaded
		info.DownloadProgress = 100
		if statErr == nil {
			info.FileSize = fi.Size()
		}
	}
	m.mu.Unlock()
	metrics.ModelDownloadsTotal.WithLabelValues("success").Inc()

	if err := m.persist(); err != nil {
		m.logger.Warn("catalogue persist failed", slog.String("error", err.Error()))
	}
	return domain.ModelErrNone, nil
}

// CancelDownload aborts an in-flight model download.
func (m *Manager) CancelDownload(id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if !ok {
		return newError(domain.ModelErrModelNotFound, fmt.Errorf("no download in flight for %q", id))
	}
	cancel()
	return nil
}

func (m *Manager) setStatus(id string, status domain.ModelStatus) {
	m.mu.Lock()
	if info, ok := m.models[id]; ok {
		info.Status = status
	}
	m.mu.Unlock()
}

// ValidateModel checks the on-disk file: presence, the 1 MiB minimum, and
// the known magic prefixes. An unknown magic only logs (some variants lack
// a header); an empty or truncated file marks the entry Corrupted.
func (m *Manager) ValidateModel(id string) (domain.ModelErrorKind, error) {
	m.mu.Lock()
	info, err := m.get(id)
	if err != nil {
		m.mu.Unlock()
		return Kind(err), err
	}
	path := info.FilePath
	m.mu.Unlock()

	fi, err := os.Stat(path)
	if err != nil {
		e := newError(domain.ModelErrModelNotAvailable, err)
		return Kind(e), e
	}
	if fi.Size() < 1<<20 {
		m.setStatus(id, domain.ModelStatusCorrupted)
		e := newError(domain.ModelErrCorruptedModel,
			fmt.Errorf("model file is %d bytes, below the 1 MiB minimum", fi.Size()))
		return Kind(e), e
	}

	f, err := os.Open(path)
	if err != nil {
		e := newError(domain.ModelErrDiskError, err)
		return Kind(e), e
	}
	defer f.Close()
	header := make([]byte, 16)
	n, _ := f.Read(header)
	header = header[:n]

	matched := false
	for _, magic := range knownMagics {
		if bytes.HasPrefix(header, magic) {
			matched = true
			break
		}
	}
	if !matched {
		m.logger.Warn("model file has no recognized magic prefix, proceeding",
			slog.String("model", id))
	}
	return domain.ModelErrNone, nil
}

// LoadModel ensures the file is present (downloading if needed), validates
// it, and loads it into the recognizer. Any previously loaded model is
// unloaded first; at most one model is loaded at a time.
func (m *Manager) LoadModel(ctx context.Context, id string) (domain.ModelErrorKind, error) {
	m.mu.Lock()
	info, err := m.get(id)
	if err != nil {
		m.mu.Unlock()
		return Kind(err), err
	}
	status := info.Status
	previous := m.loadedID
	m.mu.Unlock()

	if previous == id && status == domain.ModelStatusLoaded {
		return domain.ModelErrNone, nil
	}

	if status == domain.ModelStatusNotDownloaded || status == domain.ModelStatusFailed {
		if kind, err := m.DownloadModel(ctx, id); err != nil {
			return kind, err
		}
	}
	if kind, err := m.ValidateModel(id); err != nil {
		return kind, err
	}

	if previous != "" {
		if err := m.UnloadModel(previous); err != nil {
			m.logger.Warn("unload of previous model failed",
				slog.String("model", previous), slog.String("error", err.Error()))
		}
	}

	m.setStatus(id, domain.ModelStatusLoading)
	m.mu.Lock()
	path := m.models[id].FilePath
	m.mu.Unlock()

	if err := m.recognizer.LoadModel(ctx, path); err != nil {
		m.setStatus(id, domain.ModelStatusFailed)
		e := newError(domain.ModelErrLoadingFailed, err)
		return Kind(e), e
	}

	m.mu.Lock()
	m.loadedID = id
	if info, ok := m.models[id]; ok {
		info.Status = domain.ModelStatusLoaded
		info.LastUsed = time.Now()
	}
	m.mu.Unlock()
	metrics.ModelsLoaded.Set(1)

	if err := m.persist(); err != nil {
		m.logger.Warn("catalogue persist failed", slog.String("error", err.Error()))
	}
	return domain.ModelErrNone, nil
}

// UnloadModel releases the recognizer's model if id is the loaded one.
func (m *Manager) UnloadModel(id string) error {
	m.mu.Lock()
	if m.loadedID != id {
		m.mu.Unlock()
		return nil
	}
	m.loadedID = ""
	if info, ok := m.models[id]; ok && info.Status == domain.ModelStatusLoaded {
		info.Status = domain.ModelStatusDownloaded
	}
	m.mu.Unlock()

	metrics.ModelsLoaded.Set(0)
	return m.recognizer.UnloadModel()
}

// DeleteModel removes the model file and resets the entry. The loaded model
// cannot be deleted.
func (m *Manager) DeleteModel(id string) error {
	m.mu.Lock()
	info, err := m.get(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.loadedID == id {
		m.mu.Unlock()
		return newError(domain.ModelErrInvalidConfiguration,
			fmt.Errorf("model %q is loaded; unload before deleting", id))
	}
	path := info.FilePath
	info.Status = domain.ModelStatusNotDownloaded
	info.FileSize = 0
	info.DownloadProgress = 0
	m.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return newError(domain.ModelErrDiskError, err)
		}
	}
	return m.persist()
}

// LoadedModelID reports which catalogue entry is currently loaded.
func (m *Manager) LoadedModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedID
}

// MarkUsed refreshes a model's LastUsed stamp; the transcription engine
// calls it per task so eviction sees real usage.
func (m *Manager) MarkUsed(id string) {
	m.mu.Lock()
	if info, ok := m.models[id]; ok {
		info.LastUsed = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.AutoCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCleanup()
		}
	}
}

// runCleanup evicts Failed/Corrupted entries and Downloaded models unused
// past the threshold, keeping at least one model and never touching the
// loaded one.
func (m *Manager) runCleanup() {
	m.mu.Lock()
	var candidates []string
	remaining := 0
	for id, info := range m.models {
		switch info.Status {
		case domain.ModelStatusFailed, domain.ModelStatusCorrupted:
			candidates = append(candidates, id)
		case domain.ModelStatusDownloaded:
			remaining++
			if !info.LastUsed.IsZero() && time.Since(info.LastUsed) > m.opts.UnusedThreshold && id != m.loadedID {
				candidates = append(candidates, id)
			}
		case domain.ModelStatusLoaded:
			remaining++
		}
	}
	m.mu.Unlock()

	for _, id := range candidates {
		m.mu.Lock()
		info := m.models[id]
		downloaded := info != nil &&
			(info.Status == domain.ModelStatusDownloaded || info.Status == domain.ModelStatusLoaded)
		m.mu.Unlock()
		if downloaded && remaining <= 1 {
			continue
		}
		if err := m.DeleteModel(id); err != nil {
			m.logger.Warn("model eviction failed",
				slog.String("model", id), slog.String("error", err.Error()))
			continue
		}
		if downloaded {
			remaining--
		}
		m.logger.Info("model evicted", slog.String("model", id))
	}
}
