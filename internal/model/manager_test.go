package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/domain/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDownloader writes a synthetic model file instead of hitting the
// network.
type fakeDownloader struct {
	payload []byte
	failAs  domain.DownloadErrorKind
	calls   int
}

func (d *fakeDownloader) DownloadFile(ctx context.Context, url, localPath, expectedChecksum string, resume bool) (string, domain.DownloadErrorKind, error) {
	d.calls++
	if d.failAs != domain.DownloadErrNone {
		return "", d.failAs, errors.New(d.failAs.String())
	}
	if err := os.WriteFile(localPath, d.payload, 0o644); err != nil {
		return "", domain.DownloadErrFileSystemError, err
	}
	return localPath, domain.DownloadErrNone, nil
}

func (d *fakeDownloader) CancelDownload(id string) error         { return nil }
func (d *fakeDownloader) ActiveDownloads() []domain.DownloadInfo { return nil }

// fakeRecognizer records load/unload calls.
type fakeRecognizer struct {
	loadedPath string
	loadErr    error
	unloads    int
}

func (r *fakeRecognizer) Initialize(ctx context.Context) error { return nil }
func (r *fakeRecognizer) LoadModel(ctx context.Context, path string) error {
	if r.loadErr != nil {
		return r.loadErr
	}
	r.loadedPath = path
	return nil
}
func (r *fakeRecognizer) UnloadModel() error  { r.unloads++; r.loadedPath = ""; return nil }
func (r *fakeRecognizer) IsModelLoaded() bool { return r.loadedPath != "" }
func (r *fakeRecognizer) Transcribe(ctx context.Context, samples []float32, cfg ports.WhisperConfig, progress func(int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	return ports.WhisperResult{}, domain.WhisperErrNone, nil
}
func (r *fakeRecognizer) TranscribeFile(ctx context.Context, path string, cfg ports.WhisperConfig, progress func(int)) (ports.WhisperResult, domain.WhisperErrorKind, error) {
	return ports.WhisperResult{}, domain.WhisperErrNone, nil
}
func (r *fakeRecognizer) DetectLanguage(ctx context.Context, samples []float32) (string, error) {
	return "en", nil
}
func (r *fakeRecognizer) RequestCancel()               {}
func (r *fakeRecognizer) SupportedLanguages() []string { return []string{"en"} }
func (r *fakeRecognizer) ModelInfo() domain.ModelInfo  { return domain.ModelInfo{} }
func (r *fakeRecognizer) MemoryUsageBytes() int64      { return 0 }

func modelPayload(size int) []byte {
	data := make([]byte, size)
	copy(data, "lmgg")
	return data
}

func newTestManager(t *testing.T, downloader ports.Downloader, recognizer ports.SpeechRecognizer) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := New(testLogger(), Options{AutoCleanupEnabled: false}, downloader, recognizer)
	if err := m.Initialize(context.Background(), dir); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, dir
}

func TestInitializeSeedsDefaultCatalogue(t *testing.T) {
	m, dir := newTestManager(t, &fakeDownloader{}, &fakeRecognizer{})

	models := m.AvailableModels()
	if len(models) == 0 {
		t.Fatal("catalogue is empty after initialize")
	}
	byID := make(map[string]domain.ModelInfo)
	for _, info := range models {
		byID[info.ID] = info
	}
	large, ok := byID["large-v3"]
	if !ok {
		t.Fatal("large-v3 missing from default catalogue")
	}
	if large.Status != domain.ModelStatusNotDownloaded {
		t.Fatalf("status = %v, want not_downloaded", large.Status)
	}
	if large.DownloadURL == "" || large.FilePath == "" {
		t.Fatalf("entry not fully populated: %+v", large)
	}

	if _, err := os.Stat(filepath.Join(dir, catalogueFile)); err != nil {
		t.Fatalf("models.json not persisted: %v", err)
	}
}

func TestRefreshDiscoversUserImportedFiles(t *testing.T) {
	m, dir := newTestManager(t, &fakeDownloader{}, &fakeRecognizer{})

	imported := filepath.Join(dir, "ggml-myfinetune.bin")
	if err := os.WriteFile(imported, modelPayload(2<<20), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.RefreshModelList(context.Background()); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, info := range m.DownloadedModels() {
		if info.ID == "myfinetune" {
			found = true
			if info.Type != domain.ModelTypeCustom {
				t.Fatalf("type = %v, want custom", info.Type)
			}
		}
	}
	if !found {
		t.Fatal("imported file not discovered")
	}
}

func TestDownloadModel(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	m, _ := newTestManager(t, dl, &fakeRecognizer{})

	kind, err := m.DownloadModel(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if kind != domain.ModelErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if dl.calls != 1 {
		t.Fatalf("downloader calls = %d, want 1", dl.calls)
	}

	for _, info := range m.DownloadedModels() {
		if info.ID == "tiny" {
			if info.Status != domain.ModelStatusDownloaded {
				t.Fatalf("status = %v, want downloaded", info.Status)
			}
			return
		}
	}
	t.Fatal("tiny not in downloaded list")
}

func TestDownloadModelChecksumMismatchMarksCorrupted(t *testing.T) {
	dl := &fakeDownloader{failAs: domain.DownloadErrChecksumMismatch}
	m, _ := newTestManager(t, dl, &fakeRecognizer{})

	kind, err := m.DownloadModel(context.Background(), "tiny")
	if err == nil || kind != domain.ModelErrCorruptedModel {
		t.Fatalf("kind = %v, want corrupted_model", kind)
	}
	for _, info := range m.AvailableModels() {
		if info.ID == "tiny" && info.Status != domain.ModelStatusCorrupted {
			t.Fatalf("status = %v, want corrupted", info.Status)
		}
	}
}

func TestDownloadUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, &fakeDownloader{}, &fakeRecognizer{})
	kind, err := m.DownloadModel(context.Background(), "nope")
	if err == nil || kind != domain.ModelErrModelNotFound {
		t.Fatalf("kind = %v, want model_not_found", kind)
	}
}

func TestLoadModelDownloadsValidatesAndLoads(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	rec := &fakeRecognizer{}
	m, dir := newTestManager(t, dl, rec)

	kind, err := m.LoadModel(context.Background(), "base")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if kind != domain.ModelErrNone {
		t.Fatalf("kind = %v, want none", kind)
	}
	if rec.loadedPath != filepath.Join(dir, "ggml-base.bin") {
		t.Fatalf("recognizer loaded %q", rec.loadedPath)
	}
	if m.LoadedModelID() != "base" {
		t.Fatalf("loaded id = %q, want base", m.LoadedModelID())
	}
}

func TestLoadModelUnloadsPrevious(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	rec := &fakeRecognizer{}
	m, _ := newTestManager(t, dl, rec)

	if _, err := m.LoadModel(context.Background(), "tiny"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadModel(context.Background(), "base"); err != nil {
		t.Fatal(err)
	}
	if rec.unloads != 1 {
		t.Fatalf("unloads = %d, want previous model unloaded once", rec.unloads)
	}
	if m.LoadedModelID() != "base" {
		t.Fatalf("loaded id = %q, want base", m.LoadedModelID())
	}

	// Only one Loaded status at a time.
	loadedCount := 0
	for _, info := range m.AvailableModels() {
		if info.Status == domain.ModelStatusLoaded {
			loadedCount++
		}
	}
	if loadedCount != 1 {
		t.Fatalf("loaded entries = %d, want 1", loadedCount)
	}
}

func TestValidateModelTooSmall(t *testing.T) {
	m, dir := newTestManager(t, &fakeDownloader{}, &fakeRecognizer{})
	if err := os.WriteFile(filepath.Join(dir, "ggml-tiny.bin"), modelPayload(100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.RefreshModelList(context.Background()); err != nil {
		t.Fatal(err)
	}
	kind, err := m.ValidateModel("tiny")
	if err == nil || kind != domain.ModelErrCorruptedModel {
		t.Fatalf("kind = %v, want corrupted_model", kind)
	}
}

func TestValidateModelUnknownMagicProceeds(t *testing.T) {
	m, dir := newTestManager(t, &fakeDownloader{}, &fakeRecognizer{})
	data := make([]byte, 2<<20)
	copy(data, "WXYZ")
	if err := os.WriteFile(filepath.Join(dir, "ggml-tiny.bin"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.RefreshModelList(context.Background()); err != nil {
		t.Fatal(err)
	}
	kind, err := m.ValidateModel("tiny")
	if err != nil || kind != domain.ModelErrNone {
		t.Fatalf("unknown magic should warn and proceed, got %v", err)
	}
}

func TestDeleteModel(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	m, dir := newTestManager(t, dl, &fakeRecognizer{})

	if _, err := m.DownloadModel(context.Background(), "tiny"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteModel("tiny"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ggml-tiny.bin")); !os.IsNotExist(err) {
		t.Fatal("model file still on disk")
	}

	// The loaded model refuses deletion.
	if _, err := m.LoadModel(context.Background(), "base"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteModel("base"); Kind(err) != domain.ModelErrInvalidConfiguration {
		t.Fatalf("kind = %v, want invalid_configuration", Kind(err))
	}
}

func TestFindBestModelPrefersRichest(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	m, _ := newTestManager(t, dl, &fakeRecognizer{})

	best, ok := m.FindBestModel("")
	if !ok {
		t.Fatal("no model found")
	}
	if best.Type != domain.ModelTypeLargeV3 {
		t.Fatalf("best type = %v, want large-v3 from the preference order", best.Type)
	}

	// With only tiny downloaded, FindModel prefers the on-disk entry.
	if _, err := m.DownloadModel(context.Background(), "tiny"); err != nil {
		t.Fatal(err)
	}
	tiny, ok := m.FindModel(domain.ModelTypeTiny, "")
	if !ok || tiny.Status != domain.ModelStatusDownloaded {
		t.Fatalf("FindModel(tiny) = %+v, want the downloaded entry", tiny)
	}
}

func TestCataloguePersistsAcrossInstances(t *testing.T) {
	dl := &fakeDownloader{payload: modelPayload(2 << 20)}
	dir := t.TempDir()

	first := New(testLogger(), Options{AutoCleanupEnabled: false}, dl, &fakeRecognizer{})
	if err := first.Initialize(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	if _, err := first.DownloadModel(context.Background(), "small"); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := New(testLogger(), Options{AutoCleanupEnabled: false}, dl, &fakeRecognizer{})
	if err := second.Initialize(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	for _, info := range second.DownloadedModels() {
		if info.ID == "small" {
			return
		}
	}
	t.Fatal("downloaded state lost across restart")
}
