package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/vodscribe/corekit/internal/domain"
)

// catalogueFile is the persisted catalogue name under the models directory.
const catalogueFile = "models.json"

// defaultDownloadHost is the published model repository of the native
// speech library.
const defaultDownloadHost = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// catalogueEntry is the JSON shape persisted per model.
type catalogueEntry struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Type         string            `json:"type"`
	Status       string            `json:"status"`
	Language     string            `json:"language,omitempty"`
	Version      string            `json:"version,omitempty"`
	DownloadURL  string            `json:"downloadUrl,omitempty"`
	FilePath     string            `json:"filePath,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
	FileSize     int64             `json:"fileSize,omitempty"`
	Multilingual bool              `json:"multilingual"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// defaultCatalogue lists the stock models. FindBestModel ranks them by
// domain.ModelPreferenceOrder, not by their order here. Checksums are filled in when the
// publisher provides them; entries without one download with a logged
// integrity warning.
func defaultCatalogue() []domain.ModelInfo {
	specs := []struct {
		id    string
		t     domain.ModelType
		multi bool
	}{
		{"tiny", domain.ModelTypeTiny, true},
		{"tiny.en", domain.ModelTypeTiny, false},
		{"base", domain.ModelTypeBase, true},
		{"base.en", domain.ModelTypeBase, false},
		{"small", domain.ModelTypeSmall, true},
		{"small.en", domain.ModelTypeSmall, false},
		{"medium", domain.ModelTypeMedium, true},
		{"medium.en", domain.ModelTypeMedium, false},
		{"large-v1", domain.ModelTypeLarge, true},
		{"large-v2", domain.ModelTypeLargeV2, true},
		{"large-v3", domain.ModelTypeLargeV3, true},
	}
	out := make([]domain.ModelInfo, 0, len(specs))
	for _, s := range specs {
		lang := ""
		if !s.multi {
			lang = "en"
		}
		out = append(out, domain.ModelInfo{
			ID:           s.id,
			Name:         "ggml-" + s.id,
			Type:         s.t,
			Status:       domain.ModelStatusNotDownloaded,
			Language:     lang,
			Version:      "1",
			DownloadURL:  fmt.Sprintf("%s/ggml-%s.bin", defaultDownloadHost, s.id),
			Multilingual: s.multi,
		})
	}
	return out
}

// modelFileName is the on-disk naming convention: ggml-<id>.bin.
func modelFileName(id string) string {
	return "ggml-" + id + ".bin"
}

// idFromFileName reverses modelFileName for discovered files; returns false
// for files outside the convention.
func idFromFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, "ggml-") || !strings.HasSuffix(name, ".bin") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, "ggml-"), ".bin")
	if id == "" {
		return "", false
	}
	return id, true
}

func parseModelType(s string) domain.ModelType {
	switch strings.ToLower(s) {
	case "tiny":
		return domain.ModelTypeTiny
	case "base":
		return domain.ModelTypeBase
	case "small":
		return domain.ModelTypeSmall
	case "medium":
		return domain.ModelTypeMedium
	case "large":
		return domain.ModelTypeLarge
	case "large-v2":
		return domain.ModelTypeLargeV2
	case "large-v3":
		return domain.ModelTypeLargeV3
	default:
		return domain.ModelTypeCustom
	}
}

func parseModelStatus(s string) domain.ModelStatus {
	switch strings.ToLower(s) {
	case "downloading":
		return domain.ModelStatusDownloading
	case "downloaded":
		return domain.ModelStatusDownloaded
	case "loading":
		return domain.ModelStatusLoading
	case "loaded":
		return domain.ModelStatusLoaded
	case "failed":
		return domain.ModelStatusFailed
	case "corrupted":
		return domain.ModelStatusCorrupted
	default:
		return domain.ModelStatusNotDownloaded
	}
}

// typeFromID infers the model type from catalogue-convention ids like
// "large-v3" or "small.en".
func typeFromID(id string) domain.ModelType {
	base, _, _ := strings.Cut(id, ".")
	return parseModelType(base)
}

// loadCatalogue reads models.json; a missing file returns an empty slice.
func loadCatalogue(dir string) ([]domain.ModelInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, catalogueFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model: catalogue read: %w", err)
	}
	var entries []catalogueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("model: catalogue decode: %w", err)
	}
	out := make([]domain.ModelInfo, 0, len(entries))
	for _, e := range entries {
		status := parseModelStatus(e.Status)
		// Loaded/Loading are runtime states; they never survive a restart.
		if status == domain.ModelStatusLoaded || status == domain.ModelStatusLoading {
			status = domain.ModelStatusDownloaded
		}
		out = append(out, domain.ModelInfo{
			ID:           e.ID,
			Name:         e.Name,
			Type:         parseModelType(e.Type),
			Status:       status,
			Language:     e.Language,
			Version:      e.Version,
			DownloadURL:  e.DownloadURL,
			FilePath:     e.FilePath,
			Checksum:     e.Checksum,
			FileSize:     e.FileSize,
			Multilingual: e.Multilingual,
			Metadata:     e.Metadata,
		})
	}
	return out, nil
}

// saveCatalogue writes models.json atomically.
func saveCatalogue(dir string, models []domain.ModelInfo) error {
	entries := make([]catalogueEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, catalogueEntry{
			ID:           m.ID,
			Name:         m.Name,
			Type:         m.Type.String(),
			Status:       m.Status.String(),
			Language:     m.Language,
			Version:      m.Version,
			DownloadURL:  m.DownloadURL,
			FilePath:     m.FilePath,
			Checksum:     m.Checksum,
			FileSize:     m.FileSize,
			Multilingual: m.Multilingual,
			Metadata:     m.Metadata,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("model: catalogue encode: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, catalogueFile), data, 0o644); err != nil {
		return fmt.Errorf("model: catalogue write: %w", err)
	}
	return nil
}
