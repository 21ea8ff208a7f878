package domain

import "time"

// ModelType ranks STT model sizes. Ordering matters: FindBestModel walks
// from the richest type down.
type ModelType int

const (
	ModelTypeTiny ModelType = iota
	ModelTypeBase
	ModelTypeSmall
	ModelTypeMedium
	ModelTypeLarge
	ModelTypeLargeV2
	ModelTypeLargeV3
	ModelTypeCustom
)

func (t ModelType) String() string {
	switch t {
	case ModelTypeTiny:
		return "tiny"
	case ModelTypeBase:
		return "base"
	case ModelTypeSmall:
		return "small"
	case ModelTypeMedium:
		return "medium"
	case ModelTypeLarge:
		return "large"
	case ModelTypeLargeV2:
		return "large-v2"
	case ModelTypeLargeV3:
		return "large-v3"
	default:
		return "custom"
	}
}

// ModelPreferenceOrder is the priority FindBestModel walks, richest first.
var ModelPreferenceOrder = []ModelType{
	ModelTypeLargeV3, ModelTypeLargeV2, ModelTypeLarge,
	ModelTypeMedium, ModelTypeSmall, ModelTypeBase, ModelTypeTiny,
}

// ModelStatus is the Model Manager's single-writer state for a catalogue
// entry.
type ModelStatus int

const (
	ModelStatusNotDownloaded ModelStatus = iota
	ModelStatusDownloading
	ModelStatusDownloaded
	ModelStatusLoading
	ModelStatusLoaded
	ModelStatusFailed
	ModelStatusCorrupted
)

func (s ModelStatus) String() string {
	switch s {
	case ModelStatusDownloading:
		return "downloading"
	case ModelStatusDownloaded:
		return "downloaded"
	case ModelStatusLoading:
		return "loading"
	case ModelStatusLoaded:
		return "loaded"
	case ModelStatusFailed:
		return "failed"
	case ModelStatusCorrupted:
		return "corrupted"
	default:
		return "not_downloaded"
	}
}

// modelStatusTransitions lists the statuses reachable from each status. It
// mirrors the single-writer lifecycle: a model can always be pushed to
// Failed or Corrupted from a live state, but Loaded is reachable only from
// Loading.
var modelStatusTransitions = map[ModelStatus][]ModelStatus{
	ModelStatusNotDownloaded: {ModelStatusDownloading},
	ModelStatusDownloading:   {ModelStatusDownloaded, ModelStatusFailed, ModelStatusNotDownloaded},
	ModelStatusDownloaded:    {ModelStatusLoading, ModelStatusCorrupted, ModelStatusNotDownloaded},
	ModelStatusLoading:       {ModelStatusLoaded, ModelStatusFailed, ModelStatusCorrupted},
	ModelStatusLoaded:        {ModelStatusDownloaded, ModelStatusFailed},
	ModelStatusFailed:        {ModelStatusDownloading, ModelStatusNotDownloaded},
	ModelStatusCorrupted:     {ModelStatusDownloading, ModelStatusNotDownloaded},
}

// CanTransition reports whether moving a catalogue entry from "from" to "to"
// is a legal single-writer transition.
func CanTransition(from, to ModelStatus) bool {
	for _, s := range modelStatusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ModelInfo is one catalogue entry persisted to models.json.
type ModelInfo struct {
	ID               string
	Name             string
	Type             ModelType
	Status           ModelStatus
	Language         string
	Version          string
	DownloadURL      string
	FilePath         string
	Checksum         string
	FileSize         int64
	DownloadProgress float64
	LastUsed         time.Time
	Multilingual     bool
	Metadata         map[string]string
}
