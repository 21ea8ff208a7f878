package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// ModelManager owns the model catalogue and lifecycle.
type ModelManager interface {
	Initialize(ctx context.Context, dir string) error

	AvailableModels() []domain.ModelInfo
	DownloadedModels() []domain.ModelInfo
	FindModel(t domain.ModelType, lang string) (domain.ModelInfo, bool)
	FindBestModel(lang string) (domain.ModelInfo, bool)

	DownloadModel(ctx context.Context, id string) (domain.ModelErrorKind, error)
	CancelDownload(id string) error
	LoadModel(ctx context.Context, id string) (domain.ModelErrorKind, error)
	UnloadModel(id string) error
	ValidateModel(id string) (domain.ModelErrorKind, error)
	DeleteModel(id string) error
	RefreshModelList(ctx context.Context) error
}
