package domain

// ModelErrorKind enumerates Model Manager failures.
type ModelErrorKind int

const (
	ModelErrNone ModelErrorKind = iota
	ModelErrInitializationFailed
	ModelErrModelNotFound
	ModelErrModelNotAvailable
	ModelErrDownloadFailed
	ModelErrLoadingFailed
	ModelErrValidationFailed
	ModelErrInvalidConfiguration
	ModelErrNetworkError
	ModelErrDiskError
	ModelErrMemoryError
	ModelErrCorruptedModel
	ModelErrUnsupportedModel
	ModelErrPermissionDenied
)

func (k ModelErrorKind) String() string {
	switch k {
	case ModelErrInitializationFailed:
		return "initialization_failed"
	case ModelErrModelNotFound:
		return "model_not_found"
	case ModelErrModelNotAvailable:
		return "model_not_available"
	case ModelErrDownloadFailed:
		return "download_failed"
	case ModelErrLoadingFailed:
		return "loading_failed"
	case ModelErrValidationFailed:
		return "validation_failed"
	case ModelErrInvalidConfiguration:
		return "invalid_configuration"
	case ModelErrNetworkError:
		return "network_error"
	case ModelErrDiskError:
		return "disk_error"
	case ModelErrMemoryError:
		return "memory_error"
	case ModelErrCorruptedModel:
		return "corrupted_model"
	case ModelErrUnsupportedModel:
		return "unsupported_model"
	case ModelErrPermissionDenied:
		return "permission_denied"
	default:
		return "none"
	}
}
