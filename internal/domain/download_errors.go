package domain

// DownloadErrorKind enumerates Download Manager failures.
type DownloadErrorKind int

const (
	DownloadErrNone DownloadErrorKind = iota
	DownloadErrNetworkError
	DownloadErrTimeoutError
	DownloadErrChecksumMismatch
	DownloadErrInsufficientDiskSpace
	DownloadErrPermissionDenied
	DownloadErrInvalidURL
	DownloadErrFileSystemError
	DownloadErrCancellationRequested
	DownloadErrServerError
	DownloadErrUnknownError
)

func (k DownloadErrorKind) String() string {
	switch k {
	case DownloadErrNetworkError:
		return "network_error"
	case DownloadErrTimeoutError:
		return "timeout_error"
	case DownloadErrChecksumMismatch:
		return "checksum_mismatch"
	case DownloadErrInsufficientDiskSpace:
		return "insufficient_disk_space"
	case DownloadErrPermissionDenied:
		return "permission_denied"
	case DownloadErrInvalidURL:
		return "invalid_url"
	case DownloadErrFileSystemError:
		return "file_system_error"
	case DownloadErrCancellationRequested:
		return "cancellation_requested"
	case DownloadErrServerError:
		return "server_error"
	case DownloadErrUnknownError:
		return "unknown_error"
	default:
		return "none"
	}
}

// Retryable reports whether the transport layer should retry this class of
// failure (transient errors are retryable, integrity/resource/input
// errors are not).
func (k DownloadErrorKind) Retryable() bool {
	switch k {
	case DownloadErrNetworkError, DownloadErrTimeoutError, DownloadErrServerError, DownloadErrUnknownError:
		return true
	default:
		return false
	}
}
