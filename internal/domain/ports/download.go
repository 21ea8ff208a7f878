package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// Downloader is the Download Manager contract.
type Downloader interface {
	DownloadFile(ctx context.Context, url, localPath, expectedChecksum string, resume bool) (string, domain.DownloadErrorKind, error)
	CancelDownload(id string) error
	ActiveDownloads() []domain.DownloadInfo
}

// DownloadObserver receives the download progress events.
type DownloadObserver interface {
	DownloadStarted(id string)
	DownloadProgress(id string, received, total int64, speedBps float64)
	DownloadCompleted(id string)
	DownloadFailed(id string, kind domain.DownloadErrorKind)
	DownloadCancelled(id string)
	DownloadResumed(id string, fromByte int64)
}
