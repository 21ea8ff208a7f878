package domain

import "time"

// DownloadStatus tracks a DownloadInfo through its lifecycle.
type DownloadStatus int

const (
	DownloadStatusPending DownloadStatus = iota
	DownloadStatusDownloading
	DownloadStatusPaused
	DownloadStatusCompleted
	DownloadStatusFailed
	DownloadStatusCancelled
)

func (s DownloadStatus) String() string {
	switch s {
	case DownloadStatusDownloading:
		return "downloading"
	case DownloadStatusPaused:
		return "paused"
	case DownloadStatusCompleted:
		return "completed"
	case DownloadStatusFailed:
		return "failed"
	case DownloadStatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// DownloadInfo is the mutable-by-single-writer record the Download Manager
// maintains for one in-flight or completed transfer.
type DownloadInfo struct {
	ID               string
	URL              string
	LocalPath        string
	TempPath         string
	ExpectedChecksum string
	TotalSize        int64
	DownloadedSize   int64
	Status           DownloadStatus
	SpeedBps         float64
	StartTime        time.Time
	SupportsResume   bool
	ResumePosition   int64
	RetryCount       int
	MaxRetries       int
}

// Percentage returns 100 × downloadedSize / totalSize, or 0 when the total
// size is not yet known.
func (d DownloadInfo) Percentage() float64 {
	if d.TotalSize <= 0 {
		return 0
	}
	return 100 * float64(d.DownloadedSize) / float64(d.TotalSize)
}
