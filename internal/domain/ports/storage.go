package ports

import (
	"context"

	"github.com/vodscribe/corekit/internal/domain"
)

// Storage is the Storage Layer contract: ACID transactions over the
// four relational tables, migration, and maintenance.
type Storage interface {
	AddTorrent(ctx context.Context, rec domain.TorrentRecord) error
	UpdateTorrent(ctx context.Context, rec domain.TorrentRecord) error
	GetTorrent(ctx context.Context, infoHash string) (domain.TorrentRecord, error)
	RemoveTorrent(ctx context.Context, infoHash string) error
	ListTorrents(ctx context.Context) ([]domain.TorrentRecord, error)
	ListActiveTorrents(ctx context.Context) ([]domain.TorrentRecord, error)

	AddMedia(ctx context.Context, rec domain.MediaRecord) error
	UpdateMedia(ctx context.Context, rec domain.MediaRecord) error
	GetMedia(ctx context.Context, id string) (domain.MediaRecord, error)
	RemoveMedia(ctx context.Context, id string) error
	ListMedia(ctx context.Context) ([]domain.MediaRecord, error)
	SearchMedia(ctx context.Context, query string) ([]domain.MediaRecord, error)

	AddTranscription(ctx context.Context, rec domain.TranscriptionRecord) error
	GetTranscription(ctx context.Context, id string) (domain.TranscriptionRecord, error)
	RemoveTranscription(ctx context.Context, id string) error

	AddSession(ctx context.Context, rec domain.PlaybackSession) error
	UpdateSession(ctx context.Context, rec domain.PlaybackSession) error
	GetSession(ctx context.Context, id string) (domain.PlaybackSession, error)

	Stats(ctx context.Context) (StorageStats, error)

	Vacuum(ctx context.Context) error
	Reindex(ctx context.Context) error
	CleanupOrphans(ctx context.Context) (int64, error)
	Backup(ctx context.Context, destPath string) error
	Restore(ctx context.Context, srcPath string) error

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Close() error
}

// StorageStats reports the counts the statistics operation returns.
type StorageStats struct {
	TorrentCount       int64
	MediaCount         int64
	TranscriptionCount int64
	ByStatus           map[string]int64
	RecentHourAdds     int64
}
