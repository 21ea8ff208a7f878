package ports

import "context"

// TorrentFile describes one file inside a torrent's payload once ingestion
// has located it on disk.
type TorrentFile struct {
	Path string
	Size int64
}

// TorrentIngestor is the thin adapter boundary over the BitTorrent library
// collaborator, out of scope for full session/streaming
// design: it only fetches a torrent's files to local disk so the Media
// Pipeline can consume them, it does not manage playback or piece priority.
type TorrentIngestor interface {
	AddMagnet(ctx context.Context, magnetURI, saveDir string) (infoHash string, err error)
	Files(ctx context.Context, infoHash string) ([]TorrentFile, error)
	Progress(infoHash string) (downloaded, total int64, seeders, leechers int)
	Remove(ctx context.Context, infoHash string, deleteData bool) error
}
