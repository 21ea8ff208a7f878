// Package torrent adapts the BitTorrent client library into the thin
// ingestion boundary the pipeline consumes: fetch a torrent's files onto
// local disk and report progress. Session internals (piece scheduling, peer
// wire) stay inside the library.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	anacrolix "github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"github.com/vodscribe/corekit/internal/domain/ports"
	"github.com/vodscribe/corekit/internal/metrics"
)

// Ingestor owns one torrent client and the torrents it has admitted.
type Ingestor struct {
	logger *slog.Logger
	client *anacrolix.Client

	mu       sync.Mutex
	torrents map[string]*anacrolix.Torrent
	saveDirs map[string]string
}

// New starts a torrent client storing payloads under dataDir by default.
func New(logger *slog.Logger, dataDir string) (*Ingestor, error) {
	cfg := anacrolix.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.Seed = false
	client, err := anacrolix.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("ingest: torrent client: %w", err)
	}
	return &Ingestor{
		logger:   logger,
		client:   client,
		torrents: make(map[string]*anacrolix.Torrent),
		saveDirs: make(map[string]string),
	}, nil
}

// Close shuts the client down.
func (i *Ingestor) Close() error {
	errs := i.client.Close()
	return errors.Join(errs...)
}

// AddMagnet admits a magnet link, waits for its metadata, and starts
// downloading every file into saveDir.
func (i *Ingestor) AddMagnet(ctx context.Context, magnetURI, saveDir string) (string, error) {
	spec, err := anacrolix.TorrentSpecFromMagnetUri(magnetURI)
	if err != nil {
		return "", fmt.Errorf("ingest: parse magnet: %w", err)
	}
	if saveDir != "" {
		if err := os.MkdirAll(saveDir, 0o755); err != nil {
			return "", fmt.Errorf("ingest: save dir: %w", err)
		}
		spec.Storage = storage.NewFile(saveDir)
	}

	t, _, err := i.client.AddTorrentSpec(spec)
	if err != nil {
		return "", fmt.Errorf("ingest: add torrent: %w", err)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()
		return "", ctx.Err()
	}

	infoHash := t.InfoHash().HexString()
	i.mu.Lock()
	i.torrents[infoHash] = t
	i.saveDirs[infoHash] = saveDir
	metrics.TorrentIngestActive.Set(float64(len(i.torrents)))
	i.mu.Unlock()

	t.DownloadAll()
	i.logger.Info("torrent admitted",
		slog.String("infoHash", infoHash),
		slog.String("name", t.Name()),
		slog.Int64("sizeBytes", t.Length()),
	)
	return infoHash, nil
}

func (i *Ingestor) get(infoHash string) (*anacrolix.Torrent, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.torrents[infoHash]
	if !ok {
		return nil, fmt.Errorf("ingest: unknown torrent %q", infoHash)
	}
	return t, nil
}

// Files lists the torrent's payload files with their on-disk paths.
func (i *Ingestor) Files(ctx context.Context, infoHash string) ([]ports.TorrentFile, error) {
	t, err := i.get(infoHash)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	base := i.saveDirs[infoHash]
	i.mu.Unlock()

	var out []ports.TorrentFile
	for _, f := range t.Files() {
		out = append(out, ports.TorrentFile{
			Path: filepath.Join(base, f.Path()),
			Size: f.Length(),
		})
	}
	return out, nil
}

// Progress reports the torrent's transfer counters and peer composition.
func (i *Ingestor) Progress(infoHash string) (downloaded, total int64, seeders, leechers int) {
	t, err := i.get(infoHash)
	if err != nil {
		return 0, 0, 0, 0
	}
	stats := t.Stats()
	seeders = stats.ConnectedSeeders
	leechers = stats.ActivePeers - stats.ConnectedSeeders
	if leechers < 0 {
		leechers = 0
	}
	return t.BytesCompleted(), t.Length(), seeders, leechers
}

// Remove drops the torrent and optionally deletes its payload.
func (i *Ingestor) Remove(ctx context.Context, infoHash string, deleteData bool) error {
	t, err := i.get(infoHash)
	if err != nil {
		return err
	}

	var files []ports.TorrentFile
	if deleteData {
		files, _ = i.Files(ctx, infoHash)
	}

	t.Drop()
	i.mu.Lock()
	delete(i.torrents, infoHash)
	delete(i.saveDirs, infoHash)
	metrics.TorrentIngestActive.Set(float64(len(i.torrents)))
	i.mu.Unlock()

	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			i.logger.Warn("payload delete failed",
				slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
	return nil
}
