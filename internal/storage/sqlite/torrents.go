package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
	"github.com/vodscribe/corekit/internal/metrics"
)

const torrentColumns = `info_hash, name, magnet_uri, size, date_added, last_active, save_path,
	progress, status, metadata, files, seeders, leechers, downloaded, uploaded, ratio`

// AddTorrent inserts a new torrent row; an existing info hash fails with
// ErrAlreadyExists.
func (s *Store) AddTorrent(ctx context.Context, rec domain.TorrentRecord) error {
	if err := validateInfoHash(rec.InfoHash); err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context) error {
		meta, files, err := torrentJSON(rec)
		if err != nil {
			return err
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`INSERT INTO torrents (`+torrentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.InfoHash, rec.Name, rec.MagnetURI, rec.Size,
			rec.DateAdded.UnixMilli(), rec.LastActive.UnixMilli(), rec.SavePath,
			rec.Progress, rec.Status, meta, files,
			rec.Seeders, rec.Leechers, rec.Downloaded, rec.Uploaded, rec.Ratio,
		)
		if err != nil {
			metrics.StorageQueriesTotal.WithLabelValues("torrents", "error").Inc()
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: torrent %s", ErrAlreadyExists, rec.InfoHash)
			}
			return fmt.Errorf("storage: add torrent: %w", err)
		}
		metrics.StorageQueriesTotal.WithLabelValues("torrents", "ok").Inc()
		return nil
	})
}

// UpdateTorrent replaces every mutable column of an existing row.
func (s *Store) UpdateTorrent(ctx context.Context, rec domain.TorrentRecord) error {
	if err := validateInfoHash(rec.InfoHash); err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context) error {
		meta, files, err := torrentJSON(rec)
		if err != nil {
			return err
		}
		res, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE torrents SET name = ?, magnet_uri = ?, size = ?, date_added = ?, last_active = ?,
				save_path = ?, progress = ?, status = ?, metadata = ?, files = ?,
				seeders = ?, leechers = ?, downloaded = ?, uploaded = ?, ratio = ?
			 WHERE info_hash = ?`,
			rec.Name, rec.MagnetURI, rec.Size,
			rec.DateAdded.UnixMilli(), rec.LastActive.UnixMilli(),
			rec.SavePath, rec.Progress, rec.Status, meta, files,
			rec.Seeders, rec.Leechers, rec.Downloaded, rec.Uploaded, rec.Ratio,
			rec.InfoHash,
		)
		if err != nil {
			return fmt.Errorf("storage: update torrent: %w", err)
		}
		return requireRow(res, "torrent "+rec.InfoHash)
	})
}

// UpdateTorrentProgress updates only the progress/status/transfer counters.
func (s *Store) UpdateTorrentProgress(ctx context.Context, infoHash string, progress float64, status string, downloaded, uploaded int64) error {
	if err := validateInfoHash(infoHash); err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE torrents SET progress = ?, status = ?, downloaded = ?, uploaded = ?, last_active = ? WHERE info_hash = ?`,
			progress, status, downloaded, uploaded, time.Now().UnixMilli(), infoHash,
		)
		if err != nil {
			return fmt.Errorf("storage: update torrent progress: %w", err)
		}
		return requireRow(res, "torrent "+infoHash)
	})
}

// GetTorrent fetches one row by info hash.
func (s *Store) GetTorrent(ctx context.Context, infoHash string) (domain.TorrentRecord, error) {
	if err := validateInfoHash(infoHash); err != nil {
		return domain.TorrentRecord{}, err
	}
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+torrentColumns+` FROM torrents WHERE info_hash = ?`, infoHash)
	rec, err := scanTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TorrentRecord{}, fmt.Errorf("%w: torrent %s", ErrNotFound, infoHash)
	}
	return rec, err
}

// RemoveTorrent deletes the row; dependent media, transcriptions, and
// sessions cascade.
func (s *Store) RemoveTorrent(ctx context.Context, infoHash string) error {
	if err := validateInfoHash(infoHash); err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM torrents WHERE info_hash = ?`, infoHash)
		if err != nil {
			return fmt.Errorf("storage: remove torrent: %w", err)
		}
		return requireRow(res, "torrent "+infoHash)
	})
}

// ListTorrents returns every torrent, most recently added first.
func (s *Store) ListTorrents(ctx context.Context) ([]domain.TorrentRecord, error) {
	return s.listTorrents(ctx, `SELECT `+torrentColumns+` FROM torrents ORDER BY date_added DESC`)
}

// ListActiveTorrents returns torrents whose status marks them live.
func (s *Store) ListActiveTorrents(ctx context.Context) ([]domain.TorrentRecord, error) {
	return s.listTorrents(ctx,
		`SELECT `+torrentColumns+` FROM torrents WHERE status IN ('active', 'downloading', 'seeding') ORDER BY date_added DESC`)
}

func (s *Store) listTorrents(ctx context.Context, query string, args ...any) ([]domain.TorrentRecord, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list torrents: %w", err)
	}
	defer rows.Close()

	var out []domain.TorrentRecord
	for rows.Next() {
		rec, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTorrent(row rowScanner) (domain.TorrentRecord, error) {
	var rec domain.TorrentRecord
	var dateAdded, lastActive int64
	var meta, files string
	err := row.Scan(
		&rec.InfoHash, &rec.Name, &rec.MagnetURI, &rec.Size,
		&dateAdded, &lastActive, &rec.SavePath,
		&rec.Progress, &rec.Status, &meta, &files,
		&rec.Seeders, &rec.Leechers, &rec.Downloaded, &rec.Uploaded, &rec.Ratio,
	)
	if err != nil {
		return domain.TorrentRecord{}, err
	}
	rec.DateAdded = time.UnixMilli(dateAdded)
	rec.LastActive = time.UnixMilli(lastActive)
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return domain.TorrentRecord{}, fmt.Errorf("storage: torrent metadata decode: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &rec.Files); err != nil {
		return domain.TorrentRecord{}, fmt.Errorf("storage: torrent files decode: %w", err)
	}
	return rec, nil
}

func torrentJSON(rec domain.TorrentRecord) (meta, files string, err error) {
	m := rec.Metadata
	if m == nil {
		m = map[string]string{}
	}
	f := rec.Files
	if f == nil {
		f = []string{}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("storage: torrent metadata encode: %w", err)
	}
	fb, err := json.Marshal(f)
	if err != nil {
		return "", "", fmt.Errorf("storage: torrent files encode: %w", err)
	}
	return string(mb), string(fb), nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
