package sqlite

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/vodscribe/corekit/internal/domain/ports"
)

// Stats reports table counts, torrent status distribution, and how many
// rows landed in the last hour.
func (s *Store) Stats(ctx context.Context) (ports.StorageStats, error) {
	stats := ports.StorageStats{ByStatus: make(map[string]int64)}
	ex := s.exec(ctx)

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM torrents`, &stats.TorrentCount},
		{`SELECT COUNT(*) FROM media`, &stats.MediaCount},
		{`SELECT COUNT(*) FROM transcriptions`, &stats.TranscriptionCount},
	}
	for _, c := range counts {
		if err := ex.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return ports.StorageStats{}, fmt.Errorf("storage: stats count: %w", err)
		}
	}

	rows, err := ex.QueryContext(ctx, `SELECT status, COUNT(*) FROM torrents GROUP BY status`)
	if err != nil {
		return ports.StorageStats{}, fmt.Errorf("storage: stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return ports.StorageStats{}, err
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return ports.StorageStats{}, err
	}

	cutoff := time.Now().Add(-time.Hour).UnixMilli()
	if err := ex.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM torrents WHERE date_added >= ?)
		      + (SELECT COUNT(*) FROM media WHERE date_added >= ?)
		      + (SELECT COUNT(*) FROM transcriptions WHERE date_created >= ?)`,
		cutoff, cutoff, cutoff).Scan(&stats.RecentHourAdds); err != nil {
		return ports.StorageStats{}, fmt.Errorf("storage: stats recent: %w", err)
	}
	return stats, nil
}

// Vacuum compacts the database file. Cannot run inside a transaction.
func (s *Store) Vacuum(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("storage: vacuum: %w", err)
	}
	return nil
}

// Reindex rebuilds every index.
func (s *Store) Reindex(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `REINDEX`); err != nil {
		return fmt.Errorf("storage: reindex: %w", err)
	}
	return nil
}

// CleanupOrphans removes media rows pointing at torrents that no longer
// exist and dependent rows that lost their parent (covers databases created
// before foreign keys were enforced). Returns the number of rows removed.
func (s *Store) CleanupOrphans(ctx context.Context) (int64, error) {
	var total int64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		ex := s.exec(ctx)
		statements := []string{
			`DELETE FROM media WHERE torrent_hash IS NOT NULL
			   AND torrent_hash NOT IN (SELECT info_hash FROM torrents)`,
			`DELETE FROM transcriptions WHERE media_id NOT IN (SELECT id FROM media)`,
			`DELETE FROM sessions WHERE media_id NOT IN (SELECT id FROM media)`,
		}
		for _, stmt := range statements {
			res, err := ex.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("storage: orphan cleanup: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// Backup snapshots the database into destPath atomically: the copy lands in
// a temp file that is renamed over the destination only when complete. The
// snapshot is taken through VACUUM INTO so readers and WAL state stay
// consistent.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tmpSnapshot := destPath + ".snapshot"
	os.Remove(tmpSnapshot)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmpSnapshot); err != nil {
		return fmt.Errorf("storage: backup snapshot: %w", err)
	}
	defer os.Remove(tmpSnapshot)

	data, err := os.ReadFile(tmpSnapshot)
	if err != nil {
		return fmt.Errorf("storage: backup read: %w", err)
	}
	if err := renameio.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: backup write: %w", err)
	}
	return nil
}

// Restore replaces the live database with the file at srcPath. The store
// must be re-opened by the caller afterwards; Restore closes the pool.
func (s *Store) Restore(ctx context.Context, srcPath string) error {
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("%w: backup %s", ErrNotFound, srcPath)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("storage: close before restore: %w", err)
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("storage: restore read: %w", err)
	}
	// Drop WAL side files so the restored image is authoritative.
	os.Remove(s.path + "-wal")
	os.Remove(s.path + "-shm")
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("storage: restore write: %w", err)
	}
	return nil
}
