package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// currentSchemaVersion is the version migrate brings a database up to.
const currentSchemaVersion = 3

// migrations[i] advances the schema from version i to i+1. Each step is
// idempotent (CREATE TABLE / CREATE INDEX IF NOT EXISTS) and runs inside
// its own transaction.
var migrations = []string{
	// v0 -> v1: base tables.
	`
	CREATE TABLE IF NOT EXISTS torrents (
		info_hash   TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		magnet_uri  TEXT NOT NULL DEFAULT '',
		size        INTEGER NOT NULL DEFAULT 0 CHECK (size >= 0),
		date_added  INTEGER NOT NULL DEFAULT 0,
		last_active INTEGER NOT NULL DEFAULT 0,
		save_path   TEXT NOT NULL DEFAULT '',
		progress    REAL NOT NULL DEFAULT 0 CHECK (progress >= 0),
		status      TEXT NOT NULL DEFAULT '',
		metadata    TEXT NOT NULL DEFAULT '{}',
		files       TEXT NOT NULL DEFAULT '[]',
		seeders     INTEGER NOT NULL DEFAULT 0 CHECK (seeders >= 0),
		leechers    INTEGER NOT NULL DEFAULT 0 CHECK (leechers >= 0),
		downloaded  INTEGER NOT NULL DEFAULT 0 CHECK (downloaded >= 0),
		uploaded    INTEGER NOT NULL DEFAULT 0 CHECK (uploaded >= 0),
		ratio       REAL NOT NULL DEFAULT 0 CHECK (ratio >= 0)
	);

	CREATE TABLE IF NOT EXISTS media (
		id                TEXT PRIMARY KEY,
		torrent_hash      TEXT REFERENCES torrents(info_hash) ON DELETE CASCADE,
		file_path         TEXT NOT NULL,
		original_name     TEXT NOT NULL DEFAULT '',
		mime_type         TEXT NOT NULL DEFAULT '',
		file_size         INTEGER NOT NULL DEFAULT 0 CHECK (file_size >= 0),
		duration_ms       INTEGER NOT NULL DEFAULT 0 CHECK (duration_ms >= 0),
		width             INTEGER NOT NULL DEFAULT 0 CHECK (width >= 0),
		height            INTEGER NOT NULL DEFAULT 0 CHECK (height >= 0),
		frame_rate        REAL NOT NULL DEFAULT 0 CHECK (frame_rate >= 0),
		video_codec       TEXT NOT NULL DEFAULT '',
		audio_codec       TEXT NOT NULL DEFAULT '',
		has_transcription INTEGER NOT NULL DEFAULT 0,
		date_added        INTEGER NOT NULL DEFAULT 0,
		last_played       INTEGER NOT NULL DEFAULT 0,
		playback_position INTEGER NOT NULL DEFAULT 0 CHECK (playback_position >= 0),
		metadata          TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS transcriptions (
		id              TEXT PRIMARY KEY,
		media_id        TEXT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
		language        TEXT NOT NULL DEFAULT '',
		model_used      TEXT NOT NULL DEFAULT '',
		full_text       TEXT NOT NULL DEFAULT '',
		timestamps      TEXT NOT NULL DEFAULT '[]',
		confidence      REAL NOT NULL DEFAULT 0 CHECK (confidence >= 0),
		date_created    INTEGER NOT NULL DEFAULT 0,
		processing_time INTEGER NOT NULL DEFAULT 0 CHECK (processing_time >= 0),
		status          TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id     TEXT PRIMARY KEY,
		media_id       TEXT NOT NULL REFERENCES media(id) ON DELETE CASCADE,
		start_time     INTEGER NOT NULL DEFAULT 0,
		end_time       INTEGER NOT NULL DEFAULT 0,
		start_position INTEGER NOT NULL DEFAULT 0 CHECK (start_position >= 0),
		end_position   INTEGER NOT NULL DEFAULT 0 CHECK (end_position >= 0),
		total_duration INTEGER NOT NULL DEFAULT 0 CHECK (total_duration >= 0),
		completed      INTEGER NOT NULL DEFAULT 0
	);
	`,
	// v1 -> v2: lookup indexes.
	`
	CREATE INDEX IF NOT EXISTS idx_media_torrent_hash ON media(torrent_hash);
	CREATE INDEX IF NOT EXISTS idx_media_date_added ON media(date_added);
	CREATE INDEX IF NOT EXISTS idx_transcriptions_media ON transcriptions(media_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_media ON sessions(media_id);
	CREATE INDEX IF NOT EXISTS idx_torrents_status ON torrents(status);
	`,
	// v2 -> v3: indexes for search over media and torrent names.
	`
	CREATE INDEX IF NOT EXISTS idx_media_original_name ON media(original_name);
	CREATE INDEX IF NOT EXISTS idx_torrents_name ON torrents(name);
	`,
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("storage: create schema_version: %w", err)
	}

	version, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for version < currentSchemaVersion {
		step := version
		err := func() error {
			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("storage: migration begin: %w", err)
			}
			if _, err := tx.ExecContext(ctx, migrations[step]); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("storage: migration %d -> %d: %w", step, step+1, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("storage: migration version clear: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, step+1); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("storage: migration version write: %w", err)
			}
			return tx.Commit()
		}()
		if err != nil {
			return err
		}
		version++
		s.logger.Info("schema migrated", slog.Int("version", version))
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: read schema version: %w", err)
	}
	return version, nil
}
