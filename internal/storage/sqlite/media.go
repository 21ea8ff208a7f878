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
)

const mediaColumns = `id, torrent_hash, file_path, original_name, mime_type, file_size,
	duration_ms, width, height, frame_rate, video_codec, audio_codec,
	has_transcription, date_added, last_played, playback_position, metadata`

// AddMedia inserts a media row. An empty TorrentHash stores NULL; a
// non-empty one must reference an existing torrent.
func (s *Store) AddMedia(ctx context.Context, rec domain.MediaRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: media id required", ErrInvalidInput)
	}
	if rec.TorrentHash != "" {
		if err := validateInfoHash(rec.TorrentHash); err != nil {
			return err
		}
	}
	return s.write(ctx, func(ctx context.Context) error {
		meta, err := metaJSON(rec.Metadata)
		if err != nil {
			return err
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`INSERT INTO media (`+mediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, nullable(rec.TorrentHash), rec.FilePath, rec.OriginalName, rec.MimeType, rec.FileSize,
			rec.DurationMs, rec.Width, rec.Height, rec.FrameRate, rec.VideoCodec, rec.AudioCodec,
			boolInt(rec.HasTranscription), rec.DateAdded.UnixMilli(), rec.LastPlayed.UnixMilli(),
			rec.PlaybackPositionMs, meta,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: media %s", ErrAlreadyExists, rec.ID)
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: torrent %s not found", ErrConstraintViolated, rec.TorrentHash)
			}
			return fmt.Errorf("storage: add media: %w", err)
		}
		return nil
	})
}

// UpdateMedia replaces every mutable column of an existing media row.
func (s *Store) UpdateMedia(ctx context.Context, rec domain.MediaRecord) error {
	if rec.TorrentHash != "" {
		if err := validateInfoHash(rec.TorrentHash); err != nil {
			return err
		}
	}
	return s.write(ctx, func(ctx context.Context) error {
		meta, err := metaJSON(rec.Metadata)
		if err != nil {
			return err
		}
		res, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE media SET torrent_hash = ?, file_path = ?, original_name = ?, mime_type = ?,
				file_size = ?, duration_ms = ?, width = ?, height = ?, frame_rate = ?,
				video_codec = ?, audio_codec = ?, has_transcription = ?, date_added = ?,
				last_played = ?, playback_position = ?, metadata = ?
			 WHERE id = ?`,
			nullable(rec.TorrentHash), rec.FilePath, rec.OriginalName, rec.MimeType,
			rec.FileSize, rec.DurationMs, rec.Width, rec.Height, rec.FrameRate,
			rec.VideoCodec, rec.AudioCodec, boolInt(rec.HasTranscription), rec.DateAdded.UnixMilli(),
			rec.LastPlayed.UnixMilli(), rec.PlaybackPositionMs, meta,
			rec.ID,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: torrent %s not found", ErrConstraintViolated, rec.TorrentHash)
			}
			return fmt.Errorf("storage: update media: %w", err)
		}
		return requireRow(res, "media "+rec.ID)
	})
}

// UpdatePlaybackPosition stores the latest playback offset and play time.
func (s *Store) UpdatePlaybackPosition(ctx context.Context, id string, positionMs int64) error {
	if positionMs < 0 {
		return fmt.Errorf("%w: negative playback position", ErrInvalidInput)
	}
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE media SET playback_position = ?, last_played = ? WHERE id = ?`,
			positionMs, time.Now().UnixMilli(), id,
		)
		if err != nil {
			return fmt.Errorf("storage: update playback position: %w", err)
		}
		return requireRow(res, "media "+id)
	})
}

// GetMedia fetches one media row by id.
func (s *Store) GetMedia(ctx context.Context, id string) (domain.MediaRecord, error) {
	row := s.exec(ctx).QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	rec, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MediaRecord{}, fmt.Errorf("%w: media %s", ErrNotFound, id)
	}
	return rec, err
}

// RemoveMedia deletes the row; dependent transcriptions and sessions cascade.
func (s *Store) RemoveMedia(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("storage: remove media: %w", err)
		}
		return requireRow(res, "media "+id)
	})
}

// ListMedia returns every media row, most recently added first.
func (s *Store) ListMedia(ctx context.Context) ([]domain.MediaRecord, error) {
	return s.listMedia(ctx, `SELECT `+mediaColumns+` FROM media ORDER BY date_added DESC`)
}

// SearchMedia matches the query against original name and file path with a
// case-insensitive LIKE.
func (s *Store) SearchMedia(ctx context.Context, query string) ([]domain.MediaRecord, error) {
	pattern := "%" + escapeLike(query) + "%"
	return s.listMedia(ctx,
		`SELECT `+mediaColumns+` FROM media
		 WHERE original_name LIKE ? ESCAPE '\' OR file_path LIKE ? ESCAPE '\'
		 ORDER BY date_added DESC`,
		pattern, pattern)
}

func (s *Store) listMedia(ctx context.Context, query string, args ...any) ([]domain.MediaRecord, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list media: %w", err)
	}
	defer rows.Close()

	var out []domain.MediaRecord
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMedia(row rowScanner) (domain.MediaRecord, error) {
	var rec domain.MediaRecord
	var torrentHash sql.NullString
	var hasTranscription int
	var dateAdded, lastPlayed int64
	var meta string
	err := row.Scan(
		&rec.ID, &torrentHash, &rec.FilePath, &rec.OriginalName, &rec.MimeType, &rec.FileSize,
		&rec.DurationMs, &rec.Width, &rec.Height, &rec.FrameRate, &rec.VideoCodec, &rec.AudioCodec,
		&hasTranscription, &dateAdded, &lastPlayed, &rec.PlaybackPositionMs, &meta,
	)
	if err != nil {
		return domain.MediaRecord{}, err
	}
	rec.TorrentHash = torrentHash.String
	rec.HasTranscription = hasTranscription != 0
	rec.DateAdded = time.UnixMilli(dateAdded)
	rec.LastPlayed = time.UnixMilli(lastPlayed)
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return domain.MediaRecord{}, fmt.Errorf("storage: media metadata decode: %w", err)
	}
	return rec, nil
}

func metaJSON(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("storage: metadata encode: %w", err)
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key")
}
