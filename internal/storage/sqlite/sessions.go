package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

const sessionColumns = `session_id, media_id, start_time, end_time, start_position,
	end_position, total_duration, completed`

// AddSession records the start of a playback session.
func (s *Store) AddSession(ctx context.Context, rec domain.PlaybackSession) error {
	if rec.SessionID == "" || rec.MediaID == "" {
		return fmt.Errorf("%w: session id and media id required", ErrInvalidInput)
	}
	return s.write(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx).ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.MediaID, rec.StartTime.UnixMilli(), rec.EndTime.UnixMilli(),
			rec.StartPosition, rec.EndPosition, rec.TotalDuration, boolInt(rec.Completed),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: session %s", ErrAlreadyExists, rec.SessionID)
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: media %s not found", ErrConstraintViolated, rec.MediaID)
			}
			return fmt.Errorf("storage: add session: %w", err)
		}
		return nil
	})
}

// UpdateSession stores the session's end state (position, duration,
// completion).
func (s *Store) UpdateSession(ctx context.Context, rec domain.PlaybackSession) error {
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx,
			`UPDATE sessions SET end_time = ?, start_position = ?, end_position = ?,
				total_duration = ?, completed = ? WHERE session_id = ?`,
			rec.EndTime.UnixMilli(), rec.StartPosition, rec.EndPosition,
			rec.TotalDuration, boolInt(rec.Completed), rec.SessionID,
		)
		if err != nil {
			return fmt.Errorf("storage: update session: %w", err)
		}
		return requireRow(res, "session "+rec.SessionID)
	})
}

// GetSession fetches one playback session by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.PlaybackSession, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlaybackSession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return rec, err
}

// SessionsForMedia lists a media row's playback sessions, newest first.
func (s *Store) SessionsForMedia(ctx context.Context, mediaID string) ([]domain.PlaybackSession, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE media_id = ? ORDER BY start_time DESC`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.PlaybackSession
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (domain.PlaybackSession, error) {
	var rec domain.PlaybackSession
	var start, end int64
	var completed int
	err := row.Scan(
		&rec.SessionID, &rec.MediaID, &start, &end,
		&rec.StartPosition, &rec.EndPosition, &rec.TotalDuration, &completed,
	)
	if err != nil {
		return domain.PlaybackSession{}, err
	}
	rec.StartTime = time.UnixMilli(start)
	rec.EndTime = time.UnixMilli(end)
	rec.Completed = completed != 0
	return rec, nil
}
