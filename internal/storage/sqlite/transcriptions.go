package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vodscribe/corekit/internal/domain"
)

const transcriptionColumns = `id, media_id, language, model_used, full_text, timestamps,
	confidence, date_created, processing_time, status`

// AddTranscription inserts a transcription row and flips the owning media
// row's has_transcription flag in the same statement batch.
func (s *Store) AddTranscription(ctx context.Context, rec domain.TranscriptionRecord) error {
	if rec.ID == "" || rec.MediaID == "" {
		return fmt.Errorf("%w: transcription id and media id required", ErrInvalidInput)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		segments := rec.Timestamps
		if segments == nil {
			segments = []domain.TranscriptionSegment{}
		}
		ts, err := json.Marshal(segments)
		if err != nil {
			return fmt.Errorf("storage: timestamps encode: %w", err)
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`INSERT INTO transcriptions (`+transcriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.MediaID, rec.Language, rec.ModelUsed, rec.FullText, string(ts),
			rec.Confidence, rec.DateCreated.UnixMilli(), rec.ProcessingTime.Milliseconds(), rec.Status,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: transcription %s", ErrAlreadyExists, rec.ID)
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: media %s not found", ErrConstraintViolated, rec.MediaID)
			}
			return fmt.Errorf("storage: add transcription: %w", err)
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`UPDATE media SET has_transcription = 1 WHERE id = ?`, rec.MediaID)
		if err != nil {
			return fmt.Errorf("storage: mark media transcribed: %w", err)
		}
		return nil
	})
}

// GetTranscription fetches one transcription by id.
func (s *Store) GetTranscription(ctx context.Context, id string) (domain.TranscriptionRecord, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE id = ?`, id)
	rec, err := scanTranscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TranscriptionRecord{}, fmt.Errorf("%w: transcription %s", ErrNotFound, id)
	}
	return rec, err
}

// GetTranscriptionsForMedia lists a media row's transcriptions, newest first.
func (s *Store) GetTranscriptionsForMedia(ctx context.Context, mediaID string) ([]domain.TranscriptionRecord, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions WHERE media_id = ? ORDER BY date_created DESC`,
		mediaID)
	if err != nil {
		return nil, fmt.Errorf("storage: list transcriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptionRecord
	for rows.Next() {
		rec, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SearchTranscriptions matches query against the stored full text.
func (s *Store) SearchTranscriptions(ctx context.Context, query string) ([]domain.TranscriptionRecord, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT `+transcriptionColumns+` FROM transcriptions
		 WHERE full_text LIKE ? ESCAPE '\' ORDER BY date_created DESC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("storage: search transcriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptionRecord
	for rows.Next() {
		rec, err := scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RemoveTranscription deletes one transcription row.
func (s *Store) RemoveTranscription(ctx context.Context, id string) error {
	return s.write(ctx, func(ctx context.Context) error {
		res, err := s.exec(ctx).ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("storage: remove transcription: %w", err)
		}
		return requireRow(res, "transcription "+id)
	})
}

func scanTranscription(row rowScanner) (domain.TranscriptionRecord, error) {
	var rec domain.TranscriptionRecord
	var ts string
	var dateCreated, processingMs int64
	err := row.Scan(
		&rec.ID, &rec.MediaID, &rec.Language, &rec.ModelUsed, &rec.FullText, &ts,
		&rec.Confidence, &dateCreated, &processingMs, &rec.Status,
	)
	if err != nil {
		return domain.TranscriptionRecord{}, err
	}
	rec.DateCreated = time.UnixMilli(dateCreated)
	rec.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	if err := json.Unmarshal([]byte(ts), &rec.Timestamps); err != nil {
		return domain.TranscriptionRecord{}, fmt.Errorf("storage: timestamps decode: %w", err)
	}
	return rec, nil
}
