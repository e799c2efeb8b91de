package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const editColumns = `id, original_image_id, current_image_id, mime_type, width, height,
	prompt, refined_prompt, effect_strength, status, title, error,
	camera_make, camera_model, taken_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdit(row rowScanner) (*Edit, error) {
	var e Edit
	var status string
	err := row.Scan(&e.ID, &e.OriginalImageID, &e.CurrentImageID, &e.MIMEType, &e.Width, &e.Height,
		&e.Prompt, &e.RefinedPrompt, &e.EffectStrength, &status, &e.Title, &e.Error,
		&e.CameraMake, &e.CameraModel, &e.TakenAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	return &e, nil
}

func (s *SQLiteStore) CreateEdit(ctx context.Context, edit *Edit) error {
	now := time.Now().Unix()
	if edit.CreatedAt == 0 {
		edit.CreatedAt = now
	}
	edit.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO edits (`+editColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edit.ID, edit.OriginalImageID, edit.CurrentImageID, edit.MIMEType, edit.Width, edit.Height,
		edit.Prompt, edit.RefinedPrompt, edit.EffectStrength, string(edit.Status), edit.Title, edit.Error,
		edit.CameraMake, edit.CameraModel, edit.TakenAt, edit.CreatedAt, edit.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("create edit %s: %w", edit.ID, ErrConflict)
		}
		return fmt.Errorf("create edit %s: %w", edit.ID, err)
	}
	log.Debug().Str("editId", edit.ID).Str("status", string(edit.Status)).Msg("Edit persisted to SQLite")
	return nil
}

func (s *SQLiteStore) GetEdit(ctx context.Context, editID string) (*Edit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+editColumns+` FROM edits WHERE id = ?`, editID)
	edit, err := scanEdit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get edit %s: %w", editID, err)
	}
	return edit, nil
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, editID string, upd ProcessingUpdate) (*Edit, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE edits
		SET status = ?,
		    prompt = COALESCE(?, prompt),
		    refined_prompt = COALESCE(?, refined_prompt),
		    updated_at = ?
		WHERE id = ?
		RETURNING `+editColumns,
		string(StatusProcessing), nullable(upd.Prompt), nullable(upd.RefinedPrompt), time.Now().Unix(), editID)
	edit, err := scanEdit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark edit %s processing: %w", editID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mark edit %s processing: %w", editID, err)
	}
	return edit, nil
}

// execEdit runs an UPDATE against one edit and maps zero affected rows to
// ErrNotFound.
func (s *SQLiteStore) execEdit(ctx context.Context, editID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CompleteAttempt(ctx context.Context, editID string, c Completion) error {
	err := s.execEdit(ctx, editID, `UPDATE edits
		SET status = ?, current_image_id = ?, effect_strength = ?, error = '', updated_at = ?
		WHERE id = ?`,
		string(StatusCompleted), c.ImageID, c.Strength, time.Now().Unix(), editID)
	if err != nil {
		return fmt.Errorf("complete edit %s: %w", editID, err)
	}
	return nil
}

func (s *SQLiteStore) FailAttempt(ctx context.Context, editID, msg string) error {
	err := s.execEdit(ctx, editID, `UPDATE edits SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(StatusFailed), msg, time.Now().Unix(), editID)
	if err != nil {
		return fmt.Errorf("fail edit %s: %w", editID, err)
	}
	return nil
}

func (s *SQLiteStore) SetTitleIfEmpty(ctx context.Context, editID, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE edits SET title = ? WHERE id = ? AND title = ''`, title, editID)
	if err != nil {
		return fmt.Errorf("set title for edit %s: %w", editID, err)
	}
	return nil
}

// DeleteEdit removes the edit and everything keyed by it in one transaction.
func (s *SQLiteStore) DeleteEdit(ctx context.Context, editID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete edit %s: begin: %w", editID, err)
	}
	defer tx.Rollback()

	var removed int64
	for _, q := range []string{
		`DELETE FROM strength_cache WHERE edit_id = ?`,
		`DELETE FROM edit_history WHERE edit_id = ?`,
		`DELETE FROM edits WHERE id = ?`,
	} {
		res, err := tx.ExecContext(ctx, q, editID)
		if err != nil {
			return fmt.Errorf("delete edit %s: %w", editID, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete edit %s: commit: %w", editID, err)
	}
	log.Info().Str("editId", editID).Int64("rows", removed).Msg("Edit and caches deleted")
	return nil
}
