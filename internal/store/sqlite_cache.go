package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/adjust"
)

// --- Strength cache ---

func (s *SQLiteStore) GetStrength(ctx context.Context, editID string, strength int) (*StrengthEntry, error) {
	e := StrengthEntry{EditID: editID, Strength: strength}
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, image_id, created_at FROM strength_cache WHERE edit_id = ? AND strength = ?`,
		editID, strength).Scan(&e.Fingerprint, &e.ImageID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get strength %s@%d: %w", editID, strength, err)
	}
	return &e, nil
}

func (s *SQLiteStore) PutStrength(ctx context.Context, entry *StrengthEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO strength_cache (edit_id, strength, fingerprint, image_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (edit_id, strength) DO UPDATE SET
		  fingerprint = excluded.fingerprint,
		  image_id = excluded.image_id,
		  created_at = excluded.created_at`,
		entry.EditID, entry.Strength, entry.Fingerprint, entry.ImageID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("put strength %s@%d: %w", entry.EditID, entry.Strength, err)
	}
	return nil
}

func (s *SQLiteStore) ListStrength(ctx context.Context, editID string) ([]*StrengthEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT strength, fingerprint, image_id, created_at FROM strength_cache WHERE edit_id = ? ORDER BY strength ASC`, editID)
	if err != nil {
		return nil, fmt.Errorf("list strength %s: %w", editID, err)
	}
	defer rows.Close()

	var entries []*StrengthEntry
	for rows.Next() {
		e := StrengthEntry{EditID: editID}
		if err := rows.Scan(&e.Strength, &e.Fingerprint, &e.ImageID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list strength %s: %w", editID, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list strength %s: %w", editID, err)
	}
	return entries, nil
}

func (s *SQLiteStore) PurgeStrengthCache(ctx context.Context, editID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM strength_cache WHERE edit_id = ? RETURNING image_id`, editID)
	if err != nil {
		return nil, fmt.Errorf("purge strength cache %s: %w", editID, err)
	}
	defer rows.Close()

	var imageIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("purge strength cache %s: %w", editID, err)
		}
		imageIDs = append(imageIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("purge strength cache %s: %w", editID, err)
	}
	return imageIDs, nil
}

// --- Ledger ---

func (s *SQLiteStore) NextSequence(ctx context.Context, editID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM edit_history WHERE edit_id = ?`, editID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", editID, err)
	}
	return next, nil
}

// AppendHistory computes the sequence inside the INSERT itself. A writing
// statement holds SQLite's write lock from its first step, so the MAX read
// and the insert are atomic with respect to every other writer, and a unique
// violation rolls the whole statement back without consuming a number.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	var vecJSON sql.NullString
	if entry.Vector != nil {
		b, err := json.Marshal(entry.Vector)
		if err != nil {
			return fmt.Errorf("append history %s: marshal vector: %w", entry.EditID, err)
		}
		vecJSON = sql.NullString{String: string(b), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `INSERT INTO edit_history
		  (edit_id, sequence, fingerprint, strength, image_id, vector_json, created_at)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM edit_history WHERE edit_id = ?), ?, ?, ?, ?, ?)
		RETURNING sequence`,
		entry.EditID, entry.EditID, entry.Fingerprint, entry.Strength, entry.ImageID, vecJSON, entry.CreatedAt,
	).Scan(&entry.Sequence)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("append history %s %s@%d: %w", entry.EditID, entry.Fingerprint, entry.Strength, ErrConflict)
		}
		return fmt.Errorf("append history %s: %w", entry.EditID, err)
	}
	log.Debug().
		Str("editId", entry.EditID).
		Int64("sequence", entry.Sequence).
		Str("fingerprint", entry.Fingerprint).
		Int("strength", entry.Strength).
		Msg("Ledger entry appended")
	return nil
}

const historyColumns = `edit_id, sequence, fingerprint, strength, image_id, vector_json, created_at`

func scanHistory(row rowScanner) (*HistoryEntry, error) {
	var e HistoryEntry
	var vecJSON sql.NullString
	if err := row.Scan(&e.EditID, &e.Sequence, &e.Fingerprint, &e.Strength, &e.ImageID, &vecJSON, &e.CreatedAt); err != nil {
		return nil, err
	}
	if vecJSON.Valid {
		var v adjust.Vector
		if err := json.Unmarshal([]byte(vecJSON.String), &v); err != nil {
			return nil, fmt.Errorf("unmarshal vector: %w", err)
		}
		e.Vector = &v
	}
	return &e, nil
}

func (s *SQLiteStore) queryOneHistory(ctx context.Context, what, where string, args ...any) (*HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM edit_history WHERE `+where, args...)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return e, nil
}

func (s *SQLiteStore) FindHistory(ctx context.Context, editID, fingerprint string, strength int) (*HistoryEntry, error) {
	return s.queryOneHistory(ctx, fmt.Sprintf("find history %s %s@%d", editID, fingerprint, strength),
		`edit_id = ? AND fingerprint = ? AND strength = ?`, editID, fingerprint, strength)
}

func (s *SQLiteStore) GetHistoryEntry(ctx context.Context, editID string, sequence int64) (*HistoryEntry, error) {
	return s.queryOneHistory(ctx, fmt.Sprintf("get history %s#%d", editID, sequence),
		`edit_id = ? AND sequence = ?`, editID, sequence)
}

func (s *SQLiteStore) History(ctx context.Context, editID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM edit_history WHERE edit_id = ? ORDER BY sequence ASC`, editID)
	if err != nil {
		return nil, fmt.Errorf("list history %s: %w", editID, err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("list history %s: %w", editID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history %s: %w", editID, err)
	}
	return entries, nil
}

// --- Suggestions cache ---

func (s *SQLiteStore) GetSuggestions(ctx context.Context, imageID string) (*Suggestions, error) {
	sug := Suggestions{ImageID: imageID}
	var naturalJSON, aiJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, natural_json, ai_json, created_at FROM suggestions WHERE image_id = ?`, imageID,
	).Scan(&sug.Title, &naturalJSON, &aiJSON, &sug.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestions %s: %w", imageID, err)
	}
	if err := json.Unmarshal([]byte(naturalJSON), &sug.NaturalSuggestions); err != nil {
		return nil, fmt.Errorf("get suggestions %s: unmarshal natural: %w", imageID, err)
	}
	if err := json.Unmarshal([]byte(aiJSON), &sug.AISuggestions); err != nil {
		return nil, fmt.Errorf("get suggestions %s: unmarshal ai: %w", imageID, err)
	}
	return &sug, nil
}

func (s *SQLiteStore) PutSuggestions(ctx context.Context, sug *Suggestions) error {
	if sug.CreatedAt == 0 {
		sug.CreatedAt = time.Now().Unix()
	}
	naturalJSON, err := json.Marshal(sug.NaturalSuggestions)
	if err != nil {
		return fmt.Errorf("put suggestions %s: %w", sug.ImageID, err)
	}
	aiJSON, err := json.Marshal(sug.AISuggestions)
	if err != nil {
		return fmt.Errorf("put suggestions %s: %w", sug.ImageID, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO suggestions (image_id, title, natural_json, ai_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (image_id) DO UPDATE SET
		  title = excluded.title,
		  natural_json = excluded.natural_json,
		  ai_json = excluded.ai_json,
		  created_at = excluded.created_at`,
		sug.ImageID, sug.Title, string(naturalJSON), string(aiJSON), sug.CreatedAt)
	if err != nil {
		return fmt.Errorf("put suggestions %s: %w", sug.ImageID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSuggestions(ctx context.Context, imageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM suggestions WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete suggestions %s: %w", imageID, err)
	}
	return nil
}
