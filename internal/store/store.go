// Package store persists edits and their three result caches: the strength
// cache for generative results, the edit-history ledger that doubles as the
// parametric cache, and the per-image suggestions cache.
//
// Two implementations share one contract. DynamoStore is the production
// single-table design; SQLiteStore backs local runs, the CLI and tests.
// Correctness under concurrent writers comes from store-level constraints
// (conditional writes, unique indexes, atomic sequence assignment), never
// from in-process locks, so any number of stateless workers may share one
// store.
package store

import (
	"context"
	"errors"

	"github.com/fpang/ai-photo-editor/internal/adjust"
)

// ErrConflict is returned when a write loses a uniqueness race: a ledger
// entry for the same (edit, fingerprint, strength) already exists.
var ErrConflict = errors.New("store: conflicting entry exists")

// ErrNotFound is returned by mutations addressed to a missing edit. Reads
// return (nil, nil) instead.
var ErrNotFound = errors.New("store: edit not found")

// Status is the lifecycle state of an Edit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no attempt is currently recorded as running.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind distinguishes the two request families.
type Kind string

const (
	KindParametric Kind = "parametric"
	KindGenerative Kind = "generative"
)

// Store is the persistence contract for the edit pipeline. Get/Find methods
// return (nil, nil) when the record does not exist.
type Store interface {
	// --- Edits ---

	CreateEdit(ctx context.Context, edit *Edit) error
	GetEdit(ctx context.Context, editID string) (*Edit, error)

	// MarkProcessing sets status=processing and applies the optional prompt
	// fields in one write. Returns the updated edit, or ErrNotFound.
	MarkProcessing(ctx context.Context, editID string, upd ProcessingUpdate) (*Edit, error)

	// CompleteAttempt sets status=completed, advances currentImageId and
	// records the strength. The error field is cleared.
	CompleteAttempt(ctx context.Context, editID string, c Completion) error

	// FailAttempt sets status=failed with msg. currentImageId is untouched.
	FailAttempt(ctx context.Context, editID, msg string) error

	// SetTitleIfEmpty stores title only when the edit has none yet.
	SetTitleIfEmpty(ctx context.Context, editID, title string) error

	// DeleteEdit removes the edit with its strength cache and ledger.
	// Deleting a missing edit is not an error.
	DeleteEdit(ctx context.Context, editID string) error

	// --- Strength cache (generative results) ---

	GetStrength(ctx context.Context, editID string, strength int) (*StrengthEntry, error)
	// PutStrength upserts the entry for (editID, strength).
	PutStrength(ctx context.Context, entry *StrengthEntry) error
	// ListStrength returns every strength entry of the edit, ascending.
	ListStrength(ctx context.Context, editID string) ([]*StrengthEntry, error)
	// PurgeStrengthCache deletes every strength entry of the edit and
	// returns the image IDs the removed entries pointed at.
	PurgeStrengthCache(ctx context.Context, editID string) ([]string, error)

	// --- Edit-history ledger (parametric results) ---

	// NextSequence returns 1 + the highest sequence recorded for the edit.
	NextSequence(ctx context.Context, editID string) (int64, error)
	// AppendHistory assigns entry.Sequence atomically and stores the entry.
	// A duplicate (edit, fingerprint, strength) returns ErrConflict and
	// consumes no sequence number.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	FindHistory(ctx context.Context, editID, fingerprint string, strength int) (*HistoryEntry, error)
	GetHistoryEntry(ctx context.Context, editID string, sequence int64) (*HistoryEntry, error)
	// History lists the ledger in ascending sequence order.
	History(ctx context.Context, editID string) ([]*HistoryEntry, error)

	// --- Suggestions cache ---

	GetSuggestions(ctx context.Context, imageID string) (*Suggestions, error)
	// PutSuggestions upserts by image ID; a second analysis overwrites.
	PutSuggestions(ctx context.Context, s *Suggestions) error
	DeleteSuggestions(ctx context.Context, imageID string) error

	Close() error
}

// --- Domain types ---

// Edit is one uploaded image plus its evolving derived state
// (DynamoDB SK = META).
type Edit struct {
	ID              string `json:"id" dynamodbav:"-"`
	OriginalImageID string `json:"originalImageId" dynamodbav:"originalImageId"`
	CurrentImageID  string `json:"currentImageId" dynamodbav:"currentImageId"`
	MIMEType        string `json:"mimeType" dynamodbav:"mimeType"`
	Width           int    `json:"width" dynamodbav:"width"`
	Height          int    `json:"height" dynamodbav:"height"`
	Prompt          string `json:"prompt,omitempty" dynamodbav:"prompt,omitempty"`
	RefinedPrompt   string `json:"refinedPrompt,omitempty" dynamodbav:"refinedPrompt,omitempty"`
	EffectStrength  int    `json:"effectStrength" dynamodbav:"effectStrength"`
	Status          Status `json:"status" dynamodbav:"status"`
	Title           string `json:"title,omitempty" dynamodbav:"title,omitempty"`
	Error           string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CameraMake      string `json:"cameraMake,omitempty" dynamodbav:"cameraMake,omitempty"`
	CameraModel     string `json:"cameraModel,omitempty" dynamodbav:"cameraModel,omitempty"`
	TakenAt         int64  `json:"takenAt,omitempty" dynamodbav:"takenAt,omitempty"`
	CreatedAt       int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ProcessingUpdate carries the fields written together with
// status=processing. Nil pointers leave the stored value unchanged.
type ProcessingUpdate struct {
	Prompt        *string
	RefinedPrompt *string
}

// Completion is the outcome of a successful attempt.
type Completion struct {
	ImageID  string
	Strength int
}

// StrengthEntry caches one generative result (DynamoDB SK = STRENGTH#{nnn}).
type StrengthEntry struct {
	EditID      string `json:"editId" dynamodbav:"-"`
	Strength    int    `json:"strength" dynamodbav:"strength"`
	Fingerprint string `json:"fingerprint" dynamodbav:"fingerprint"`
	ImageID     string `json:"imageId" dynamodbav:"imageId"`
	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// HistoryEntry is one applied parametric edit (DynamoDB SK = HIST#{seq}).
type HistoryEntry struct {
	EditID      string         `json:"editId" dynamodbav:"-"`
	Sequence    int64          `json:"sequence" dynamodbav:"sequence"`
	Fingerprint string         `json:"fingerprint" dynamodbav:"fingerprint"`
	Strength    int            `json:"strength" dynamodbav:"strength"`
	ImageID     string         `json:"imageId" dynamodbav:"imageId"`
	Vector      *adjust.Vector `json:"vector,omitempty" dynamodbav:"vector,omitempty"`
	CreatedAt   int64          `json:"createdAt" dynamodbav:"createdAt"`
}

// Suggestions is the cached analysis of one image (DynamoDB PK = IMAGE#{id}).
type Suggestions struct {
	ImageID            string              `json:"imageId" dynamodbav:"-"`
	Title              string              `json:"title" dynamodbav:"title"`
	NaturalSuggestions []NaturalSuggestion `json:"naturalSuggestions" dynamodbav:"naturalSuggestions"`
	AISuggestions      []string            `json:"aiSuggestions" dynamodbav:"aiSuggestions"`
	Fallback           bool                `json:"fallback,omitempty" dynamodbav:"-"`
	CreatedAt          int64               `json:"createdAt" dynamodbav:"createdAt"`
}

// NaturalSuggestion is a labelled parametric adjustment proposed for an image.
type NaturalSuggestion struct {
	Label  string        `json:"label" dynamodbav:"label"`
	Vector adjust.Vector `json:"vector" dynamodbav:"vector"`
}

// Find returns the suggestion with the given label.
func (s *Suggestions) Find(label string) (NaturalSuggestion, bool) {
	for _, n := range s.NaturalSuggestions {
		if n.Label == label {
			return n, true
		}
	}
	return NaturalSuggestion{}, false
}
