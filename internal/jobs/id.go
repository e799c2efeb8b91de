package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ID prefixes.
const (
	EditPrefix    = "edit-"
	AttemptPrefix = "att-"
)

// GenerateID returns prefix followed by 32 random hex characters. The prefix
// should include its trailing dash.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NewEditID returns a fresh edit ID ("edit-" + UUID).
func NewEditID() string {
	return EditPrefix + uuid.NewString()
}

// NewAttemptID returns a fresh attempt ID. Attempt IDs also name Step
// Functions executions, which must be unique per state machine.
func NewAttemptID() string {
	return GenerateID(AttemptPrefix)
}

// ValidEditID reports whether id has the NewEditID shape.
func ValidEditID(id string) bool {
	rest, ok := strings.CutPrefix(id, EditPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
