// Package jobs defines the unit of asynchronous edit work and the
// dispatchers that hand it to a worker: an in-process goroutine, an
// asynchronous Lambda invocation, or a Step Functions execution.
package jobs

import (
	"fmt"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// Job is one edit attempt. It is serialised as the worker Lambda event, so
// everything the attempt needs beyond the store travels in it.
type Job struct {
	AttemptID     string     `json:"attemptId"`
	Kind          store.Kind `json:"kind"`
	EditID        string     `json:"editId"`
	Strength      int        `json:"strength"`
	SourceImageID string     `json:"sourceImageId"`

	// Parametric: the base vector at baseline strength. Nil means Prompt
	// must be mapped onto a vector inside the attempt.
	Vector *adjust.Vector `json:"vector,omitempty"`

	// Generative: the user's prompt, the selected suggestion labels and the
	// refined instruction actually sent to the model. Parametric jobs use
	// Prompt only when Vector is nil.
	Prompt        string   `json:"prompt,omitempty"`
	Selections    []string `json:"selections,omitempty"`
	RefinedPrompt string   `json:"refinedPrompt,omitempty"`

	RequestedAt int64 `json:"requestedAt"`
}

// Validate checks that the job is runnable.
func (j Job) Validate() error {
	if j.AttemptID == "" || j.EditID == "" || j.SourceImageID == "" {
		return fmt.Errorf("job missing attemptId, editId or sourceImageId")
	}
	if err := adjust.ValidateStrength(j.Strength); err != nil {
		return err
	}
	switch j.Kind {
	case store.KindParametric:
		if j.Vector == nil && j.Prompt == "" {
			return fmt.Errorf("parametric job needs a vector or a prompt")
		}
		if j.Vector != nil {
			return adjust.Validate(*j.Vector)
		}
	case store.KindGenerative:
		if j.RefinedPrompt == "" {
			return fmt.Errorf("generative job needs a refined prompt")
		}
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return nil
}
