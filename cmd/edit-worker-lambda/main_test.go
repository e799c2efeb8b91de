package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/metrics"
)

type recordingRunner struct {
	got []jobs.Job
	err error
}

func (r *recordingRunner) Run(_ context.Context, job jobs.Job) error {
	r.got = append(r.got, job)
	return r.err
}

func TestHandler(t *testing.T) {
	metrics.Output = io.Discard
	rr := &recordingRunner{}
	runner = rr

	job := jobs.Job{AttemptID: "att-1", EditID: "edit-1", Kind: "generative", Strength: 50}
	assert.NoError(t, handler(context.Background(), job))
	assert.Equal(t, []jobs.Job{job}, rr.got)
	assert.False(t, coldStart)

	rr.err = errors.New("upstream down")
	assert.NoError(t, handler(context.Background(), job), "failed attempts are not retried by Lambda")
	assert.Len(t, rr.got, 2)
}
