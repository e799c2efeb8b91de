package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ai-photo-editor/internal/adjust"
	"github.com/fpang/ai-photo-editor/internal/store"
)

func sampleJob() Job {
	return Job{
		AttemptID:     NewAttemptID(),
		Kind:          store.KindParametric,
		EditID:        NewEditID(),
		Strength:      100,
		SourceImageID: "img-src",
		Vector:        &adjust.Vector{Brightness: 20},
	}
}

func TestIDs(t *testing.T) {
	a, b := NewAttemptID(), NewAttemptID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, AttemptPrefix))
	assert.Len(t, a, len(AttemptPrefix)+32)

	id := NewEditID()
	assert.True(t, ValidEditID(id))
	assert.False(t, ValidEditID("edit-../../etc"))
	assert.False(t, ValidEditID(strings.TrimPrefix(id, EditPrefix)))
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		path       string
		id, action string
		ok         bool
	}{
		{"/api/edits/edit-1", "edit-1", "", true},
		{"/api/edits/edit-1/", "edit-1", "", true},
		{"/api/edits/edit-1/history", "edit-1", "history", true},
		{"/api/edits/", "", "", false},
		{"/api/edits/edit-1/history/extra", "", "", false},
		{"/api/other/edit-1", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, ok := ParseRoute(tt.path, "/api/edits/")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestJobValidate(t *testing.T) {
	ok := sampleJob()
	assert.NoError(t, ok.Validate())

	noVector := sampleJob()
	noVector.Vector = nil
	assert.Error(t, noVector.Validate())
	noVector.Prompt = "warmer"
	assert.NoError(t, noVector.Validate())

	badStrength := sampleJob()
	badStrength.Strength = 101
	assert.Error(t, badStrength.Validate())

	gen := sampleJob()
	gen.Kind = store.KindGenerative
	gen.Vector = nil
	assert.Error(t, gen.Validate())
	gen.RefinedPrompt = "Edit this photo as follows: add fog"
	assert.NoError(t, gen.Validate())

	unknown := sampleJob()
	unknown.Kind = "sculpt"
	assert.Error(t, unknown.Validate())
}

type recordingRunner struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (r *recordingRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job.AttemptID)
	return r.err
}

func TestInlineDispatcher_OutlivesRequestContext(t *testing.T) {
	runner := &recordingRunner{err: errors.New("boom")}
	d := NewInlineDispatcher(runner)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Dispatch(ctx, sampleJob()))
	}
	cancel()
	d.Wait()
	assert.Len(t, runner.seen, 5)
}

type fakeLambda struct {
	input *lambdasvc.InvokeInput
	err   error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambdasvc.InvokeInput, _ ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error) {
	f.input = in
	return &lambdasvc.InvokeOutput{StatusCode: 202}, f.err
}

func TestLambdaDispatcher(t *testing.T) {
	fl := &fakeLambda{}
	d := &LambdaDispatcher{client: fl, functionARN: "arn:aws:lambda:us-east-1:1:function:edit-worker"}
	job := sampleJob()

	require.NoError(t, d.Dispatch(context.Background(), job))
	assert.Equal(t, lambdatypes.InvocationTypeEvent, fl.input.InvocationType)
	assert.Equal(t, "arn:aws:lambda:us-east-1:1:function:edit-worker", *fl.input.FunctionName)

	var got Job
	require.NoError(t, json.Unmarshal(fl.input.Payload, &got))
	assert.Equal(t, job, got)

	fl.err = errors.New("throttled")
	assert.ErrorContains(t, d.Dispatch(context.Background(), job), "throttled")
}

type fakeSFN struct {
	input *sfn.StartExecutionInput
}

func (f *fakeSFN) StartExecution(_ context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.input = in
	return &sfn.StartExecutionOutput{}, nil
}

func TestStepFunctionsDispatcher(t *testing.T) {
	fs := &fakeSFN{}
	d := &StepFunctionsDispatcher{client: fs, stateMachineARN: "arn:sm"}
	job := sampleJob()

	require.NoError(t, d.Dispatch(context.Background(), job))
	assert.Equal(t, job.AttemptID, *fs.input.Name)
	assert.Equal(t, "arn:sm", *fs.input.StateMachineArn)

	var got Job
	require.NoError(t, json.Unmarshal([]byte(*fs.input.Input), &got))
	assert.Equal(t, job.EditID, got.EditID)
}
