package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"
)

// Dispatcher starts a job without waiting for it to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// --- In-process ---

// InlineDispatcher runs each job on its own goroutine in this process.
type InlineDispatcher struct {
	runner Runner
	wg     sync.WaitGroup
}

// NewInlineDispatcher returns a dispatcher that calls runner.Run.
func NewInlineDispatcher(runner Runner) *InlineDispatcher {
	return &InlineDispatcher{runner: runner}
}

// Dispatch starts the job. The job keeps ctx's values but not its
// cancellation, so it outlives the request that started it.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job Job) error {
	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(runCtx, job); err != nil {
			log.Warn().Err(err).Str("attemptId", job.AttemptID).Str("editId", job.EditID).Msg("Inline job finished with error")
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// --- Lambda ---

type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaDispatcher sends the job to the worker Lambda with
// InvocationType=Event, so Dispatch returns as soon as Lambda queues it.
type LambdaDispatcher struct {
	client      lambdaInvoker
	functionARN string
}

// NewLambdaDispatcher creates a dispatcher targeting functionARN.
func NewLambdaDispatcher(client *lambdasvc.Client, functionARN string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, functionARN: functionARN}
}

func (d *LambdaDispatcher) Dispatch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal worker event: %w", err)
	}
	log.Debug().Int("payloadSize", len(payload)).Str("attemptId", job.AttemptID).Msg("Invoking worker Lambda asynchronously")

	_, err = d.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(d.functionARN),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke worker lambda: %w", err)
	}
	return nil
}

// --- Step Functions ---

type sfnStarter interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsDispatcher starts one state machine execution per attempt,
// named after the attempt ID. The state machine's task passes the job
// unchanged to the worker Lambda.
type StepFunctionsDispatcher struct {
	client          sfnStarter
	stateMachineARN string
}

// NewStepFunctionsDispatcher creates a dispatcher for stateMachineARN.
func NewStepFunctionsDispatcher(client *sfn.Client, stateMachineARN string) *StepFunctionsDispatcher {
	return &StepFunctionsDispatcher{client: client, stateMachineARN: stateMachineARN}
}

func (d *StepFunctionsDispatcher) Dispatch(ctx context.Context, job Job) error {
	input, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal execution input: %w", err)
	}
	log.Debug().
		Str("attemptId", job.AttemptID).
		Str("sfnArn", d.stateMachineARN).
		Msg("Starting edit pipeline execution")

	_, err = d.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(d.stateMachineARN),
		Input:           aws.String(string(input)),
		Name:            aws.String(job.AttemptID),
	})
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	return nil
}
