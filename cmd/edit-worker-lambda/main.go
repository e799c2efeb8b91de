// Package main is the worker Lambda. It is invoked asynchronously (by the
// API Lambda with InvocationType=Event, or as a Step Functions task) with a
// jobs.Job event and runs that edit attempt to a terminal status.
//
// Event format:
//
//	{
//	  "attemptId": "att-…",
//	  "kind": "parametric"|"generative",
//	  "editId": "edit-…",
//	  "strength": 50,
//	  "sourceImageId": "img-…",
//	  ...kind-specific fields
//	}
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/config"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/lambdaboot"
	"github.com/fpang/ai-photo-editor/internal/logging"
	"github.com/fpang/ai-photo-editor/internal/metrics"
)

var coldStart = true

// Build-time version identity, injected via -ldflags.
var commitHash = "dev"

// runner is set at cold start.
var runner jobs.Runner

func setup() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	// The worker always runs attempts itself, whatever the API dispatches with.
	cfg.DispatchMode = config.DispatchInline

	rt, err := lambdaboot.Build(context.Background(), "edit-worker-lambda", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise edit pipeline")
	}
	runner = rt.Orchestrator
	rt.Startup.CommitHash(commitHash).InitDuration(time.Since(initStart)).Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, job jobs.Job) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "edit-worker-lambda").Msg("Cold start, first invocation")
	}
	log.Info().
		Str("attemptId", job.AttemptID).
		Str("editId", job.EditID).
		Str("kind", string(job.Kind)).
		Int("strength", job.Strength).
		Msg("Worker Lambda invoked")

	start := time.Now()
	err := runner.Run(ctx, job)
	rec := metrics.Edit("worker").Duration(metrics.WorkerMs, time.Since(start))
	if err != nil {
		rec.Count(metrics.WorkerError)
	}
	rec.Flush()

	// The failure is already recorded on the edit; returning it would make
	// Lambda retry an attempt that is not meant to be retried.
	if err != nil {
		log.Warn().Err(err).Str("attemptId", job.AttemptID).Msg("Attempt finished failed")
	}
	return nil
}
