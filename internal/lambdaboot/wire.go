package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/chat"
	"github.com/fpang/ai-photo-editor/internal/config"
	"github.com/fpang/ai-photo-editor/internal/events"
	"github.com/fpang/ai-photo-editor/internal/jobs"
	"github.com/fpang/ai-photo-editor/internal/logging"
	"github.com/fpang/ai-photo-editor/internal/orchestrator"
	"github.com/fpang/ai-photo-editor/internal/retouch"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// Runtime is a fully wired edit pipeline.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Blobs        blob.Store
	Startup      *logging.StartupLogger
}

// Close releases the store.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// Build resolves every backend named by cfg and returns the wired pipeline.
// name labels the startup log line.
func Build(ctx context.Context, name string, cfg config.Config) (*Runtime, error) {
	initStart := time.Now()
	startup := logging.NewStartupLogger(name)

	var clients AWSClients
	if cfg.NeedsAWS() {
		var err error
		if clients, err = InitAWS(ctx); err != nil {
			return nil, err
		}
	}

	rt := &Runtime{Startup: startup}

	switch cfg.StoreBackend {
	case config.StoreDynamo:
		rt.Store = InitDynamo(clients.Config, cfg.DynamoTable)
		startup.Resource(logging.ResourceDynamoTable, "edits", cfg.DynamoTable)
	default:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.Store = st
		startup.Resource(logging.ResourceSQLite, "edits", st.Path())
	}

	switch cfg.BlobBackend {
	case config.BlobS3:
		rt.Blobs = InitS3(clients.Config, cfg.MediaBucket)
		startup.Resource(logging.ResourceS3Bucket, "media", cfg.MediaBucket)
	default:
		fs, err := blob.NewFileStore(cfg.BlobDir)
		if err != nil {
			rt.Store.Close()
			return nil, err
		}
		rt.Blobs = fs
		startup.Resource(logging.ResourceBlobDir, "images", fs.Dir())
	}

	apiKey, keySource, err := LoadGeminiKey(ctx, clients.SSM)
	if err != nil {
		rt.Store.Close()
		return nil, err
	}
	if clients.SSM != nil && keySource != "env" {
		startup.Resource(logging.ResourceSSMParam, "geminiApiKey", keySource)
	} else {
		startup.Config("geminiKeySource", keySource)
	}
	genaiClient, err := chat.NewGenAIClient(ctx, apiKey)
	if err != nil {
		rt.Store.Close()
		return nil, err
	}
	vision := chat.NewVisionClient(genaiClient, cfg.GeminiModel)
	imageOpts := []chat.ImageOption{}
	if cfg.GeminiImageModel != "" {
		imageOpts = append(imageOpts, chat.WithImageModel(cfg.GeminiImageModel))
	}
	generator := chat.NewGeminiImageClient(apiKey, imageOpts...)

	deps := orchestrator.Deps{
		Store:     rt.Store,
		Blobs:     rt.Blobs,
		Generator: generator,
		Analyzer:  vision,
		Inferrer:  vision,
		Adjuster:  retouch.New(),
	}
	switch cfg.DispatchMode {
	case config.DispatchLambda:
		deps.Dispatcher = jobs.NewLambdaDispatcher(lambdasvc.NewFromConfig(clients.Config), cfg.WorkerLambdaARN)
		startup.Resource(logging.ResourceLambda, "worker", cfg.WorkerLambdaARN)
	case config.DispatchSFN:
		deps.Dispatcher = jobs.NewStepFunctionsDispatcher(sfn.NewFromConfig(clients.Config), cfg.StateMachineARN)
		startup.Resource(logging.ResourceStateMachine, "edit", cfg.StateMachineARN)
	}
	if cfg.EventBusName != "" {
		deps.Notifier = events.NewEventBridgeNotifier(eventbridge.NewFromConfig(clients.Config), cfg.EventBusName)
		startup.Resource(logging.ResourceEventBus, "attempts", cfg.EventBusName)
	}

	rt.Orchestrator, err = orchestrator.New(deps, orchestrator.Config{
		GenerateTimeout: cfg.GenerateTimeout,
		AnalyzeTimeout:  cfg.AnalyzeTimeout,
		InferTimeout:    cfg.InferTimeout,
		AttemptTimeout:  cfg.AttemptTimeout,
	})
	if err != nil {
		rt.Store.Close()
		return nil, fmt.Errorf("wire orchestrator: %w", err)
	}

	startup.
		Config("visionModel", vision.Model()).
		Config("imageModel", generator.Model()).
		Config("dispatch", cfg.DispatchMode).
		Config("generateTimeout", cfg.GenerateTimeout.String()).
		Config("attemptTimeout", cfg.AttemptTimeout.String()).
		Feature("events", deps.Notifier != nil).
		InitDuration(time.Since(initStart))
	return rt, nil
}
