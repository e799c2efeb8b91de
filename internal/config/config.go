// Package config resolves runtime settings from the environment. Local runs
// may put them in a .env file; Lambda functions get them from the function
// configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Backend and dispatch mode values.
const (
	StoreDynamo    = "dynamo"
	StoreSQLite    = "sqlite"
	BlobS3         = "s3"
	BlobFile       = "file"
	DispatchInline = "inline"
	DispatchLambda = "lambda"
	DispatchSFN    = "sfn"
)

// Config is the resolved process configuration.
type Config struct {
	StoreBackend string `validate:"oneof=dynamo sqlite"`
	DynamoTable  string `validate:"required_if=StoreBackend dynamo"`
	SQLitePath   string `validate:"required_if=StoreBackend sqlite"`

	BlobBackend string `validate:"oneof=s3 file"`
	MediaBucket string `validate:"required_if=BlobBackend s3"`
	BlobDir     string `validate:"required_if=BlobBackend file"`

	DispatchMode    string `validate:"oneof=inline lambda sfn"`
	WorkerLambdaARN string `validate:"required_if=DispatchMode lambda"`
	StateMachineARN string `validate:"required_if=DispatchMode sfn"`

	EventBusName string

	GeminiModel      string
	GeminiImageModel string

	GenerateTimeout time.Duration `validate:"gt=0"`
	AnalyzeTimeout  time.Duration `validate:"gt=0"`
	InferTimeout    time.Duration `validate:"gt=0"`
	AttemptTimeout  time.Duration `validate:"gt=0"`

	HTTPAddr string
}

// Defaults for unset keys.
const (
	DefaultGenerateTimeout = 90 * time.Second
	DefaultAnalyzeTimeout  = 30 * time.Second
	DefaultInferTimeout    = 20 * time.Second
	DefaultAttemptTimeout  = 3 * time.Minute
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Ignoring unreadable .env file")
	}
	return FromEnv()
}

// FromEnv resolves the configuration from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		StoreBackend:     envOr("STORE_BACKEND", StoreSQLite),
		DynamoTable:      os.Getenv("DYNAMO_TABLE_NAME"),
		SQLitePath:       envOr("SQLITE_PATH", "data/photo-editor.db"),
		BlobBackend:      envOr("BLOB_BACKEND", BlobFile),
		MediaBucket:      os.Getenv("MEDIA_BUCKET_NAME"),
		BlobDir:          envOr("BLOB_DIR", "data/images"),
		DispatchMode:     envOr("DISPATCH_MODE", DispatchInline),
		WorkerLambdaARN:  os.Getenv("WORKER_LAMBDA_ARN"),
		StateMachineARN:  os.Getenv("EDIT_STATE_MACHINE_ARN"),
		EventBusName:     os.Getenv("EVENT_BUS_NAME"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		GeminiImageModel: os.Getenv("GEMINI_IMAGE_MODEL"),
		HTTPAddr:         envOr("HTTP_ADDR", ":8080"),
	}
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.BlobBackend = strings.ToLower(cfg.BlobBackend)
	cfg.DispatchMode = strings.ToLower(cfg.DispatchMode)

	var err error
	if cfg.GenerateTimeout, err = durationEnv("GENERATE_TIMEOUT", DefaultGenerateTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AnalyzeTimeout, err = durationEnv("ANALYZE_TIMEOUT", DefaultAnalyzeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.InferTimeout, err = durationEnv("INFER_TIMEOUT", DefaultInferTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AttemptTimeout, err = durationEnv("ATTEMPT_TIMEOUT", DefaultAttemptTimeout); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NeedsAWS reports whether any configured backend talks to AWS.
func (c Config) NeedsAWS() bool {
	return c.StoreBackend == StoreDynamo || c.BlobBackend == BlobS3 ||
		c.DispatchMode != DispatchInline || c.EventBusName != ""
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// durationEnv accepts Go duration strings ("90s", "2m") or bare seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if d, err := time.ParseDuration(raw + "s"); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
}
