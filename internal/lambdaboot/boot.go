// Package lambdaboot provides the shared cold-start bootstrap used by every
// entry point: AWS config, the S3 and DynamoDB backends, the Gemini API key
// from SSM, and startup logging. Build composes these into a ready
// Orchestrator so each main is a short call sequence.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/auth"
	"github.com/fpang/ai-photo-editor/internal/blob"
	"github.com/fpang/ai-photo-editor/internal/store"
)

// DefaultGeminiKeyParam is the SSM parameter read when SSM_API_KEY_PARAM is
// unset.
const DefaultGeminiKeyParam = "/photo-editor/prod/gemini-api-key"

// AWSClients holds the core AWS SDK config and clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitS3 creates the S3 blob store for bucket.
func InitS3(cfg aws.Config, bucket string) *blob.S3Store {
	client := s3.NewFromConfig(cfg)
	return blob.NewS3Store(client, s3.NewPresignClient(client), bucket)
}

// InitDynamo creates the DynamoDB edit store on tableName.
func InitDynamo(cfg aws.Config, tableName string) *store.DynamoStore {
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// LoadGeminiKey returns GEMINI_API_KEY, falling back to the SSM parameter
// named by SSM_API_KEY_PARAM. With a nil ssmClient (local runs) the
// fallback is the GPG credentials file instead.
func LoadGeminiKey(ctx context.Context, ssmClient *ssm.Client) (key, source string, err error) {
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		return k, "env", nil
	}
	if ssmClient == nil {
		return auth.GetAPIKey(ctx)
	}
	paramName := os.Getenv("SSM_API_KEY_PARAM")
	if paramName == "" {
		paramName = DefaultGeminiKeyParam
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", "", fmt.Errorf("read API key from SSM %s: %w", paramName, err)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	return aws.ToString(result.Parameter.Value), paramName, nil
}
