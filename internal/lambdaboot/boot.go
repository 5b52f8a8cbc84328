// Package lambdaboot holds the cold-start bootstrap helpers shared by the
// photo Lambda and missionctl: AWS config, service clients, environment
// defaults, and the SSM-backed Gemini API key.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/logging"
)

// Environment defaults. Each is overridable with the matching env var.
const (
	DefaultProgressTable = "MissionProgress"
	DefaultMissionsTable = "Missions_Live"
	DefaultDistrict      = "Songpa-gu"
	DefaultPromptsBucket = "halsaram-prompts"
	DefaultPromptsPrefix = "processPrompts/"
	defaultAPIKeyParam   = "/halsaram/prod/gemini-api-key"
)

// AWSClients holds the core AWS SDK clients shared across entry points.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on failure: nothing in the
// pipeline can run without it.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// NewS3 creates an S3 client from the loaded config.
func NewS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// NewDynamo creates a DynamoDB client from the loaded config.
func NewDynamo(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}

// PipelineEnv is the resolved environment configuration for the pipeline.
type PipelineEnv struct {
	ProgressTable string
	MissionsTable string
	District      string
	GeoBucket     string
	GeoKey        string
	PromptsBucket string
	PromptsPrefix string
}

// LoadPipelineEnv resolves the pipeline configuration from the environment,
// applying defaults where unset. GEO_BUCKET and GEO_KEY have no sensible
// default and are required.
func LoadPipelineEnv() PipelineEnv {
	env := PipelineEnv{
		ProgressTable: logging.EnvOrDefault("PROGRESS_TABLE", DefaultProgressTable),
		MissionsTable: logging.EnvOrDefault("MISSIONS_TABLE", DefaultMissionsTable),
		District:      logging.EnvOrDefault("DISTRICT_NAME", DefaultDistrict),
		GeoBucket:     os.Getenv("GEO_BUCKET"),
		GeoKey:        os.Getenv("GEO_KEY"),
		PromptsBucket: logging.EnvOrDefault("PROMPTS_BUCKET", DefaultPromptsBucket),
		PromptsPrefix: logging.EnvOrDefault("PROMPTS_PREFIX", DefaultPromptsPrefix),
	}
	if env.GeoBucket == "" || env.GeoKey == "" {
		log.Fatal().Msg("GEO_BUCKET and GEO_KEY are required")
	}
	return env
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store if not
// already set via GEMINI_API_KEY env var. Fatals on error.
func LoadGeminiKey(ssmClient *ssm.Client) {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return
	}
	paramName := os.Getenv("SSM_API_KEY_PARAM")
	if paramName == "" {
		paramName = defaultAPIKeyParam
	}
	ssmStart := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read API key from SSM")
	}
	os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
