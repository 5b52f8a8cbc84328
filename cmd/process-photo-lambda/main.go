// Package main is the Lambda entry point for mission photo verification.
//
// This Lambda is triggered by S3 ObjectCreated events on the photo upload
// bucket. For each uploaded photo, it:
//
//  1. Resolves the mission, user, and step from object metadata or key path
//  2. Checks the upload against the mission time window
//  3. Checks the photo's EXIF GPS position against the district boundary
//  4. Asks the Gemini vision model whether the photo shows the step
//  5. Appends the outcome to the progress table and advances the aggregate
//  6. Writes the at-most-once completion marker when all steps are approved
//
// Memory: 512 MB
// Timeout: 2 minutes
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/geofence"
	"github.com/halsaram/mission-pipeline/internal/lambdaboot"
	"github.com/halsaram/mission-pipeline/internal/logging"
	"github.com/halsaram/mission-pipeline/internal/mission"
	"github.com/halsaram/mission-pipeline/internal/processor"
	"github.com/halsaram/mission-pipeline/internal/progress"
	"github.com/halsaram/mission-pipeline/internal/prompt"
	"github.com/halsaram/mission-pipeline/internal/verdict"
)

var coldStart = true

// Pipeline components initialized at cold start.
var (
	env  lambdaboot.PipelineEnv
	proc *processor.Processor
)

func init() {
	initStart := time.Now()
	logging.Init()

	awsClients := lambdaboot.InitAWS()
	env = lambdaboot.LoadPipelineEnv()
	s3Client := lambdaboot.NewS3(awsClients.Config)
	ddbClient := lambdaboot.NewDynamo(awsClients.Config)

	lambdaboot.LoadGeminiKey(awsClients.SSM)
	geminiClient, err := verdict.NewGeminiClient(context.Background(), os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Gemini client")
	}

	proc = &processor.Processor{
		Objects:  &processor.S3Fetcher{Client: s3Client},
		Missions: mission.NewDynamoCatalog(ddbClient, env.MissionsTable),
		Progress: progress.NewDynamoStore(ddbClient, env.ProgressTable),
		Prompts:  prompt.NewProvider(prompt.S3Source(s3Client, env.PromptsBucket, env.PromptsPrefix)),
		Verdicts: geminiClient,
		Boundary: geofence.NewCache(env.District, geofence.S3Loader(s3Client, env.GeoBucket, env.GeoKey)),
	}

	lambdaboot.StartupLog("process-photo-lambda", initStart).
		S3Bucket("boundary", env.GeoBucket).
		S3Bucket("prompts", env.PromptsBucket).
		DynamoTable("progress", env.ProgressTable).
		DynamoTable("missions", env.MissionsTable).
		Config("district", env.District).
		Config("promptsPrefix", env.PromptsPrefix).
		Log()
}

func main() {
	lambda.Start(handler)
}
