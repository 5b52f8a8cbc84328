// Package main provides missionctl, the operator CLI for the photo
// verification pipeline. It runs the same pipeline code as the Lambda against
// a single object, checks coordinates against the district boundary, and
// shows the prompt configuration currently in effect.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/halsaram/mission-pipeline/internal/geofence"
	"github.com/halsaram/mission-pipeline/internal/lambdaboot"
	"github.com/halsaram/mission-pipeline/internal/logging"
	"github.com/halsaram/mission-pipeline/internal/mission"
	"github.com/halsaram/mission-pipeline/internal/processor"
	"github.com/halsaram/mission-pipeline/internal/progress"
	"github.com/halsaram/mission-pipeline/internal/prompt"
	"github.com/halsaram/mission-pipeline/internal/verdict"
)

// CLI flags
var (
	bucketFlag string
	keyFlag    string
	dryRunFlag bool
	latFlag    string
	lonFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "missionctl",
	Short: "Operate the mission photo verification pipeline",
	Long: `missionctl runs pipeline operations from a workstation using the same
code paths as the process-photo Lambda. Configuration comes from the same
environment variables the Lambda reads (GEO_BUCKET, GEO_KEY, PROGRESS_TABLE,
MISSIONS_TABLE, PROMPTS_BUCKET, DISTRICT_NAME).

Examples:
  missionctl process --bucket photo-uploads --key raw/m-1/u-9/0/IMG_1.jpg
  missionctl process --bucket photo-uploads --key raw/m-1/u-9/0/IMG_1.jpg --dry-run
  missionctl geofence --lat 37.5048 --lon 127.1144
  missionctl geofence --lat 37:30:17:N --lon 127:06:52:E
  missionctl prompt`,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one S3 object through the verification pipeline",
	Run:   runProcess,
}

var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Check a coordinate against the district boundary",
	Run:   runGeofence,
}

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Show the prompt configuration currently in effect",
	Run:   runPrompt,
}

func init() {
	processCmd.Flags().StringVar(&bucketFlag, "bucket", "", "S3 bucket of the photo")
	processCmd.Flags().StringVar(&keyFlag, "key", "", "S3 key of the photo")
	processCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Keep outcomes in memory instead of the progress table")
	processCmd.MarkFlagRequired("bucket")
	processCmd.MarkFlagRequired("key")

	geofenceCmd.Flags().StringVar(&latFlag, "lat", "", "Latitude, decimal degrees or deg:min:sec:REF")
	geofenceCmd.Flags().StringVar(&lonFlag, "lon", "", "Longitude, decimal degrees or deg:min:sec:REF")
	geofenceCmd.MarkFlagRequired("lat")
	geofenceCmd.MarkFlagRequired("lon")

	rootCmd.AddCommand(processCmd, geofenceCmd, promptCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runProcess(cmd *cobra.Command, args []string) {
	logging.Init()
	ctx := context.Background()

	awsClients := lambdaboot.InitAWS()
	env := lambdaboot.LoadPipelineEnv()
	s3Client := lambdaboot.NewS3(awsClients.Config)
	ddbClient := lambdaboot.NewDynamo(awsClients.Config)

	lambdaboot.LoadGeminiKey(awsClients.SSM)
	geminiClient, err := verdict.NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Gemini client")
	}

	var store progress.Store = progress.NewDynamoStore(ddbClient, env.ProgressTable)
	if dryRunFlag {
		log.Info().Msg("Dry run: outcomes will not be written to the progress table")
		store = progress.NewMemoryStore()
	}

	proc := &processor.Processor{
		Objects:  &processor.S3Fetcher{Client: s3Client},
		Missions: mission.NewDynamoCatalog(ddbClient, env.MissionsTable),
		Progress: store,
		Prompts:  prompt.NewProvider(prompt.S3Source(s3Client, env.PromptsBucket, env.PromptsPrefix)),
		Verdicts: geminiClient,
		Boundary: geofence.NewCache(env.District, geofence.S3Loader(s3Client, env.GeoBucket, env.GeoKey)),
	}

	summary, err := proc.ProcessBatch(ctx, []processor.Record{{Bucket: bucketFlag, Key: keyFlag}})
	if err != nil {
		log.Fatal().Err(err).Msg("Processing failed")
	}
	printJSON(summary)
}

func runGeofence(cmd *cobra.Command, args []string) {
	logging.Init()
	ctx := context.Background()

	lat, err := parseCoord(latFlag)
	if err != nil {
		log.Fatal().Err(err).Str("lat", latFlag).Msg("Invalid latitude")
	}
	lon, err := parseCoord(lonFlag)
	if err != nil {
		log.Fatal().Err(err).Str("lon", lonFlag).Msg("Invalid longitude")
	}

	awsClients := lambdaboot.InitAWS()
	env := lambdaboot.LoadPipelineEnv()
	s3Client := lambdaboot.NewS3(awsClients.Config)

	cache := geofence.NewCache(env.District, geofence.S3Loader(s3Client, env.GeoBucket, env.GeoKey))
	boundary, err := cache.Boundary(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load district boundary")
	}

	inside := boundary.Contains(lon, lat)
	printJSON(map[string]any{
		"district": boundary.District,
		"lat":      lat,
		"lon":      lon,
		"inside":   inside,
	})
	if !inside {
		os.Exit(1)
	}
}

func runPrompt(cmd *cobra.Command, args []string) {
	logging.Init()
	ctx := context.Background()

	awsClients := lambdaboot.InitAWS()
	env := lambdaboot.LoadPipelineEnv()
	s3Client := lambdaboot.NewS3(awsClients.Config)

	cfg := prompt.NewProvider(prompt.S3Source(s3Client, env.PromptsBucket, env.PromptsPrefix)).Config(ctx)
	printJSON(map[string]any{
		"resolved_key":         cfg.ResolvedKey,
		"model_id":             cfg.ModelID,
		"confidence_threshold": cfg.ConfidenceThreshold,
		"prompt_template":      cfg.PromptTemplate,
	})
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to render output")
	}
	fmt.Println(string(out))
}
