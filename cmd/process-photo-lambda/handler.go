package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/processor"
)

// Response is the API-Gateway-shaped payload returned to the invoker, also
// useful when the Lambda is invoked manually during debugging.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func handler(ctx context.Context, s3Event events.S3Event) (Response, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "process-photo-lambda").Msg("Cold start, first invocation")
	}

	records := collectRecords(s3Event)
	if len(records) == 0 {
		log.Warn().Msg("Event carried no usable records")
		return marshalResponse(&processor.BatchSummary{})
	}

	summary, err := proc.ProcessBatch(ctx, records)
	if err != nil {
		return Response{}, err
	}
	return marshalResponse(summary)
}

// collectRecords extracts (bucket, key) pairs from the event, URL-decoding
// keys: S3 notification payloads encode spaces and non-ASCII key characters.
// A manually invoked empty event falls back to DEBUG_BUCKET/DEBUG_KEY so one
// object can be pushed through the pipeline without staging a notification.
func collectRecords(s3Event events.S3Event) []processor.Record {
	var records []processor.Record
	for _, r := range s3Event.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			log.Warn().Err(err).Str("rawKey", r.S3.Object.Key).Msg("Key is not URL-decodable, using raw value")
			key = r.S3.Object.Key
		}
		records = append(records, processor.Record{
			Bucket: r.S3.Bucket.Name,
			Key:    key,
		})
	}

	if len(records) == 0 {
		debugBucket := os.Getenv("DEBUG_BUCKET")
		debugKey := os.Getenv("DEBUG_KEY")
		if debugBucket != "" && debugKey != "" {
			log.Info().Str("bucket", debugBucket).Str("key", debugKey).Msg("No event records, using debug object")
			records = append(records, processor.Record{Bucket: debugBucket, Key: debugKey})
		}
	}
	return records
}

func marshalResponse(summary *processor.BatchSummary) (Response, error) {
	if summary.Results == nil {
		summary.Results = []processor.RecordResult{}
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return Response{}, fmt.Errorf("marshal response body: %w", err)
	}
	return Response{StatusCode: 200, Body: string(body)}, nil
}
