// Package s3util provides shared S3 helper functions used by the photo
// verification Lambda and the missionctl tool: object fetch with metadata,
// latest-document resolution under a prefix, and media-type guessing.
package s3util

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Object is one fetched S3 object: content plus the metadata the pipeline
// validates against. Metadata keys are lower-cased on fetch.
type Object struct {
	Bucket       string
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time // zero when S3 did not report one
}

// FetchObject downloads an object and normalizes its user metadata map to
// lower-cased keys.
func FetchObject(ctx context.Context, client *s3.Client, bucket, key string) (*Object, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Fetching object from S3")

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body %s/%s: %w", bucket, key, err)
	}

	obj := &Object{
		Bucket:   bucket,
		Key:      key,
		Data:     data,
		Metadata: make(map[string]string, len(result.Metadata)),
	}
	if result.ContentType != nil {
		obj.ContentType = *result.ContentType
	}
	if result.LastModified != nil {
		obj.LastModified = *result.LastModified
	}
	for k, v := range result.Metadata {
		obj.Metadata[strings.ToLower(k)] = v
	}

	log.Debug().
		Str("key", key).
		Int("bytes", len(data)).
		Str("contentType", obj.ContentType).
		Int("metadataKeys", len(obj.Metadata)).
		Msg("Object fetched")

	return obj, nil
}

// GetBytes downloads a whole object body. Used for configuration documents
// (boundary geometry, prompt config) rather than photo content.
func GetBytes(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// GuessMediaType returns the object's content type, falling back to an
// extension-based guess. JPEG is the default for unknown photo uploads.
func GuessMediaType(key, contentType string) string {
	if contentType != "" {
		return contentType
	}
	l := strings.ToLower(key)
	switch {
	case strings.HasSuffix(l, ".png"):
		return "image/png"
	case strings.HasSuffix(l, ".webp"):
		return "image/webp"
	case strings.HasSuffix(l, ".heic"):
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
