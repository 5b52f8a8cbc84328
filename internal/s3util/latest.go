package s3util

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// LatestKeyUnderPrefix lists all objects under the given prefix (paginated)
// and returns the key with the greatest last-modified time. Folder-marker
// entries (keys ending in "/") are skipped. Returns an error when the prefix
// holds no real objects.
//
// Versioned configuration documents are uploaded side by side under one
// prefix; the newest upload wins.
func LatestKeyUnderPrefix(ctx context.Context, client *s3.Client, bucket, prefix string) (string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	}

	var latestKey string
	var latestModified int64

	for {
		resp, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return "", fmt.Errorf("S3 ListObjectsV2 %s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range resp.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			if obj.LastModified == nil {
				continue
			}
			if mod := obj.LastModified.UnixNano(); latestKey == "" || mod > latestModified {
				latestKey = *obj.Key
				latestModified = mod
			}
		}

		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}

	if latestKey == "" {
		return "", fmt.Errorf("no document found under s3://%s/%s", bucket, prefix)
	}

	log.Debug().Str("bucket", bucket).Str("prefix", prefix).Str("key", latestKey).Msg("Resolved latest document under prefix")
	return latestKey, nil
}
