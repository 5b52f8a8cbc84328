package processor

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/halsaram/mission-pipeline/internal/s3util"
)

// S3Fetcher adapts the S3 client to the ObjectFetcher interface.
type S3Fetcher struct {
	Client *s3.Client
}

var _ ObjectFetcher = (*S3Fetcher)(nil)

func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) (*s3util.Object, error) {
	return s3util.FetchObject(ctx, f.Client, bucket, key)
}
