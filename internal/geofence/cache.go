package geofence

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/halsaram/mission-pipeline/internal/s3util"
)

// Loader fetches the raw boundary GeoJSON document.
type Loader func(ctx context.Context) ([]byte, error)

// S3Loader returns a Loader reading the boundary document from S3.
func S3Loader(client *s3.Client, bucket, key string) Loader {
	return func(ctx context.Context) ([]byte, error) {
		return s3util.GetBytes(ctx, client, bucket, key)
	}
}

// Cache holds the parsed boundary for the process lifetime. The first call to
// Boundary loads and parses the document; later calls return the cached
// result. A load failure is not cached, so the next invocation retries on a
// warm Lambda container.
type Cache struct {
	district string
	load     Loader

	mu       sync.Mutex
	boundary *Boundary
}

// NewCache creates a boundary cache for the named district.
func NewCache(district string, load Loader) *Cache {
	return &Cache{district: district, load: load}
}

// Boundary returns the cached boundary, loading it on first use.
func (c *Cache) Boundary(ctx context.Context) (*Boundary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.boundary != nil {
		return c.boundary, nil
	}

	loadStart := time.Now()
	doc, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	boundary, err := ParseBoundary(doc, c.district)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("district", c.district).
		Int("polygons", len(boundary.polygons)).
		Dur("loadDuration", time.Since(loadStart)).
		Msg("District boundary loaded and cached")

	c.boundary = boundary
	return c.boundary, nil
}
