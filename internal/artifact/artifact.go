// Package artifact writes the large, unstructured objects the tabular store
// only references by key: screenshots, distilled content, async job
// results, and cached results. It is the source of truth for the pixels and
// the large JSON; the tabular store holds only the blob path.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/fetchframe/webextract-api/internal/config"
)

// Store writes and reads blobs from an S3-compatible bucket, adapted from
// the teacher's object-storage client construction for Tigris/R2-style
// path-style endpoints.
type Store struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewStore builds a Store from cfg. When storage is not configured, the
// returned Store has enabled=false and every write is a no-op that logs and
// returns nil, so callers needn't special-case a disabled artifact store.
func NewStore(ctx context.Context, cfg *appconfig.Config, logger *slog.Logger) (*Store, error) {
	if !cfg.StorageEnabled {
		return &Store{enabled: false, logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.StorageRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey, cfg.StorageSecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		}
		o.UsePathStyle = true
	})

	return &Store{client: client, bucket: cfg.StorageBucket, enabled: true, logger: logger}, nil
}

// Enabled reports whether the store is backed by a real bucket.
func (s *Store) Enabled() bool {
	return s.enabled
}

// Put writes data at key with the given content type.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !s.enabled {
		if s.logger != nil {
			s.logger.Debug("artifact: storage disabled, skipping write", "key", key)
		}
		return nil
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifact: put %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.enabled {
		return nil, fmt.Errorf("artifact: storage disabled")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("artifact: delete %s: %w", key, err)
	}
	return nil
}

// PurgeOlderThan deletes every object under prefix last modified before
// cutoff, paginating through the bucket listing, and returns the count
// removed. Used by the retention janitor for logs/ and results/.
func (s *Store) PurgeOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	removed := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("artifact: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}
			if err := s.Delete(ctx, aws.ToString(obj.Key)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Key builders for the four blob classes the artifact store manages.

// ScreenshotKey builds the key for a screenshot, e.g. "logs/<id>.png".
func ScreenshotKey(id, ext string) string {
	return fmt.Sprintf("logs/%s.%s", id, ext)
}

// ContentKey builds the key for distilled page content.
func ContentKey(id string) string {
	return fmt.Sprintf("logs/%s.txt", id)
}

// ResultKey builds the key for an async job's JSON result.
func ResultKey(id string) string {
	return fmt.Sprintf("results/%s.json", id)
}

// CacheKey builds the key for a cached result, keyed by fingerprint.
func CacheKey(fingerprint string) string {
	return fmt.Sprintf("cache/%s.json", fingerprint)
}
