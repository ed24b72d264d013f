// Package storage provides the blob store holding raw uploads, extracted
// text, and embedding snapshots.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(
		NewS3Store,
		fx.Annotate(
			func(s *S3Store) BlobStore { return s },
			fx.As(new(BlobStore)),
		),
	),
)

// BlobStore is the object storage used by the pipeline. Keys are opaque to
// callers; use the key helpers below so the layout stays in one place.
type BlobStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the prefix and returns the
	// number deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Key layout. Raw uploads keep the sanitized client filename so operators can
// recognize objects in the bucket; derived artifacts are keyed by id only.

// RawKey is where the original upload bytes live.
func RawKey(documentID, filename string) string {
	return fmt.Sprintf("raw/%s/%s", documentID, SanitizeFilename(filename))
}

// RawPrefix covers all raw objects of a document.
func RawPrefix(documentID string) string {
	return fmt.Sprintf("raw/%s/", documentID)
}

// ExtractedKey is where the extracted UTF-8 text lives.
func ExtractedKey(documentID string) string {
	return fmt.Sprintf("extracted/%s.txt", documentID)
}

// SnapshotKey is where an embed job's vector snapshot lives.
func SnapshotKey(jobID string) string {
	return fmt.Sprintf("embeddings/%s.snapshot", jobID)
}

// SanitizeFilename cleans a client-supplied filename for use in a storage key.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	re := regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sanitized := re.ReplaceAllString(filename, "_")

	re = regexp.MustCompile(`_{2,}`)
	sanitized = re.ReplaceAllString(sanitized, "_")

	sanitized = strings.Trim(sanitized, "_")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}

	if sanitized == "" {
		return "unnamed"
	}

	return sanitized
}

// S3Store implements BlobStore on any S3-compatible endpoint (MinIO in
// development, path-style addressing).
type S3Store struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// NewS3Store creates the S3 blob store and verifies configuration.
func NewS3Store(cfg *config.Config, log *slog.Logger) (*S3Store, error) {
	log = log.With(logger.Scope("storage"))

	if !cfg.Storage.IsConfigured() {
		return nil, fmt.Errorf("blob storage not configured: STORAGE_ENDPOINT, STORAGE_ACCESS_KEY, STORAGE_SECRET_KEY required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		o.UsePathStyle = cfg.Storage.UsePathStyle
	})

	log.Info("blob store initialized",
		slog.String("endpoint", cfg.Storage.Endpoint),
		slog.String("bucket", cfg.Storage.Bucket),
	)

	return &S3Store{
		client: client,
		bucket: cfg.Storage.Bucket,
		log:    log,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.log.Error("failed to put object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("put object: %w", err)
	}

	s.log.Debug("object stored",
		slog.String("key", key),
		slog.Int64("size", size),
	)
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return result.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to delete object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := s.Delete(ctx, *obj.Key); err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	s.log.Debug("prefix deleted",
		slog.String("prefix", prefix),
		slog.Int("objects", deleted),
	)
	return deleted, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "404") || strings.Contains(errStr, "NoSuchKey") {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}
