package gcp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/spriteforge/spriteforge-backend/internal/platform/envutil"
	"github.com/spriteforge/spriteforge-backend/internal/platform/logger"
)

type BucketCategory string

const (
	// BucketCategoryImage holds full-size generated sprites.
	BucketCategoryImage BucketCategory = "image"
	// BucketCategoryThumb holds downscaled previews.
	BucketCategoryThumb BucketCategory = "thumb"
)

// BucketService is the object store behind image_ref/thumb_ref values. Refs
// are "<category>/<key>" strings resolvable through GetPublicURL.
type BucketService interface {
	UploadObject(ctx context.Context, category BucketCategory, key string, contentType string, data io.Reader) error
	DownloadObject(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, category BucketCategory, key string) error
	ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error)
	GetPublicURL(category BucketCategory, key string) string
}

type bucketService struct {
	log           *logger.Logger
	client        *storage.Client
	imageBucket   string
	thumbBucket   string
	publicBaseURL string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	imageBucket := envutil.String("IMAGE_GCS_BUCKET_NAME", "")
	thumbBucket := envutil.String("THUMB_GCS_BUCKET_NAME", "")
	if imageBucket == "" {
		return nil, fmt.Errorf("missing env var IMAGE_GCS_BUCKET_NAME")
	}
	if thumbBucket == "" {
		thumbBucket = imageBucket
	}

	var opts []option.ClientOption
	if emulator := envutil.String("STORAGE_EMULATOR_HOST", ""); emulator != "" {
		opts = append(opts, option.WithoutAuthentication())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	base := envutil.String("STORAGE_PUBLIC_BASE_URL", "https://storage.googleapis.com")

	return &bucketService{
		log:           serviceLog,
		client:        client,
		imageBucket:   imageBucket,
		thumbBucket:   thumbBucket,
		publicBaseURL: strings.TrimRight(base, "/"),
	}, nil
}

func (s *bucketService) bucketFor(category BucketCategory) string {
	if category == BucketCategoryThumb {
		return s.thumbBucket
	}
	return s.imageBucket
}

func (s *bucketService) UploadObject(ctx context.Context, category BucketCategory, key string, contentType string, data io.Reader) error {
	if key == "" {
		return fmt.Errorf("missing object key")
	}
	w := s.client.Bucket(s.bucketFor(category)).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s/%s: %w", category, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s/%s: %w", category, key, err)
	}
	return nil
}

func (s *bucketService) DownloadObject(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	if key == "" {
		return nil, fmt.Errorf("missing object key")
	}
	r, err := s.client.Bucket(s.bucketFor(category)).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", category, key, err)
	}
	return r, nil
}

func (s *bucketService) DeleteObject(ctx context.Context, category BucketCategory, key string) error {
	if key == "" {
		return nil
	}
	err := s.client.Bucket(s.bucketFor(category)).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("delete %s/%s: %w", category, key, err)
	}
	return nil
}

func (s *bucketService) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	var keys []string
	it := s.client.Bucket(s.bucketFor(category)).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", category, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *bucketService) GetPublicURL(category BucketCategory, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucketFor(category), key)
}
