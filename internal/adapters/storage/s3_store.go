package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/pkg/config"
	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

const s3Scheme = "s3://"

// S3API is the subset of the S3 client used by the store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Presigner produces time-limited GET URLs
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest is the URL half of a presigned request
type PresignedRequest struct {
	URL string
}

type s3Presigner struct {
	client *s3.PresignClient
}

func (p *s3Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL}, nil
}

// S3BlobStore stores scan images in an S3 bucket. Image references have the
// form s3://{bucket}/{key}.
type S3BlobStore struct {
	api        S3API
	presigner  Presigner
	bucket     string
	presignTTL time.Duration
}

// NewS3BlobStore builds a store from the default AWS credential chain.
// A custom endpoint switches to path-style addressing for S3-compatible stores.
func NewS3BlobStore(ctx context.Context, cfg config.StorageConfig) (*S3BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	opts := s3.Options{
		Region:       awsCfg.Region,
		Credentials:  awsCfg.Credentials,
		HTTPClient:   awsCfg.HTTPClient,
		BaseEndpoint: awsCfg.BaseEndpoint,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	client := s3.New(opts)

	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 blob store configured")
	return NewS3BlobStoreWithClient(client, &s3Presigner{client: s3.NewPresignClient(client)}, cfg.Bucket, cfg.PresignTTL), nil
}

// NewS3BlobStoreWithClient wraps an existing client
func NewS3BlobStoreWithClient(api S3API, presigner Presigner, bucket string, presignTTL time.Duration) *S3BlobStore {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &S3BlobStore{api: api, presigner: presigner, bucket: bucket, presignTTL: presignTTL}
}

var _ providers.BlobStore = (*S3BlobStore)(nil)

// Put uploads data under key
func (s *S3BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", apperrors.NewUpstreamError("failed to upload scan image", err)
	}
	return s3Scheme + s.bucket + "/" + key, nil
}

// Get downloads the object behind imageRef
func (s *S3BlobStore) Get(ctx context.Context, imageRef string) ([]byte, string, error) {
	key, err := s.keyFor(imageRef)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, "", apperrors.NewNotFoundError("scan image not found")
		}
		return nil, "", apperrors.NewUpstreamError("failed to download scan image", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperrors.NewUpstreamError("failed to read scan image", err)
	}
	return data, aws.ToString(resp.ContentType), nil
}

// URL returns a presigned GET URL valid for the configured TTL
func (s *S3BlobStore) URL(ctx context.Context, imageRef string) (string, error) {
	key, err := s.keyFor(imageRef)
	if err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", apperrors.NewUpstreamError("failed to presign scan image", err)
	}
	return req.URL, nil
}

// Exists checks the object with HEAD
func (s *S3BlobStore) Exists(ctx context.Context, imageRef string) (bool, error) {
	key, err := s.keyFor(imageRef)
	if err != nil {
		return false, nil
	}
	_, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, apperrors.NewUpstreamError("failed to check scan image", err)
	}
	return true, nil
}

func (s *S3BlobStore) keyFor(imageRef string) (string, error) {
	prefix := s3Scheme + s.bucket + "/"
	if !strings.HasPrefix(imageRef, prefix) || len(imageRef) == len(prefix) {
		return "", apperrors.NewValidationError(fmt.Sprintf("image reference %q is not in bucket %s", imageRef, s.bucket))
	}
	return strings.TrimPrefix(imageRef, prefix), nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
