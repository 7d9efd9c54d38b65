package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

type stubPresigner struct {
	key string
}

func (p *stubPresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	p.key = aws.ToString(in.Key)
	return &PresignedRequest{URL: "https://bucket.example/" + p.key + "?X-Amz-Signature=abc"}, nil
}

func TestS3BlobStore_PutReturnsReference(t *testing.T) {
	api := new(mockS3)
	store := NewS3BlobStoreWithClient(api, &stubPresigner{}, "scans-bucket", 0)

	api.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "scans-bucket" &&
			aws.ToString(in.Key) == "scans/p-1/1_s-1" &&
			aws.ToString(in.ContentType) == "image/jpeg"
	})).Return(&s3.PutObjectOutput{}, nil)

	ref, err := store.Put(context.Background(), "scans/p-1/1_s-1", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "s3://scans-bucket/scans/p-1/1_s-1", ref)
	api.AssertExpectations(t)
}

func TestS3BlobStore_PutFailureIsUpstream(t *testing.T) {
	api := new(mockS3)
	store := NewS3BlobStoreWithClient(api, &stubPresigner{}, "b", 0)
	api.On("PutObject", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := store.Put(context.Background(), "k", []byte("x"), "image/png")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUpstream))
}

func TestS3BlobStore_GetAndExists(t *testing.T) {
	api := new(mockS3)
	store := NewS3BlobStoreWithClient(api, &stubPresigner{}, "b", 0)

	api.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "scans/p-1/1_s-1"
	})).Return(&s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader("png-bytes")),
		ContentType: aws.String("image/png"),
	}, nil)
	api.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "missing"
	})).Return(nil, &types.NotFound{})

	data, contentType, err := store.Get(context.Background(), "s3://b/scans/p-1/1_s-1")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", contentType)

	exists, err := store.Exists(context.Background(), "s3://b/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists(context.Background(), "s3://other/missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3BlobStore_GetMissingIsNotFound(t *testing.T) {
	api := new(mockS3)
	store := NewS3BlobStoreWithClient(api, &stubPresigner{}, "b", 0)
	api.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	_, _, err := store.Get(context.Background(), "s3://b/gone")
	assert.True(t, apperrors.IsNotFound(err))

	_, _, err = store.Get(context.Background(), "https://elsewhere/x")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestS3BlobStore_URLIsPresigned(t *testing.T) {
	presigner := &stubPresigner{}
	store := NewS3BlobStoreWithClient(new(mockS3), presigner, "b", time.Minute)

	url, err := store.URL(context.Background(), "s3://b/scans/p-1/1_s-1")
	require.NoError(t, err)
	assert.Contains(t, url, "X-Amz-Signature")
	assert.Equal(t, "scans/p-1/1_s-1", presigner.key)
}

func TestMemoryBlobStore(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()

	ref, err := store.Put(ctx, "scans/p-1/1_s-1", []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "mem://scans/p-1/1_s-1", ref)

	exists, err := store.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)

	data, contentType, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))
	assert.Equal(t, "image/png", contentType)

	url, err := store.URL(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aW1n", url)

	_, _, err = store.Get(ctx, "mem://missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = store.Put(ctx, "", []byte("x"), "image/png")
	assert.Error(t, err)
}
