package avatar

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gurre/cognito-profile/errs"
	"github.com/gurre/cognito-profile/internal/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "avatars"

func TestKey(t *testing.T) {
	assert.Equal(t, "eu-west-1:abc.jpg", Key("eu-west-1:abc"))
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	client := fake.NewS3Client()
	store := NewS3Store(client, testBucket)

	img := []byte{0xff, 0xd8, 0xff, 0xe0}
	require.NoError(t, store.Upload(ctx, "abc123", img))

	obj, ok := client.Object(testBucket, "abc123.jpg")
	require.True(t, ok)
	assert.Equal(t, ContentType, obj.ContentType)
	assert.Equal(t, img, obj.Body)

	got, err := store.Download(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestUploadEmptyIsNoop(t *testing.T) {
	client := fake.NewS3Client()
	store := NewS3Store(client, testBucket)

	assert.NoError(t, store.Upload(context.Background(), "abc123", nil))
	assert.NoError(t, store.Upload(context.Background(), "abc123", []byte{}))
	assert.Empty(t, client.Calls())
}

func TestUploadFailureIsTransport(t *testing.T) {
	client := fake.NewS3Client()
	store := NewS3Store(client, testBucket)
	client.FailNext("PutObject", errors.New("connection reset"))

	err := store.Upload(context.Background(), "abc123", []byte{1})
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestDownloadMissing(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no such key", &types.NoSuchKey{}},
		{"not found", &types.NotFound{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fake.NewS3Client()
			store := NewS3Store(client, testBucket)
			client.FailNext("GetObject", tt.err)

			got, err := store.Download(context.Background(), "abc123")
			assert.NoError(t, err)
			assert.Nil(t, got)
		})
	}

	t.Run("never uploaded", func(t *testing.T) {
		store := NewS3Store(fake.NewS3Client(), testBucket)
		got, err := store.Download(context.Background(), "abc123")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestDownloadFailureIsTransport(t *testing.T) {
	client := fake.NewS3Client()
	store := NewS3Store(client, testBucket)
	client.FailNext("GetObject", errors.New("access denied"))

	_, err := store.Download(context.Background(), "abc123")
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	client := fake.NewS3Client()
	store := NewS3Store(client, testBucket)
	client.Seed(testBucket, "abc123.jpg", []byte{1, 2})

	require.NoError(t, store.Delete(ctx, "abc123"))
	_, ok := client.Object(testBucket, "abc123.jpg")
	assert.False(t, ok)

	assert.NoError(t, store.Delete(ctx, "abc123"), "deleting twice succeeds")
}
