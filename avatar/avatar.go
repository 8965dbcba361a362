// Package avatar stores profile pictures as single JPEG objects in S3, one per
// identity.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gurre/cognito-profile/aws"
	"github.com/gurre/cognito-profile/errs"
)

// ContentType is the fixed content type of every avatar object.
const ContentType = "image/jpeg"

// Store uploads and downloads avatar bytes by identity id.
type Store interface {
	Upload(ctx context.Context, identityID string, data []byte) error
	Download(ctx context.Context, identityID string) ([]byte, error)
	Delete(ctx context.Context, identityID string) error
}

// Key returns the object key for an identity's avatar.
func Key(identityID string) string {
	return identityID + ".jpg"
}

// S3Store implements Store on a single bucket.
// Example:
//
//	store := avatar.NewS3Store(s3.NewFromConfig(cfg), "profile-avatars")
//	img, err := store.Download(ctx, "eu-west-1:1c7a...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if img == nil {
//	    fmt.Println("no avatar")
//	}
type S3Store struct {
	client aws.S3Client
	bucket string
}

// NewS3Store creates a store for bucket.
func NewS3Store(client aws.S3Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Upload writes data as the identity's avatar. Empty data is a no-op.
func (s *S3Store) Upload(ctx context.Context, identityID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if identityID == "" {
		return errs.Precondition("avatar.upload", "identity id is required")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           awssdk.String(Key(identityID)),
		Body:          bytes.NewReader(data),
		ContentType:   awssdk.String(ContentType),
		ContentLength: awssdk.Int64(int64(len(data))),
	})
	if err != nil {
		return errs.Transport("avatar.upload", err)
	}
	return nil
}

// Download returns the identity's avatar. A missing object returns (nil, nil).
func (s *S3Store) Download(ctx context.Context, identityID string) ([]byte, error) {
	if identityID == "" {
		return nil, errs.Precondition("avatar.download", "identity id is required")
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    awssdk.String(Key(identityID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil
		}
		// Some S3-compatible stores answer with NotFound instead
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, errs.Transport("avatar.download", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport("avatar.download", fmt.Errorf("failed to read %s: %w", Key(identityID), err))
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// Delete removes the identity's avatar. Deleting a missing object succeeds.
func (s *S3Store) Delete(ctx context.Context, identityID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    awssdk.String(Key(identityID)),
	})
	if err != nil {
		return errs.Transport("avatar.delete", err)
	}
	return nil
}
