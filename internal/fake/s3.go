package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Object is a stored S3 object.
type Object struct {
	Body        []byte
	ContentType string
}

// S3Client is an in-memory bucket store implementing aws.S3Client.
type S3Client struct {
	mu      sync.RWMutex
	objects map[string]Object
	calls   []string

	fail failures
}

// NewS3Client creates an empty fake.
func NewS3Client() *S3Client {
	return &S3Client{objects: make(map[string]Object)}
}

// FailNext makes the next call of op ("GetObject", "PutObject", "DeleteObject") return err.
func (m *S3Client) FailNext(op string, err error) {
	m.fail.set(op, err)
}

func (m *S3Client) record(op string) {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	m.mu.Unlock()
}

func bucketKey(bucket, key *string) string {
	return fmt.Sprintf("%s/%s", aws.ToString(bucket), aws.ToString(key))
}

// GetObject returns the object or a NoSuchKey error.
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.record("GetObject")
	if err := m.fail.take("GetObject"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	obj, ok := m.objects[bucketKey(params.Bucket, params.Key)]
	m.mu.RUnlock()
	if !ok {
		return nil, &types.NoSuchKey{
			Message: aws.String(fmt.Sprintf("The specified key does not exist: %s", aws.ToString(params.Key))),
		}
	}

	contentLength := int64(len(obj.Body))
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Body)),
		ContentType:   aws.String(obj.ContentType),
		ContentLength: &contentLength,
	}, nil
}

// PutObject stores the body.
func (m *S3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.record("PutObject")
	if err := m.fail.take("PutObject"); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.objects[bucketKey(params.Bucket, params.Key)] = Object{Body: data, ContentType: aws.ToString(params.ContentType)}
	m.mu.Unlock()

	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("\"%x\"", len(data)))}, nil
}

// DeleteObject removes the object if present.
func (m *S3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.record("DeleteObject")
	if err := m.fail.take("DeleteObject"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.objects, bucketKey(params.Bucket, params.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

// Object returns the stored object and whether it exists.
func (m *S3Client) Object(bucket, key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucketKey(&bucket, &key)]
	return obj, ok
}

// Seed stores an object directly, bypassing call recording.
func (m *S3Client) Seed(bucket, key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucketKey(&bucket, &key)] = Object{Body: body, ContentType: "image/jpeg"}
}

// Calls returns the operations made so far, in order.
func (m *S3Client) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.calls...)
}
