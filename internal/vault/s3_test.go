package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in a map and supports single-part uploads only.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	bucket  string
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), bucket: bucket}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

var errMultipart = errors.New("multipart uploads not supported by fake")

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func TestS3Vault_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3("archive")
	v := NewS3Vault(client, "archive", "vitalsync/prod")

	content := "sealed envelope"
	if err := v.PutContent(ctx, "users/3/abc", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if _, ok := client.objects["vitalsync/prod/users/3/abc"]; !ok {
		t.Fatalf("object not stored under prefix, have %v", client.objects)
	}

	var buf bytes.Buffer
	if err := v.GetContent(ctx, "users/3/abc", &buf); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if buf.String() != content {
		t.Errorf("GetContent() = %q, want %q", buf.String(), content)
	}

	if err := v.DeleteContent(ctx, "users/3/abc"); err != nil {
		t.Fatalf("DeleteContent() error = %v", err)
	}
	if err := v.GetContent(ctx, "users/3/abc", &bytes.Buffer{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContent() after delete error = %v, want ErrNotFound", err)
	}
}

func TestS3Vault_ValidateSetup(t *testing.T) {
	client := newFakeS3("archive")

	if err := NewS3Vault(client, "archive", "").ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
	if err := NewS3Vault(client, "missing", "").ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for missing bucket")
	}
}

func TestS3Vault_InvalidKey(t *testing.T) {
	v := NewS3Vault(newFakeS3("b"), "b", "")
	if err := v.PutContent(context.Background(), "../x", strings.NewReader("x"), 1); err == nil {
		t.Error("PutContent() expected error for invalid key")
	}
}
