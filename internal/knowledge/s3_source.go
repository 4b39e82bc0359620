package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by S3Loader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads a JSON Snapshot document from S3.
type S3Loader struct {
	client S3API
	bucket string
	key    string
}

// NewS3Loader creates a loader for s3://bucket/key.
func NewS3Loader(client S3API, bucket, key string) *S3Loader {
	if client == nil {
		panic("knowledge: s3 client cannot be nil")
	}
	if key == "" {
		key = "knowledge/snapshot.json"
	}
	return &S3Loader{client: client, bucket: bucket, key: key}
}

func (l *S3Loader) Load(ctx context.Context) (*Snapshot, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: s3 get %s: %w", l.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("knowledge: decode snapshot: %w", err)
	}
	return &snap, nil
}
