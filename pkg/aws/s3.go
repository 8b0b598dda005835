package aws

import (
	"context"
	"fmt"
	"io"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStorage stores uploaded documents.
type ObjectStorage interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// S3Storage uploads objects into a single bucket with the S3 transfer manager.
type S3Storage struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Storage creates an S3Storage for bucket.
func NewS3Storage(cfg sdkaws.Config, bucket string) *S3Storage {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack only serves path-style addressing.
		o.UsePathStyle = true
	})
	return &S3Storage{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

// PutObject uploads body under key with server-side encryption and returns
// the object location.
func (s *S3Storage) PutObject(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               sdkaws.String(s.bucket),
		Key:                  sdkaws.String(key),
		Body:                 body,
		ContentType:          sdkaws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return out.Location, nil
}
