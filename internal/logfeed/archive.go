package logfeed

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the part of the S3 API the archiver needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver copies rotated files to a bucket under prefix/<stream>/<file>.
type S3Archiver struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3Archiver(client S3Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// NewS3ArchiverFromConfig builds the S3 client from a loaded AWS config. A
// non-empty endpoint targets an S3-compatible service with path-style URLs.
func NewS3ArchiverFromConfig(cfg aws.Config, bucket, prefix, endpoint string) *S3Archiver {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Archiver(client, bucket, prefix)
}

func (a *S3Archiver) Archive(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open archive source: %w", err)
	}
	defer f.Close()

	stream := filepath.Base(filepath.Dir(file))
	key := path.Join(a.prefix, stream, filepath.Base(file))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
