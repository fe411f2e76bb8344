package storage

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/mailflow/internal/errs"
)

// S3Store is the AWS-backed object store.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Store creates an object store over an AWS config.
func NewS3Store(awsCfg aws.Config) *S3Store {
	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
	}
}

// Download fetches an object's bytes.
func (s *S3Store) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "downloading s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "reading s3://%s/%s", bucket, key)
	}
	return data, nil
}

// Upload stores an object with its content type.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errs.Wrap(errs.Storage, err, "uploading s3://%s/%s", bucket, key)
	}
	return nil
}

// Delete removes an object. Raw-mail cleanup is lifecycle policy, so
// the pipelines only call this from operational tooling.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.Wrap(errs.Storage, err, "deleting s3://%s/%s", bucket, key)
	}
	return nil
}

// PresignGet generates a time-limited GET URL for an object.
func (s *S3Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, errs.Wrap(errs.Storage, err, "presigning s3://%s/%s", bucket, key)
	}
	return req.URL, time.Now().UTC().Add(ttl), nil
}
