package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/GoCodeAlone/gameserver/storage"
)

// S3Storage implements storage.Provider on an S3 bucket.
type S3Storage struct {
	client S3Client
	bucket string
}

var _ storage.Provider = (*S3Storage)(nil)

// NewS3Storage creates an S3Storage for bucket.
func NewS3Storage(client S3Client, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

// NewS3StorageFromConfig creates an S3Storage using the SDK client. Path
// style addressing is enabled when the config carries a custom endpoint.
func NewS3StorageFromConfig(cfg awsv2.Config, bucket string) *S3Storage {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != nil {
			o.UsePathStyle = true
		}
	})
	return NewS3Storage(client, bucket)
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            awsv2.String(s.bucket),
			Prefix:            awsv2.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, s.wrap("list objects", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, awsv2.ToString(obj.Key))
		}
		if !awsv2.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(key),
	})
	if err != nil {
		return nil, s.wrap("get object", key, err)
	}
	return out.Body, nil
}

func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(key),
		Body:   r,
	})
	if err != nil {
		return s.wrap("put object", key, err)
	}
	return nil
}

// Delete checks that the object exists first; S3 itself reports success
// for missing keys.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(key),
	})
	if err != nil {
		return s.wrap("head object", key, err)
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(key),
	})
	if err != nil {
		return s.wrap("delete object", key, err)
	}
	return nil
}

func (s *S3Storage) wrap(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: s3://%s/%s", storage.ErrNotFound, s.bucket, key)
		}
	}
	return fmt.Errorf("aws: %s s3://%s/%s: %w", op, s.bucket, key, err)
}
