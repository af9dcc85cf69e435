package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/folio-org/mod-data-export/pkg/objectstore"
)

// maxDeleteBatch is the S3 DeleteObjects limit.
const maxDeleteBatch = 1000

// API is the subset of the S3 client the store calls.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store implements objectstore.Storage on S3.
type Store struct {
	client API
	bucket string
	prefix string
}

var _ objectstore.Storage = (*Store)(nil)

// New builds an S3 client from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &objectstore.StorageError{Op: "New", Backend: objectstore.BackendS3, Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client API, cfg Config) *Store {
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.keyPrefix()}
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) key(p string) string {
	return s.prefix + strings.TrimPrefix(p, "/")
}

func (s *Store) Write(ctx context.Context, p string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrapError("Write", p, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, s.wrapError("Read", p, err)
	}
	return out.Body, nil
}

func (s *Store) Remove(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		wrapped := s.wrapError("Remove", p, err)
		if objectstore.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

func (s *Store) RemoveFolder(ctx context.Context, prefix string) error {
	if strings.Trim(prefix, "/") == "" {
		return s.wrapError("RemoveFolder", prefix, objectstore.ErrInvalidPath)
	}
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return s.wrapError("RemoveFolder", prefix, err)
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return s.wrapError("RemoveFolder", prefix, err)
		}
		if out != nil && len(out.Errors) > 0 {
			first := out.Errors[0]
			return s.wrapError("RemoveFolder", aws.ToString(first.Key),
				&deleteError{code: aws.ToString(first.Code), message: aws.ToString(first.Message)})
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	var out []objectstore.ObjectInfo
	err := s.eachPage(ctx, prefix, func(objs []types.Object) {
		for _, obj := range objs {
			out = append(out, objectstore.ObjectInfo{
				Path:         strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	})
	if err != nil {
		return nil, s.wrapError("List", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.eachPage(ctx, prefix, func(objs []types.Object) {
		for _, obj := range objs {
			keys = append(keys, aws.ToString(obj.Key))
		}
	})
	return keys, err
}

func (s *Store) eachPage(ctx context.Context, prefix string, fn func([]types.Object)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	}
	for {
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return err
		}
		fn(page.Contents)
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return nil
		}
		input.ContinuationToken = page.NextContinuationToken
	}
}

type deleteError struct {
	code, message string
}

func (e *deleteError) Error() string { return e.code + ": " + e.message }

// wrapError converts S3 errors into objectstore sentinels.
func (s *Store) wrapError(op, p string, err error) error {
	wrapped := &objectstore.StorageError{Op: op, Backend: objectstore.BackendS3, Bucket: s.bucket, Path: p, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.Is(err, objectstore.ErrInvalidPath):
		return wrapped
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = objectstore.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = objectstore.ErrBucketNotFound
		return wrapped
	}

	code := ""
	var apiErr smithy.APIError
	var delErr *deleteError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.ErrorCode()
	case errors.As(err, &delErr):
		code = delErr.code
	}
	if sentinel := sentinelForCode(code); sentinel != nil {
		wrapped.Err = sentinel
	}
	return wrapped
}

func sentinelForCode(code string) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return objectstore.ErrNotFound
	case "NoSuchBucket":
		return objectstore.ErrBucketNotFound
	case "AccessDenied", "Forbidden":
		return objectstore.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return objectstore.ErrInvalidCredentials
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return objectstore.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return objectstore.ErrUnavailable
	}
	return nil
}
