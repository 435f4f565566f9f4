package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
	// PublicBaseURL overrides https://<bucket>.s3.amazonaws.com in returned URLs.
	PublicBaseURL string
}

func (c *S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// S3API is the subset of *s3.Client used by the store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3 struct {
	api     S3API
	bucket  string
	baseURL string
}

// NewS3 uses the AWS default credential chain (env vars, shared config, IAM role).
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewS3WithClient(s3.NewFromConfig(awsConfig, s3Opts...), cfg), nil
}

func NewS3WithClient(api S3API, cfg S3Config) *S3 {
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.Bucket)
	}
	return &S3{api: api, bucket: cfg.Bucket, baseURL: base}
}

func (s *S3) Name() string { return "s3" }

func (s *S3) URL(key string) string {
	return s.baseURL + "/" + key
}

func (s *S3) Put(ctx context.Context, obj Object) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.Key),
		Body:   bytes.NewReader(obj.Body),
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, obj.Key, err)
	}
	return s.URL(obj.Key), nil
}

func (s *S3) Get(ctx context.Context, key string) (Object, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Object{}, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return Object{Key: key, Body: body, ContentType: aws.ToString(out.ContentType)}, nil
}
