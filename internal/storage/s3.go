// Package storage uploads chat media to S3 and hands out presigned links.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yakka/backend/internal/apperrors"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store stores objects under "<path>/<fileName>" in a single bucket.
type S3Store struct {
	bucket    string
	region    string
	endpoint  string
	ttl       time.Duration
	client    objectPutter
	presigner objectPresigner
}

// Options configures NewS3Store. Endpoint is only set for S3-compatible
// servers such as MinIO.
type Options struct {
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
	Endpoint   string
}

func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Storage("failed to load aws config", err)
	}

	return newS3Store(cfg, opts), nil
}

func newS3Store(cfg aws.Config, opts Options) *S3Store {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Store{
		bucket:    opts.Bucket,
		region:    cfg.Region,
		endpoint:  strings.TrimSuffix(opts.Endpoint, "/"),
		ttl:       ttl,
		client:    client,
		presigner: s3.NewPresignClient(client),
	}
}

// Upload writes data to path/fileName.
func (s *S3Store) Upload(ctx context.Context, data []byte, dir, fileName, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Join(dir, fileName)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperrors.Storage("failed to upload object", err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for path/fileName.
func (s *S3Store) PresignGet(ctx context.Context, dir, fileName string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path.Join(dir, fileName)),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", apperrors.Storage("failed to presign object", err)
	}
	return req.URL, nil
}

// PublicURL is the unsigned object URL. Profile images are public.
func (s *S3Store) PublicURL(dir, fileName string) string {
	key := path.Join(dir, fileName)
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
