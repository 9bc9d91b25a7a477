package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedContentType indicates the upload is not an accepted image type.
	ErrUnsupportedContentType = errors.New("storage: unsupported content type")
	errMissingBucket          = errors.New("storage: bucket is required")
	errMissingClient          = errors.New("storage: object client is required")
)

var photoExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// PhotoStore persists wall photos and returns their public URL.
type PhotoStore interface {
	PutPhoto(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// ObjectPutter is the subset of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config describes an S3-compatible bucket. Endpoint is optional and enables
// path-style addressing for providers such as R2 or MinIO.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	Logger          *zap.Logger
}

// S3Store uploads photos to an S3-compatible bucket.
type S3Store struct {
	client        ObjectPutter
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

// NewS3Store builds the AWS client from the configuration.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errMissingBucket
	}
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	publicBase := strings.TrimSpace(cfg.PublicBaseURL)
	if publicBase == "" {
		if endpoint != "" {
			publicBase = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
		} else {
			publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return NewS3StoreWithClient(client, cfg.Bucket, publicBase, cfg.Logger)
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectPutter, bucket, publicBaseURL string, logger *zap.Logger) (*S3Store, error) {
	if client == nil {
		return nil, errMissingClient
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errMissingBucket
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// PutPhoto uploads the body under key and returns its public URL.
func (s *S3Store) PutPhoto(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("photo upload failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("storage: upload %s: %w", key, err)
	}
	url := s.publicBaseURL + "/" + key
	s.logger.Info("photo uploaded", zap.String("key", key), zap.String("url", url))
	return url, nil
}

// PhotoKey derives the object key for a wall photo from its content type.
func PhotoKey(wallID, photoID, contentType string) (string, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	extension, ok := photoExtensions[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return fmt.Sprintf("walls/%s/%s%s", wallID, photoID, extension), nil
}
