package s3

import (
	"bytes"
	"context"
	"fmt"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ItfS3 interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	Bucket() string
}

type s3Client struct {
	uploader   *s3manager.Uploader
	bucketName string
}

func New(cfg Config) (ItfS3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	sess, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	return &s3Client{
		uploader:   s3manager.NewUploader(sess),
		bucketName: cfg.Bucket,
	}, nil
}

func (s *s3Client) Bucket() string {
	return s.bucketName
}

func (s *s3Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucketName, key, err)
	}
	return nil
}

// newSession uses static credentials when given and the default AWS chain
// otherwise. A custom endpoint switches to path-style addressing for
// S3-compatible stores.
func newSession(cfg Config) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}

	return sess, nil
}
