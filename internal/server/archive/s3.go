package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// S3Config holds object storage settings. Works with AWS and MinIO.
type S3Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
}

type S3Archiver struct {
	cfg S3Config
}

func NewS3Archiver(cfg S3Config) *S3Archiver {
	return &S3Archiver{cfg: cfg}
}

// New returns an S3 archiver when a bucket is configured, Nop otherwise.
func New(cfg S3Config) Archiver {
	if cfg.Bucket == "" {
		return Nop{}
	}
	return NewS3Archiver(cfg)
}

func (a *S3Archiver) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(a.cfg.Region)}
	if a.cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.cfg.AccessKey,
			a.cfg.SecretKey,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if a.cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(a.cfg.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (a *S3Archiver) Archive(ctx context.Context, vaultID, snapshotID string, createdAt time.Time, body []byte) (string, error) {
	c, err := a.client(ctx)
	if err != nil {
		return "", fmt.Errorf("s3 config: %w", err)
	}

	bucket := a.cfg.Bucket
	key := Key(vaultID, snapshotID, createdAt)

	_, err = putObject(c, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return key, nil
}
