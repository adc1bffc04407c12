package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds construction parameters for S3Minter. Empty credentials fall
// back to the default AWS credential chain.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	Expiry          time.Duration // default 15m
}

// S3Minter issues presigned GET URLs for resources stored in a bucket.
// Presigned URLs expire on their own, so Revoke is a no-op.
type S3Minter struct {
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
}

// NewS3Minter creates an S3Minter from cfg.
func NewS3Minter(ctx context.Context, cfg S3Config) (*S3Minter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Minter(s3.NewPresignClient(client), cfg), nil
}

func newS3Minter(presign *s3.PresignClient, cfg S3Config) *S3Minter {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &S3Minter{
		presign: presign,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		expiry:  expiry,
	}
}

// ObjectKey maps a full resource path to its object key.
func (m *S3Minter) ObjectKey(fullPath string) string {
	key := strings.TrimLeft(cleanPath(fullPath), "/")
	if m.prefix == "" {
		return key
	}
	return m.prefix + "/" + key
}

// Mint presigns a GET request for fullPath.
func (m *S3Minter) Mint(ctx context.Context, fullPath string) (string, error) {
	req, err := m.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.ObjectKey(fullPath)),
	}, s3.WithPresignExpires(m.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", fullPath, err)
	}
	return req.URL, nil
}

// Revoke does nothing; presigned URLs lapse after their expiry.
func (m *S3Minter) Revoke(string) {}
