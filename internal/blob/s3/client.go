// Package s3blob stores archived records in S3 or an S3-compatible provider
// (Supabase Storage, MinIO, R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type ClientConfig struct {
	Endpoint string // empty for AWS S3
	Region   string
	Bucket   string

	// Static keys. When both are empty the SDK default chain applies
	// (environment, shared config, instance role).
	AccessKey string
	SecretKey string

	UseSSL         bool // scheme for an Endpoint given without one
	ForcePathStyle bool // Supabase Storage and MinIO need path-style URLs

	// ServerSideEncryption adds SSE-S3 (AES256) to every upload.
	ServerSideEncryption bool
}

// Client is an S3 API client bound to the archive bucket.
type Client struct {
	api    *s3.Client
	bucket string
	sse    bool
}

func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3blob: bucket is required")
	case cfg.Region == "":
		return nil, errors.New("s3blob: region is required")
	case (cfg.AccessKey == "") != (cfg.SecretKey == ""):
		return nil, errors.New("s3blob: access key and secret key must be set together")
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
	})
	return &Client{api: api, bucket: cfg.Bucket, sse: cfg.ServerSideEncryption}, nil
}

// Health issues HeadBucket, which fails on both bad credentials and a
// missing bucket.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close exists for symmetry with the other clients; there is nothing to release.
func (c *Client) Close() error { return nil }

func (c *Client) S3() *s3.Client { return c.api }

func (c *Client) Bucket() string { return c.bucket }

// normaliseEndpoint adds a scheme when endpoint lacks one. url.Parse would
// read "host:port" as scheme "host", hence the substring check.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	switch {
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}
