// Package blob implements the S3 archive target for telarch.
//
// Objects are written under content-derived keys and never rewritten; the
// store treats the bucket as append-only except for explicit purges.
package blob

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/telarch/telarch/internal/logger"
)

// Config contains the S3 target configuration.
type Config struct {
	// Endpoint overrides the AWS endpoint for S3-compatible storage
	// (MinIO, Garage, Ceph RGW). Empty means AWS.
	Endpoint string

	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle addresses the bucket as a path component instead of a
	// virtual host. Required by most self-hosted S3 implementations.
	ForcePathStyle bool

	// TLSSkipVerify disables certificate verification. Only for lab
	// deployments with self-signed endpoints.
	TLSSkipVerify bool

	// MultipartThreshold is the object size above which the uploader
	// switches to multipart. Zero uses the manager default (16MB).
	MultipartThreshold int64

	// PartSize is the multipart part size. Zero uses the manager
	// default (5MB, the S3 minimum).
	PartSize int64

	// Concurrency is the number of parallel part uploads. Zero uses the
	// manager default (5).
	Concurrency int
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	ETag         string
	LastModified time.Time
}

// Client wraps the S3 SDK for the archiver's narrow needs.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
}

// NewClient builds an S3 client from configuration.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.TLSSkipVerify {
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		}
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
		logger.Warn("S3 TLS certificate verification disabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return &Client{
		s3:       client,
		uploader: uploader,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket verifies the bucket exists, creating it when missing.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err == nil {
		return nil
	}

	logger.Info("Creating bucket", "bucket", c.bucket)
	_, err = c.s3.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", c.bucket, err)
	}
	return nil
}

// Upload stores an object under key. The size must match the number of bytes
// the reader yields; the uploader streams it without buffering the whole
// object in memory.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

// Stat returns metadata for one object.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", key, err)
	}

	info := &ObjectInfo{
		Key:       key,
		SizeBytes: aws.ToInt64(out.ContentLength),
		ETag:      aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		info.LastModified = *out.LastModified
	}
	return info, nil
}

// Delete removes one object. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for one object.
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", key, err)
	}
	return req.URL, nil
}

// List walks every object under prefix, calling fn for each. Returning a
// non-nil error from fn stops the walk.
func (c *Client) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	paginator := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:       aws.ToString(obj.Key),
				SizeBytes: aws.ToInt64(obj.Size),
				ETag:      aws.ToString(obj.ETag),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// TotalSize sums object sizes under prefix. Used by the quota calculator.
func (c *Client) TotalSize(ctx context.Context, prefix string) (int64, error) {
	var total int64
	err := c.List(ctx, prefix, func(info ObjectInfo) error {
		total += info.SizeBytes
		return nil
	})
	return total, err
}

// PurgeBucket deletes every object under prefix in batches of up to 1000,
// returning the number removed. Irreversible.
func (c *Client) PurgeBucket(ctx context.Context, prefix string) (int64, error) {
	var deleted int64
	batch := make([]types.ObjectIdentifier, 0, 1000)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete batch: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %q: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	err := c.List(ctx, prefix, func(info ObjectInfo) error {
		batch = append(batch, types.ObjectIdentifier{Key: aws.String(info.Key)})
		if len(batch) == 1000 {
			return flush()
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
