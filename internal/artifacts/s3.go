package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Config represents the settings required to talk to S3 or an S3-compatible API.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	PublicURL      string
	KeyPrefix      string
	ForcePathStyle bool
	// LocalDir is used when no bucket is configured.
	LocalDir string
}

// NewUploader picks S3 when a bucket is configured, a local directory when LocalDir is set,
// and a disabled uploader otherwise.
func NewUploader(ctx context.Context, cfg Config) (Uploader, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		if cfg.LocalDir != "" {
			local, err := NewLocalUploader(cfg.LocalDir)
			if err != nil {
				return nil, err
			}
			return local, nil
		}
		return Disabled(), nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws sdk config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.ForcePathStyle
		}
	})

	// Fallback so S3-compatible storage without PublicURL still yields a usable link.
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/")
	if publicURL == "" && cfg.Endpoint != "" && cfg.ForcePathStyle {
		publicURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
	}

	return &s3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: publicURL,
		prefix:  strings.Trim(cfg.KeyPrefix, "/"),
	}, nil
}

type s3Uploader struct {
	client  *s3.Client
	bucket  string
	region  string
	baseURL string
	prefix  string
}

// Upload stores the file under a fresh id so reruns never overwrite earlier artifacts.
func (u *s3Uploader) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	if input.Body == nil {
		return UploadResult{}, errors.New("upload body is required")
	}

	key := buildKey(u.prefix, uuid.NewString(), input.Filename)

	putInput := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   input.Body,
	}
	if input.ContentType != "" {
		putInput.ContentType = aws.String(input.ContentType)
	}
	if input.Size > 0 {
		putInput.ContentLength = aws.Int64(input.Size)
	}

	if _, err := u.client.PutObject(ctx, putInput); err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}

	return UploadResult{
		Key: key,
		URL: objectURL(u.baseURL, u.bucket, u.region, key),
	}, nil
}

func buildKey(prefix, id, filename string) string {
	name := filepath.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "artifact"
	}
	return path.Join(prefix, id, name)
}

func objectURL(baseURL, bucket, region, key string) string {
	if baseURL != "" {
		return fmt.Sprintf("%s/%s", baseURL, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}
