package upload

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPresignExpiry is how long presigned GET URLs stay valid.
const DefaultPresignExpiry = 7 * 24 * time.Hour

// Config holds S3 connection settings. The BUCKET_* environment variables
// populate it; see FromEnv.
type Config struct {
	// EndpointURL points at an S3-compatible endpoint (RunPod network
	// storage, MinIO). Empty means plain AWS S3.
	EndpointURL string

	AccessKeyID     string
	SecretAccessKey string
	Bucket          string

	// Region defaults to us-east-1, which S3-compatible stores accept.
	Region string

	// Prefix is prepended to every object key.
	Prefix string

	// PresignExpiry defaults to DefaultPresignExpiry.
	PresignExpiry time.Duration
}

// FromEnv reads the bucket configuration from the environment.
func FromEnv() Config {
	return Config{
		EndpointURL:     os.Getenv("BUCKET_ENDPOINT_URL"),
		AccessKeyID:     os.Getenv("BUCKET_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BUCKET_SECRET_ACCESS_KEY"),
		Bucket:          os.Getenv("BUCKET_NAME"),
		Region:          os.Getenv("BUCKET_REGION"),
		Prefix:          os.Getenv("BUCKET_PREFIX"),
	}
}

// Enabled reports whether this configuration is complete enough to upload.
// Credential presence is the only toggle for object storage.
func (c Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != ""
}

func (c *Config) defaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.PresignExpiry == 0 {
		c.PresignExpiry = DefaultPresignExpiry
	}
}

// S3Uploader uploads images with the AWS SDK's transfer manager and signs
// GET URLs for them.
type S3Uploader struct {
	cfg       Config
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	logger    *slog.Logger
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3 creates an uploader for the configured bucket.
func NewS3(ctx context.Context, cfg Config, logger *slog.Logger) (*S3Uploader, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("bucket credentials not configured")
	}
	cfg.defaults()

	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible stores generally do not resolve
			// virtual-hosted bucket names.
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{
		cfg:       cfg,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		logger:    logger,
	}, nil
}

// UploadFile uploads the file at localPath and returns a presigned GET URL.
func (u *S3Uploader) UploadFile(ctx context.Context, jobID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	key := ObjectKey(u.cfg.Prefix, jobID, filepath.Base(localPath))
	contentType := ContentTypeFor(localPath)

	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	signed, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = u.cfg.PresignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}

	u.logger.Debug("image uploaded",
		slog.String("job_id", jobID),
		slog.String("key", key),
		slog.String("content_type", contentType))

	return signed.URL, nil
}

// ObjectKey builds the bucket key for a generated image:
// <prefix>/<job id>/<filename>, prefix omitted when empty.
func ObjectKey(prefix, jobID, filename string) string {
	if prefix == "" {
		return path.Join(jobID, filename)
	}
	return path.Join(prefix, jobID, filename)
}

// ContentTypeFor derives a MIME type from the file extension, falling
// back to application/octet-stream.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
