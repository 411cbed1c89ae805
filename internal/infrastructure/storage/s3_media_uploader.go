// Package storage re-hosts product media on S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// DefaultMaxMediaBytes caps a downloaded image when MediaConfig.MaxBytes is 0 (20MB)
const DefaultMaxMediaBytes = 20 * 1024 * 1024

// Media errors
var (
	ErrBucketRequired   = errors.New("storage: media bucket is required")
	ErrInvalidSourceURL = errors.New("storage: invalid media source URL")
	ErrMediaTooLarge    = errors.New("storage: media exceeds size limit")
	ErrUnsupportedMedia = errors.New("storage: source is not an image")
)

// ObjectAPI is the subset of the S3 client the uploader uses
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3MediaUploader implements integration.MediaUploader. It downloads the
// source image, stores it under a key derived from the source URL and returns
// the public URL of the stored object. Re-uploading the same source is a
// no-op, both within a process and across runs.
type S3MediaUploader struct {
	client     ObjectAPI
	httpClient *http.Client
	bucket     string
	keyPrefix  string
	publicBase string
	maxBytes   int64
	logger     *zap.Logger

	uploaded sync.Map // source URL -> public URL
}

// S3MediaUploaderOption is a functional option for configuring S3MediaUploader
type S3MediaUploaderOption func(*S3MediaUploader)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3MediaUploaderOption {
	return func(u *S3MediaUploader) {
		u.logger = logger
	}
}

// WithHTTPClient sets the client used to download source images
func WithHTTPClient(c *http.Client) S3MediaUploaderOption {
	return func(u *S3MediaUploader) {
		u.httpClient = c
	}
}

// WithObjectAPI replaces the S3 client
func WithObjectAPI(api ObjectAPI) S3MediaUploaderOption {
	return func(u *S3MediaUploader) {
		u.client = api
	}
}

// NewS3MediaUploader creates an uploader from configuration. It works with any
// S3-compatible storage (AWS S3, MinIO, RustFS); static credentials are used
// when configured, the default AWS credential chain otherwise.
func NewS3MediaUploader(cfg config.MediaConfig, opts ...S3MediaUploaderOption) (*S3MediaUploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	u := &S3MediaUploader{
		httpClient: &http.Client{Timeout: time.Minute},
		bucket:     cfg.Bucket,
		keyPrefix:  strings.Trim(cfg.KeyPrefix, "/"),
		publicBase: publicBaseURL(cfg, endpoint, region),
		maxBytes:   cfg.MaxBytes,
		logger:     zap.NewNop(),
	}
	if u.maxBytes <= 0 {
		u.maxBytes = DefaultMaxMediaBytes
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client != nil {
		return u, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	u.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return u, nil
}

// publicBaseURL is where stored objects are reachable: the configured CDN
// base, the custom endpoint in path style, or the regional AWS host.
func publicBaseURL(cfg config.MediaConfig, endpoint, region string) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	case endpoint != "":
		return endpoint + "/" + cfg.Bucket
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
	}
}

// Bucket returns the bucket name
func (u *S3MediaUploader) Bucket() string {
	return u.bucket
}

// EnsureBucket creates the bucket if it doesn't exist.
func (u *S3MediaUploader) EnsureBucket(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	u.logger.Info("Creating media bucket", zap.String("bucket", u.bucket))
	_, err = u.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(u.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Upload re-hosts sourceURL and returns the public URL of the copy.
func (u *S3MediaUploader) Upload(ctx context.Context, sourceURL string) (string, error) {
	src, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (src.Scheme != "http" && src.Scheme != "https") || src.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceURL, sourceURL)
	}
	if cached, ok := u.uploaded.Load(src.String()); ok {
		return cached.(string), nil
	}

	key := u.objectKey(src)
	exists, err := u.objectExists(ctx, key)
	if err != nil {
		u.logger.Debug("Media existence check failed, uploading anyway",
			zap.String("key", key),
			zap.Error(err))
	}
	if exists {
		publicURL := u.publicURL(key)
		u.uploaded.Store(src.String(), publicURL)
		return publicURL, nil
	}

	data, contentType, err := u.download(ctx, src.String())
	if err != nil {
		return "", err
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      map[string]string{"source-url": src.String()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	publicURL := u.publicURL(key)
	u.uploaded.Store(src.String(), publicURL)
	u.logger.Debug("Media uploaded",
		zap.String("source", src.String()),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return publicURL, nil
}

// objectKey is <prefix>/<sha256 of the source URL><extension>.
func (u *S3MediaUploader) objectKey(src *url.URL) string {
	sum := sha256.Sum256([]byte(src.String()))
	name := hex.EncodeToString(sum[:16]) + strings.ToLower(path.Ext(src.Path))
	if u.keyPrefix == "" {
		return name
	}
	return u.keyPrefix + "/" + name
}

func (u *S3MediaUploader) publicURL(key string) string {
	return u.publicBase + "/" + key
}

func (u *S3MediaUploader) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return false, nil
	}
	// some S3-compatible services report missing keys differently
	if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey") {
		return false, nil
	}
	return false, err
}

// download fetches at most maxBytes of an image.
func (u *S3MediaUploader) download(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", &integration.RemoteError{Op: "download media", Body: err.Error(), Kind: integration.ErrTransientRemote}
	}
	defer resp.Body.Close()

	if kind := integration.ClassifyStatus(resp.StatusCode); kind != nil {
		return nil, "", &integration.RemoteError{Op: "download media", StatusCode: resp.StatusCode, Kind: kind}
	}
	if resp.ContentLength > u.maxBytes {
		return nil, "", fmt.Errorf("%w: %d > %d bytes", ErrMediaTooLarge, resp.ContentLength, u.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBytes+1))
	if err != nil {
		return nil, "", &integration.RemoteError{Op: "download media", StatusCode: resp.StatusCode, Body: err.Error(), Kind: integration.ErrTransientRemote}
	}
	if int64(len(data)) > u.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrMediaTooLarge, u.maxBytes)
	}

	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: %s is %s", ErrUnsupportedMedia, sourceURL, contentType)
	}
	return data, contentType, nil
}

var _ integration.MediaUploader = (*S3MediaUploader)(nil)
