package object

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// pdfMagic is the header every real PDF starts with. PDFs always take the
// spooled path because partial buffers corrupt silently.
var pdfMagic = []byte("%PDF-")

// S3Store implements interfaces.ObjectStore over an S3-compatible backend.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	profile  *common.RuntimeProfile
	retry    *common.RetryPolicy
	logger   arbor.ILogger
}

// NewS3Store builds the client. A non-empty endpoint switches to
// MinIO-compatible addressing.
func NewS3Store(ctx context.Context, cfg *common.ObjectStoreConfig, logger arbor.ILogger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					SigningRegion:     region,
					HostnameImmutable: true, // important for MinIO
				}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle || cfg.Endpoint != "" {
			o.UsePathStyle = true // required for MinIO
		}
	})

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Bool("custom_endpoint", cfg.Endpoint != "").
		Msg("Object store client initialized")

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		profile:  common.GetRuntimeProfile(),
		retry:    common.NewStoragePolicy(),
		logger:   logger,
	}, nil
}

// VerifiedPut stores data and confirms the write by reading it back. Length
// or hash mismatches return an integrity error that must not be retried.
func (s *S3Store) VerifiedPut(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	if len(data) == 0 {
		return models.ValidationError("refusing to store empty object %s", key)
	}

	meta.ContentMD5 = ContentMD5(data)
	meta.FileSize = int64(len(data))
	meta.PDFHeaderOK = bytes.HasPrefix(data, pdfMagic)
	meta.UploadTimestamp = time.Now().UTC().Format(time.RFC3339)

	err := s.retry.Execute(ctx, s.logger, func() error {
		if s.useSpooledPath(data) {
			return s.putSpooled(ctx, key, data, contentType, meta)
		}
		return s.putDirect(ctx, key, data, contentType, meta)
	})
	if err != nil {
		return err
	}

	// Read-back verification. This is the integrity gate every durable
	// write passes through.
	stored, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("verification read failed for %s: %w", key, err)
	}
	if int64(len(stored)) != meta.FileSize {
		return fmt.Errorf("%w: object %s length %d, expected %d", models.ErrIntegrity, key, len(stored), meta.FileSize)
	}
	if got := ContentMD5(stored); got != meta.ContentMD5 {
		return fmt.Errorf("%w: object %s md5 %s, expected %s", models.ErrIntegrity, key, got, meta.ContentMD5)
	}

	s.logger.Debug().
		Str("key", key).
		Int64("size", meta.FileSize).
		Str("md5", meta.ContentMD5).
		Msg("Verified object write")

	return nil
}

// useSpooledPath decides between the in-memory and temp-file upload paths.
func (s *S3Store) useSpooledPath(data []byte) bool {
	return s.profile.Constrained || bytes.HasPrefix(data, pdfMagic)
}

func (s *S3Store) putDirect(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadataMap(meta),
	})
	if err != nil {
		return models.TransientError(fmt.Errorf("direct upload of %s failed: %w", key, err))
	}
	return nil
}

// putSpooled writes to a temp file, fsyncs, re-reads and hash-checks the
// spooled bytes, then uploads from the file handle.
func (s *S3Store) putSpooled(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	tmp, err := os.CreateTemp(s.profile.TempDir, "colligo-spool-*"+filepath.Ext(key))
	if err != nil {
		return models.TransientError(fmt.Errorf("failed to create spool file: %w", err))
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return models.TransientError(fmt.Errorf("failed to write spool file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return models.TransientError(fmt.Errorf("failed to sync spool file: %w", err))
	}

	spooled, err := os.ReadFile(tmp.Name())
	if err != nil {
		return models.TransientError(fmt.Errorf("failed to re-read spool file: %w", err))
	}
	if ContentMD5(spooled) != meta.ContentMD5 {
		return fmt.Errorf("%w: spool file for %s does not match source bytes", models.ErrIntegrity, key)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return models.TransientError(fmt.Errorf("failed to rewind spool file: %w", err))
	}

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        tmp,
		ContentType: aws.String(contentType),
		Metadata:    metadataMap(meta),
	})
	if err != nil {
		return models.TransientError(fmt.Errorf("spooled upload of %s failed: %w", key, err))
	}
	return nil
}

// Put stores data without read-back verification. Reserved for temp objects
// whose consumer validates them.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	meta.ContentMD5 = ContentMD5(data)
	meta.FileSize = int64(len(data))
	return s.putDirect(ctx, key, data, contentType, meta)
}

// Get fetches the full object body
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, models.TransientError(fmt.Errorf("failed to read object %s: %w", key, err))
	}
	return data, nil
}

// GetStream fetches the object body as a stream
func (s *S3Store) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, models.NotFoundError("object", key)
		}
		return nil, models.TransientError(fmt.Errorf("failed to get object %s: %w", key, err))
	}
	return out.Body, nil
}

// Head returns object info without the body
func (s *S3Store) Head(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, models.NotFoundError("object", key)
		}
		return nil, models.TransientError(fmt.Errorf("failed to head object %s: %w", key, err))
	}

	info := &interfaces.ObjectInfo{
		Key:        key,
		ContentMD5: out.Metadata["content_md5"], // S3 returns lowercase keys
	}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ContentType != nil {
		info.ContentType = *out.ContentType
	}
	return info, nil
}

// Delete removes one object. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return models.TransientError(fmt.Errorf("failed to delete object %s: %w", key, err))
	}
	return nil
}

// DeletePrefix removes every object under prefix. Used by the task delete
// cascade.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return models.TransientError(fmt.Errorf("failed to list prefix %s: %w", prefix, err))
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := s.Delete(ctx, *obj.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContentMD5 returns the lowercase hex MD5 of data.
func ContentMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func metadataMap(meta interfaces.ObjectMeta) map[string]string {
	m := map[string]string{
		"original_filename": meta.OriginalFilename,
		"user_id":           meta.UserID,
		"content_md5":       meta.ContentMD5,
		"file_size":         fmt.Sprintf("%d", meta.FileSize),
		"upload_timestamp":  meta.UploadTimestamp,
	}
	if meta.PDFHeaderOK {
		m["pdf_header_ok"] = "true"
	}
	return m
}

var _ interfaces.ObjectStore = (*S3Store)(nil)
