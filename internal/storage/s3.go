package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"
)

// minPartSize is the smallest part S3 accepts for all but the last one.
const minPartSize = 5 << 20

// S3Storage keeps snapshots in an S3 bucket or any store speaking the S3 API.
type S3Storage struct {
	client *s3.Client
	bucket string
	cfg    S3Config
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, for MinIO or LocalStack.
	Endpoint     string
	UsePathStyle bool
	// PartSize is the multipart threshold and the size of every part but the last.
	PartSize int64
	// PartConcurrency bounds the parts of one upload in flight.
	PartConcurrency int
	// MaxAttempts bounds the tries of one request, the first included.
	MaxAttempts int
	// RetryBase is the first backoff; it doubles on every retry.
	RetryBase time.Duration
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:          "us-east-1",
		PartSize:        8 << 20,
		PartConcurrency: 4,
		MaxAttempts:     4,
		RetryBase:       100 * time.Millisecond,
	}
}

func (c S3Config) withDefaults() S3Config {
	def := DefaultS3Config()
	if c.PartSize <= 0 {
		c.PartSize = def.PartSize
	}
	if c.PartSize < minPartSize {
		c.PartSize = minPartSize
	}
	if c.PartConcurrency <= 0 {
		c.PartConcurrency = def.PartConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	return c
}

// NewS3Storage creates an S3 client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	if bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient wraps a configured client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, cfg: cfg.withDefaults()}
}

// objectAttrs are the headers a snapshot object is written with.
type objectAttrs struct {
	contentType     *string
	contentEncoding *string
	metadata        map[string]string
}

// attrsFor tags snapshot keys with their encoding and collection. Other
// keys get no attributes.
func attrsFor(objectPath string) objectAttrs {
	collection, ok := SnapshotCollection(objectPath)
	if !ok {
		return objectAttrs{}
	}
	return objectAttrs{
		contentType:     aws.String(snapshotContentType),
		contentEncoding: aws.String(snapshotContentEncoding),
		metadata:        map[string]string{collectionMetadataKey: collection},
	}
}

// Upload writes the file at localPath to objectPath, in concurrent parts
// when it is larger than one part.
func (s *S3Storage) Upload(ctx context.Context, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return uploadError(objectPath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return uploadError(objectPath, err)
	}
	size := stat.Size()
	attrs := attrsFor(objectPath)

	if size > s.cfg.PartSize {
		err = s.multipartUpload(ctx, file, size, objectPath, attrs)
	} else {
		err = s.retry(ctx, "put "+objectPath, func() error {
			_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:          aws.String(s.bucket),
				Key:             aws.String(objectPath),
				Body:            io.NewSectionReader(file, 0, size),
				ContentLength:   aws.Int64(size),
				ContentType:     attrs.contentType,
				ContentEncoding: attrs.contentEncoding,
				Metadata:        attrs.metadata,
			})
			return err
		})
	}
	if err != nil {
		return uploadError(objectPath, err)
	}
	return nil
}

// part is one byte range of a multipart upload.
type part struct {
	number int32
	offset int64
	size   int64
}

// planParts splits size bytes into parts of partSize, the last one shorter.
func planParts(size, partSize int64) []part {
	var parts []part
	for offset := int64(0); offset < size; offset += partSize {
		n := partSize
		if offset+n > size {
			n = size - offset
		}
		parts = append(parts, part{number: int32(len(parts) + 1), offset: offset, size: n})
	}
	return parts
}

func (s *S3Storage) multipartUpload(ctx context.Context, file *os.File, size int64, objectPath string, attrs objectAttrs) error {
	var uploadID *string
	err := s.retry(ctx, "create upload "+objectPath, func() error {
		resp, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(objectPath),
			ContentType:     attrs.contentType,
			ContentEncoding: attrs.contentEncoding,
			Metadata:        attrs.metadata,
		})
		if err != nil {
			return err
		}
		uploadID = resp.UploadId
		return nil
	})
	if err != nil {
		return err
	}

	parts := planParts(size, s.cfg.PartSize)
	completed := make([]types.CompletedPart, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.PartConcurrency)
	for i, p := range parts {
		g.Go(func() error {
			return s.retry(gctx, fmt.Sprintf("part %d/%d of %s", p.number, len(parts), objectPath), func() error {
				resp, err := s.client.UploadPart(gctx, &s3.UploadPartInput{
					Bucket:        aws.String(s.bucket),
					Key:           aws.String(objectPath),
					UploadId:      uploadID,
					PartNumber:    aws.Int32(p.number),
					Body:          io.NewSectionReader(file, p.offset, p.size),
					ContentLength: aws.Int64(p.size),
				})
				if err != nil {
					return err
				}
				completed[i] = types.CompletedPart{ETag: resp.ETag, PartNumber: aws.Int32(p.number)}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		s.abortUpload(ctx, objectPath, uploadID)
		return err
	}

	err = s.retry(ctx, "complete "+objectPath, func() error {
		_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(objectPath),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
		return err
	})
	if err != nil {
		s.abortUpload(ctx, objectPath, uploadID)
		return err
	}
	return nil
}

// abortUpload releases the parts of a failed upload, even after ctx ended.
func (s *S3Storage) abortUpload(ctx context.Context, objectPath string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(objectPath),
		UploadId: uploadID,
	})
	if err != nil {
		log.Printf("storage: [WARN] failed to abort multipart upload of %s: %v", objectPath, err)
	}
}

// Download writes objectPath to localPath. The file appears only once the
// whole object has arrived.
func (s *S3Storage) Download(ctx context.Context, objectPath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return downloadError(objectPath, err)
	}
	err := s.retry(ctx, "get "+objectPath, func() error {
		return s.fetch(ctx, objectPath, localPath)
	})
	if errors.Is(err, ErrObjectNotFound) {
		return ErrObjectNotFound
	}
	if err != nil {
		return downloadError(objectPath, err)
	}
	return nil
}

func (s *S3Storage) fetch(ctx context.Context, objectPath, localPath string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return ErrObjectNotFound
		}
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}

// Delete removes objectPath. S3 reports success for missing keys.
func (s *S3Storage) Delete(ctx context.Context, objectPath string) error {
	err := s.retry(ctx, "delete "+objectPath, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: failed to delete %s: %w", objectPath, err)
	}
	return nil
}

// Exists reports whether objectPath exists.
func (s *S3Storage) Exists(ctx context.Context, objectPath string) (bool, error) {
	var exists bool
	err := s.retry(ctx, "head "+objectPath, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectPath),
		})
		var notFound *types.NotFound
		switch {
		case err == nil:
			exists = true
		case errors.As(err, &notFound):
			exists = false
		default:
			return err
		}
		return nil
	})
	return exists, err
}

// ListObjects returns the keys under prefix, sorted.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var objects []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := s.retry(ctx, "list "+prefix, func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("storage: failed to list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, aws.ToString(obj.Key))
		}
	}
	sort.Strings(objects)
	return objects, nil
}

// retry runs op until it succeeds, fails permanently or runs out of
// attempts, doubling the pause between tries.
func (s *S3Storage) retry(ctx context.Context, what string, op func() error) error {
	backoff := s.cfg.RetryBase
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil || !retryable(err) || attempt >= s.cfg.MaxAttempts {
			return err
		}
		log.Printf("storage: [WARN] %s failed (attempt %d/%d), retrying in %v: %v",
			what, attempt, s.cfg.MaxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// transientCodes are client-fault S3 codes that succeed on a later try.
var transientCodes = map[string]bool{
	"RequestTimeout": true,
	"SlowDown":       true,
	"Throttling":     true,
}

// retryable reports whether a failed request may succeed if repeated.
func retryable(err error) bool {
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorFault() != smithy.FaultClient || transientCodes[apiErr.ErrorCode()]
	}
	return true
}
