package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver mirrors appended entries to a remote write-once target (managed
// trail service, object store with object lock). Archival is best-effort
// relative to the chain: the Logger records archive failures but does not
// fail the append, since the local store already holds the entry durably.
type Archiver interface {
	Archive(ctx context.Context, e *Entry) error
}

// S3Archiver writes each entry as an immutable object to an S3-compatible
// bucket (S3 proper, R2, MinIO). Objects are keyed by UTC day and entry ID;
// If-None-Match prevents overwriting an existing object, giving WORM
// semantics even without bucket-level object lock.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3ArchiverConfig holds configuration for the S3 archive target.
type S3ArchiverConfig struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string // default "auto", fine for R2 and MinIO
	Prefix          string // object key prefix, default "audit"
}

// NewS3Archiver creates an archiver against an S3-compatible endpoint.
func NewS3Archiver(cfg S3ArchiverConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "audit"
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive writes the entry as a create-only JSON object.
func (a *S3Archiver) Archive(ctx context.Context, e *Entry) error {
	if e == nil {
		return ErrNilEntry
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize entry for archival: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s.json", a.prefix, e.Timestamp.UTC().Format(dayLayout), e.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive entry %s: %w", e.ID, err)
	}
	return nil
}

// archiveTimeout bounds one archive call so a slow remote target cannot
// stall the append path it trails.
const archiveTimeout = 10 * time.Second
