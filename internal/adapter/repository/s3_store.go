package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cv-optimizer/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectJobStore keeps jobs as jobs/{id}.json objects in an S3-compatible
// bucket. The version check is read-then-write, so it only guards against
// stale writers that are not racing within the same instant.
type ObjectJobStore struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Client builds a client from the default AWS credential chain. A
// non-empty endpoint targets an S3-compatible service with path-style
// addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func NewObjectJobStore(client S3API, bucket string) *ObjectJobStore {
	return &ObjectJobStore{client: client, bucket: bucket, prefix: "jobs/"}
}

func (s *ObjectJobStore) key(id string) string { return s.prefix + id + ".json" }

func (s *ObjectJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	if !domain.ValidJobID(id) {
		return nil, domain.ErrJobNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", s.key(id), err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	var j domain.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key(id), err)
	}
	return &j, nil
}

func (s *ObjectJobStore) Put(ctx context.Context, j *domain.Job) error {
	if !domain.ValidJobID(j.ID) {
		return fmt.Errorf("invalid job id %q", j.ID)
	}
	stored, err := s.Get(ctx, j.ID)
	if err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		return err
	}
	if err := checkVersion(stored, j); err != nil {
		return err
	}

	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(j.ID)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", s.key(j.ID), err)
	}
	return nil
}
