// Package blobstore wraps MinIO/S3 interactions for sealed payloads and
// audit archives. Only ciphertext ever crosses this boundary; nonces live in
// document metadata and plaintext never reaches the store.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sealbox/sealbox/internal/config"
)

// ErrUnavailable wraps transport failures talking to the store. It is the
// only error class in the subsystem eligible for local retry.
var ErrUnavailable = errors.New("byte store unavailable")

// Store wraps a MinIO client with bounded timeouts.
type Store struct {
	client        *minio.Client
	sealedBucket  string
	archiveBucket string
	region        string
	timeout       time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Store{
		client:        client,
		sealedBucket:  cfg.SealedBucket,
		archiveBucket: cfg.ArchiveBucket,
		region:        cfg.S3Region,
		timeout:       cfg.StoreTimeout,
	}, nil
}

// EnsureBuckets makes sure the sealed/archive buckets exist before use.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.sealedBucket, s.archiveBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Put writes a sealed payload under key.
func (s *Store) Put(ctx context.Context, key string, ciphertext []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reader := bytes.NewReader(ciphertext)
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err := s.client.PutObject(ctx, s.sealedBucket, key, reader, int64(len(ciphertext)), opts)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Get fetches a sealed payload by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	obj, err := s.client.GetObject(ctx, s.sealedBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return buf, nil
}

// PutArchive writes a gzip audit segment into the archive bucket.
func (s *Store) PutArchive(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reader := bytes.NewReader(data)
	opts := minio.PutObjectOptions{ContentType: "application/gzip"}
	_, err := s.client.PutObject(ctx, s.archiveBucket, key, reader, int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("%w: put archive %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
