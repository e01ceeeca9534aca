package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/DVA-LAB/DVA-LAB-MVP/internal/domain/port"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage keeps source videos and finished exports in two buckets.
type Storage struct {
	client       *miniogo.Client
	videoBucket  string
	exportBucket string
	presignTTL   time.Duration
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	VideoBucket  string
	ExportBucket string
	PresignTTL   time.Duration
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Storage{
		client:       client,
		videoBucket:  cfg.VideoBucket,
		exportBucket: cfg.ExportBucket,
		presignTTL:   ttl,
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.videoBucket, s.exportBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Ping reports whether the video bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.videoBucket); err != nil {
		return fmt.Errorf("minio unreachable: %w", err)
	}
	return nil
}

// UploadVideo stores an operator upload so export workers can fetch it.
func (s *Storage) UploadVideo(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.videoBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}
	return nil
}

func (s *Storage) DownloadVideo(ctx context.Context, objectKey string, destPath string) error {
	if err := s.client.FGetObject(ctx, s.videoBucket, objectKey, destPath, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download video %s: %w", objectKey, err)
	}
	return nil
}

func (s *Storage) UploadArtifact(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.exportBucket, objectKey, reader, size, miniogo.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)),
	})
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	return nil
}

// ArtifactURL returns a time-limited download link for an export.
func (s *Storage) ArtifactURL(ctx context.Context, objectKey string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))
	u, err := s.client.PresignedGetObject(ctx, s.exportBucket, objectKey, s.presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}
	return u.String(), nil
}

// Sink stores artifacts in the export bucket under a prefix and hands back
// a presigned link.
type Sink struct {
	storage *Storage
	prefix  string
}

func (s *Storage) Sink(prefix string) *Sink {
	return &Sink{storage: s, prefix: prefix}
}

func (k *Sink) Save(ctx context.Context, filename string, artifact *port.Artifact) (string, error) {
	key := path.Join(k.prefix, path.Base(filename))
	if err := k.storage.UploadArtifact(ctx, key, bytes.NewReader(artifact.Data), int64(len(artifact.Data)), artifact.ContentType); err != nil {
		return "", err
	}
	return k.storage.ArtifactURL(ctx, key)
}
