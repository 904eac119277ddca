package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dejaview/pinboard/internal/config"
	"github.com/dejaview/pinboard/pkg/log"
)

// ObjectStore uploads pipeline artifacts to an S3-compatible bucket
// (Cloudflare R2) and hands back their public URLs.
type ObjectStore struct {
	client        uploader
	bucket        string
	publicBaseURL string
}

// uploader is the slice of the minio client the store needs.
type uploader interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioUploader struct {
	client *minio.Client
}

func (u *minioUploader) PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return u.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func New(cfg *config.R2Config) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("public base URL is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: true,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store client: %w", err)
	}

	return &ObjectStore{
		client:        &minioUploader{client: client},
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload writes data under a fresh key "<prefix>/<uuid>.<ext>" and returns
// the key and its public URL.
func (s *ObjectStore) Upload(ctx context.Context, data []byte, contentType, ext, prefix string) (string, string, error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("data is required")
	}

	key := objectKey(prefix, ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}

	url := s.publicBaseURL + "/" + key
	log.Debug("Uploaded object %s (%d bytes, %s)", key, len(data), contentType)
	return key, url, nil
}

func objectKey(prefix, ext string) string {
	id := uuid.New()
	name := hex.EncodeToString(id[:]) + "." + strings.TrimLeft(ext, ".")
	if prefix == "" {
		return name
	}
	return strings.Trim(prefix, "/") + "/" + name
}
