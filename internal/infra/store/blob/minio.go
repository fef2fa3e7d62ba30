package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	mio "github.com/you-humble/mediascribe/internal/libs/minio"

	"github.com/minio/minio-go/v7"
)

type minioBlobStore struct {
	db       *minio.Client
	bucket   string
	endpoint string
	secure   bool
}

func NewMinIOStore(ctx context.Context, cfg mio.Config) (*minioBlobStore, error) {
	client, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &minioBlobStore{
		db:       client,
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		secure:   cfg.UseSSL,
	}, nil
}

func (s *minioBlobStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	name, err := cleanObjectName(objectName)
	if err != nil {
		return "", err
	}

	putSize := size
	if putSize <= 0 {
		putSize = -1
	}

	_, err = s.db.PutObject(ctx, s.bucket, name, reader, putSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return s.URL(name), nil
}

// Download streams the object into destPath on the local disk.
func (s *minioBlobStore) Download(ctx context.Context, objectName, destPath string) error {
	name, err := cleanObjectName(objectName)
	if err != nil {
		return err
	}

	if err := s.db.FGetObject(ctx, s.bucket, name, destPath, minio.GetObjectOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			return fmt.Errorf("object not found: %w", err)
		}
		return fmt.Errorf("get object: %w", err)
	}

	return nil
}

func (s *minioBlobStore) Delete(ctx context.Context, objectName string) error {
	name, err := cleanObjectName(objectName)
	if err != nil {
		return err
	}

	err = s.db.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}

	return nil
}

// URL computes the public location of an object.
func (s *minioBlobStore) URL(objectName string) string {
	scheme := "http"
	if s.secure {
		scheme = "https"
	}
	return scheme + "://" + s.endpoint + "/" + s.bucket + "/" + strings.TrimLeft(objectName, "/")
}

func cleanObjectName(objectName string) (string, error) {
	if strings.TrimSpace(objectName) == "" {
		return "", fmt.Errorf("empty object name")
	}

	clean := path.Clean(objectName)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object name: %s", objectName)
	}

	return strings.TrimLeft(clean, "/"), nil
}
