package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/config"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/logger"
)

// MinioStore keeps blobs as objects in a MinIO bucket. Object names use the
// same hashed layout as FileStore.
type MinioStore struct {
	client  *miniogo.Client
	bucket  string
	pattern string
	log     logger.Logger
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.MinioConfig, pattern string, log logger.Logger) (*MinioStore, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err = client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info("Created MinIO bucket", logger.String("bucket", cfg.Bucket))
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, pattern: pattern, log: log}, nil
}

// ObjectName returns the object name of a datastream version.
func (s *MinioStore) ObjectName(pid string, ds domain.Datastream, version int) string {
	return HashPath(s.pattern, Key(pid, ds, version))
}

func (s *MinioStore) Save(ctx context.Context, pid string, ds domain.Datastream, version int, data []byte) error {
	if err := checkKey(pid, version); err != nil {
		return err
	}

	name := s.ObjectName(pid, ds, version)
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{
			ContentType: contentType(ds),
			UserMetadata: map[string]string{
				"pid":        pid,
				"datastream": string(ds),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", ds, err)
	}

	s.log.Debug("Uploaded datastream to MinIO",
		logger.String("object_key", name),
		logger.Int("size", len(data)))
	return nil
}

func (s *MinioStore) Retrieve(ctx context.Context, pid string, ds domain.Datastream, version int) ([]byte, error) {
	if err := checkKey(pid, version); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.ObjectName(pid, ds, version), miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(err, pid, ds, version)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioError(err, pid, ds, version)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, pid string, ds domain.Datastream, version int) (bool, error) {
	if err := checkKey(pid, version); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, s.ObjectName(pid, ds, version), miniogo.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if errors.Is(mapMinioError(err, pid, ds, version), domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", ds, err)
}

func mapMinioError(err error, pid string, ds domain.Datastream, version int) error {
	resp := miniogo.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return notFound(pid, ds, version)
	}
	return fmt.Errorf("failed to read %s: %w", ds, err)
}

func contentType(ds domain.Datastream) string {
	if ds == domain.DatastreamALTO {
		return "application/xml"
	}
	return "text/plain; charset=utf-8"
}
