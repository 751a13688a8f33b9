package artifact

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/config"
	"github.com/kiranshivaraju/automl/pkg/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore uploads model manifests to a MinIO bucket and returns presigned download URLs.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	urlTTL  time.Duration
	baseURL string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to MinIO and creates the bucket if it does not exist.
func NewMinioStore(ctx context.Context, cfg config.ArtifactConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	s := &MinioStore{
		client:  client,
		bucket:  cfg.MinioBucket,
		urlTTL:  cfg.URLTTL,
		baseURL: cfg.PublicBaseURL,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// Another process may have created it between the check and the call.
		if exists, checkErr := s.client.BucketExists(ctx, s.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) PutModel(ctx context.Context, jobID uuid.UUID, result models.JobResult) (Artifact, error) {
	body, err := encodeManifest(jobID, result)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode model manifest: %w", err)
	}

	key := ModelKey(jobID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"job-id": jobID.String(), "model-type": result.ModelType},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("upload model %s: %w", key, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, url.Values{})
	if err != nil {
		return Artifact{}, fmt.Errorf("presign model %s: %w", key, err)
	}

	return Artifact{
		DownloadURL: u.String(),
		APIEndpoint: apiEndpoint(s.baseURL, jobID),
	}, nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
