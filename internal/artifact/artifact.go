// Package artifact stores the model bundle of a completed job and hands back
// the URLs clients use to download or call it.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/internal/config"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// Artifact locates a stored model.
type Artifact struct {
	DownloadURL string
	APIEndpoint string
}

// Store persists model bundles. Implementations must be safe for concurrent use.
type Store interface {
	PutModel(ctx context.Context, jobID uuid.UUID, result models.JobResult) (Artifact, error)
	Ping(ctx context.Context) error
}

// ModelKey is the object key of a job's model bundle.
func ModelKey(jobID uuid.UUID) string {
	return fmt.Sprintf("models/%s/model.json", jobID)
}

func apiEndpoint(baseURL string, jobID uuid.UUID) string {
	return fmt.Sprintf("%s/models/%s/predict", strings.TrimRight(baseURL, "/"), jobID)
}

// manifest is the document written for each model.
type manifest struct {
	JobID        uuid.UUID      `json:"job_id"`
	ModelType    string         `json:"model_type"`
	TaskType     string         `json:"task_type"`
	FeaturesUsed []string       `json:"features_used"`
	Metrics      models.Metrics `json:"metrics"`
	ModelSize    string         `json:"model_size"`
	CreatedAt    time.Time      `json:"created_at"`
}

func encodeManifest(jobID uuid.UUID, r models.JobResult) ([]byte, error) {
	return json.Marshal(manifest{
		JobID:        jobID,
		ModelType:    r.ModelType,
		TaskType:     r.TaskType,
		FeaturesUsed: r.FeaturesUsed,
		Metrics:      r.Metrics,
		ModelSize:    r.ModelSize,
		CreatedAt:    time.Now().UTC(),
	})
}

// New returns a MinIO-backed store when an endpoint is configured, otherwise a StaticStore.
func New(ctx context.Context, cfg config.ArtifactConfig) (Store, error) {
	if !cfg.MinioEnabled() {
		return NewStaticStore(cfg.PublicBaseURL), nil
	}
	return NewMinioStore(ctx, cfg)
}
