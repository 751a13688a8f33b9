package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// JobView is the list-item shape of a job.
type JobView struct {
	ID            uuid.UUID `json:"id"`
	Prompt        string    `json:"prompt"`
	Status        string    `json:"status"`
	Progress      int       `json:"progress"`
	ResultSummary *string   `json:"result_summary"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusView adds the rendered log lines and error of a job.
type StatusView struct {
	JobView
	Logs         []string `json:"logs"`
	ErrorMessage *string  `json:"error_message"`
}

// ResultView is the full result bundle of a completed job.
type ResultView struct {
	ID                uuid.UUID                  `json:"id"`
	Prompt            string                     `json:"prompt"`
	Status            string                     `json:"status"`
	CreatedAt         time.Time                  `json:"created_at"`
	ModelType         string                     `json:"model_type"`
	TaskType          string                     `json:"task_type"`
	Accuracy          float64                    `json:"accuracy"`
	Loss              float64                    `json:"loss"`
	TrainingTime      float64                    `json:"training_time"`
	DatasetSize       int                        `json:"dataset_size"`
	FeaturesUsed      []string                   `json:"features_used"`
	ModelSize         string                     `json:"model_size"`
	DownloadURL       *string                    `json:"download_url"`
	APIEndpoint       *string                    `json:"api_endpoint"`
	Metrics           models.Metrics             `json:"metrics"`
	FeatureImportance []models.FeatureImportance `json:"feature_importance"`
	PredictionsSample []models.PredictionSample  `json:"predictions_sample"`
}

func NewJobView(j *models.Job) JobView {
	return JobView{
		ID:            j.ID,
		Prompt:        j.Prompt,
		Status:        j.Status,
		Progress:      j.Progress,
		ResultSummary: j.ResultSummary,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func NewStatusView(j *models.Job) StatusView {
	logs := make([]string, len(j.Logs))
	for i, e := range j.Logs {
		logs[i] = e.String()
	}
	return StatusView{
		JobView:      NewJobView(j),
		Logs:         logs,
		ErrorMessage: j.ErrorMessage,
	}
}

func NewResultView(j *models.Job, r *models.JobResult) ResultView {
	return ResultView{
		ID:                j.ID,
		Prompt:            j.Prompt,
		Status:            j.Status,
		CreatedAt:         j.CreatedAt,
		ModelType:         r.ModelType,
		TaskType:          r.TaskType,
		Accuracy:          r.Accuracy,
		Loss:              r.Loss,
		TrainingTime:      r.TrainingTime,
		DatasetSize:       r.DatasetSize,
		FeaturesUsed:      r.FeaturesUsed,
		ModelSize:         r.ModelSize,
		DownloadURL:       r.DownloadURL,
		APIEndpoint:       r.APIEndpoint,
		Metrics:           r.Metrics,
		FeatureImportance: r.FeatureImportance,
		PredictionsSample: r.PredictionsSample,
	}
}
