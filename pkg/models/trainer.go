package models

const (
	TaskTypeClassification = "classification"
	TaskTypeRegression     = "regression"
	TaskTypeClustering     = "clustering"
)

// Trainer is the interface every model-training backend implements.
// The job runner only ever talks to this interface.
type Trainer interface {
	// Analyze inspects the prompt and picks a task type and model family.
	Analyze(prompt string) PromptAnalysis
	// GenerateResult produces the training output for an analyzed prompt.
	// IDs and timestamps are left for the caller to fill in.
	GenerateResult(analysis PromptAnalysis) JobResult
	// Name returns the trainer identifier (e.g., "mock").
	Name() string
}

// PromptAnalysis is the outcome of reading a user's prompt.
type PromptAnalysis struct {
	TaskType       string  `json:"task_type"`
	SuggestedModel string  `json:"suggested_model"`
	Confidence     float64 `json:"confidence"`
}
