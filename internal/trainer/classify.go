package trainer

import (
	"strings"

	"github.com/kiranshivaraju/automl/pkg/models"
)

// ModelCatalog lists every model family the mock trainer reports.
var ModelCatalog = []string{
	"Random Forest",
	"XGBoost",
	"Neural Network",
	"SVM",
	"Logistic Regression",
}

// taskKeywords is evaluated in order; the first task with a matching keyword wins.
var taskKeywords = []struct {
	taskType string
	words    []string
}{
	{models.TaskTypeClassification, []string{"classify", "classification", "detect", "identify"}},
	{models.TaskTypeRegression, []string{"predict", "forecast", "estimate", "regression"}},
	{models.TaskTypeClustering, []string{"cluster", "group", "segment"}},
}

// ClassifyPrompt picks a task type by substring match on the lowercased prompt.
// Prompts with no keyword fall back to classification.
func ClassifyPrompt(prompt string) string {
	lower := strings.ToLower(prompt)
	for _, tk := range taskKeywords {
		for _, w := range tk.words {
			if strings.Contains(lower, w) {
				return tk.taskType
			}
		}
	}
	return models.TaskTypeClassification
}

// InCatalog reports whether modelType is one of ModelCatalog.
func InCatalog(modelType string) bool {
	for _, m := range ModelCatalog {
		if m == modelType {
			return true
		}
	}
	return false
}
