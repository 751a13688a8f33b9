package trainer

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/automl/pkg/models"
)

const featureCount = 10

// MockTrainer produces randomized results with a fixed shape. No model is trained.
type MockTrainer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ models.Trainer = (*MockTrainer)(nil)

// NewMockTrainer seeds the generator with seed, or with the clock when seed is 0.
func NewMockTrainer(seed int64) *MockTrainer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockTrainer{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

func (m *MockTrainer) Name() string { return "mock" }

func (m *MockTrainer) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*m.rng.Float64()
}

// intBetween returns an int in [lo, hi].
func (m *MockTrainer) intBetween(lo, hi int) int {
	return lo + m.rng.IntN(hi-lo+1)
}

func (m *MockTrainer) sampleFeatures(k int) []string {
	perm := m.rng.Perm(featureCount)
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = fmt.Sprintf("feature_%d", perm[i]+1)
	}
	return out
}

func (m *MockTrainer) Analyze(prompt string) models.PromptAnalysis {
	m.mu.Lock()
	defer m.mu.Unlock()

	return models.PromptAnalysis{
		TaskType:       ClassifyPrompt(prompt),
		SuggestedModel: ModelCatalog[m.rng.IntN(len(ModelCatalog))],
		Confidence:     m.uniform(0.7, 0.95),
	}
}

func (m *MockTrainer) GenerateResult(analysis models.PromptAnalysis) models.JobResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	precision := m.uniform(0.7, 0.9)
	recall := m.uniform(0.7, 0.9)

	importance := make([]models.FeatureImportance, 0, 8)
	for _, f := range m.sampleFeatures(m.intBetween(5, 8)) {
		importance = append(importance, models.FeatureImportance{Feature: f, Importance: m.uniform(0.05, 0.3)})
	}
	sort.Slice(importance, func(i, j int) bool {
		return importance[i].Importance > importance[j].Importance
	})

	predictions := make([]models.PredictionSample, 5)
	for i := range predictions {
		predictions[i] = models.PredictionSample{
			Input:      fmt.Sprintf("Sample input %d", i+1),
			Predicted:  "Class " + []string{"A", "B", "C"}[m.rng.IntN(3)],
			Confidence: m.uniform(0.6, 0.95),
		}
	}

	modelType := analysis.SuggestedModel
	if !InCatalog(modelType) {
		modelType = ModelCatalog[m.rng.IntN(len(ModelCatalog))]
	}

	return models.JobResult{
		ModelType:    modelType,
		TaskType:     analysis.TaskType,
		Accuracy:     m.uniform(0.75, 0.95),
		Loss:         m.uniform(0.1, 0.5),
		TrainingTime: m.uniform(30, 300),
		DatasetSize:  m.intBetween(1000, 50000),
		FeaturesUsed: m.sampleFeatures(m.intBetween(5, 10)),
		ModelSize:    fmt.Sprintf("%dMB", m.intBetween(10, 500)),
		Metrics: models.Metrics{
			Precision: precision,
			Recall:    recall,
			F1Score:   2 * precision * recall / (precision + recall),
			ConfusionMatrix: [][]int{
				{m.intBetween(80, 120), m.intBetween(5, 20)},
				{m.intBetween(5, 20), m.intBetween(80, 120)},
			},
		},
		FeatureImportance: importance,
		PredictionsSample: predictions,
	}
}
