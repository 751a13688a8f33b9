package trainer

import (
	"fmt"

	"github.com/kiranshivaraju/automl/internal/config"
	"github.com/kiranshivaraju/automl/pkg/models"
)

// New constructs the trainer named by cfg.Provider.
// Called once at worker startup.
func New(cfg config.TrainerConfig) (models.Trainer, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockTrainer(cfg.Seed), nil
	default:
		return nil, fmt.Errorf("unknown trainer provider %q: must be mock", cfg.Provider)
	}
}
