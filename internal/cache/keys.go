package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ResultViewKey(jobID uuid.UUID) string {
	return fmt.Sprintf("result:%s", jobID)
}

func RateLimitKey(userID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:%s", userID)
}
