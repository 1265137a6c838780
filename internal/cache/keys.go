package cache

import (
	"fmt"

	"github.com/google/uuid"
)

const keyPrefix = "jobkeeper:"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%sjob:%s:status", keyPrefix, jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("%sratelimit:%s", keyPrefix, client)
}
