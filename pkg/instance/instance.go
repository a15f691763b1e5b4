package instance

import (
	"os"
	"strings"
)

// GetID names this process within a consumer group: WORKER_ID, then the
// hostname, then "worker-0".
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
