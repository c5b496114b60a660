package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Content is one immutable row in a pipeline bucket. IDs are assigned on
// insert and monotonic per bucket; client-supplied ids are discarded.
type Content struct {
	ID         int64           `json:"id"`
	PipelineID int64           `json:"pipelineId"`
	EventID    string          `json:"eventId,omitempty"`
	Data       json.RawMessage `json:"data"`
	License    string          `json:"license"`
	Origin     string          `json:"origin"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Bucket describes one registry entry.
type Bucket struct {
	PipelineID   int64      `json:"pipelineId"`
	PipelineName string     `json:"pipelineName"`
	CreatedAt    time.Time  `json:"createdAt"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// BucketName maps a pipeline id to its bucket table. The mapping is
// deterministic so lookups never need the registry.
func BucketName(pipelineID int64) string {
	return fmt.Sprintf("bucket_%d", pipelineID)
}
