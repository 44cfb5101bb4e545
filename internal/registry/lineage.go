package registry

import "time"

// Lineage is the append-only provenance log persisted at
// <dataset>/lineage.json.
type Lineage struct {
	DatasetID string         `json:"dataset_id"`
	CreatedAt time.Time      `json:"created_at"`
	Steps     []LineageStep  `json:"steps"`
}

// LineageStep records one operation performed against a dataset.
type LineageStep struct {
	Operation  string                 `json:"operation"`
	Timestamp  time.Time              `json:"timestamp"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Outputs    map[string]interface{} `json:"outputs,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}
