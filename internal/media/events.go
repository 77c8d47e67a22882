package media

import "time"

// ImportCompleted is emitted to Kafka when a file has been imported,
// anonymized and handed to downstream consumers.
type ImportCompleted struct {
	RecordID         string    `json:"record_id"`
	MediaType        Type      `json:"media_type"`
	CenterID         string    `json:"center_id"`
	ContentHash      string    `json:"content_hash"`
	OriginalFilename string    `json:"original_filename"`
	AnonymizedPath   string    `json:"anonymized_path"`
	Segmented        bool      `json:"segmented"`
	CompletedAt      time.Time `json:"completed_at"`
}
