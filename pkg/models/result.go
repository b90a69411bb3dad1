package models

import "time"

// ResultRecord is one observation from a single prompt invocation,
// tagged with which experiment arm served it. Records are append-only;
// the statistics engine only ever reads them.
//
// Metric fields are pointers: nil means the metric was not measured for
// this invocation. Aggregation skips absent fields rather than treating
// them as zero.
type ResultRecord struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	PromptID     string `json:"prompt_id"`
	VariantName  string `json:"variant_name,omitempty"`
	UserID       string `json:"user_id,omitempty"`

	InputText  string `json:"input_text,omitempty"`
	OutputText string `json:"output_text,omitempty"`

	UserRating     *float64 `json:"user_rating,omitempty"`
	UserFeedback   string   `json:"user_feedback,omitempty"`
	Cost           *float64 `json:"cost,omitempty"`
	ResponseTimeMS *int64   `json:"response_time_ms,omitempty"`
	Success        *bool    `json:"success,omitempty"`
	TokenCount     *int64   `json:"token_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
