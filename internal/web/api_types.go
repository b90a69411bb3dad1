package web

import (
	"github.com/prompt-minder/promptminder/pkg/models"
)

// createExperimentRequest is the body for POST /api/ab-tests.
type createExperimentRequest struct {
	Name              string                   `json:"name"`
	Description       string                   `json:"description"`
	BaselinePromptID  string                   `json:"baseline_prompt_id"`
	VariantPromptIDs  []string                 `json:"variant_prompt_ids"`
	GoalMetric        models.GoalMetric        `json:"goal_metric"`
	TargetImprovement float64                  `json:"target_improvement"`
	TrafficAllocation models.TrafficAllocation `json:"traffic_allocation"`
	MinSampleSize     int                      `json:"min_sample_size"`
}

// updateExperimentRequest is the body for PATCH /api/ab-tests/{id}.
// Absent fields are left unchanged.
type updateExperimentRequest struct {
	Name              *string                  `json:"name"`
	Description       *string                  `json:"description"`
	BaselinePromptID  *string                  `json:"baseline_prompt_id"`
	VariantPromptIDs  []string                 `json:"variant_prompt_ids"`
	GoalMetric        *models.GoalMetric       `json:"goal_metric"`
	TargetImprovement *float64                 `json:"target_improvement"`
	TrafficAllocation models.TrafficAllocation `json:"traffic_allocation"`
	MinSampleSize     *int                     `json:"min_sample_size"`
}

// recordResultRequest is the body for POST /api/ab-tests/{id}/record.
// Metric fields are pointers so an absent field is distinguishable from
// an explicit zero.
type recordResultRequest struct {
	PromptID       string   `json:"prompt_id"`
	VariantName    string   `json:"variant_name"`
	InputText      string   `json:"input_text"`
	OutputText     string   `json:"output_text"`
	UserRating     *float64 `json:"user_rating"`
	UserFeedback   string   `json:"user_feedback"`
	Cost           *float64 `json:"cost"`
	ResponseTimeMS *int64   `json:"response_time_ms"`
	Success        *bool    `json:"success"`
	TokenCount     *int64   `json:"token_count"`
}

// pagination is the envelope attached to list responses.
type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// experimentListResponse is the body for GET /api/ab-tests.
type experimentListResponse struct {
	Experiments []*models.Experiment `json:"experiments"`
	Pagination  pagination           `json:"pagination"`
}
