// Package models provides domain types for the Prompt Minder experiment system.
package models

import (
	"fmt"
	"time"
)

// ExperimentStatus represents the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusStopped   ExperimentStatus = "stopped"
)

// Terminal reports whether no further transitions are allowed.
func (s ExperimentStatus) Terminal() bool {
	return s == ExperimentStatusCompleted || s == ExperimentStatusStopped
}

// Valid reports whether the status is a known lifecycle state.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentStatusDraft, ExperimentStatusRunning, ExperimentStatusCompleted, ExperimentStatusStopped:
		return true
	}
	return false
}

// GoalMetric is the measured quantity used to rank variants.
type GoalMetric string

const (
	GoalUserRating   GoalMetric = "user_rating"
	GoalCost         GoalMetric = "cost"
	GoalSuccessRate  GoalMetric = "success_rate"
	GoalResponseTime GoalMetric = "response_time"
)

// Valid reports whether the metric is one of the supported goals.
func (m GoalMetric) Valid() bool {
	switch m {
	case GoalUserRating, GoalCost, GoalSuccessRate, GoalResponseTime:
		return true
	}
	return false
}

// HigherIsBetter reports the ranking direction for the metric.
func (m GoalMetric) HigherIsBetter() bool {
	return m == GoalUserRating || m == GoalSuccessRate
}

// TrafficAllocation maps variant labels (baseline, variant_a, ...) to
// percentages. The percentages should sum to 100 but this is advisory;
// the engine never enforces it.
type TrafficAllocation map[string]int

// Experiment is an A/B test comparing a baseline prompt against one or
// more variant prompts on a chosen goal metric.
//
// Exactly one of TeamID / CreatedBy-as-personal-owner scopes the
// experiment: a non-empty TeamID means team scope, otherwise the
// experiment is personal to CreatedBy.
type Experiment struct {
	ID                string            `json:"id"`
	TeamID            string            `json:"team_id,omitempty"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	BaselinePromptID  string            `json:"baseline_prompt_id"`
	VariantPromptIDs  []string          `json:"variant_prompt_ids"`
	GoalMetric        GoalMetric        `json:"goal_metric"`
	TargetImprovement float64           `json:"target_improvement,omitempty"`
	TrafficAllocation TrafficAllocation `json:"traffic_allocation,omitempty"`
	Status            ExperimentStatus  `json:"status"`
	MinSampleSize     int               `json:"min_sample_size"`
	CurrentSampleSize int               `json:"current_sample_size"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
}

// PromptIDs returns the baseline followed by the variants, in order.
func (e *Experiment) PromptIDs() []string {
	ids := make([]string, 0, len(e.VariantPromptIDs)+1)
	ids = append(ids, e.BaselinePromptID)
	ids = append(ids, e.VariantPromptIDs...)
	return ids
}

// HasPrompt reports whether id is the baseline or one of the variants.
func (e *Experiment) HasPrompt(id string) bool {
	if id == e.BaselinePromptID {
		return true
	}
	for _, v := range e.VariantPromptIDs {
		if v == id {
			return true
		}
	}
	return false
}

// VariantLabel returns the positional label for a variant index:
// 0 -> "variant_a", 1 -> "variant_b", and so on. Labels are derived from
// array position at read time and never stored; the variant order is
// immutable once the experiment is created.
func VariantLabel(index int) string {
	return fmt.Sprintf("variant_%c", 'a'+rune(index))
}

// BaselineLabel is the fixed label for the control arm.
const BaselineLabel = "baseline"
