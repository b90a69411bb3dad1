package experiments

import (
	"fmt"
	"sort"

	"github.com/prompt-minder/promptminder/pkg/models"
)

// VariantStatistics aggregates the result records of one experiment arm.
// Averages are computed only over records where the metric was captured;
// a metric captured by zero records yields 0, never NaN, so downstream
// ranking and rendering never break on sparse data.
type VariantStatistics struct {
	Count           int     `json:"count"`
	AvgRating       float64 `json:"avgRating"`
	AvgCost         float64 `json:"avgCost"`
	AvgResponseTime float64 `json:"avgResponseTime"`
	SuccessRate     float64 `json:"successRate"`
	TotalTokens     int64   `json:"totalTokens"`
}

// SignificanceAssessment is the verdict on whether a variant differs
// meaningfully from the baseline. This is a heuristic (sample-size gate
// plus a flat percentage threshold), not a statistical hypothesis test.
type SignificanceAssessment struct {
	IsSignificant bool    `json:"isSignificant"`
	Improvement   float64 `json:"improvement,omitempty"`
	Message       string  `json:"message"`
}

// minSamplesForSignificance is the per-arm sample gate below which no
// significance verdict is attempted.
const minSamplesForSignificance = 30

// significanceThresholdPct is the absolute improvement (in percent)
// that must be strictly exceeded to flag significance.
const significanceThresholdPct = 10.0

// VariantReport pairs an experiment arm with its statistics.
type VariantReport struct {
	PromptID     string                  `json:"promptId"`
	Name         string                  `json:"name"`
	Stats        VariantStatistics       `json:"stats"`
	Significance *SignificanceAssessment `json:"significance,omitempty"`
}

// ExperimentSummary is the compact experiment header embedded in reports.
type ExperimentSummary struct {
	ID                string                  `json:"id"`
	Name              string                  `json:"name"`
	Status            models.ExperimentStatus `json:"status"`
	GoalMetric        models.GoalMetric       `json:"goalMetric"`
	CurrentSampleSize int                     `json:"currentSampleSize"`
	MinSampleSize     int                     `json:"minSampleSize"`
	TargetImprovement float64                 `json:"targetImprovement,omitempty"`
}

// AnalysisReport is the full ranked analysis of an experiment.
type AnalysisReport struct {
	Experiment   ExperimentSummary `json:"experiment"`
	Baseline     VariantReport     `json:"baseline"`
	Variants     []VariantReport   `json:"variants"`
	Winner       *VariantReport    `json:"winner"`
	TotalResults int               `json:"totalResults"`
	IsComplete   bool              `json:"isComplete"`
}

// Aggregate computes per-arm statistics over the records that belong to
// promptID. Count covers every matching record regardless of which
// metrics it captured; each average covers only the records that
// captured that metric. Zero-valued ratings, costs, response times, and
// token counts are treated as absent, matching the upstream collector
// which never emits zero for a captured metric.
func Aggregate(records []*models.ResultRecord, promptID string) VariantStatistics {
	var stats VariantStatistics

	var ratingSum, costSum, responseSum float64
	var ratingN, costN, responseN, successN, successTrue int
	for _, record := range records {
		if record == nil || record.PromptID != promptID {
			continue
		}
		stats.Count++
		if record.UserRating != nil && *record.UserRating != 0 {
			ratingSum += *record.UserRating
			ratingN++
		}
		if record.Cost != nil && *record.Cost != 0 {
			costSum += *record.Cost
			costN++
		}
		if record.ResponseTimeMS != nil && *record.ResponseTimeMS != 0 {
			responseSum += float64(*record.ResponseTimeMS)
			responseN++
		}
		if record.Success != nil {
			successN++
			if *record.Success {
				successTrue++
			}
		}
		if record.TokenCount != nil && *record.TokenCount != 0 {
			stats.TotalTokens += *record.TokenCount
		}
	}

	if ratingN > 0 {
		stats.AvgRating = ratingSum / float64(ratingN)
	}
	if costN > 0 {
		stats.AvgCost = costSum / float64(costN)
	}
	if responseN > 0 {
		stats.AvgResponseTime = responseSum / float64(responseN)
	}
	if successN > 0 {
		stats.SuccessRate = float64(successTrue) / float64(successN) * 100
	}
	return stats
}

// AssessSignificance compares a variant against the baseline.
//
// Both arms need at least 30 samples before any verdict is attempted;
// below that the assessment reports not-significant with an explanatory
// message no matter how large the gap is. Above the gate, the relative
// change in average rating must strictly exceed 10% in either direction.
//
// The comparison is always on average rating, regardless of the
// experiment's configured goal metric. That mirrors the behavior the
// product has always had; changing it to honor the goal metric would
// silently re-grade historical experiments.
func AssessSignificance(baseline, variant VariantStatistics) SignificanceAssessment {
	if baseline.Count < minSamplesForSignificance || variant.Count < minSamplesForSignificance {
		return SignificanceAssessment{
			IsSignificant: false,
			Message:       "Need at least 30 samples per variant for statistical significance",
		}
	}

	if baseline.AvgRating == 0 {
		// No rating data on the baseline: the relative change is
		// undefined, so no verdict.
		return SignificanceAssessment{
			IsSignificant: false,
			Message:       "No significant difference detected",
		}
	}

	improvement := (variant.AvgRating - baseline.AvgRating) / baseline.AvgRating * 100
	if improvement > significanceThresholdPct || improvement < -significanceThresholdPct {
		direction := "Positive"
		if improvement < 0 {
			direction = "Negative"
		}
		return SignificanceAssessment{
			IsSignificant: true,
			Improvement:   improvement,
			Message:       fmt.Sprintf("%s impact detected", direction),
		}
	}

	return SignificanceAssessment{
		IsSignificant: false,
		Improvement:   improvement,
		Message:       "No significant difference detected",
	}
}

// BuildReport turns an experiment and its raw records into a ranked
// analysis. It is a pure read-time transformation: sparse or missing
// data degrades to zero-valued statistics and a nil winner, never an
// error.
func BuildReport(exp *models.Experiment, records []*models.ResultRecord) *AnalysisReport {
	baselineStats := Aggregate(records, exp.BaselinePromptID)

	variants := make([]VariantReport, 0, len(exp.VariantPromptIDs))
	for i, variantID := range exp.VariantPromptIDs {
		stats := Aggregate(records, variantID)
		significance := AssessSignificance(baselineStats, stats)
		variants = append(variants, VariantReport{
			PromptID:     variantID,
			Name:         models.VariantLabel(i),
			Stats:        stats,
			Significance: &significance,
		})
	}

	baseline := VariantReport{
		PromptID: exp.BaselinePromptID,
		Name:     models.BaselineLabel,
		Stats:    baselineStats,
	}

	winner := pickWinner(exp.GoalMetric, baseline, variants)

	return &AnalysisReport{
		Experiment: ExperimentSummary{
			ID:                exp.ID,
			Name:              exp.Name,
			Status:            exp.Status,
			GoalMetric:        exp.GoalMetric,
			CurrentSampleSize: exp.CurrentSampleSize,
			MinSampleSize:     exp.MinSampleSize,
			TargetImprovement: exp.TargetImprovement,
		},
		Baseline:     baseline,
		Variants:     variants,
		Winner:       winner,
		TotalResults: len(records),
		IsComplete:   exp.CurrentSampleSize >= exp.MinSampleSize,
	}
}

// pickWinner ranks baseline plus variants on the goal metric and returns
// the front-runner. Ranking applies regardless of the significance gate;
// only the significance message requires the 30-sample threshold.
//
// The winner is nil unless the baseline has at least one record and the
// experiment has at least one variant: ranking all-empty arms would just
// echo insertion order.
func pickWinner(metric models.GoalMetric, baseline VariantReport, variants []VariantReport) *VariantReport {
	if baseline.Stats.Count == 0 || len(variants) == 0 {
		return nil
	}

	candidates := make([]VariantReport, 0, len(variants)+1)
	candidates = append(candidates, baseline)
	candidates = append(candidates, variants...)

	// Stable sort: ties keep baseline first, then variant insertion order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Stats, candidates[j].Stats
		switch metric {
		case models.GoalUserRating:
			return a.AvgRating > b.AvgRating
		case models.GoalCost:
			return a.AvgCost < b.AvgCost
		case models.GoalSuccessRate:
			return a.SuccessRate > b.SuccessRate
		case models.GoalResponseTime:
			return a.AvgResponseTime < b.AvgResponseTime
		default:
			return false
		}
	})

	winner := candidates[0]
	return &winner
}
