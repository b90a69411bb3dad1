package experiments

import (
	"testing"
	"time"

	"github.com/prompt-minder/promptminder/pkg/models"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int64) *int64       { return &v }
func boolPtr(v bool) *bool        { return &v }

func record(promptID string, mutate func(*models.ResultRecord)) *models.ResultRecord {
	r := &models.ResultRecord{
		ID:           "r-" + promptID,
		ExperimentID: "exp-1",
		PromptID:     promptID,
		CreatedAt:    time.Now(),
	}
	if mutate != nil {
		mutate(r)
	}
	return r
}

func ratedRecords(promptID string, n int, rating float64) []*models.ResultRecord {
	records := make([]*models.ResultRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, record(promptID, func(r *models.ResultRecord) {
			r.UserRating = floatPtr(rating)
		}))
	}
	return records
}

func TestAggregateSkipsMissingMetrics(t *testing.T) {
	records := []*models.ResultRecord{
		record("p1", func(r *models.ResultRecord) {
			r.UserRating = floatPtr(4)
			r.Cost = floatPtr(0.02)
			r.ResponseTimeMS = intPtr(200)
			r.Success = boolPtr(true)
			r.TokenCount = intPtr(100)
		}),
		record("p1", func(r *models.ResultRecord) {
			r.UserRating = floatPtr(2)
		}),
		// Nothing captured: counts toward Count only.
		record("p1", nil),
		// Zero values are treated as absent.
		record("p1", func(r *models.ResultRecord) {
			r.UserRating = floatPtr(0)
			r.Cost = floatPtr(0)
			r.ResponseTimeMS = intPtr(0)
			r.TokenCount = intPtr(0)
		}),
		// Different arm, ignored entirely.
		record("p2", func(r *models.ResultRecord) {
			r.UserRating = floatPtr(5)
		}),
	}

	stats := Aggregate(records, "p1")

	if stats.Count != 4 {
		t.Errorf("Count = %d, want 4", stats.Count)
	}
	if stats.AvgRating != 3 {
		t.Errorf("AvgRating = %v, want 3", stats.AvgRating)
	}
	if stats.AvgCost != 0.02 {
		t.Errorf("AvgCost = %v, want 0.02", stats.AvgCost)
	}
	if stats.AvgResponseTime != 200 {
		t.Errorf("AvgResponseTime = %v, want 200", stats.AvgResponseTime)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100", stats.SuccessRate)
	}
	if stats.TotalTokens != 100 {
		t.Errorf("TotalTokens = %d, want 100", stats.TotalTokens)
	}
}

func TestAggregateSuccessFalseCounts(t *testing.T) {
	records := []*models.ResultRecord{
		record("p1", func(r *models.ResultRecord) { r.Success = boolPtr(true) }),
		record("p1", func(r *models.ResultRecord) { r.Success = boolPtr(false) }),
		record("p1", func(r *models.ResultRecord) { r.Success = boolPtr(false) }),
		record("p1", func(r *models.ResultRecord) { r.Success = boolPtr(true) }),
		record("p1", nil),
	}

	stats := Aggregate(records, "p1")
	if stats.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", stats.SuccessRate)
	}
}

func TestAggregateNoRecords(t *testing.T) {
	stats := Aggregate(nil, "p1")
	if stats != (VariantStatistics{}) {
		t.Errorf("Aggregate(nil) = %+v, want zero value", stats)
	}
}

func TestAssessSignificanceSampleGate(t *testing.T) {
	const gateMessage = "Need at least 30 samples per variant for statistical significance"

	tests := []struct {
		name     string
		baseline VariantStatistics
		variant  VariantStatistics
		gated    bool
	}{
		{
			name:     "both below gate",
			baseline: VariantStatistics{Count: 29, AvgRating: 1},
			variant:  VariantStatistics{Count: 29, AvgRating: 5},
			gated:    true,
		},
		{
			name:     "variant below gate",
			baseline: VariantStatistics{Count: 40, AvgRating: 1},
			variant:  VariantStatistics{Count: 29, AvgRating: 5},
			gated:    true,
		},
		{
			name:     "baseline below gate",
			baseline: VariantStatistics{Count: 29, AvgRating: 1},
			variant:  VariantStatistics{Count: 40, AvgRating: 5},
			gated:    true,
		},
		{
			name:     "both at gate",
			baseline: VariantStatistics{Count: 30, AvgRating: 1},
			variant:  VariantStatistics{Count: 30, AvgRating: 5},
			gated:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessSignificance(tt.baseline, tt.variant)
			if tt.gated {
				if got.IsSignificant {
					t.Errorf("IsSignificant = true, want false below gate")
				}
				if got.Message != gateMessage {
					t.Errorf("Message = %q, want %q", got.Message, gateMessage)
				}
			} else if !got.IsSignificant {
				t.Errorf("IsSignificant = false, want true above gate with 400%% improvement")
			}
		})
	}
}

func TestAssessSignificanceThreshold(t *testing.T) {
	tests := []struct {
		name        string
		baselineAvg float64
		variantAvg  float64
		significant bool
		message     string
	}{
		{"exactly +10 percent", 10, 11, false, "No significant difference detected"},
		{"just above +10 percent", 10, 11.2, true, "Positive impact detected"},
		{"exactly -10 percent", 10, 9, false, "No significant difference detected"},
		{"well below -10 percent", 10, 8.5, true, "Negative impact detected"},
		{"no change", 10, 10, false, "No significant difference detected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := VariantStatistics{Count: 50, AvgRating: tt.baselineAvg}
			variant := VariantStatistics{Count: 50, AvgRating: tt.variantAvg}
			got := AssessSignificance(baseline, variant)
			if got.IsSignificant != tt.significant {
				t.Errorf("IsSignificant = %v, want %v (improvement %v)", got.IsSignificant, tt.significant, got.Improvement)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

func TestAssessSignificanceZeroBaselineRating(t *testing.T) {
	baseline := VariantStatistics{Count: 50, AvgRating: 0}
	variant := VariantStatistics{Count: 50, AvgRating: 4}

	got := AssessSignificance(baseline, variant)
	if got.IsSignificant {
		t.Errorf("IsSignificant = true, want false when baseline has no rating data")
	}
	if got.Message != "No significant difference detected" {
		t.Errorf("Message = %q", got.Message)
	}
}

func testExperiment(metric models.GoalMetric, variantIDs ...string) *models.Experiment {
	return &models.Experiment{
		ID:               "exp-1",
		Name:             "greeting tone",
		BaselinePromptID: "p-base",
		VariantPromptIDs: variantIDs,
		GoalMetric:       metric,
		Status:           models.ExperimentStatusRunning,
		MinSampleSize:    100,
	}
}

func TestBuildReportWinnerByCost(t *testing.T) {
	exp := testExperiment(models.GoalCost, "p-a", "p-b")

	var records []*models.ResultRecord
	addCost := func(promptID string, cost float64, n int) {
		for i := 0; i < n; i++ {
			records = append(records, record(promptID, func(r *models.ResultRecord) {
				r.Cost = floatPtr(cost)
			}))
		}
	}
	addCost("p-base", 0.05, 5)
	addCost("p-a", 0.02, 5)
	addCost("p-b", 0.08, 5)

	report := BuildReport(exp, records)
	if report.Winner == nil {
		t.Fatalf("Winner = nil, want the cheapest arm")
	}
	if report.Winner.PromptID != "p-a" {
		t.Errorf("Winner = %s, want p-a (lowest avg cost)", report.Winner.PromptID)
	}
	if report.TotalResults != 15 {
		t.Errorf("TotalResults = %d, want 15", report.TotalResults)
	}
}

func TestBuildReportWinnerByRating(t *testing.T) {
	exp := testExperiment(models.GoalUserRating, "p-a")

	records := append(ratedRecords("p-base", 3, 3.0), ratedRecords("p-a", 3, 4.5)...)
	report := BuildReport(exp, records)

	// Winner ranking does not wait for the significance gate.
	if report.Winner == nil || report.Winner.PromptID != "p-a" {
		t.Fatalf("Winner = %+v, want p-a", report.Winner)
	}
	if report.Variants[0].Significance == nil || report.Variants[0].Significance.IsSignificant {
		t.Errorf("Significance should be gated at 3 samples")
	}
}

func TestBuildReportNoWinnerWithoutBaselineData(t *testing.T) {
	exp := testExperiment(models.GoalUserRating, "p-a")
	records := ratedRecords("p-a", 10, 5)

	report := BuildReport(exp, records)
	if report.Winner != nil {
		t.Errorf("Winner = %+v, want nil when baseline has no records", report.Winner)
	}
}

func TestBuildReportNoWinnerWithoutVariants(t *testing.T) {
	exp := testExperiment(models.GoalUserRating)
	records := ratedRecords("p-base", 10, 5)

	report := BuildReport(exp, records)
	if report.Winner != nil {
		t.Errorf("Winner = %+v, want nil without variants", report.Winner)
	}
}

func TestBuildReportTieKeepsBaseline(t *testing.T) {
	exp := testExperiment(models.GoalUserRating, "p-a")

	records := append(ratedRecords("p-base", 5, 4), ratedRecords("p-a", 5, 4)...)
	report := BuildReport(exp, records)

	if report.Winner == nil || report.Winner.Name != models.BaselineLabel {
		t.Fatalf("Winner = %+v, want baseline on a tie", report.Winner)
	}
}

func TestBuildReportCompletion(t *testing.T) {
	exp := testExperiment(models.GoalUserRating, "p-a")
	exp.MinSampleSize = 10

	exp.CurrentSampleSize = 9
	if report := BuildReport(exp, nil); report.IsComplete {
		t.Errorf("IsComplete = true at 9/10 samples")
	}
	exp.CurrentSampleSize = 10
	if report := BuildReport(exp, nil); !report.IsComplete {
		t.Errorf("IsComplete = false at 10/10 samples")
	}
}

func TestBuildReportEndToEnd(t *testing.T) {
	exp := testExperiment(models.GoalUserRating, "p-a", "p-b")
	exp.CurrentSampleSize = 120
	exp.MinSampleSize = 100

	var records []*models.ResultRecord
	records = append(records, ratedRecords("p-base", 40, 3.0)...)
	records = append(records, ratedRecords("p-a", 40, 3.6)...)
	records = append(records, ratedRecords("p-b", 40, 2.4)...)

	report := BuildReport(exp, records)

	if report.Experiment.ID != "exp-1" || report.Experiment.GoalMetric != models.GoalUserRating {
		t.Errorf("Experiment summary = %+v", report.Experiment)
	}
	if !report.IsComplete {
		t.Errorf("IsComplete = false at 120/100 samples")
	}
	if report.Baseline.Stats.Count != 40 {
		t.Errorf("baseline Count = %d, want 40", report.Baseline.Stats.Count)
	}
	if report.Baseline.Significance != nil {
		t.Errorf("baseline must not carry a significance assessment")
	}

	if len(report.Variants) != 2 {
		t.Fatalf("len(Variants) = %d, want 2", len(report.Variants))
	}
	variantA := report.Variants[0]
	if variantA.Name != "variant_a" {
		t.Errorf("variant name = %q, want variant_a", variantA.Name)
	}
	if variantA.Significance == nil || !variantA.Significance.IsSignificant {
		t.Fatalf("variant_a significance = %+v, want significant", variantA.Significance)
	}
	if variantA.Significance.Message != "Positive impact detected" {
		t.Errorf("variant_a message = %q", variantA.Significance.Message)
	}
	variantB := report.Variants[1]
	if variantB.Significance == nil || !variantB.Significance.IsSignificant {
		t.Fatalf("variant_b significance = %+v, want significant", variantB.Significance)
	}
	if variantB.Significance.Message != "Negative impact detected" {
		t.Errorf("variant_b message = %q", variantB.Significance.Message)
	}

	if report.Winner == nil || report.Winner.PromptID != "p-a" {
		t.Fatalf("Winner = %+v, want p-a", report.Winner)
	}
}
