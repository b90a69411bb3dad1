package experiments

import (
	"hash/fnv"

	"github.com/prompt-minder/promptminder/pkg/models"
)

// DefaultTrafficAllocation builds the allocation used when the creator
// does not supply one: the baseline gets 50%, and the remaining 50% is
// split evenly (integer floor) across the variants. The map is advisory;
// the engine never enforces that it sums to 100.
func DefaultTrafficAllocation(variantCount int) models.TrafficAllocation {
	allocation := models.TrafficAllocation{models.BaselineLabel: 50}
	if variantCount <= 0 {
		return allocation
	}
	share := 50 / variantCount
	for i := 0; i < variantCount; i++ {
		allocation[models.VariantLabel(i)] = share
	}
	return allocation
}

// Assignment names the experiment arm chosen for a subject.
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	PromptID     string `json:"prompt_id"`
	VariantName  string `json:"variant_name"`
}

// AssignVariant deterministically buckets a subject into one of the
// experiment's arms, honoring the traffic allocation percentages. The
// same subject always lands in the same arm for a given experiment, so
// callers can route traffic without storing assignments.
//
// Labels missing from the allocation get zero traffic; if every label
// is missing or zero, everything falls through to the baseline.
func AssignVariant(exp *models.Experiment, subject string) Assignment {
	assignment := Assignment{
		ExperimentID: exp.ID,
		PromptID:     exp.BaselinePromptID,
		VariantName:  models.BaselineLabel,
	}
	if subject == "" || len(exp.VariantPromptIDs) == 0 {
		return assignment
	}

	total := 0
	weights := make([]int, len(exp.VariantPromptIDs)+1)
	weights[0] = exp.TrafficAllocation[models.BaselineLabel]
	total += weights[0]
	for i := range exp.VariantPromptIDs {
		weights[i+1] = exp.TrafficAllocation[models.VariantLabel(i)]
		total += weights[i+1]
	}
	if total <= 0 {
		return assignment
	}

	pick := int(hashUint32(subject+":"+exp.ID) % uint32(total))
	for i, weight := range weights {
		if weight <= 0 {
			continue
		}
		if pick < weight {
			if i > 0 {
				assignment.PromptID = exp.VariantPromptIDs[i-1]
				assignment.VariantName = models.VariantLabel(i - 1)
			}
			return assignment
		}
		pick -= weight
	}
	return assignment
}

func hashUint32(value string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	return h.Sum32()
}
