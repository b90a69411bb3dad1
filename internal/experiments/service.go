// Package experiments implements the A/B experiment lifecycle and the
// statistics engine that turns raw result records into ranked reports.
//
// The lifecycle state machine is draft -> running -> completed|stopped,
// with no transitions out of a terminal state. Transitions are applied
// through a compare-and-swap on status so concurrent callers cannot
// double-apply a transition.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prompt-minder/promptminder/internal/observability"
	"github.com/prompt-minder/promptminder/internal/storage"
	"github.com/prompt-minder/promptminder/pkg/models"
)

// defaultMinSampleSize applies when the creator does not specify one.
const defaultMinSampleSize = 100

// Caller identifies the requesting user and, when the request is made
// in a team context, the team the request is scoped to.
type Caller struct {
	UserID string
	TeamID string
}

// Capabilities are the caller's rights on a specific experiment,
// resolved once per request and consulted by every operation instead of
// re-deriving membership rules inline.
type Capabilities struct {
	CanRead   bool
	CanManage bool
}

// Service coordinates experiment lifecycle operations against the
// backing stores. The statistics engine itself (Aggregate, BuildReport)
// is stateless; Service supplies it with consistent snapshots.
type Service struct {
	stores           storage.StoreSet
	logger           *observability.Logger
	metrics          *observability.Metrics
	minSampleDefault int
}

// NewService creates an experiment service.
func NewService(stores storage.StoreSet, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Service{
		stores:           stores,
		logger:           logger,
		metrics:          metrics,
		minSampleDefault: defaultMinSampleSize,
	}
}

// SetDefaultMinSampleSize overrides the sample-size default applied to
// experiments created without one.
func (s *Service) SetDefaultMinSampleSize(n int) {
	if n > 0 {
		s.minSampleDefault = n
	}
}

// CreateParams is the input to Create.
type CreateParams struct {
	Name              string
	Description       string
	BaselinePromptID  string
	VariantPromptIDs  []string
	GoalMetric        models.GoalMetric
	TargetImprovement float64
	TrafficAllocation models.TrafficAllocation
	MinSampleSize     int
}

// Create validates the definition, verifies every referenced prompt
// exists and belongs to the caller's scope, and stores a new draft
// experiment.
func (s *Service) Create(ctx context.Context, caller Caller, params CreateParams) (*models.Experiment, error) {
	if caller.TeamID != "" {
		if _, err := s.requireMembership(ctx, caller); err != nil {
			return nil, err
		}
	}
	if err := validateDefinition(params.Name, params.BaselinePromptID, params.VariantPromptIDs, params.GoalMetric); err != nil {
		return nil, err
	}
	minSample := params.MinSampleSize
	if minSample == 0 {
		minSample = s.minSampleDefault
	}
	if minSample < 1 {
		return nil, invalid("min_sample_size", "must be at least 1")
	}

	if err := s.checkPromptScope(ctx, caller, append([]string{params.BaselinePromptID}, params.VariantPromptIDs...)); err != nil {
		return nil, err
	}

	allocation := params.TrafficAllocation
	if allocation == nil {
		allocation = DefaultTrafficAllocation(len(params.VariantPromptIDs))
	}

	now := time.Now().UTC()
	exp := &models.Experiment{
		ID:                uuid.NewString(),
		TeamID:            caller.TeamID,
		Name:              params.Name,
		Description:       params.Description,
		BaselinePromptID:  params.BaselinePromptID,
		VariantPromptIDs:  append([]string(nil), params.VariantPromptIDs...),
		GoalMetric:        params.GoalMetric,
		TargetImprovement: params.TargetImprovement,
		TrafficAllocation: allocation,
		Status:            models.ExperimentStatusDraft,
		MinSampleSize:     minSample,
		CurrentSampleSize: 0,
		CreatedBy:         caller.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.stores.Experiments.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	s.logger.Info(ctx, "experiment created",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"goal_metric", exp.GoalMetric,
		"variants", len(exp.VariantPromptIDs),
	)
	return exp, nil
}

// ExperimentDetail is an experiment with its prompt references resolved.
type ExperimentDetail struct {
	*models.Experiment
	BaselinePrompt *models.PromptRef  `json:"baseline_prompt,omitempty"`
	VariantPrompts []models.PromptRef `json:"variant_prompts"`
}

// Get returns the experiment with resolved baseline and variant prompts.
func (s *Service) Get(ctx context.Context, caller Caller, id string) (*ExperimentDetail, error) {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caps.CanRead {
		return nil, &PermissionError{Message: "not authorized to view this experiment"}
	}

	prompts, err := s.stores.Prompts.GetMany(ctx, exp.PromptIDs())
	if err != nil {
		return nil, fmt.Errorf("resolve prompts: %w", err)
	}
	byID := make(map[string]*models.Prompt, len(prompts))
	for _, prompt := range prompts {
		byID[prompt.ID] = prompt
	}

	detail := &ExperimentDetail{Experiment: exp, VariantPrompts: []models.PromptRef{}}
	if prompt, ok := byID[exp.BaselinePromptID]; ok {
		ref := prompt.Ref()
		detail.BaselinePrompt = &ref
	}
	for _, variantID := range exp.VariantPromptIDs {
		if prompt, ok := byID[variantID]; ok {
			detail.VariantPrompts = append(detail.VariantPrompts, prompt.Ref())
		}
	}
	return detail, nil
}

// List returns the caller's experiments, newest first, optionally
// filtered by status.
func (s *Service) List(ctx context.Context, caller Caller, status models.ExperimentStatus, limit, offset int) ([]*models.Experiment, int, error) {
	filter := storage.ExperimentFilter{Status: status, Limit: limit, Offset: offset}
	if caller.TeamID != "" {
		if _, err := s.requireMembership(ctx, caller); err != nil {
			return nil, 0, err
		}
		filter.TeamID = caller.TeamID
	} else {
		filter.CreatedBy = caller.UserID
	}
	return s.stores.Experiments.List(ctx, filter)
}

// UpdateParams is the patch input to Update. Nil fields are unchanged.
type UpdateParams struct {
	Name              *string
	Description       *string
	BaselinePromptID  *string
	VariantPromptIDs  []string
	GoalMetric        *models.GoalMetric
	TargetImprovement *float64
	TrafficAllocation models.TrafficAllocation
	MinSampleSize     *int
}

func (p *UpdateParams) touchesArms() bool {
	return p.BaselinePromptID != nil || p.VariantPromptIDs != nil
}

// Update applies a field patch to a non-running experiment. Baseline and
// variant references are frozen once the experiment has left draft.
func (s *Service) Update(ctx context.Context, caller Caller, id string, patch UpdateParams) (*models.Experiment, error) {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caps.CanManage {
		return nil, &PermissionError{Message: "not authorized to modify this experiment"}
	}
	if exp.Status == models.ExperimentStatusRunning {
		return nil, &ConflictError{Message: "Cannot update running experiment"}
	}
	if patch.touchesArms() && exp.Status != models.ExperimentStatusDraft {
		return nil, &ConflictError{Message: "Cannot change experiment arms after the experiment has started"}
	}

	if patch.Name != nil {
		exp.Name = *patch.Name
	}
	if patch.Description != nil {
		exp.Description = *patch.Description
	}
	if patch.BaselinePromptID != nil {
		exp.BaselinePromptID = *patch.BaselinePromptID
	}
	if patch.VariantPromptIDs != nil {
		exp.VariantPromptIDs = append([]string(nil), patch.VariantPromptIDs...)
	}
	if patch.GoalMetric != nil {
		exp.GoalMetric = *patch.GoalMetric
	}
	if patch.TargetImprovement != nil {
		exp.TargetImprovement = *patch.TargetImprovement
	}
	if patch.TrafficAllocation != nil {
		exp.TrafficAllocation = patch.TrafficAllocation
	}
	if patch.MinSampleSize != nil {
		if *patch.MinSampleSize < 1 {
			return nil, invalid("min_sample_size", "must be at least 1")
		}
		exp.MinSampleSize = *patch.MinSampleSize
	}

	if err := validateDefinition(exp.Name, exp.BaselinePromptID, exp.VariantPromptIDs, exp.GoalMetric); err != nil {
		return nil, err
	}
	if patch.touchesArms() {
		if err := s.checkPromptScope(ctx, scopeOf(exp), exp.PromptIDs()); err != nil {
			return nil, err
		}
	}

	exp.UpdatedAt = time.Now().UTC()
	if err := s.stores.Experiments.Update(ctx, exp); err != nil {
		return nil, fmt.Errorf("update experiment: %w", err)
	}
	return exp, nil
}

// Start transitions a draft experiment to running and stamps started_at.
func (s *Service) Start(ctx context.Context, caller Caller, id string) (*models.Experiment, error) {
	return s.transition(ctx, caller, id, models.ExperimentStatusDraft, models.ExperimentStatusRunning)
}

// Stop transitions a running experiment to stopped and stamps ended_at.
func (s *Service) Stop(ctx context.Context, caller Caller, id string) (*models.Experiment, error) {
	return s.transition(ctx, caller, id, models.ExperimentStatusRunning, models.ExperimentStatusStopped)
}

// Complete transitions a running experiment to completed and stamps
// ended_at. Completion is always an explicit caller decision; reaching
// min_sample_size never completes an experiment automatically.
func (s *Service) Complete(ctx context.Context, caller Caller, id string) (*models.Experiment, error) {
	return s.transition(ctx, caller, id, models.ExperimentStatusRunning, models.ExperimentStatusCompleted)
}

func (s *Service) transition(ctx context.Context, caller Caller, id string, from, to models.ExperimentStatus) (*models.Experiment, error) {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caps.CanManage {
		return nil, &PermissionError{Message: "not authorized to modify this experiment"}
	}
	if exp.Status != from {
		return nil, transitionConflict(exp.Status, to)
	}

	now := time.Now().UTC()
	var startedAt, endedAt *time.Time
	if to == models.ExperimentStatusRunning {
		startedAt = &now
	} else {
		endedAt = &now
	}

	updated, err := s.stores.Experiments.UpdateStatus(ctx, id, from, to, startedAt, endedAt)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race to a concurrent transition.
			return nil, transitionConflict(exp.Status, to)
		}
		return nil, fmt.Errorf("transition experiment: %w", err)
	}

	s.logger.Info(ctx, "experiment status changed",
		"experiment_id", id,
		"from", from,
		"to", to,
	)
	if s.metrics != nil {
		s.metrics.ExperimentTransitions.WithLabelValues(string(from), string(to)).Inc()
		switch to {
		case models.ExperimentStatusRunning:
			s.metrics.RunningExperiments.Inc()
		case models.ExperimentStatusStopped, models.ExperimentStatusCompleted:
			s.metrics.RunningExperiments.Dec()
		}
	}
	return updated, nil
}

func transitionConflict(current, to models.ExperimentStatus) *ConflictError {
	switch {
	case to == models.ExperimentStatusRunning && current == models.ExperimentStatusRunning:
		return &ConflictError{Message: "Experiment is already running"}
	case to == models.ExperimentStatusRunning && current.Terminal():
		return &ConflictError{Message: fmt.Sprintf("Cannot restart %s experiment", current)}
	case to == models.ExperimentStatusRunning:
		return &ConflictError{Message: "Experiment can only be started from draft"}
	default:
		return &ConflictError{Message: fmt.Sprintf("Cannot transition %s experiment to %s", current, to)}
	}
}

// Delete removes an experiment in any state, cascading its results.
func (s *Service) Delete(ctx context.Context, caller Caller, id string) error {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return err
	}
	if !caps.CanManage {
		return &PermissionError{Message: "not authorized to delete this experiment"}
	}
	if err := s.stores.Experiments.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if s.metrics != nil && exp.Status == models.ExperimentStatusRunning {
		s.metrics.RunningExperiments.Dec()
	}
	s.logger.Info(ctx, "experiment deleted", "experiment_id", id, "status", exp.Status)
	return nil
}

// RecordParams is one observation to record against a running experiment.
type RecordParams struct {
	PromptID       string
	VariantName    string
	InputText      string
	OutputText     string
	UserRating     *float64
	UserFeedback   string
	Cost           *float64
	ResponseTimeMS *int64
	Success        *bool
	TokenCount     *int64
}

// RecordResult appends an observation to a running experiment. The
// record insert and the sample-size increment are paired in the store
// so the completion counter cannot drift.
func (s *Service) RecordResult(ctx context.Context, caller Caller, experimentID string, params RecordParams) (*models.ResultRecord, error) {
	exp, caps, err := s.load(ctx, caller, experimentID)
	if err != nil {
		return nil, err
	}
	if !caps.CanRead {
		return nil, &PermissionError{Message: "not authorized to record results for this experiment"}
	}
	if params.PromptID == "" {
		return nil, invalid("prompt_id", "is required")
	}
	if exp.Status != models.ExperimentStatusRunning {
		return nil, &ConflictError{Message: "Experiment is not running"}
	}
	if !exp.HasPrompt(params.PromptID) {
		return nil, invalid("prompt_id", "is not part of this experiment")
	}

	record := &models.ResultRecord{
		ID:             uuid.NewString(),
		ExperimentID:   experimentID,
		PromptID:       params.PromptID,
		VariantName:    params.VariantName,
		UserID:         caller.UserID,
		InputText:      params.InputText,
		OutputText:     params.OutputText,
		UserRating:     params.UserRating,
		UserFeedback:   params.UserFeedback,
		Cost:           params.Cost,
		ResponseTimeMS: params.ResponseTimeMS,
		Success:        params.Success,
		TokenCount:     params.TokenCount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.stores.Results.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ResultsRecorded.WithLabelValues(string(exp.GoalMetric)).Inc()
	}
	return record, nil
}

// Report loads a consistent snapshot of the experiment's records and
// builds the ranked analysis.
func (s *Service) Report(ctx context.Context, caller Caller, id string) (*AnalysisReport, error) {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caps.CanRead {
		return nil, &PermissionError{Message: "not authorized to view this experiment"}
	}
	records, err := s.stores.Results.ListByExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	start := time.Now()
	report := BuildReport(exp, records)
	if s.metrics != nil {
		s.metrics.ReportBuildDuration.Observe(time.Since(start).Seconds())
	}
	return report, nil
}

// Assign buckets a subject into one of a running experiment's arms.
func (s *Service) Assign(ctx context.Context, caller Caller, id, subject string) (*Assignment, error) {
	exp, caps, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caps.CanRead {
		return nil, &PermissionError{Message: "not authorized to view this experiment"}
	}
	if subject == "" {
		return nil, invalid("subject", "is required")
	}
	if exp.Status != models.ExperimentStatusRunning {
		return nil, &ConflictError{Message: "Experiment is not running"}
	}
	assignment := AssignVariant(exp, subject)
	return &assignment, nil
}

// load fetches the experiment and resolves the caller's capabilities on
// it in one step, so handlers do a single permission check per request.
func (s *Service) load(ctx context.Context, caller Caller, id string) (*models.Experiment, Capabilities, error) {
	exp, err := s.stores.Experiments.Get(ctx, id)
	if err != nil {
		return nil, Capabilities{}, err
	}
	caps, err := s.resolveCapabilities(ctx, exp, caller.UserID)
	if err != nil {
		return nil, Capabilities{}, err
	}
	return exp, caps, nil
}

// resolveCapabilities derives the caller's rights on an experiment. Team
// scope: any member reads, owners and admins manage. Personal scope: the
// creator reads and manages; everyone else gets nothing.
func (s *Service) resolveCapabilities(ctx context.Context, exp *models.Experiment, userID string) (Capabilities, error) {
	if userID == "" {
		return Capabilities{}, nil
	}
	if exp.TeamID == "" {
		if exp.CreatedBy == userID {
			return Capabilities{CanRead: true, CanManage: true}, nil
		}
		return Capabilities{}, nil
	}
	member, err := s.stores.Teams.GetMember(ctx, exp.TeamID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Capabilities{}, nil
	}
	if err != nil {
		return Capabilities{}, fmt.Errorf("resolve membership: %w", err)
	}
	return Capabilities{CanRead: true, CanManage: member.Role.Manager()}, nil
}

func (s *Service) requireMembership(ctx context.Context, caller Caller) (*models.TeamMember, error) {
	member, err := s.stores.Teams.GetMember(ctx, caller.TeamID, caller.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &PermissionError{Message: "not a member of this team"}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve membership: %w", err)
	}
	return member, nil
}

func (s *Service) checkPromptScope(ctx context.Context, caller Caller, promptIDs []string) error {
	prompts, err := s.stores.Prompts.GetMany(ctx, promptIDs)
	if err != nil {
		return fmt.Errorf("resolve prompts: %w", err)
	}
	if len(prompts) != len(promptIDs) {
		return fmt.Errorf("one or more prompts: %w", storage.ErrNotFound)
	}
	for _, prompt := range prompts {
		if caller.TeamID != "" {
			if prompt.TeamID != caller.TeamID {
				return &PermissionError{Message: "not authorized to use one or more prompts"}
			}
			continue
		}
		if prompt.TeamID != "" || prompt.CreatedBy != caller.UserID {
			return &PermissionError{Message: "not authorized to use one or more prompts"}
		}
	}
	return nil
}

func scopeOf(exp *models.Experiment) Caller {
	return Caller{UserID: exp.CreatedBy, TeamID: exp.TeamID}
}

func validateDefinition(name, baselineID string, variantIDs []string, metric models.GoalMetric) error {
	if name == "" {
		return invalid("name", "is required")
	}
	if baselineID == "" {
		return invalid("baseline_prompt_id", "is required")
	}
	if len(variantIDs) == 0 {
		return invalid("variant_prompt_ids", "at least one variant is required")
	}
	seen := make(map[string]bool, len(variantIDs))
	for _, id := range variantIDs {
		if id == "" {
			return invalid("variant_prompt_ids", "contains an empty id")
		}
		if id == baselineID {
			return invalid("variant_prompt_ids", "must not include the baseline prompt")
		}
		if seen[id] {
			return invalid("variant_prompt_ids", "contains duplicate ids")
		}
		seen[id] = true
	}
	if metric == "" {
		return invalid("goal_metric", "is required")
	}
	if !metric.Valid() {
		return invalid("goal_metric", "must be one of user_rating, cost, success_rate, response_time")
	}
	return nil
}
