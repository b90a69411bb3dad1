package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prompt-minder/promptminder/pkg/models"
)

// MemoryExperimentStore provides an in-memory ExperimentStore.
type MemoryExperimentStore struct {
	mu          sync.RWMutex
	experiments map[string]*models.Experiment
}

// NewMemoryExperimentStore creates an in-memory experiment store.
func NewMemoryExperimentStore() *MemoryExperimentStore {
	return &MemoryExperimentStore{experiments: make(map[string]*models.Experiment)}
}

func (s *MemoryExperimentStore) Create(ctx context.Context, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[exp.ID]; exists {
		return ErrAlreadyExists
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

func (s *MemoryExperimentStore) Get(ctx context.Context, id string) (*models.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExperiment(exp), nil
}

func (s *MemoryExperimentStore) List(ctx context.Context, filter ExperimentFilter) ([]*models.Experiment, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	experiments := make([]*models.Experiment, 0, len(s.experiments))
	for _, exp := range s.experiments {
		if filter.TeamID != "" && exp.TeamID != filter.TeamID {
			continue
		}
		if filter.TeamID == "" && filter.CreatedBy != "" && (exp.TeamID != "" || exp.CreatedBy != filter.CreatedBy) {
			continue
		}
		if filter.Status != "" && exp.Status != filter.Status {
			continue
		}
		experiments = append(experiments, cloneExperiment(exp))
	}
	sort.Slice(experiments, func(i, j int) bool {
		return experiments[i].CreatedAt.After(experiments[j].CreatedAt)
	})
	return paginateExperiments(experiments, filter.Limit, filter.Offset), len(experiments), nil
}

func paginateExperiments(experiments []*models.Experiment, limit, offset int) []*models.Experiment {
	if offset < 0 {
		offset = 0
	}
	if offset > len(experiments) {
		offset = len(experiments)
	}
	end := len(experiments)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return experiments[offset:end]
}

func (s *MemoryExperimentStore) Update(ctx context.Context, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[exp.ID]; !exists {
		return ErrNotFound
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	return nil
}

func (s *MemoryExperimentStore) UpdateStatus(ctx context.Context, id string, from, to models.ExperimentStatus, startedAt, endedAt *time.Time) (*models.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if exp.Status != from {
		return nil, ErrConflict
	}
	exp.Status = to
	if startedAt != nil {
		exp.StartedAt = startedAt
	}
	if endedAt != nil {
		exp.EndedAt = endedAt
	}
	exp.UpdatedAt = time.Now().UTC()
	return cloneExperiment(exp), nil
}

func (s *MemoryExperimentStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.experiments[id]; !exists {
		return ErrNotFound
	}
	delete(s.experiments, id)
	return nil
}

// incrementSampleSize bumps the denormalized result counter. Called by
// MemoryResultStore under its own insert path.
func (s *MemoryExperimentStore) incrementSampleSize(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.experiments[id]; ok {
		exp.CurrentSampleSize++
		exp.UpdatedAt = time.Now().UTC()
	}
}

func cloneExperiment(exp *models.Experiment) *models.Experiment {
	out := *exp
	out.VariantPromptIDs = append([]string(nil), exp.VariantPromptIDs...)
	if exp.TrafficAllocation != nil {
		out.TrafficAllocation = make(models.TrafficAllocation, len(exp.TrafficAllocation))
		for label, pct := range exp.TrafficAllocation {
			out.TrafficAllocation[label] = pct
		}
	}
	return &out
}

// MemoryResultStore provides an in-memory ResultStore. It holds a
// reference to the experiment store so record inserts and sample-size
// increments stay paired, mirroring the transactional coupling of the
// Postgres implementation.
type MemoryResultStore struct {
	mu          sync.RWMutex
	records     map[string][]*models.ResultRecord
	experiments *MemoryExperimentStore
}

// NewMemoryResultStore creates an in-memory result store.
func NewMemoryResultStore(experiments *MemoryExperimentStore) *MemoryResultStore {
	return &MemoryResultStore{
		records:     make(map[string][]*models.ResultRecord),
		experiments: experiments,
	}
}

func (s *MemoryResultStore) Insert(ctx context.Context, record *models.ResultRecord) error {
	if record == nil || record.ID == "" || record.ExperimentID == "" {
		return fmt.Errorf("result record is required")
	}
	s.mu.Lock()
	copied := *record
	s.records[record.ExperimentID] = append(s.records[record.ExperimentID], &copied)
	s.mu.Unlock()
	if s.experiments != nil {
		s.experiments.incrementSampleSize(record.ExperimentID)
	}
	return nil
}

func (s *MemoryResultStore) ListByExperiment(ctx context.Context, experimentID string) ([]*models.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.records[experimentID]
	out := make([]*models.ResultRecord, 0, len(stored))
	for _, record := range stored {
		copied := *record
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// deleteByExperiment drops all records for an experiment.
func (s *MemoryResultStore) deleteByExperiment(experimentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, experimentID)
}

// MemoryPromptStore provides an in-memory PromptStore.
type MemoryPromptStore struct {
	mu      sync.RWMutex
	prompts map[string]*models.Prompt
}

// NewMemoryPromptStore creates an in-memory prompt store.
func NewMemoryPromptStore() *MemoryPromptStore {
	return &MemoryPromptStore{prompts: make(map[string]*models.Prompt)}
}

// Put stores or replaces a prompt. Prompt CRUD proper lives upstream;
// this exists so tests and single-binary setups can seed prompts.
func (s *MemoryPromptStore) Put(prompt *models.Prompt) {
	if prompt == nil || prompt.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *prompt
	s.prompts[prompt.ID] = &copied
}

func (s *MemoryPromptStore) Get(ctx context.Context, id string) (*models.Prompt, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prompt, ok := s.prompts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *prompt
	return &copied, nil
}

func (s *MemoryPromptStore) GetMany(ctx context.Context, ids []string) ([]*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Prompt, 0, len(ids))
	for _, id := range ids {
		if prompt, ok := s.prompts[id]; ok {
			copied := *prompt
			out = append(out, &copied)
		}
	}
	return out, nil
}

// MemoryTeamStore provides an in-memory TeamStore.
type MemoryTeamStore struct {
	mu      sync.RWMutex
	members map[string]*models.TeamMember // key: teamID|userID
}

// NewMemoryTeamStore creates an in-memory team store.
func NewMemoryTeamStore() *MemoryTeamStore {
	return &MemoryTeamStore{members: make(map[string]*models.TeamMember)}
}

// PutMember stores or replaces a membership record.
func (s *MemoryTeamStore) PutMember(member *models.TeamMember) {
	if member == nil || member.TeamID == "" || member.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *member
	s.members[member.TeamID+"|"+member.UserID] = &copied
}

func (s *MemoryTeamStore) GetMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	if teamID == "" || userID == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[teamID+"|"+userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *member
	return &copied, nil
}

// memoryExperimentStoreWithCascade wraps the experiment store so Delete
// also drops the experiment's result records.
type memoryExperimentStoreWithCascade struct {
	*MemoryExperimentStore
	results *MemoryResultStore
}

func (s *memoryExperimentStoreWithCascade) Delete(ctx context.Context, id string) error {
	if err := s.MemoryExperimentStore.Delete(ctx, id); err != nil {
		return err
	}
	s.results.deleteByExperiment(id)
	return nil
}

// NewMemoryStores constructs a StoreSet backed by memory.
func NewMemoryStores() StoreSet {
	experiments := NewMemoryExperimentStore()
	results := NewMemoryResultStore(experiments)
	return StoreSet{
		Experiments: &memoryExperimentStoreWithCascade{MemoryExperimentStore: experiments, results: results},
		Results:     results,
		Prompts:     NewMemoryPromptStore(),
		Teams:       NewMemoryTeamStore(),
	}
}
