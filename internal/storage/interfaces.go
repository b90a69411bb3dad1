// Package storage persists experiments, result records, prompts, and
// team memberships behind narrow store interfaces. Two implementations
// exist: an in-memory store for tests and single-binary setups, and a
// Postgres store for production.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prompt-minder/promptminder/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned by conditional status updates when the
	// stored status no longer matches the expected prior status.
	ErrConflict = errors.New("status conflict")
)

// ExperimentFilter narrows experiment listings. TeamID and CreatedBy are
// mutually exclusive scope filters; Status is optional.
type ExperimentFilter struct {
	TeamID    string
	CreatedBy string
	Status    models.ExperimentStatus
	Limit     int
	Offset    int
}

// ExperimentStore persists experiment definitions.
type ExperimentStore interface {
	Create(ctx context.Context, exp *models.Experiment) error
	Get(ctx context.Context, id string) (*models.Experiment, error)
	List(ctx context.Context, filter ExperimentFilter) ([]*models.Experiment, int, error)
	Update(ctx context.Context, exp *models.Experiment) error

	// UpdateStatus transitions an experiment from one status to another
	// with a compare-and-swap guard: if the stored status does not equal
	// from, ErrConflict is returned and nothing changes. startedAt and
	// endedAt are set when non-nil.
	UpdateStatus(ctx context.Context, id string, from, to models.ExperimentStatus, startedAt, endedAt *time.Time) (*models.Experiment, error)

	// Delete removes the experiment and cascades to its result records.
	Delete(ctx context.Context, id string) error
}

// ResultStore persists append-only result records.
type ResultStore interface {
	// Insert stores a record and increments the owning experiment's
	// current_sample_size in the same transaction, so the completion
	// counter can never drift from the record set by a partial write.
	Insert(ctx context.Context, record *models.ResultRecord) error

	// ListByExperiment returns all records for an experiment,
	// newest first.
	ListByExperiment(ctx context.Context, experimentID string) ([]*models.ResultRecord, error)
}

// PromptStore resolves prompt references.
type PromptStore interface {
	Get(ctx context.Context, id string) (*models.Prompt, error)
	GetMany(ctx context.Context, ids []string) ([]*models.Prompt, error)
}

// TeamStore resolves team memberships.
type TeamStore interface {
	// GetMember returns the membership record, or ErrNotFound when the
	// user is not a member of the team.
	GetMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Experiments ExperimentStore
	Results     ResultStore
	Prompts     PromptStore
	Teams       TeamStore
	closer      func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
