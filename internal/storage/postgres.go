package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/prompt-minder/promptminder/pkg/models"
)

// NewPostgresStoresFromDSN creates Postgres-backed stores using a DSN.
func NewPostgresStoresFromDSN(dsn string, config *PostgresConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStores(db), nil
}

// NewPostgresStores wraps an existing database handle.
func NewPostgresStores(db *sql.DB) StoreSet {
	return StoreSet{
		Experiments: &postgresExperimentStore{db: db},
		Results:     &postgresResultStore{db: db},
		Prompts:     &postgresPromptStore{db: db},
		Teams:       &postgresTeamStore{db: db},
		closer:      db.Close,
	}
}

type postgresExperimentStore struct {
	db *sql.DB
}

const experimentColumns = `id, team_id, name, description, baseline_prompt_id, variant_prompt_ids,
	goal_metric, target_improvement, traffic_allocation, status, min_sample_size,
	current_sample_size, created_by, created_at, updated_at, started_at, ended_at`

func (s *postgresExperimentStore) Create(ctx context.Context, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	allocation, err := json.Marshal(exp.TrafficAllocation)
	if err != nil {
		return fmt.Errorf("marshal traffic allocation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ab_test_experiments (`+experimentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		exp.ID,
		nullString(exp.TeamID),
		exp.Name,
		nullString(exp.Description),
		exp.BaselinePromptID,
		pq.Array(exp.VariantPromptIDs),
		string(exp.GoalMetric),
		nullFloat(exp.TargetImprovement),
		allocation,
		string(exp.Status),
		exp.MinSampleSize,
		exp.CurrentSampleSize,
		exp.CreatedBy,
		exp.CreatedAt,
		exp.UpdatedAt,
		exp.StartedAt,
		exp.EndedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

func (s *postgresExperimentStore) Get(ctx context.Context, id string) (*models.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM ab_test_experiments WHERE id = $1`, id)
	return scanExperiment(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var exp models.Experiment
	var teamID, description sql.NullString
	var targetImprovement sql.NullFloat64
	var allocationBytes []byte
	var variantIDs []string
	if err := row.Scan(
		&exp.ID,
		&teamID,
		&exp.Name,
		&description,
		&exp.BaselinePromptID,
		pq.Array(&variantIDs),
		&exp.GoalMetric,
		&targetImprovement,
		&allocationBytes,
		&exp.Status,
		&exp.MinSampleSize,
		&exp.CurrentSampleSize,
		&exp.CreatedBy,
		&exp.CreatedAt,
		&exp.UpdatedAt,
		&exp.StartedAt,
		&exp.EndedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan experiment: %w", err)
	}
	exp.TeamID = teamID.String
	exp.Description = description.String
	exp.TargetImprovement = targetImprovement.Float64
	exp.VariantPromptIDs = variantIDs
	if len(allocationBytes) > 0 {
		if err := json.Unmarshal(allocationBytes, &exp.TrafficAllocation); err != nil {
			return nil, fmt.Errorf("unmarshal traffic allocation: %w", err)
		}
	}
	return &exp, nil
}

func (s *postgresExperimentStore) List(ctx context.Context, filter ExperimentFilter) ([]*models.Experiment, int, error) {
	where := []string{}
	args := []any{}
	if filter.TeamID != "" {
		args = append(args, filter.TeamID)
		where = append(where, fmt.Sprintf("team_id = $%d", len(args)))
	} else if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		where = append(where, fmt.Sprintf("team_id IS NULL AND created_by = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT count(*) FROM ab_test_experiments" + whereClause
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count experiments: %w", err)
	}

	listArgs := append([]any{}, args...)
	limitClause := ""
	if filter.Limit > 0 {
		listArgs = append(listArgs, filter.Limit)
		limitClause = fmt.Sprintf(" LIMIT $%d", len(listArgs))
	}
	if filter.Offset > 0 {
		listArgs = append(listArgs, filter.Offset)
		limitClause += fmt.Sprintf(" OFFSET $%d", len(listArgs))
	}

	query := `SELECT ` + experimentColumns + ` FROM ab_test_experiments` +
		whereClause + " ORDER BY created_at DESC" + limitClause
	rows, err := s.db.QueryContext(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	experiments := []*models.Experiment{}
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, 0, err
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list experiments: %w", err)
	}
	return experiments, total, nil
}

func (s *postgresExperimentStore) Update(ctx context.Context, exp *models.Experiment) error {
	if exp == nil || exp.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	allocation, err := json.Marshal(exp.TrafficAllocation)
	if err != nil {
		return fmt.Errorf("marshal traffic allocation: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE ab_test_experiments
		 SET name = $2, description = $3, baseline_prompt_id = $4, variant_prompt_ids = $5,
		     goal_metric = $6, target_improvement = $7, traffic_allocation = $8,
		     min_sample_size = $9, updated_at = $10
		 WHERE id = $1`,
		exp.ID,
		exp.Name,
		nullString(exp.Description),
		exp.BaselinePromptID,
		pq.Array(exp.VariantPromptIDs),
		string(exp.GoalMetric),
		nullFloat(exp.TargetImprovement),
		allocation,
		exp.MinSampleSize,
		exp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresExperimentStore) UpdateStatus(ctx context.Context, id string, from, to models.ExperimentStatus, startedAt, endedAt *time.Time) (*models.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	// The WHERE clause doubles as the compare-and-swap guard: a transition
	// only lands when the stored status still equals the expected one.
	row := s.db.QueryRowContext(ctx,
		`UPDATE ab_test_experiments
		 SET status = $3,
		     started_at = COALESCE($4, started_at),
		     ended_at = COALESCE($5, ended_at),
		     updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+experimentColumns,
		id, string(from), string(to), startedAt, endedAt)
	exp, err := scanExperiment(row)
	if err == nil {
		return exp, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	// No row matched: distinguish a missing experiment from a stale status.
	var current string
	checkErr := s.db.QueryRowContext(ctx,
		`SELECT status FROM ab_test_experiments WHERE id = $1`, id).Scan(&current)
	if checkErr == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if checkErr != nil {
		return nil, fmt.Errorf("check experiment status: %w", checkErr)
	}
	return nil, ErrConflict
}

func (s *postgresExperimentStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	// ab_test_results rows go with the experiment via ON DELETE CASCADE.
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM ab_test_experiments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type postgresResultStore struct {
	db *sql.DB
}

func (s *postgresResultStore) Insert(ctx context.Context, record *models.ResultRecord) error {
	if record == nil || record.ID == "" || record.ExperimentID == "" {
		return fmt.Errorf("result record is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert result: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ab_test_results (id, experiment_id, prompt_id, variant_name, user_id,
		   input_text, output_text, user_rating, user_feedback, cost, response_time_ms,
		   success, token_count, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		record.ID,
		record.ExperimentID,
		record.PromptID,
		nullString(record.VariantName),
		nullString(record.UserID),
		nullString(record.InputText),
		nullString(record.OutputText),
		record.UserRating,
		nullString(record.UserFeedback),
		record.Cost,
		record.ResponseTimeMS,
		record.Success,
		record.TokenCount,
		record.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert result: %w", err)
	}
	// Same transaction as the insert: current_sample_size can never drift
	// from the record set by a partial write.
	_, err = tx.ExecContext(ctx,
		`UPDATE ab_test_experiments
		 SET current_sample_size = current_sample_size + 1, updated_at = now()
		 WHERE id = $1`,
		record.ExperimentID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("increment sample size: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert result: %w", err)
	}
	return nil
}

func (s *postgresResultStore) ListByExperiment(ctx context.Context, experimentID string) ([]*models.ResultRecord, error) {
	if experimentID == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, prompt_id, variant_name, user_id, input_text, output_text,
		   user_rating, user_feedback, cost, response_time_ms, success, token_count, created_at
		 FROM ab_test_results WHERE experiment_id = $1 ORDER BY created_at DESC`,
		experimentID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	records := []*models.ResultRecord{}
	for rows.Next() {
		var record models.ResultRecord
		var variantName, userID, inputText, outputText, userFeedback sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.ExperimentID,
			&record.PromptID,
			&variantName,
			&userID,
			&inputText,
			&outputText,
			&record.UserRating,
			&userFeedback,
			&record.Cost,
			&record.ResponseTimeMS,
			&record.Success,
			&record.TokenCount,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		record.VariantName = variantName.String
		record.UserID = userID.String
		record.InputText = inputText.String
		record.OutputText = outputText.String
		record.UserFeedback = userFeedback.String
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return records, nil
}

type postgresPromptStore struct {
	db *sql.DB
}

func (s *postgresPromptStore) Get(ctx context.Context, id string) (*models.Prompt, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, title, content, version, created_by, created_at, updated_at
		 FROM prompts WHERE id = $1`, id)
	var prompt models.Prompt
	var teamID sql.NullString
	if err := row.Scan(
		&prompt.ID,
		&teamID,
		&prompt.Title,
		&prompt.Content,
		&prompt.Version,
		&prompt.CreatedBy,
		&prompt.CreatedAt,
		&prompt.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	prompt.TeamID = teamID.String
	return &prompt, nil
}

func (s *postgresPromptStore) GetMany(ctx context.Context, ids []string) ([]*models.Prompt, error) {
	if len(ids) == 0 {
		return []*models.Prompt{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, title, content, version, created_by, created_at, updated_at
		 FROM prompts WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get prompts: %w", err)
	}
	defer rows.Close()

	prompts := []*models.Prompt{}
	for rows.Next() {
		var prompt models.Prompt
		var teamID sql.NullString
		if err := rows.Scan(
			&prompt.ID,
			&teamID,
			&prompt.Title,
			&prompt.Content,
			&prompt.Version,
			&prompt.CreatedBy,
			&prompt.CreatedAt,
			&prompt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompt.TeamID = teamID.String
		prompts = append(prompts, &prompt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get prompts: %w", err)
	}
	return prompts, nil
}

type postgresTeamStore struct {
	db *sql.DB
}

func (s *postgresTeamStore) GetMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	if teamID == "" || userID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT team_id, user_id, role, joined_at
		 FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	var member models.TeamMember
	if err := row.Scan(&member.TeamID, &member.UserID, &member.Role, &member.JoinedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get team member: %w", err)
	}
	return &member, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}
