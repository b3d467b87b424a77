package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/dperrors"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	job_id             TEXT UNIQUE NOT NULL,
	pipeline_name      TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	inputs             JSONB NOT NULL DEFAULT '{}',
	output_format      TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	priority           TEXT NOT NULL,
	output_path        TEXT NOT NULL DEFAULT '',
	user_output_path   TEXT NOT NULL DEFAULT '',
	bundle_path        TEXT NOT NULL DEFAULT '',
	processor_metadata JSONB,
	llm_metadata       JSONB,
	execution_time_ms  BIGINT NOT NULL DEFAULT 0,
	tokens_used        INT NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_pipeline_name ON executions (pipeline_name);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions (created_at);

CREATE TABLE IF NOT EXISTS pipeline_stats (
	pipeline_name          TEXT PRIMARY KEY,
	total_executions       BIGINT NOT NULL DEFAULT 0,
	successful_executions  BIGINT NOT NULL DEFAULT 0,
	failed_executions      BIGINT NOT NULL DEFAULT 0,
	avg_execution_time_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_tokens_used      BIGINT NOT NULL DEFAULT 0,
	last_executed_at       TIMESTAMPTZ,
	updated_at             TIMESTAMPTZ
);
`

// executionRecordRow is the sqlx-scannable shape of one executions row.
type executionRecordRow struct {
	ID                string          `db:"id"`
	JobID             string          `db:"job_id"`
	PipelineName      string          `db:"pipeline_name"`
	UserID            string          `db:"user_id"`
	Inputs            json.RawMessage `db:"inputs"`
	OutputFormat      string          `db:"output_format"`
	Status            string          `db:"status"`
	Priority          string          `db:"priority"`
	OutputPath        string          `db:"output_path"`
	UserOutputPath    string          `db:"user_output_path"`
	BundlePath        string          `db:"bundle_path"`
	ProcessorMetadata json.RawMessage `db:"processor_metadata"`
	LLMMetadata       json.RawMessage `db:"llm_metadata"`
	ExecutionTimeMS   int64           `db:"execution_time_ms"`
	TokensUsed        int             `db:"tokens_used"`
	Error             string          `db:"error"`
	CreatedAt         time.Time       `db:"created_at"`
	StartedAt         sql.NullTime    `db:"started_at"`
	CompletedAt       sql.NullTime    `db:"completed_at"`
}

func (r *executionRecordRow) toRecord() (*models.ExecutionRecord, error) {
	record := &models.ExecutionRecord{
		ID:              r.ID,
		JobID:           r.JobID,
		PipelineName:    r.PipelineName,
		UserID:          r.UserID,
		OutputFormat:    r.OutputFormat,
		Status:          models.Status(r.Status),
		Priority:        models.Priority(r.Priority),
		OutputPath:      r.OutputPath,
		UserOutputPath:  r.UserOutputPath,
		BundlePath:      r.BundlePath,
		ExecutionTimeMS: r.ExecutionTimeMS,
		TokensUsed:      r.TokensUsed,
		Error:           r.Error,
		CreatedAt:       r.CreatedAt,
	}
	if len(r.Inputs) > 0 {
		if err := json.Unmarshal(r.Inputs, &record.Inputs); err != nil {
			return nil, err
		}
	}
	if len(r.ProcessorMetadata) > 0 {
		if err := json.Unmarshal(r.ProcessorMetadata, &record.ProcessorMetadata); err != nil {
			return nil, err
		}
	}
	if len(r.LLMMetadata) > 0 {
		var meta models.LLMMetadata
		if err := json.Unmarshal(r.LLMMetadata, &meta); err != nil {
			return nil, err
		}
		record.LLMMetadata = &meta
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		record.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		record.CompletedAt = &t
	}
	return record, nil
}

// statsRecordRow is the sqlx-scannable shape of one pipeline_stats row.
type statsRecordRow struct {
	PipelineName         string       `db:"pipeline_name"`
	TotalExecutions      int64        `db:"total_executions"`
	SuccessfulExecutions int64        `db:"successful_executions"`
	FailedExecutions     int64        `db:"failed_executions"`
	AvgExecutionTimeMS   float64      `db:"avg_execution_time_ms"`
	TotalTokensUsed      int64        `db:"total_tokens_used"`
	LastExecutedAt       sql.NullTime `db:"last_executed_at"`
	UpdatedAt            sql.NullTime `db:"updated_at"`
}

func (r *statsRecordRow) toStats() *models.PipelineStats {
	stats := &models.PipelineStats{
		PipelineName:         r.PipelineName,
		TotalExecutions:      r.TotalExecutions,
		SuccessfulExecutions: r.SuccessfulExecutions,
		FailedExecutions:     r.FailedExecutions,
		AvgExecutionTimeMS:   r.AvgExecutionTimeMS,
		TotalTokensUsed:      r.TotalTokensUsed,
	}
	if r.LastExecutedAt.Valid {
		stats.LastExecutedAt = r.LastExecutedAt.Time
	}
	if r.UpdatedAt.Valid {
		stats.UpdatedAt = r.UpdatedAt.Time
	}
	return stats
}

// PostgresStore is the production C1 Execution Store backend, selected
// when StorageConfig.DatabaseURL carries a postgres(ql):// scheme
// (spec.md §6). Per-pipeline stats are updated inside the same
// transaction as the terminal status write, giving the read-modify-write
// the embedded backend's in-process mutex only approximates.
type PostgresStore struct {
	db     *sqlx.DB
	logger *common.Logger
}

// NewPostgresStore connects to dsn, ensures the schema exists, and
// returns a ready-to-use store.
func NewPostgresStore(logger *common.Logger, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure execution store schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, record *models.ExecutionRecord) error {
	inputs, err := json.Marshal(record.Inputs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, job_id, pipeline_name, user_id, inputs, output_format, status, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.JobID, record.PipelineName, record.UserID, inputs,
		record.OutputFormat, string(record.Status), string(record.Priority), record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return dperrors.NewDuplicateID(record.ID)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, newStatus models.Status, patch map[string]any) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row, err := getRowForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	record, err := row.toRecord()
	if err != nil {
		return err
	}

	current := record.Status
	if !current.CanTransitionTo(newStatus) {
		return dperrors.NewIllegalTransition(string(current), string(newStatus))
	}

	applyPatch(record, patch)
	record.Status = newStatus

	if err := updateExecutionRow(ctx, tx, record); err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		if err := updateStatsInTx(ctx, tx, record); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func getRowForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*executionRecordRow, error) {
	var row executionRecordRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM executions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, dperrors.NewNotFound(id)
	}
	return &row, nil
}

func updateExecutionRow(ctx context.Context, tx *sqlx.Tx, record *models.ExecutionRecord) error {
	inputs, err := json.Marshal(record.Inputs)
	if err != nil {
		return err
	}
	processorMetadata, err := json.Marshal(record.ProcessorMetadata)
	if err != nil {
		return err
	}
	var llmMetadata []byte
	if record.LLMMetadata != nil {
		if llmMetadata, err = json.Marshal(record.LLMMetadata); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions SET
			inputs = $2, status = $3, output_path = $4, user_output_path = $5,
			bundle_path = $6, processor_metadata = $7, llm_metadata = $8,
			execution_time_ms = $9, tokens_used = $10, error = $11,
			started_at = $12, completed_at = $13
		WHERE id = $1`,
		record.ID, inputs, string(record.Status), record.OutputPath, record.UserOutputPath,
		record.BundlePath, processorMetadata, llmMetadata,
		record.ExecutionTimeMS, record.TokensUsed, record.Error,
		record.StartedAt, record.CompletedAt)
	return err
}

// updateStatsInTx folds record's terminal outcome into pipeline_stats using
// the same Welford update as the embedded backend, inside the caller's
// transaction so the read and the write serialize under the row lock
// SELECT ... FOR UPDATE already took in UpdateStatus.
func updateStatsInTx(ctx context.Context, tx *sqlx.Tx, record *models.ExecutionRecord) error {
	var row statsRecordRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM pipeline_stats WHERE pipeline_name = $1 FOR UPDATE`, record.PipelineName)
	stats := &models.PipelineStats{PipelineName: record.PipelineName}
	if err == nil {
		stats = row.toStats()
	}

	now := time.Now()
	stats.ApplyTerminal(record.Status, record.ExecutionTimeMS, record.TokensUsed, now)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_stats (pipeline_name, total_executions, successful_executions, failed_executions, avg_execution_time_ms, total_tokens_used, last_executed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pipeline_name) DO UPDATE SET
			total_executions = EXCLUDED.total_executions,
			successful_executions = EXCLUDED.successful_executions,
			failed_executions = EXCLUDED.failed_executions,
			avg_execution_time_ms = EXCLUDED.avg_execution_time_ms,
			total_tokens_used = EXCLUDED.total_tokens_used,
			last_executed_at = EXCLUDED.last_executed_at,
			updated_at = EXCLUDED.updated_at`,
		stats.PipelineName, stats.TotalExecutions, stats.SuccessfulExecutions, stats.FailedExecutions,
		stats.AvgExecutionTimeMS, stats.TotalTokensUsed, stats.LastExecutedAt, stats.UpdatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	var row executionRecordRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM executions WHERE id = $1`, id); err != nil {
		return nil, dperrors.NewNotFound(id)
	}
	return row.toRecord()
}

func (s *PostgresStore) GetByJobID(ctx context.Context, jobID string) (*models.ExecutionRecord, error) {
	var row executionRecordRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM executions WHERE job_id = $1`, jobID); err != nil {
		return nil, dperrors.NewNotFound(jobID)
	}
	return row.toRecord()
}

func (s *PostgresStore) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.ExecutionRecord, error) {
	query := `SELECT * FROM executions WHERE 1=1`
	var args []any
	argN := 1

	if filter.PipelineName != "" {
		query += fmt.Sprintf(" AND pipeline_name = $%d", argN)
		args = append(args, filter.PipelineName)
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argN)
		args = append(args, filter.UserID)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argN)
	args = append(args, filter.LimitOrDefault())

	var rows []executionRecordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *PostgresStore) Stats(ctx context.Context, pipelineName string) (*models.PipelineStats, error) {
	var row statsRecordRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM pipeline_stats WHERE pipeline_name = $1`, pipelineName); err != nil {
		return &models.PipelineStats{PipelineName: pipelineName}, nil
	}
	return row.toStats(), nil
}

func (s *PostgresStore) ListStats(ctx context.Context) ([]*models.PipelineStats, error) {
	var rows []statsRecordRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM pipeline_stats ORDER BY total_executions DESC`); err != nil {
		return nil, err
	}
	stats := make([]*models.PipelineStats, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, row.toStats())
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), grounded on pgx's *pgconn.PgError shape.
func isUniqueViolation(err error) bool {
	type pgError interface {
		SQLState() string
	}
	var pgErr pgError
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "23505"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	for err != nil {
		if pgErr, ok := err.(interface{ SQLState() string }); ok {
			*target = pgErr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
