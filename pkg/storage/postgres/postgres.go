// Package postgres provides a PostgreSQL implementation of transport.JobStore.
// It uses pgx/v5 for connection pooling and JSONB for structured job storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/storage"
	"github.com/comfypod/comfypod/pkg/transport"
)

// Store is a PostgreSQL-backed JobStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements transport.JobStore at compile time.
var _ transport.JobStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveJob persists a new job record.
func (s *Store) SaveJob(ctx context.Context, job *api.Job) error {
	tenantID := storage.GetTenant(ctx)

	inputJSON, outputJSON, errorJSON, progressJSON, err := marshalJob(job)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, tenant_id, status,
			input, output, error, progress, prompt_id,
			created_at, started_at, finished_at, execution_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		job.ID, tenantID, string(job.Status),
		nullJSON(inputJSON), nullJSON(outputJSON), nullJSON(errorJSON), nullJSON(progressJSON),
		nullString(job.PromptID),
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.ExecutionTime,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID, excluding soft-deleted jobs.
func (s *Store) GetJob(ctx context.Context, id string) (*api.Job, error) {
	tenantID := storage.GetTenant(ctx)

	query := `
		SELECT id, status,
		       input, output, error, progress, prompt_id,
		       created_at, started_at, finished_at, execution_time_ms
		FROM jobs
		WHERE id = $1 AND deleted_at IS NULL
	`
	args := []any{id}

	if tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	row := s.pool.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}

	return job, nil
}

// UpdateJob replaces the record of an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *api.Job) error {
	tenantID := storage.GetTenant(ctx)

	inputJSON, outputJSON, errorJSON, progressJSON, err := marshalJob(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			status = $2,
			input = $3, output = $4, error = $5, progress = $6, prompt_id = $7,
			started_at = $8, finished_at = $9, execution_time_ms = $10
		WHERE id = $1 AND deleted_at IS NULL
	`
	args := []any{
		job.ID, string(job.Status),
		nullJSON(inputJSON), nullJSON(outputJSON), nullJSON(errorJSON), nullJSON(progressJSON),
		nullString(job.PromptID),
		job.StartedAt, job.FinishedAt, job.ExecutionTime,
	}

	if tenantID != "" {
		query += " AND tenant_id = $11"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// DeleteJob soft-deletes a job by setting deleted_at.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tenantID := storage.GetTenant(ctx)

	query := "UPDATE jobs SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// ListJobs returns a paginated list of jobs filtered by tenant and
// optionally by status, newest first unless asc order is requested.
func (s *Store) ListJobs(ctx context.Context, opts transport.ListOptions) (*transport.JobList, error) {
	tenantID := storage.GetTenant(ctx)

	asc := opts.Order == "asc"

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var where []string
	var args []any

	where = append(where, "deleted_at IS NULL")
	if tenantID != "" {
		args = append(args, tenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	// Cursor pagination: resolve the cursor job's sort key, then compare
	// (created_at, id) tuples against it.
	cursorID := opts.After
	if cursorID == "" {
		cursorID = opts.Before
	}
	if cursorID != "" {
		var createdAt int64
		err := s.pool.QueryRow(ctx,
			"SELECT created_at FROM jobs WHERE id = $1", cursorID,
		).Scan(&createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Unknown cursor yields an empty page.
			return &transport.JobList{Object: "list", Data: []*api.Job{}}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}

		// After moves forward in the sort order, Before backward.
		op := "<"
		if asc {
			op = ">"
		}
		if opts.After == "" {
			if op == "<" {
				op = ">"
			} else {
				op = "<"
			}
		}
		args = append(args, createdAt, cursorID)
		where = append(where, fmt.Sprintf("(created_at, id) %s ($%d, $%d)", op, len(args)-1, len(args)))
	}

	order := "DESC"
	if asc {
		order = "ASC"
	}

	args = append(args, limit+1)
	query := fmt.Sprintf(`
		SELECT id, status,
		       input, output, error, progress, prompt_id,
		       created_at, started_at, finished_at, execution_time_ms
		FROM jobs
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d
	`, strings.Join(where, " AND "), order, order, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*api.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}

	result := &transport.JobList{
		Object:  "list",
		Data:    jobs,
		HasMore: hasMore,
	}
	if len(jobs) > 0 {
		result.FirstID = jobs[0].ID
		result.LastID = jobs[len(jobs)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.Job{}
	}

	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one job row into an api.Job.
func scanJob(row rowScanner) (*api.Job, error) {
	var job api.Job
	var status string
	var promptID *string
	var inputJSON, outputJSON, errorJSON, progressJSON *[]byte

	err := row.Scan(
		&job.ID, &status,
		&inputJSON, &outputJSON, &errorJSON, &progressJSON, &promptID,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.ExecutionTime,
	)
	if err != nil {
		return nil, err
	}

	job.Status = api.JobStatus(status)
	if promptID != nil {
		job.PromptID = *promptID
	}

	if inputJSON != nil {
		if err := json.Unmarshal(*inputJSON, &job.Input); err != nil {
			return nil, fmt.Errorf("unmarshaling input: %w", err)
		}
	}
	if outputJSON != nil {
		if err := json.Unmarshal(*outputJSON, &job.Output); err != nil {
			return nil, fmt.Errorf("unmarshaling output: %w", err)
		}
	}
	if errorJSON != nil {
		var apiErr api.APIError
		if err := json.Unmarshal(*errorJSON, &apiErr); err == nil {
			job.Error = &apiErr
		}
	}
	if progressJSON != nil {
		if err := json.Unmarshal(*progressJSON, &job.Progress); err != nil {
			return nil, fmt.Errorf("unmarshaling progress: %w", err)
		}
	}

	return &job, nil
}

// marshalJob serializes the JSONB columns of a job.
func marshalJob(job *api.Job) (input, output, errJSON, progress []byte, err error) {
	if job.Input != nil {
		input, err = json.Marshal(job.Input)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshaling input: %w", err)
		}
	}
	if job.Output != nil {
		output, err = json.Marshal(job.Output)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshaling output: %w", err)
		}
	}
	if job.Error != nil {
		errJSON, err = json.Marshal(job.Error)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshaling error: %w", err)
		}
	}
	if job.Progress != nil {
		progress, err = json.Marshal(job.Progress)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshaling progress: %w", err)
		}
	}
	return input, output, errJSON, progress, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
