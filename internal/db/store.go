package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

const jobColumns = `id, owner_id, job_type, input_data, status, output_data, artifact_url, error_message,
		created_at, updated_at, started_at, completed_at`

// querier is satisfied by both *sql.DB and *sql.Conn
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store handles PostgreSQL operations for jobs
type Store struct {
	db *sql.DB
	q  querier
}

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Session pins one pooled connection for the caller until Close
func (s *Store) Session(ctx context.Context) (interfaces.JobSession, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &session{Store: &Store{db: s.db, q: conn}, conn: conn}, nil
}

type session struct {
	*Store
	conn *sql.Conn
}

func (s *session) Close() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to release connection: %w", err)
	}
	return nil
}

// Create inserts a new PENDING job
func (s *Store) Create(ctx context.Context, in *interfaces.JobCreate) (*interfaces.Job, error) {
	now := time.Now().UTC()
	job := &interfaces.Job{
		ID:        uuid.New().String(),
		OwnerID:   in.OwnerID,
		JobType:   in.JobType,
		InputData: in.InputData,
		Status:    interfaces.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	input, err := encodeJSON(job.InputData)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO jobs (id, owner_id, job_type, input_data, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.q.ExecContext(ctx, query,
		job.ID, job.OwnerID, job.JobType, input, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// GetByID retrieves a job by ID
func (s *Store) GetByID(ctx context.Context, id string) (*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetByOwner lists an owner's jobs, newest first
func (s *Store) GetByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1
		ORDER BY created_at DESC OFFSET $2 LIMIT $3`
	return s.queryJobs(ctx, query, ownerID, skip, limit)
}

// GetByStatus lists jobs in a status, newest first
func (s *Store) GetByStatus(ctx context.Context, status interfaces.JobStatus, skip, limit int) ([]*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1
		ORDER BY created_at DESC OFFSET $2 LIMIT $3`
	return s.queryJobs(ctx, query, status, skip, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, key any, skip, limit int) ([]*interfaces.Job, error) {
	skip, limit = pageBounds(skip, limit)
	rows, err := s.q.QueryContext(ctx, query, key, skip, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*interfaces.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return jobs, nil
}

// Update applies the non-nil fields of u and always refreshes updated_at
func (s *Store) Update(ctx context.Context, id string, u *interfaces.JobUpdate) (*interfaces.Job, error) {
	sets := []string{}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.OutputData != nil {
		out, err := encodeJSON(u.OutputData)
		if err != nil {
			return nil, err
		}
		add("output_data", out)
	}
	if u.ArtifactURL != nil {
		add("artifact_url", *u.ArtifactURL)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.StartedAt != nil {
		add("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		add("completed_at", *u.CompletedAt)
	}
	add("updated_at", time.Now().UTC())

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + jobColumns

	job, err := scanJob(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return job, nil
}

// Delete removes a job from the database
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*interfaces.Job, error) {
	job := &interfaces.Job{}
	var (
		input, output []byte
		artifactURL   sql.NullString
		errorMessage  sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.JobType, &input, &job.Status, &output, &artifactURL, &errorMessage,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if job.InputData, err = decodeJSON(input); err != nil {
		return nil, err
	}
	if job.OutputData, err = decodeJSON(output); err != nil {
		return nil, err
	}
	job.ArtifactURL = artifactURL.String
	job.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return job, nil
}

func encodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	return data, nil
}

func decodeJSON(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	return m, nil
}
