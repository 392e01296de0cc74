package job_records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"comfy_studio/clock"
	"comfy_studio/entities"
	"comfy_studio/repositories"
)

const insertJobQuery string = `
INSERT INTO job_records (job_id, engine_url, prompt, seed, sampler_name, width, height, status, image_filename, failure_reason, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const updateJobStatusQuery string = `
UPDATE job_records SET status = ?, image_filename = ?, failure_reason = ?, updated_at = ? WHERE job_id = ?;
`

const selectJobColumns string = `
SELECT id, job_id, engine_url, prompt, seed, sampler_name, width, height, status, image_filename, failure_reason, created_at, updated_at FROM job_records
`

const getJobByJobIDQuery string = selectJobColumns + `WHERE job_id = ? ORDER BY id DESC LIMIT 1;`

const listRecentJobsQuery string = selectJobColumns + `ORDER BY id DESC LIMIT ?;`

const defaultListLimit = 50

type sqliteRepo struct {
	dbConn *sql.DB
	clock  clock.Clock
}

type Config struct {
	DB    *sql.DB
	Clock clock.Clock
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	repoClock := cfg.Clock
	if repoClock == nil {
		repoClock = clock.NewClock()
	}

	newRepo := &sqliteRepo{
		dbConn: cfg.DB,
		clock:  repoClock,
	}

	return newRepo, nil
}

func (repo *sqliteRepo) Create(ctx context.Context, record *entities.JobRecord) (*entities.JobRecord, error) {
	record.CreatedAt = repo.clock.Now()
	record.UpdatedAt = record.CreatedAt

	if record.Status == "" {
		record.Status = entities.JobStatusSubmitted
	}

	// Seeds span the full uint64 range, which an sqlite INTEGER cannot hold.
	res, err := repo.dbConn.ExecContext(ctx, insertJobQuery,
		record.JobID, record.EngineURL, record.Prompt, strconv.FormatUint(record.Seed, 10),
		record.SamplerName, record.Width, record.Height, string(record.Status),
		record.ImageFilename, record.FailureReason, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	record.ID = lastID

	return record, nil
}

func (repo *sqliteRepo) MarkCompleted(ctx context.Context, jobID, imageFilename string) error {
	return repo.updateStatus(ctx, jobID, entities.JobStatusCompleted, imageFilename, "")
}

func (repo *sqliteRepo) MarkFailed(ctx context.Context, jobID, reason string) error {
	return repo.updateStatus(ctx, jobID, entities.JobStatusFailed, "", reason)
}

func (repo *sqliteRepo) updateStatus(ctx context.Context, jobID string, status entities.JobStatus, imageFilename, reason string) error {
	res, err := repo.dbConn.ExecContext(ctx, updateJobStatusQuery,
		string(status), imageFilename, reason, repo.clock.Now(), jobID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return repositories.NewNotFoundError(fmt.Sprintf("job record for job ID %s", jobID))
	}

	return nil
}

func (repo *sqliteRepo) GetByJobID(ctx context.Context, jobID string) (*entities.JobRecord, error) {
	record, err := scanJob(repo.dbConn.QueryRowContext(ctx, getJobByJobIDQuery, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.NewNotFoundError(fmt.Sprintf("job record for job ID %s", jobID))
		}

		return nil, err
	}

	return record, nil
}

func (repo *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]*entities.JobRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := repo.dbConn.QueryContext(ctx, listRecentJobsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*entities.JobRecord, 0)

	for rows.Next() {
		record, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*entities.JobRecord, error) {
	var (
		record entities.JobRecord
		seed   string
		status string
	)

	err := row.Scan(&record.ID, &record.JobID, &record.EngineURL, &record.Prompt, &seed,
		&record.SamplerName, &record.Width, &record.Height, &status,
		&record.ImageFilename, &record.FailureReason, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q for job %s: %w", seed, record.JobID, err)
	}

	record.Status = entities.JobStatus(status)

	return &record, nil
}
