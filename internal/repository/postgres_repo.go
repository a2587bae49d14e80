package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS test_runs (
	test_id            VARCHAR(255) PRIMARY KEY,
	timestamp          TIMESTAMPTZ NOT NULL,
	company_name       VARCHAR(255) NOT NULL,
	company_identifier VARCHAR(255) NOT NULL,
	admin_email        VARCHAR(255) NOT NULL,
	admin_name         VARCHAR(255) NOT NULL,
	tech_spec_version  VARCHAR(50) NOT NULL
);
CREATE INDEX IF NOT EXISTS test_runs_admin_email_idx ON test_runs (admin_email, timestamp DESC);
CREATE TABLE IF NOT EXISTS test_results (
	test_id   VARCHAR(255) NOT NULL,
	test_key  VARCHAR(255) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	result    JSONB NOT NULL,
	PRIMARY KEY (test_id, test_key)
);
CREATE TABLE IF NOT EXISTS test_data (
	test_id   VARCHAR(255) PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	data      JSONB NOT NULL
);`

// PostgresRepository stores runs in three tables; results and test data are JSONB.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an open pool. Call EnsureSchema before first use.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables when they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveTestRun(ctx context.Context, run *models.TestRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO test_runs (test_id, timestamp, company_name, company_identifier, admin_email, admin_name, tech_spec_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (test_id) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			company_name = EXCLUDED.company_name,
			company_identifier = EXCLUDED.company_identifier,
			admin_email = EXCLUDED.admin_email,
			admin_name = EXCLUDED.admin_name,
			tech_spec_version = EXCLUDED.tech_spec_version`,
		run.TestRunID, run.Timestamp, run.CompanyName, run.CompanyIdentifier, run.AdminEmail, run.AdminName, run.TechSpecVersion)
	if err != nil {
		return fmt.Errorf("failed to save test run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveTestData(ctx context.Context, testRunID string, data *models.TestData) error {
	data.TestRunID = testRunID
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal test data: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO test_data (test_id, timestamp, data) VALUES ($1, $2, $3)
		ON CONFLICT (test_id) DO UPDATE SET timestamp = EXCLUDED.timestamp, data = EXCLUDED.data`,
		testRunID, time.Now().UTC(), raw)
	if err != nil {
		return fmt.Errorf("failed to save test data: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveTestCaseResult(ctx context.Context, testRunID string, result testcase.Result, overwrite bool) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal test case result: %w", err)
	}
	query := `INSERT INTO test_results (test_id, test_key, timestamp, result) VALUES ($1, $2, $3, $4)
		ON CONFLICT (test_id, test_key) DO NOTHING`
	if overwrite {
		query = `INSERT INTO test_results (test_id, test_key, timestamp, result) VALUES ($1, $2, $3, $4)
		ON CONFLICT (test_id, test_key) DO UPDATE SET timestamp = EXCLUDED.timestamp, result = EXCLUDED.result`
	}
	tag, err := r.pool.Exec(ctx, query, testRunID, result.TestKey, time.Now().UTC(), raw)
	if err != nil {
		return fmt.Errorf("failed to save test case %s: %w", result.Name, err)
	}
	if !overwrite && tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRepository) SaveTestCaseResults(ctx context.Context, testRunID string, results []testcase.Result) error {
	return saveEach(ctx, r, testRunID, results)
}

func (r *PostgresRepository) GetTestData(ctx context.Context, testRunID string) (*models.TestData, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM test_data WHERE test_id = $1`, testRunID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query test data: %w", err)
	}
	var data models.TestData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode test data: %w", err)
	}
	data.TestRunID = testRunID
	return &data, nil
}

func (r *PostgresRepository) GetTestResults(ctx context.Context, testRunID string) (*RunResults, error) {
	rows, err := r.pool.Query(ctx, `SELECT result FROM test_results WHERE test_id = $1 ORDER BY test_key`, testRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test results: %w", err)
	}
	defer rows.Close()

	out := &RunResults{TestRunID: testRunID, Results: []testcase.Result{}}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		var res testcase.Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, fmt.Errorf("decode test result: %w", err)
		}
		out.Results = append(out.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var ts time.Time
	err = r.pool.QueryRow(ctx, `SELECT timestamp FROM test_runs WHERE test_id = $1`, testRunID).Scan(&ts)
	switch {
	case err == nil:
		out.Timestamp = &ts
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("failed to query test run: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetRecentTestRunsByEmail(ctx context.Context, adminEmail string, limit int) ([]models.TestRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `
		SELECT test_id, timestamp, company_name, company_identifier, admin_email, admin_name, tech_spec_version
		FROM test_runs WHERE admin_email = $1 ORDER BY timestamp DESC LIMIT $2`, adminEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	defer rows.Close()

	var runs []models.TestRun
	for rows.Next() {
		var run models.TestRun
		if err := rows.Scan(&run.TestRunID, &run.Timestamp, &run.CompanyName, &run.CompanyIdentifier,
			&run.AdminEmail, &run.AdminName, &run.TechSpecVersion); err != nil {
			return nil, fmt.Errorf("scan test run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
