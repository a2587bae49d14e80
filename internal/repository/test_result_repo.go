package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

type testRunRepo struct {
	db *gorm.DB
}

// NewTestRunRepository stores runs through gorm.
func NewTestRunRepository(db *gorm.DB) TestRunRepository {
	return &testRunRepo{db: db}
}

func (r *testRunRepo) SaveTestRun(ctx context.Context, run *models.TestRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(run).Error
	if err != nil {
		return fmt.Errorf("failed to save test run: %w", err)
	}
	return nil
}

func (r *testRunRepo) SaveTestData(ctx context.Context, testRunID string, data *models.TestData) error {
	data.TestRunID = testRunID
	data.Timestamp = time.Now().UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(data).Error
	if err != nil {
		return fmt.Errorf("failed to save test data: %w", err)
	}
	return nil
}

func (r *testRunRepo) SaveTestCaseResult(ctx context.Context, testRunID string, result testcase.Result, overwrite bool) error {
	row := models.NewTestCaseResult(testRunID, result)
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "test_run_id"}, {Name: "test_key"}},
	}
	if overwrite {
		conflict.DoUpdates = clause.AssignmentColumns([]string{
			"name", "status", "success", "mandatory", "error_message", "api_response", "curl_request", "updated_at",
		})
	} else {
		conflict.DoNothing = true
	}

	res := r.db.WithContext(ctx).Clauses(conflict).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to save test case %s: %w", result.Name, res.Error)
	}
	if !overwrite && res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *testRunRepo) SaveTestCaseResults(ctx context.Context, testRunID string, results []testcase.Result) error {
	return saveEach(ctx, r, testRunID, results)
}

func (r *testRunRepo) GetTestData(ctx context.Context, testRunID string) (*models.TestData, error) {
	var data models.TestData
	err := r.db.WithContext(ctx).Where("test_run_id = ?", testRunID).First(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query test data: %w", err)
	}
	return &data, nil
}

func (r *testRunRepo) GetTestResults(ctx context.Context, testRunID string) (*RunResults, error) {
	var rows []models.TestCaseResult
	if err := r.db.WithContext(ctx).Where("test_run_id = ?", testRunID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query test results: %w", err)
	}

	out := &RunResults{TestRunID: testRunID, Results: make([]testcase.Result, 0, len(rows))}
	for i := range rows {
		out.Results = append(out.Results, rows[i].Result())
	}

	var run models.TestRun
	err := r.db.WithContext(ctx).Where("test_run_id = ?", testRunID).First(&run).Error
	switch {
	case err == nil:
		out.Timestamp = &run.Timestamp
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("failed to query test run: %w", err)
	}
	return out, nil
}

func (r *testRunRepo) GetRecentTestRunsByEmail(ctx context.Context, adminEmail string, limit int) ([]models.TestRun, error) {
	var runs []models.TestRun
	query := r.db.WithContext(ctx).Where("admin_email = ?", adminEmail).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	return runs, nil
}
