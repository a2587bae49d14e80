package service

import (
	"context"
	"time"

	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// RunResults is the rescored view of a stored run.
type RunResults struct {
	TestRunID         string            `json:"testRunId"`
	Timestamp         *time.Time        `json:"timestamp,omitempty"`
	Results           []testcase.Result `json:"results"`
	PassingPercentage int               `json:"passingPercentage"`
	Status            string            `json:"status"`
}

// RecentRuns lists the newest runs of one administrator.
type RecentRuns struct {
	Count    int              `json:"count"`
	TestRuns []models.TestRun `json:"testRuns"`
}

// ResultsService 结果查询服务
type ResultsService interface {
	GetTestResults(ctx context.Context, testRunID string) (*RunResults, error)
	GetRecentTestRuns(ctx context.Context, adminEmail string, limit int) (*RecentRuns, error)
}

type resultsService struct {
	repo         repository.TestRunRepository
	defaultLimit int
}

// NewResultsService creates the query service. limit bounds recent-run listings when
// the caller passes none.
func NewResultsService(repo repository.TestRunRepository, limit int) ResultsService {
	if limit <= 0 {
		limit = 10
	}
	return &resultsService{repo: repo, defaultLimit: limit}
}

// GetTestResults returns every stored result ordered by case number, scored with
// pending mandatory callbacks counted as not passed.
func (s *resultsService) GetTestResults(ctx context.Context, testRunID string) (*RunResults, error) {
	if testRunID == "" {
		return nil, ErrMissingParameters
	}
	stored, err := s.repo.GetTestResults(ctx, testRunID)
	if err != nil {
		return nil, err
	}
	if stored == nil || len(stored.Results) == 0 {
		return nil, ErrTestRunNotFound
	}

	results := append([]testcase.Result(nil), stored.Results...)
	testcase.SortByKey(results)
	score := ScoreResults(results)
	return &RunResults{
		TestRunID:         testRunID,
		Timestamp:         stored.Timestamp,
		Results:           results,
		PassingPercentage: score.PassingPercentage,
		Status:            score.Status(),
	}, nil
}

func (s *resultsService) GetRecentTestRuns(ctx context.Context, adminEmail string, limit int) (*RecentRuns, error) {
	if adminEmail == "" {
		return nil, ErrMissingParameters
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	runs, err := s.repo.GetRecentTestRunsByEmail(ctx, adminEmail, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.TestRun{}
	}
	return &RecentRuns{Count: len(runs), TestRuns: runs}, nil
}
