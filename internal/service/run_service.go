package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/wbcsd/pact-conformance-test-service/internal/catalog"
	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
	"github.com/wbcsd/pact-conformance-test-service/internal/websocket"
)

// Messages of the run verdict.
const (
	MessageAllPassed = "All tests passed successfully"
	MessageFailed    = "One or more tests failed"
)

// Names of the two cases only a callback can complete.
var (
	NameFulfillmentCallback = testcase.Name(13, "Respond to Asynchronous PCF Request")
	NameRejectionCallback   = testcase.Name(14, "Respond to PCF Request Rejection")
)

// RunRequest starts a conformance run.
type RunRequest struct {
	BaseURL           string `json:"baseUrl"`
	ClientID          string `json:"clientId"`
	ClientSecret      string `json:"clientSecret"`
	Version           string `json:"version"`
	CompanyName       string `json:"companyName"`
	CompanyIdentifier string `json:"companyIdentifier"`
	AdminEmail        string `json:"adminEmail"`
	AdminName         string `json:"adminName"`
	CustomAuthBaseURL string `json:"customAuthBaseUrl,omitempty"`
	// TestRunID lets a caller pick the run id up front and subscribe to the live
	// stream before the run starts. Empty means one is generated.
	TestRunID string `json:"testRunId,omitempty"`
}

// Validate checks required fields and the version tag.
func (r *RunRequest) Validate() (pact.Version, error) {
	for _, v := range []string{r.BaseURL, r.ClientID, r.ClientSecret, r.Version,
		r.CompanyName, r.CompanyIdentifier, r.AdminEmail, r.AdminName} {
		if strings.TrimSpace(v) == "" {
			return "", ErrMissingParameters
		}
	}
	v, err := pact.ParseVersion(r.Version)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedVersion, r.Version)
	}
	if r.TestRunID != "" {
		if _, err := uuid.Parse(r.TestRunID); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidTestRunID, r.TestRunID)
		}
	}
	return v, nil
}

func (r *RunRequest) authBaseURL() string {
	if r.CustomAuthBaseURL != "" {
		return r.CustomAuthBaseURL
	}
	return r.BaseURL
}

// RunResponse is the synchronous summary of a run.
type RunResponse struct {
	Message           string            `json:"message"`
	Results           []testcase.Result `json:"results"`
	PassingPercentage int               `json:"passingPercentage"`
	TestRunID         string            `json:"testRunId"`
	Passed            bool              `json:"-"`
}

// RunService 运行一致性测试
type RunService interface {
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)
}

type runService struct {
	repo       repository.TestRunRepository
	executor   *testcase.Executor
	target     *target.Client
	webhookURL string
	opts       Options
}

// NewRunService creates the run orchestrator.
func NewRunService(
	repo repository.TestRunRepository,
	executor *testcase.Executor,
	client *target.Client,
	webhookURL string,
	opts Options,
) RunService {
	return &runService{
		repo:       repo,
		executor:   executor,
		target:     client,
		webhookURL: webhookURL,
		opts:       opts.withDefaults(),
	}
}

// Run authenticates, seeds, executes the catalog sequentially and persists the
// results with PENDING placeholders for the two callback cases.
func (s *runService) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	version, err := req.Validate()
	if err != nil {
		return nil, err
	}
	profile, err := pact.ProfileFor(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, req.Version)
	}

	runID := req.TestRunID
	if runID == "" {
		runID = s.opts.NewID()
	} else {
		existing, err := s.repo.GetTestData(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("check test run id: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s", ErrTestRunExists, runID)
		}
	}
	log := s.opts.Logger.With("testRunId", runID, "version", version)
	abort := func(stage string, results []testcase.Result, err error) (*RunResponse, error) {
		log.Error("test run aborted", "stage", stage, "error", err)
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveRun(string(version), "error")
		}
		return nil, &RunError{TestRunID: runID, Stage: stage, Results: results, Err: err}
	}

	authBase := req.authBaseURL()
	oidcTokenURL := s.target.DiscoverTokenEndpoint(ctx, authBase)
	token, err := s.target.AccessToken(ctx, authBase, req.ClientID, req.ClientSecret, oidcTokenURL)
	if err != nil {
		return abort("authenticate", nil, err)
	}

	footprints, err := s.target.FetchFootprints(ctx, req.BaseURL, token, version)
	if err != nil {
		return abort("fetch footprints", nil, err)
	}
	links, err := s.target.FetchPaginationLinks(ctx, req.BaseURL, token, version)
	if err != nil {
		return abort("fetch pagination links", nil, err)
	}

	now := s.opts.Now()
	run := &models.TestRun{
		TestRunID:         runID,
		Timestamp:         now.UTC(),
		CompanyName:       req.CompanyName,
		CompanyIdentifier: req.CompanyIdentifier,
		AdminEmail:        req.AdminEmail,
		AdminName:         req.AdminName,
		TechSpecVersion:   string(version),
	}
	if err := s.repo.SaveTestRun(ctx, run); err != nil {
		return abort("persist test run", nil, err)
	}
	testData := &models.TestData{ProductIDs: models.StringList(footprints[0].ProductIDs), Version: string(version)}
	if err := s.repo.SaveTestData(ctx, runID, testData); err != nil {
		return abort("persist test data", nil, err)
	}

	catalogCtx := catalog.Context{
		TestRunID:       runID,
		Footprints:      footprints,
		PaginationLinks: links,
		BaseURL:         req.BaseURL,
		AuthBaseURL:     authBase,
		OIDCTokenURL:    oidcTokenURL,
		ClientID:        req.ClientID,
		ClientSecret:    req.ClientSecret,
		Version:         version,
		WebhookURL:      s.webhookURL,
		Now:             now,
	}
	specs, err := catalog.Generate(catalogCtx)
	if err != nil {
		return abort("build catalog", nil, err)
	}
	log.Info("executing test cases", "count", len(specs), "baseUrl", req.BaseURL)

	results := make([]testcase.Result, 0, len(specs)+2)
	for i := range specs {
		r := s.executor.Execute(ctx, &specs[i], req.BaseURL, token, version)
		results = append(results, *r)
		s.opts.notify(runID, websocket.TypeTestResult, r)
	}
	score := ScoreResults(results)

	s.triggerRejection(ctx, catalogCtx, profile, token, log)

	results = append(results,
		testcase.Pending(NameFulfillmentCallback, testcase.KeyFulfillmentCallback, profile.AsyncMandatory),
		testcase.Pending(NameRejectionCallback, testcase.KeyRejectionCallback, profile.AsyncMandatory),
	)
	if err := s.repo.SaveTestCaseResults(ctx, runID, results); err != nil {
		return abort("persist test results", results, err)
	}

	resp := &RunResponse{
		Results:           results,
		PassingPercentage: score.PassingPercentage,
		TestRunID:         runID,
		Passed:            score.Passed,
	}
	if score.Passed {
		resp.Message = MessageAllPassed
	} else {
		resp.Message = MessageFailed
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRun(string(version), strings.ToLower(score.Status()))
	}
	s.opts.notify(runID, websocket.TypeRunCompleted, resp)
	log.Info("test run completed", "passingPercentage", score.PassingPercentage, "passed", score.Passed)
	return resp, nil
}

// triggerRejection asks the target to reject a request with null product ids so it
// calls back with a rejection event. Its outcome is only logged.
func (s *runService) triggerRejection(ctx context.Context, c catalog.Context, p pact.Profile, token string, log *slog.Logger) {
	ev := catalog.RequestCreatedEvent(c, p, testcase.KeyRejectionCallback, nil)
	status, err := s.target.PostEvent(ctx, c.BaseURL, token, c.Version, ev)
	if err != nil {
		log.Warn("rejection trigger failed", "error", err)
		return
	}
	log.Info("rejection trigger sent", "status", status)
}
