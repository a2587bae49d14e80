package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/pact/pacttest"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/schema"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
	"github.com/wbcsd/pact-conformance-test-service/internal/websocket"
)

func setupTestRepo(t *testing.T) repository.TestRunRepository {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	return repository.NewTestRunRepository(db)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Broadcast(testRunID, msgType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, testRunID+"/"+msgType)
}

func (n *recordingNotifier) count(msgType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if m == "run-1/"+msgType {
			c++
		}
	}
	return c
}

type recordingMetrics struct {
	runs      []string
	callbacks []string
}

func (m *recordingMetrics) ObserveRun(version, status string) {
	m.runs = append(m.runs, version+"/"+status)
}

func (m *recordingMetrics) ObserveCallback(event, status string) {
	m.callbacks = append(m.callbacks, event+"/"+status)
}

func results(mandatoryPassed, mandatoryFailed, optionalFailed int) []testcase.Result {
	var out []testcase.Result
	n := 1
	add := func(count int, success, mandatory bool) {
		for i := 0; i < count; i++ {
			out = append(out, testcase.Result{TestKey: testcase.Key(n), Success: success, Mandatory: mandatory})
			n++
		}
	}
	add(mandatoryPassed, true, true)
	add(mandatoryFailed, false, true)
	add(optionalFailed, false, false)
	return out
}

func TestScoreResults(t *testing.T) {
	tests := []struct {
		name    string
		results []testcase.Result
		percent int
		passed  bool
	}{
		{"all mandatory pass", results(18, 0, 0), 100, true},
		{"one of eighteen fails", results(17, 1, 0), 94, false},
		{"optional failures ignored", results(11, 0, 4), 100, true},
		{"no mandatory results", results(0, 0, 3), 0, true},
		{"pending mandatory counts as failed", append(results(2, 0, 0),
			testcase.Pending("pending", testcase.KeyFulfillmentCallback, true)), 67, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreResults(tt.results)
			assert.Equal(t, tt.percent, score.PassingPercentage)
			assert.Equal(t, tt.passed, score.Passed)
		})
	}
}

func seedTestData(t *testing.T, repo repository.TestRunRepository, version string, productIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.SaveTestRun(ctx, &models.TestRun{
		TestRunID: "run-1", Timestamp: time.Now().UTC(), CompanyName: "Acme", CompanyIdentifier: "acme",
		AdminEmail: "admin@example.com", AdminName: "Admin", TechSpecVersion: version,
	}))
	require.NoError(t, repo.SaveTestData(ctx, "run-1", &models.TestData{ProductIDs: productIDs, Version: version}))
	require.NoError(t, repo.SaveTestCaseResults(ctx, "run-1", []testcase.Result{
		testcase.Pending(NameFulfillmentCallback, testcase.KeyFulfillmentCallback, true),
		testcase.Pending(NameRejectionCallback, testcase.KeyRejectionCallback, true),
	}))
}

func storedResult(t *testing.T, repo repository.TestRunRepository, key string) testcase.Result {
	t.Helper()
	stored, err := repo.GetTestResults(context.Background(), "run-1")
	require.NoError(t, err)
	for _, r := range stored.Results {
		if r.TestKey == key {
			return r
		}
	}
	t.Fatalf("no result stored for %s", key)
	return testcase.Result{}
}

func newCallbackService(repo repository.TestRunRepository, opts Options) CallbackService {
	return NewCallbackService(repo, schema.MustNewRegistry(), opts)
}

func TestCallback_FulfillmentSucceeds(t *testing.T) {
	for _, v := range []pact.Version{pact.V2_3, pact.V3_0} {
		t.Run(string(v), func(t *testing.T) {
			repo := setupTestRepo(t)
			seedTestData(t, repo, string(v), pacttest.ProductID1)
			notifier := &recordingNotifier{}
			svc := newCallbackService(repo, Options{Notifier: notifier})

			body := pacttest.MustJSON(pacttest.FulfilledEvent(v, "evt-1", "run-1", pacttest.Footprints(v)[0]))
			outcome, err := svc.Resolve(context.Background(), body, "")
			require.NoError(t, err)
			require.NotNil(t, outcome.Result)
			assert.Equal(t, testcase.StatusSuccess, outcome.Result.Status, outcome.Result.ErrorMessage)

			r := storedResult(t, repo, testcase.KeyFulfillmentCallback)
			assert.True(t, r.Success)
			assert.True(t, r.Mandatory)
			assert.Equal(t, NameFulfillmentCallback, r.Name)
			assert.Equal(t, 1, notifier.count(websocket.TypeAsyncResult))
		})
	}
}

func TestCallback_MismatchedProductIDs(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V2.3", "urn:different")
	svc := newCallbackService(repo, Options{})

	pf := pacttest.V2Footprint(pacttest.FootprintID1, "urn:product-123", pacttest.Class1, "2025-02-01T10:00:00Z")
	body := pacttest.MustJSON(pacttest.FulfilledEvent(pact.V2_3, "evt-1", "run-1", pf))
	_, err := svc.Resolve(context.Background(), body, "")
	require.NoError(t, err)

	r := storedResult(t, repo, testcase.KeyFulfillmentCallback)
	assert.Equal(t, testcase.StatusFailure, r.Status)
	assert.False(t, r.Success)
	assert.Contains(t, r.ErrorMessage, "Product IDs do not match")
	assert.Contains(t, r.ErrorMessage, `["urn:different"]`)
	assert.Contains(t, r.ErrorMessage, `["urn:product-123"]`)
}

func TestCallback_SchemaViolation(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V2.3", pacttest.ProductID1)
	svc := newCallbackService(repo, Options{})

	ev := pacttest.FulfilledEvent(pact.V2_3, "evt-1", "run-1", map[string]any{"productIds": []any{pacttest.ProductID1}})
	delete(ev, "specversion")
	_, err := svc.Resolve(context.Background(), pacttest.MustJSON(ev), "")
	require.NoError(t, err)

	r := storedResult(t, repo, testcase.KeyFulfillmentCallback)
	assert.Equal(t, testcase.StatusFailure, r.Status)
	assert.Contains(t, r.ErrorMessage, "Event validation failed")
}

func TestCallback_UnknownRun(t *testing.T) {
	repo := setupTestRepo(t)
	metrics := &recordingMetrics{}
	svc := newCallbackService(repo, Options{Metrics: metrics})

	body := pacttest.MustJSON(pacttest.FulfilledEvent(pact.V2_3, "evt-1", "run-unknown", pacttest.Footprints(pact.V2_3)[0]))
	outcome, err := svc.Resolve(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrTestDataNotFound)
	assert.Nil(t, outcome)
	assert.Equal(t, []string{"uncorrelated/rejected"}, metrics.callbacks)

	stored, err := repo.GetTestResults(context.Background(), "run-unknown")
	require.NoError(t, err)
	assert.Empty(t, stored.Results)
}

func TestCallback_RejectionWithoutError(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V3.0", pacttest.ProductID1)
	svc := newCallbackService(repo, Options{})

	body := pacttest.MustJSON(pacttest.RejectedEvent(pact.V3_0, "evt-2", "run-1", nil))
	_, err := svc.Resolve(context.Background(), body, "")
	require.NoError(t, err)

	r := storedResult(t, repo, testcase.KeyRejectionCallback)
	assert.Equal(t, testcase.StatusFailure, r.Status)
	assert.Equal(t, MessageRejectionWithoutError, r.ErrorMessage)
}

func TestCallback_RejectionWithError(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V2.2", pacttest.ProductID1)
	svc := newCallbackService(repo, Options{})

	body := pacttest.MustJSON(pacttest.RejectedEvent(pact.V2_2, "evt-2", "run-1",
		map[string]any{"code": "BadRequest", "message": "productIds must not be null"}))
	_, err := svc.Resolve(context.Background(), body, "")
	require.NoError(t, err)

	r := storedResult(t, repo, testcase.KeyRejectionCallback)
	assert.Equal(t, testcase.StatusSuccess, r.Status)
	assert.True(t, r.Mandatory)
}

func TestCallback_SecondDeliveryOverwrites(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V2.3", pacttest.ProductID1)
	svc := newCallbackService(repo, Options{})
	ctx := context.Background()

	bad := pacttest.V2Footprint(pacttest.FootprintID1, "urn:other", pacttest.Class1, "2025-02-01T10:00:00Z")
	_, err := svc.Resolve(ctx, pacttest.MustJSON(pacttest.FulfilledEvent(pact.V2_3, "evt-1", "run-1", bad)), "")
	require.NoError(t, err)
	assert.False(t, storedResult(t, repo, testcase.KeyFulfillmentCallback).Success)

	good := pacttest.FulfilledEvent(pact.V2_3, "evt-2", "run-1", pacttest.Footprints(pact.V2_3)[0])
	for i := 0; i < 2; i++ {
		_, err = svc.Resolve(ctx, pacttest.MustJSON(good), "")
		require.NoError(t, err)
	}

	stored, err := repo.GetTestResults(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, stored.Results, 2)
	assert.True(t, storedResult(t, repo, testcase.KeyFulfillmentCallback).Success)
}

func TestCallback_IgnoredAndMalformed(t *testing.T) {
	repo := setupTestRepo(t)
	seedTestData(t, repo, "V2.3", pacttest.ProductID1)
	svc := newCallbackService(repo, Options{})
	ctx := context.Background()

	outcome, err := svc.Resolve(ctx, []byte(`{"type":"org.example.Other","data":{"requestEventId":"run-1"}}`), "")
	require.NoError(t, err)
	assert.Nil(t, outcome.Result)
	assert.Equal(t, testcase.StatusPending, storedResult(t, repo, testcase.KeyFulfillmentCallback).Status)

	_, err = svc.Resolve(ctx, []byte(`not json`), "run-1")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = svc.Resolve(ctx, []byte(`{"type":"x","data":{}}`), "")
	assert.ErrorIs(t, err, ErrInvalidEvent)

	// wrongly typed members fail the case and are stored, not refused
	fulfilled := pacttest.FulfilledEvent(pact.V2_3, "evt-1", "run-1", pacttest.Footprints(pact.V2_3)[0])
	fulfilled["data"].(map[string]any)["pfs"].([]any)[0].(map[string]any)["productIds"] = "urn:not-an-array"
	outcome, err = svc.Resolve(ctx, pacttest.MustJSON(fulfilled), "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	r := storedResult(t, repo, testcase.KeyFulfillmentCallback)
	assert.Equal(t, testcase.StatusFailure, r.Status)
	assert.Contains(t, r.ErrorMessage, "Event validation failed")

	rejected := pacttest.RejectedEvent(pact.V2_3, "evt-2", "run-1", nil)
	rejected["data"].(map[string]any)["error"] = "oops"
	_, err = svc.Resolve(ctx, pacttest.MustJSON(rejected), "")
	require.NoError(t, err)
	r = storedResult(t, repo, testcase.KeyRejectionCallback)
	assert.Equal(t, testcase.StatusFailure, r.Status)
	assert.Equal(t, MessageRejectionWithoutError, r.ErrorMessage)

	// the webhook query correlates when the body carries no requestEventId
	body := pacttest.RejectedEvent(pact.V2_3, "evt-3", "", map[string]any{"code": "NotFound", "message": "gone"})
	outcome, err = svc.Resolve(ctx, pacttest.MustJSON(body), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", outcome.TestRunID)
	assert.True(t, storedResult(t, repo, testcase.KeyRejectionCallback).Success)
}

func validRequest(baseURL string, v pact.Version) *RunRequest {
	return &RunRequest{
		BaseURL:           baseURL,
		ClientID:          pacttest.ClientID,
		ClientSecret:      pacttest.ClientSecret,
		Version:           string(v),
		CompanyName:       "Acme Steel",
		CompanyIdentifier: "acme",
		AdminEmail:        "admin@example.com",
		AdminName:         "Admin",
	}
}

func newRunService(t *testing.T, srv *pacttest.Server, repo repository.TestRunRepository, opts Options) RunService {
	t.Helper()
	executor := testcase.NewExecutor(schema.MustNewRegistry(), testcase.WithHTTPClient(srv.Client()))
	opts.NewID = func() string { return "run-1" }
	return NewRunService(repo, executor, target.NewClient(srv.Client(), nil), "https://harness.example.com/testHarness", opts)
}

func TestRun_AllMandatoryPass(t *testing.T) {
	for _, v := range []pact.Version{pact.V2_0, pact.V2_2, pact.V3_0} {
		t.Run(string(v), func(t *testing.T) {
			srv := pacttest.NewServer(t, v)
			repo := setupTestRepo(t)
			notifier := &recordingNotifier{}
			metrics := &recordingMetrics{}
			svc := newRunService(t, srv, repo, Options{Notifier: notifier, Metrics: metrics})

			resp, err := svc.Run(context.Background(), validRequest(srv.URL, v))
			require.NoError(t, err)
			assert.Equal(t, "run-1", resp.TestRunID)
			assert.Equal(t, MessageAllPassed, resp.Message)
			assert.Equal(t, 100, resp.PassingPercentage)
			assert.True(t, resp.Passed)
			assert.Equal(t, []string{string(v) + "/pass"}, metrics.runs)

			last := resp.Results[len(resp.Results)-2:]
			assert.Equal(t, testcase.KeyFulfillmentCallback, last[0].TestKey)
			assert.Equal(t, testcase.KeyRejectionCallback, last[1].TestKey)
			assert.Equal(t, testcase.StatusPending, last[0].Status)
			assert.Equal(t, v != pact.V2_0, last[0].Mandatory)
			assert.Equal(t, len(resp.Results)-2, notifier.count(websocket.TypeTestResult))
			assert.Equal(t, 1, notifier.count(websocket.TypeRunCompleted))

			stored, err := repo.GetTestResults(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Len(t, stored.Results, len(resp.Results))
			data, err := repo.GetTestData(context.Background(), "run-1")
			require.NoError(t, err)
			assert.Equal(t, []string{pacttest.ProductID1}, []string(data.ProductIDs))
			assert.Equal(t, string(v), data.Version)

			// the rejection trigger goes out after the catalog
			events := srv.Events()
			require.NotEmpty(t, events)
			assert.Contains(t, events[len(events)-1].Source, "testCaseName=TESTCASE%2314")
		})
	}
}

func TestRun_MandatoryFailure(t *testing.T) {
	srv := pacttest.NewServer(t, pact.V2_3)
	delete(srv.Footprints[0], "companyName")
	repo := setupTestRepo(t)
	svc := newRunService(t, srv, repo, Options{})

	resp, err := svc.Run(context.Background(), validRequest(srv.URL, pact.V2_3))
	require.NoError(t, err)
	assert.False(t, resp.Passed)
	assert.Equal(t, MessageFailed, resp.Message)
	assert.Less(t, resp.PassingPercentage, 100)
}

func TestRun_MissingParameters(t *testing.T) {
	svc := NewRunService(setupTestRepo(t), nil, nil, "", Options{})
	req := validRequest("https://api.example.com", pact.V2_3)
	req.AdminEmail = ""

	_, err := svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingParameters)

	req = validRequest("https://api.example.com", "V4.0")
	_, err = svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRun_CallerSuppliedID(t *testing.T) {
	srv := pacttest.NewServer(t, pact.V2_3)
	repo := setupTestRepo(t)
	notifier := &recordingNotifier{}
	svc := newRunService(t, srv, repo, Options{Notifier: notifier})
	ctx := context.Background()
	id := "6f1c2a5e-3b7d-4e8f-9a10-2b3c4d5e6f70"

	req := validRequest(srv.URL, pact.V2_3)
	req.TestRunID = id
	resp, err := svc.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id, resp.TestRunID)
	assert.Equal(t, 0, notifier.count(websocket.TypeTestResult))
	notifier.mu.Lock()
	assert.Contains(t, notifier.messages, id+"/"+websocket.TypeTestResult)
	assert.Contains(t, notifier.messages, id+"/"+websocket.TypeRunCompleted)
	notifier.mu.Unlock()

	// ids are single use
	_, err = svc.Run(ctx, req)
	assert.ErrorIs(t, err, ErrTestRunExists)

	req.TestRunID = "not-a-uuid"
	_, err = svc.Run(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidTestRunID)
}

func TestRun_AuthFailureAbortsRun(t *testing.T) {
	srv := pacttest.NewServer(t, pact.V2_3)
	repo := setupTestRepo(t)
	metrics := &recordingMetrics{}
	svc := newRunService(t, srv, repo, Options{Metrics: metrics})

	req := validRequest(srv.URL, pact.V2_3)
	req.ClientSecret = "wrong"
	_, err := svc.Run(context.Background(), req)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "run-1", runErr.TestRunID)
	assert.Equal(t, "authenticate", runErr.Stage)
	assert.Equal(t, []string{"V2.3/error"}, metrics.runs)

	stored, err := repo.GetTestResults(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, stored.Results)
}

func TestResults_RescoresStoredRun(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	seedTestData(t, repo, "V2.3", pacttest.ProductID1)
	var executed []testcase.Result
	for _, n := range []int{12, 3, 1, 2} {
		executed = append(executed, testcase.Result{
			Name: fmt.Sprintf("case %d", n), TestKey: testcase.Key(n),
			Status: testcase.StatusSuccess, Success: true, Mandatory: true,
		})
	}
	require.NoError(t, repo.SaveTestCaseResults(ctx, "run-1", executed))

	svc := NewResultsService(repo, 0)
	res, err := svc.GetTestResults(ctx, "run-1")
	require.NoError(t, err)
	var order []int
	for _, r := range res.Results {
		order = append(order, testcase.KeyNumber(r.TestKey))
	}
	assert.Equal(t, []int{1, 2, 3, 12, 13, 14}, order)
	assert.Equal(t, 67, res.PassingPercentage)
	assert.Equal(t, "FAIL", res.Status)
	assert.NotNil(t, res.Timestamp)

	_, err = svc.GetTestResults(ctx, "missing")
	assert.ErrorIs(t, err, ErrTestRunNotFound)
	_, err = svc.GetTestResults(ctx, "")
	assert.ErrorIs(t, err, ErrMissingParameters)
}

func TestResults_RecentRuns(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveTestRun(ctx, &models.TestRun{
			TestRunID: fmt.Sprintf("run-%d", i), Timestamp: base.Add(time.Duration(i) * time.Hour),
			CompanyName: "Acme", CompanyIdentifier: "acme", AdminEmail: "admin@example.com",
			AdminName: "Admin", TechSpecVersion: "V3.0",
		}))
	}

	svc := NewResultsService(repo, 2)
	recent, err := svc.GetRecentTestRuns(ctx, "admin@example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, recent.Count)
	assert.Equal(t, "run-2", recent.TestRuns[0].TestRunID)

	none, err := svc.GetRecentTestRuns(ctx, "nobody@example.com", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, none.Count)
	assert.NotNil(t, none.TestRuns)
}

func TestCallbackAuth(t *testing.T) {
	auth := NewCallbackAuth(config.CallbackAuthConfig{ClientID: "id", ClientSecret: "secret", SigningKey: "key"})

	_, err := auth.IssueToken("id", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := auth.IssueToken("id", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 3600, tok.ExpiresIn)
	assert.Equal(t, tok.AccessToken, tok.Token)

	claims, err := auth.ValidateToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "id", claims.ClientID)

	other := NewCallbackAuth(config.CallbackAuthConfig{ClientID: "id", ClientSecret: "secret", SigningKey: "other"})
	_, err = other.ValidateToken(tok.AccessToken)
	assert.Error(t, err)

	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = auth.ValidateToken(tok.AccessToken)
	assert.Error(t, err)
}
