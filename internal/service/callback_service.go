package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/schema"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
	"github.com/wbcsd/pact-conformance-test-service/internal/websocket"
)

// MessageRejectionWithoutError is stored when a rejection carries no usable error.
const MessageRejectionWithoutError = "Rejected event must contain an error object with a code and message"

// CallbackOutcome describes what the resolver did with one callback.
type CallbackOutcome struct {
	TestRunID string
	// Result is nil when the event type was ignored.
	Result *testcase.Result
}

// CallbackService resolves the asynchronous callbacks of earlier runs.
type CallbackService interface {
	Resolve(ctx context.Context, raw []byte, fallbackRunID string) (*CallbackOutcome, error)
}

type callbackService struct {
	repo      repository.TestRunRepository
	validator schema.Validator
	opts      Options
}

// NewCallbackService creates the resolver.
func NewCallbackService(repo repository.TestRunRepository, validator schema.Validator, opts Options) CallbackService {
	return &callbackService{repo: repo, validator: validator, opts: opts.withDefaults()}
}

// Resolve correlates a callback with its run through data.requestEventId, falling back
// on the run id of the webhook query, and overwrites the placeholder of case 13 or 14.
func (s *callbackService) Resolve(ctx context.Context, raw []byte, fallbackRunID string) (*CallbackOutcome, error) {
	// Decoded loosely: a well-formed body with wrongly typed members is still resolved
	// and fails the case instead of the delivery.
	var ev any
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.observe("unparseable", "rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	eventType := text(lookup(ev, "type"))
	runID := text(lookup(ev, "data", "requestEventId"))
	if runID == "" {
		runID = fallbackRunID
	}
	if runID == "" {
		s.observe("uncorrelated", "rejected")
		return nil, fmt.Errorf("%w: missing requestEventId", ErrInvalidEvent)
	}
	log := s.opts.Logger.With("testRunId", runID, "type", eventType)

	data, err := s.repo.GetTestData(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load test data: %w", err)
	}
	if data == nil {
		log.Warn("callback for unknown test run")
		s.observe("uncorrelated", "rejected")
		return nil, ErrTestDataNotFound
	}

	profile := pact.ProfileForStored(data.Version)
	mandatory := false
	if v, err := pact.ParseVersion(data.Version); err == nil {
		mandatory = pact.Contains(pact.AsyncVersions, v)
	}

	var result testcase.Result
	var event string
	switch eventType {
	case profile.Events.RequestFulfilled:
		event = "fulfilled"
		result = s.fulfillment(raw, ev, data, profile, mandatory)
	case profile.Events.RequestRejected:
		event = "rejected"
		result = rejection(raw, ev, mandatory)
	default:
		log.Info("ignoring callback event")
		s.observe("ignored", "ok")
		return &CallbackOutcome{TestRunID: runID}, nil
	}

	if err := s.repo.SaveTestCaseResult(ctx, runID, result, true); err != nil {
		return nil, fmt.Errorf("save %s: %w", result.TestKey, err)
	}
	s.observe(event, string(result.Status))
	s.opts.notify(runID, websocket.TypeAsyncResult, &result)
	log.Info("callback resolved", "testKey", result.TestKey, "status", result.Status)
	return &CallbackOutcome{TestRunID: runID, Result: &result}, nil
}

func (s *callbackService) fulfillment(raw []byte, ev any, data *models.TestData, profile pact.Profile, mandatory bool) testcase.Result {
	result := testcase.Result{
		Name:        NameFulfillmentCallback,
		Status:      testcase.StatusSuccess,
		Success:     true,
		Mandatory:   mandatory,
		TestKey:     testcase.KeyFulfillmentCallback,
		APIResponse: string(raw),
	}

	if err := s.validator.Validate(profile.FulfillmentSchema, ev); err != nil {
		result.Status = testcase.StatusFailure
		result.Success = false
		result.ErrorMessage = "Event validation failed: " + schema.Describe(err)
		return result
	}

	var received []string
	pfs, _ := lookup(ev, "data", "pfs").([]any)
	for _, pf := range pfs {
		received = append(received, stringValues(lookup(pf, "productIds"))...)
	}
	if !intersects(data.ProductIDs, received) {
		result.Status = testcase.StatusFailure
		result.Success = false
		result.ErrorMessage = fmt.Sprintf("Product IDs do not match, the request was for %s but the response contained %s",
			jsonList(data.ProductIDs), jsonList(received))
	}
	return result
}

func rejection(raw []byte, ev any, mandatory bool) testcase.Result {
	result := testcase.Result{
		Name:        NameRejectionCallback,
		Status:      testcase.StatusSuccess,
		Success:     true,
		Mandatory:   mandatory,
		TestKey:     testcase.KeyRejectionCallback,
		APIResponse: string(raw),
	}
	if text(lookup(ev, "data", "error", "code")) == "" || text(lookup(ev, "data", "error", "message")) == "" {
		result.Status = testcase.StatusFailure
		result.Success = false
		result.ErrorMessage = MessageRejectionWithoutError
	}
	return result
}

func (s *callbackService) observe(event, status string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveCallback(event, status)
	}
}

// lookup walks nested objects and returns nil as soon as a step is not an object.
func lookup(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

func stringValues(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intersects(requested, received []string) bool {
	want := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		want[id] = struct{}{}
	}
	for _, id := range received {
		if _, ok := want[id]; ok {
			return true
		}
	}
	return false
}

func jsonList(values []string) string {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return string(raw)
}
