// Package testcase provides test case execution functionality
package testcase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/schema"
)

// DefaultTimeout bounds every probe.
const DefaultTimeout = 30 * time.Second

const maxBodyBytes = 10 << 20

// ProbeObserver receives one callback per executed case.
type ProbeObserver interface {
	ObserveProbe(version pact.Version, testKey string, status Status, elapsed time.Duration)
}

// Executor runs a single test case against the target system. It never returns an
// error: every failure becomes a FAILURE result so the caller can run the full catalog.
type Executor struct {
	client    *http.Client
	validator schema.Validator
	logger    *slog.Logger
	observer  ProbeObserver
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithTimeout changes the per-probe ceiling of the default client.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver attaches a metrics sink.
func WithObserver(o ProbeObserver) Option {
	return func(e *Executor) { e.observer = o }
}

// NewProbeClient returns the HTTP client probes use by default. Redirects are
// returned to the caller instead of followed, so an http-to-https redirect is
// observed as a 3xx answer.
func NewProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewExecutor creates a new test executor
func NewExecutor(validator schema.Validator, opts ...Option) *Executor {
	e := &Executor{
		client:    NewProbeClient(DefaultTimeout),
		validator: validator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs spec against baseURL using accessToken as the default bearer token.
func (e *Executor) Execute(ctx context.Context, spec *Spec, baseURL, accessToken string, version pact.Version) *Result {
	start := time.Now()
	result := &Result{
		Name:      spec.Name,
		TestKey:   spec.TestKey,
		Mandatory: spec.IsMandatory(version),
	}
	defer func() {
		elapsed := time.Since(start)
		if e.observer != nil {
			e.observer.ObserveProbe(version, spec.TestKey, result.Status, elapsed)
		}
		attrs := []any{"testKey", spec.TestKey, "status", result.Status, "mandatory", result.Mandatory, "elapsed", elapsed}
		if result.Success {
			e.logger.Info("test case passed", attrs...)
		} else {
			e.logger.Warn("test case failed", append(attrs, "error", result.ErrorMessage)...)
		}
	}()

	e.executeHTTP(ctx, spec, baseURL, accessToken, result)
	return result
}

func (e *Executor) executeHTTP(ctx context.Context, spec *Spec, baseURL, accessToken string, result *Result) {
	if spec.UnavailableReason != "" {
		result.CurlRequest = CurlNotExecuted
		result.fail(spec.UnavailableReason)
		return
	}

	url := spec.CustomURL
	if url == "" && spec.Path != "" {
		url = baseURL + spec.Path
	}
	if url == "" {
		result.CurlRequest = CurlMissingURL
		result.fail("Either endpoint or customUrl must be provided")
		return
	}
	if len(spec.ExpectedStatusCodes) == 0 {
		result.CurlRequest = CurlNotExecuted
		result.fail("Test case declares no expected status codes")
		return
	}

	headers := headerList{}.
		set("Content-Type", "application/json").
		set("Authorization", "Bearer "+accessToken)
	keys := make([]string, 0, len(spec.Headers))
	for k := range spec.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers = headers.set(k, spec.Headers[k])
	}

	body, err := encodeBody(spec.RequestBody)
	if err != nil {
		result.CurlRequest = curlCommand(spec.Method, url, headers, "")
		result.fail(fmt.Sprintf("failed to marshal body: %v", err))
		return
	}
	result.CurlRequest = curlCommand(spec.Method, url, headers, body)

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, url, bodyReader)
	if err != nil {
		result.fail(fmt.Sprintf("failed to create request: %v", err))
		return
	}
	for _, h := range headers {
		if strings.EqualFold(h.key, "host") {
			req.Host = h.value
			continue
		}
		req.Header.Set(h.key, h.value)
	}

	e.logger.Debug("executing test case", "testKey", spec.TestKey, "method", spec.Method, "url", url)

	resp, err := e.client.Do(req)
	if err != nil {
		result.fail(err.Error())
		return
	}
	defer resp.Body.Close()

	if !acceptsStatus(spec.ExpectedStatusCodes, resp.StatusCode) {
		result.fail(fmt.Sprintf("Expected status [%s], but got %d", joinCodes(spec.ExpectedStatusCodes), resp.StatusCode))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result.fail(fmt.Sprintf("failed to read response: %v", err))
		return
	}
	decoded, err := decodeBody(raw)
	if err != nil {
		result.APIResponse = string(raw)
		result.fail(err.Error())
		return
	}

	if spec.Schema != "" {
		if err := e.validator.Validate(spec.Schema, decoded); err != nil {
			result.APIResponse = renderJSON(decoded)
			result.fail("Schema validation failed: " + schema.Describe(err))
			return
		}
	}

	if spec.Condition != nil {
		ok := spec.Condition(&Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: decoded, Raw: raw})
		if !ok {
			msg := spec.ConditionErrorMessage
			if msg == "" {
				msg = "Condition check failed"
			}
			result.APIResponse = renderJSON(decoded)
			result.fail(msg)
			return
		}
	}

	result.succeed()
}

func encodeBody(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodeBody returns "" for an empty body and the decoded JSON value otherwise.
func decodeBody(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON in response body: %w", err)
	}
	return v, nil
}

func acceptsStatus(codes []int, status int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

func joinCodes(codes []int) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func renderJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
