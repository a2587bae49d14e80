// Package testcase provides test case type definitions
package testcase

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
)

// Status is the tri-state outcome of a test case.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// KeyPrefix prefixes every test key, e.g. "TESTCASE#3".
const KeyPrefix = "TESTCASE#"

// Keys of the two asynchronous cases that only the callback resolver completes.
var (
	KeyFulfillmentCallback = Key(13)
	KeyRejectionCallback   = Key(14)
)

// Response is what a Condition sees of the target's answer.
type Response struct {
	StatusCode int
	Header     http.Header
	// Body is the decoded JSON value, or "" for an empty body.
	Body any
	Raw  []byte
}

// Condition is an extra predicate evaluated after the status and schema checks.
type Condition func(resp *Response) bool

// Spec represents a test case to be executed. Exactly one of Path and CustomURL is set.
type Spec struct {
	Name                  string
	Method                string
	Path                  string
	CustomURL             string
	ExpectedStatusCodes   []int
	Schema                string
	RequestBody           any // strings are sent verbatim, anything else is JSON-encoded
	Headers               map[string]string
	Condition             Condition
	ConditionErrorMessage string
	MandatoryVersions     []pact.Version
	TestKey               string

	// UnavailableReason marks a case whose seed data is missing. It is reported as a
	// failure without touching the network.
	UnavailableReason string
}

// IsMandatory reports whether failing this case fails a run of version v.
func (s *Spec) IsMandatory(v pact.Version) bool {
	return pact.Contains(s.MandatoryVersions, v)
}

// Result represents the result of a test execution
type Result struct {
	Name         string `json:"name"`
	Status       Status `json:"status"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	APIResponse  string `json:"apiResponse,omitempty"`
	Mandatory    bool   `json:"mandatory"`
	TestKey      string `json:"testKey"`
	CurlRequest  string `json:"curlRequest,omitempty"`
}

// Pending builds the placeholder stored for an asynchronous case.
func Pending(name, key string, mandatory bool) Result {
	return Result{Name: name, Status: StatusPending, Success: false, Mandatory: mandatory, TestKey: key}
}

func (r *Result) succeed() {
	r.Status = StatusSuccess
	r.Success = true
	r.ErrorMessage = ""
}

func (r *Result) fail(msg string) {
	r.Status = StatusFailure
	r.Success = false
	r.ErrorMessage = msg
}

// Key formats the storage key of case n.
func Key(n int) string {
	return KeyPrefix + strconv.Itoa(n)
}

// KeyNumber extracts n from "TESTCASE#n". Malformed keys yield 0.
func KeyNumber(key string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(key, KeyPrefix))
	if err != nil {
		return 0
	}
	return n
}

// SortByKey orders results by their numeric test key.
func SortByKey(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return KeyNumber(results[i].TestKey) < KeyNumber(results[j].TestKey)
	})
}

// Name formats a case label the way reports show it.
func Name(n int, label string) string {
	return fmt.Sprintf("Test Case %d: %s", n, label)
}
