package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// TestCaseResult is one stored outcome, keyed by run id and test key.
type TestCaseResult struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	TestRunID    string `gorm:"size:255;not null;uniqueIndex:idx_run_test_key,priority:1" json:"testRunId"`
	TestKey      string `gorm:"size:64;not null;uniqueIndex:idx_run_test_key,priority:2" json:"testKey"`
	Name         string `gorm:"size:255;not null" json:"name"`
	Status       string `gorm:"size:16;not null;index" json:"status"` // PENDING, SUCCESS, FAILURE
	Success      bool   `json:"success"`
	Mandatory    bool   `json:"mandatory"`
	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`
	APIResponse  string `gorm:"type:text;column:api_response" json:"apiResponse,omitempty"`
	CurlRequest  string `gorm:"type:text" json:"curlRequest,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (TestCaseResult) TableName() string {
	return "test_case_results"
}

// NewTestCaseResult maps an executed result onto its row.
func NewTestCaseResult(runID string, r testcase.Result) *TestCaseResult {
	return &TestCaseResult{
		TestRunID:    runID,
		TestKey:      r.TestKey,
		Name:         r.Name,
		Status:       string(r.Status),
		Success:      r.Success,
		Mandatory:    r.Mandatory,
		ErrorMessage: r.ErrorMessage,
		APIResponse:  r.APIResponse,
		CurlRequest:  r.CurlRequest,
	}
}

// Result converts the row back.
func (m *TestCaseResult) Result() testcase.Result {
	return testcase.Result{
		Name:         m.Name,
		Status:       testcase.Status(m.Status),
		Success:      m.Success,
		ErrorMessage: m.ErrorMessage,
		APIResponse:  m.APIResponse,
		Mandatory:    m.Mandatory,
		TestKey:      m.TestKey,
		CurlRequest:  m.CurlRequest,
	}
}

// StringList stores a string slice as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal StringList value: unsupported type %T", value)
	}

	if len(bytes) == 0 {
		*l = StringList{}
		return nil
	}
	if err := json.Unmarshal(bytes, (*[]string)(l)); err != nil {
		return fmt.Errorf("failed to unmarshal StringList value: %w (input: %s)", err, string(bytes))
	}
	return nil
}
