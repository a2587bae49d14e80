package service

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

var (
	ErrMissingParameters  = errors.New("Missing required parameters")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrTestDataNotFound   = errors.New("test data not found")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrTestRunNotFound    = errors.New("test run not found")
	ErrInvalidTestRunID   = errors.New("testRunId must be a UUID")
	ErrTestRunExists      = errors.New("test run already exists")
)

// Notifier pushes live updates to watchers of a run.
type Notifier interface {
	Broadcast(testRunID string, msgType string, payload interface{})
}

// Metrics records run and callback outcomes.
type Metrics interface {
	ObserveRun(version, status string)
	ObserveCallback(event, status string)
}

// Options carries the collaborators every service shares. Zero values are replaced
// by working defaults.
type Options struct {
	Logger   *slog.Logger
	Notifier Notifier
	Metrics  Metrics
	Now      func() time.Time
	NewID    func() string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o Options) notify(testRunID, msgType string, payload interface{}) {
	if o.Notifier != nil {
		o.Notifier.Broadcast(testRunID, msgType, payload)
	}
}

// RunError is a run that aborted after it was assigned an id. Results holds whatever
// had been executed.
type RunError struct {
	TestRunID string
	Stage     string
	Results   []testcase.Result
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Score summarizes the mandatory results of a run.
type Score struct {
	MandatoryTotal    int
	MandatoryPassed   int
	PassingPercentage int
	// Passed is true when no mandatory result is unsuccessful.
	Passed bool
}

// ScoreResults computes round(100 * passed / total) over mandatory results only. A
// PENDING result counts as not passed. With no mandatory results the percentage is 0.
func ScoreResults(results []testcase.Result) Score {
	var s Score
	for _, r := range results {
		if !r.Mandatory {
			continue
		}
		s.MandatoryTotal++
		if r.Success {
			s.MandatoryPassed++
		}
	}
	if s.MandatoryTotal > 0 {
		s.PassingPercentage = int(math.Round(100 * float64(s.MandatoryPassed) / float64(s.MandatoryTotal)))
	}
	s.Passed = s.MandatoryPassed == s.MandatoryTotal
	return s
}

// Status renders the run verdict.
func (s Score) Status() string {
	if s.Passed {
		return "PASS"
	}
	return "FAIL"
}
