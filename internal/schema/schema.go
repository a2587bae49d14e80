// Package schema compiles the embedded PACT JSON Schemas and validates decoded JSON against them.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
)

//go:embed schemas/*.json
var documents embed.FS

const baseURL = "https://schemas.pact-conformance.local/"

// documentFor maps registered schema names onto the embedded documents.
var documentFor = map[string]string{
	pact.SchemaSimpleList:       "simple-list.json",
	pact.SchemaSimpleFootprint:  "simple-footprint.json",
	pact.SchemaListV2_0:         "v2-list.json",
	pact.SchemaListV2_1:         "v2-list.json",
	pact.SchemaListV2_2:         "v2-list.json",
	pact.SchemaListV2_3:         "v2.3-list.json",
	pact.SchemaListV3_0:         "v3.0-list.json",
	pact.SchemaFulfilledEventV2: "v2-request-fulfilled-event.json",
	pact.SchemaFulfilledEventV3: "v3-request-fulfilled-event.json",
}

// ErrUnknownSchema is returned when validating against a name that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// Violation is one leaf failure reported by the validator.
type Violation struct {
	InstancePath string `json:"instancePath"`
	SchemaPath   string `json:"schemaPath"`
	Message      string `json:"message"`
}

// ValidationError lists every violation found in one instance.
type ValidationError struct {
	Schema     string      `json:"schema"`
	Violations []Violation `json:"errors"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: %d violation(s)", e.Schema, len(e.Violations))
}

// JSON serializes the violation list the way results report it.
func (e *ValidationError) JSON() string {
	raw, err := json.Marshal(e.Violations)
	if err != nil {
		return e.Error()
	}
	return string(raw)
}

// Validator is the narrow view the probe and the callback resolver depend on.
type Validator interface {
	Validate(name string, instance any) error
}

// Registry holds the compiled schemas keyed by name.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles every embedded document once.
func NewRegistry() (*Registry, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true

	entries, err := fs.ReadDir(documents, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, entry := range entries {
		raw, err := documents.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := c.AddResource(baseURL+entry.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema load failed for %s: %w", entry.Name(), err)
		}
	}

	r := &Registry{schemas: make(map[string]*jsonschema.Schema, len(documentFor))}
	for name, doc := range documentFor {
		compiled, err := c.Compile(baseURL + doc)
		if err != nil {
			return nil, fmt.Errorf("schema compile failed for %s: %w", name, err)
		}
		r.schemas[name] = compiled
	}
	return r, nil
}

// MustNewRegistry panics when the embedded documents do not compile.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Names returns the registered schema names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a value produced by encoding/json decoding (maps, slices, float64,
// strings, bools, nil). It returns a *ValidationError listing every leaf violation.
func (r *Registry) Validate(name string, instance any) error {
	compiled, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}
	err := compiled.Validate(instance)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Schema: name, Violations: []Violation{{Message: err.Error()}}}
	}
	out := &ValidationError{Schema: name}
	collect(ve, &out.Violations)
	if len(out.Violations) == 0 {
		out.Violations = append(out.Violations, toViolation(ve))
	}
	return out
}

func collect(ve *jsonschema.ValidationError, into *[]Violation) {
	if len(ve.Causes) == 0 {
		*into = append(*into, toViolation(ve))
		return
	}
	for _, cause := range ve.Causes {
		collect(cause, into)
	}
}

func toViolation(ve *jsonschema.ValidationError) Violation {
	schemaPath := ve.KeywordLocation
	if i := strings.Index(ve.AbsoluteKeywordLocation, "#"); i >= 0 && schemaPath == "" {
		schemaPath = ve.AbsoluteKeywordLocation[i:]
	}
	return Violation{
		InstancePath: ve.InstanceLocation,
		SchemaPath:   schemaPath,
		Message:      ve.Message,
	}
}

// Describe renders a validation failure as its JSON violation list, or the plain
// error text for anything else.
func Describe(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.JSON()
	}
	return err.Error()
}
