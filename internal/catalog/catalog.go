// Package catalog builds the ordered list of test cases for one run from live
// discovery data. Builders are pure: the same Context always yields the same specs
// apart from the random credentials of negative cases.
package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// HTTPSRejectionCodes are the answers that count as refusing an insecure request.
var HTTPSRejectionCodes = []int{301, 302, 307, 308, 400, 401, 403, 404, 405, 426, 500, 503}

// ErrNoSeedFootprint is returned when the context carries no footprint to target.
var ErrNoSeedFootprint = errors.New("catalog needs at least one seed footprint")

const requestComment = "Please send PCF data for this year."

// Context bundles everything a builder closes over.
type Context struct {
	TestRunID       string
	Footprints      []pact.Footprint
	PaginationLinks map[string]string
	BaseURL         string
	AuthBaseURL     string
	OIDCTokenURL    string
	ClientID        string
	ClientSecret    string
	Version         pact.Version
	WebhookURL      string
	Now             time.Time
}

// Generate dispatches on the version family.
func Generate(c Context) ([]testcase.Spec, error) {
	profile, err := pact.ProfileFor(c.Version)
	if err != nil {
		return nil, err
	}
	if len(c.Footprints) == 0 {
		return nil, ErrNoSeedFootprint
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	switch profile.Family {
	case pact.FamilyV2:
		return GenerateV2(c, profile), nil
	case pact.FamilyV3:
		return GenerateV3(c, profile), nil
	}
	return nil, fmt.Errorf("no catalog for version %s", c.Version)
}

// builder holds what every case of one catalog shares.
type builder struct {
	ctx       Context
	profile   pact.Profile
	seed      pact.Footprint
	tokenURL  string
	mandatory []pact.Version
}

func newBuilder(c Context, p pact.Profile, mandatory []pact.Version) *builder {
	tokenURL := c.OIDCTokenURL
	if tokenURL == "" {
		tokenURL = target.DefaultTokenURL(c.AuthBaseURL)
	}
	return &builder{ctx: c, profile: p, seed: c.Footprints[0], tokenURL: tokenURL, mandatory: mandatory}
}

func (b *builder) footprints() string { return b.profile.PathPrefix + "/footprints" }
func (b *builder) events() string     { return b.profile.PathPrefix + "/events" }

func (b *builder) authToken(n int, label string, valid bool, tokenURL string) testcase.Spec {
	spec := testcase.Spec{
		Name:              testcase.Name(n, label),
		Method:            http.MethodPost,
		CustomURL:         tokenURL,
		RequestBody:       "grant_type=client_credentials",
		MandatoryVersions: b.mandatory,
		TestKey:           testcase.Key(n),
	}
	if valid {
		spec.ExpectedStatusCodes = []int{http.StatusOK}
		spec.Headers = target.ValidAuthHeaders(b.ctx.ClientID, b.ctx.ClientSecret)
	} else {
		spec.ExpectedStatusCodes = []int{http.StatusBadRequest, http.StatusUnauthorized}
		spec.Headers = target.InvalidAuthHeaders()
	}
	return spec
}

func (b *builder) getFootprint(n int) testcase.Spec {
	id := b.seed.ID
	return testcase.Spec{
		Name:                testcase.Name(n, "Get PCF using GetFootprint"),
		Method:              http.MethodGet,
		Path:                b.footprints() + "/" + url.PathEscape(id),
		ExpectedStatusCodes: []int{http.StatusOK},
		Schema:              pact.SchemaSimpleFootprint,
		Condition: func(resp *testcase.Response) bool {
			return str(field(resp.Body, "data", "id")) == id
		},
		ConditionErrorMessage: "Returned footprint does not match the requested footprint with id " + id,
		MandatoryVersions:     b.mandatory,
		TestKey:               testcase.Key(n),
	}
}

func (b *builder) listFootprints(n int) testcase.Spec {
	want := len(b.ctx.Footprints)
	return testcase.Spec{
		Name:                testcase.Name(n, "Get all PCFs using ListFootprints"),
		Method:              http.MethodGet,
		Path:                b.footprints(),
		ExpectedStatusCodes: []int{http.StatusOK, http.StatusAccepted},
		Schema:              b.profile.ListSchema,
		Condition: func(resp *testcase.Response) bool {
			return len(items(resp.Body)) == want
		},
		ConditionErrorMessage: "Number of footprints does not match",
		MandatoryVersions:     b.mandatory,
		TestKey:               testcase.Key(n),
	}
}

func (b *builder) pagination(n int) testcase.Spec {
	spec := testcase.Spec{
		Name:                testcase.Name(n, "Pagination link implementation of Action ListFootprints"),
		Method:              http.MethodGet,
		ExpectedStatusCodes: []int{http.StatusOK},
		Schema:              pact.SchemaSimpleList,
		MandatoryVersions:   b.mandatory,
		TestKey:             testcase.Key(n),
	}
	link := firstLink(b.ctx.PaginationLinks)
	switch {
	case link == "":
		spec.UnavailableReason = "No pagination link was advertised by ListFootprints with limit=1"
	case strings.HasPrefix(link, b.ctx.BaseURL):
		spec.Path = strings.TrimPrefix(link, b.ctx.BaseURL)
	default:
		spec.CustomURL = link
	}
	return spec
}

func (b *builder) expectErrorCode(n int, label, method, path string, status int, code string, headers map[string]string, body any) testcase.Spec {
	return testcase.Spec{
		Name:                testcase.Name(n, label),
		Method:              method,
		Path:                path,
		ExpectedStatusCodes: []int{status},
		RequestBody:         body,
		Headers:             headers,
		Condition: func(resp *testcase.Response) bool {
			return str(field(resp.Body, "code")) == code
		},
		ConditionErrorMessage: fmt.Sprintf("Expected error code %s in response.", code),
		MandatoryVersions:     b.mandatory,
		TestKey:               testcase.Key(n),
	}
}

func (b *builder) listWithInvalidToken(n int) testcase.Spec {
	return b.expectErrorCode(n, "Attempt ListFootPrints with Invalid Token", http.MethodGet, b.footprints(),
		http.StatusBadRequest, pact.ErrorCodeBadRequest, map[string]string{"Authorization": target.InvalidBearer()}, nil)
}

func (b *builder) getWithInvalidToken(n int) testcase.Spec {
	return b.expectErrorCode(n, "Attempt GetFootprint with Invalid Token", http.MethodGet, b.footprints()+"/"+url.PathEscape(b.seed.ID),
		http.StatusBadRequest, pact.ErrorCodeBadRequest, map[string]string{"Authorization": target.InvalidBearer()}, nil)
}

func (b *builder) getNonExistent(n int) testcase.Spec {
	return b.expectErrorCode(n, "Attempt GetFootprint with Non-Existent PfId", http.MethodGet,
		b.footprints()+"/random-string-as-id-"+target.RandomString(16),
		http.StatusNotFound, pact.ErrorCodeNoSuchFootprint, nil, nil)
}

func (b *builder) insecure(n int, label, method, secureURL string, headers map[string]string, body any) testcase.Spec {
	return testcase.Spec{
		Name:                testcase.Name(n, label),
		Method:              method,
		CustomURL:           httpVariant(secureURL),
		ExpectedStatusCodes: HTTPSRejectionCodes,
		RequestBody:         body,
		Headers:             headers,
		MandatoryVersions:   b.mandatory,
		TestKey:             testcase.Key(n),
	}
}

func (b *builder) authOverHTTP(n int) testcase.Spec {
	return b.insecure(n, "Attempt Authentication through HTTP (non-HTTPS)", http.MethodPost, b.tokenURL,
		target.ValidAuthHeaders(b.ctx.ClientID, b.ctx.ClientSecret), "grant_type=client_credentials")
}

func (b *builder) listOverHTTP(n int) testcase.Spec {
	return b.insecure(n, "Attempt ListFootprints through HTTP (non-HTTPS)", http.MethodGet, b.ctx.BaseURL+b.footprints(), nil, nil)
}

func (b *builder) getOverHTTP(n int) testcase.Spec {
	return b.insecure(n, "Attempt GetFootprint through HTTP (non-HTTPS)", http.MethodGet,
		b.ctx.BaseURL+b.footprints()+"/"+url.PathEscape(b.seed.ID), nil, nil)
}

func (b *builder) eventsOverHTTP(n int, mandatory []pact.Version) testcase.Spec {
	spec := b.insecure(n, "Attempt Action Events through HTTP (non-HTTPS)", http.MethodPost, b.ctx.BaseURL+b.events(),
		map[string]string{"Content-Type": pact.CloudEventsContentType}, b.publishedEvent(b.ctx.TestRunID))
	spec.MandatoryVersions = mandatory
	return spec
}

// RequestCreatedEvent builds the outbound request-created trigger. Its id is the run id
// and its source carries the run id and callback key so the reply can be correlated.
func RequestCreatedEvent(c Context, p pact.Profile, callbackKey string, productIDs []string) *pact.CloudEvent {
	ev, _ := pact.NewEvent(
		c.TestRunID,
		pact.WebhookSource(c.WebhookURL, c.TestRunID, callbackKey),
		p.Events.RequestCreated,
		c.Now,
		pact.RequestCreatedData{PF: pact.RequestedFootprint{ProductIDs: productIDs}, Comment: requestComment},
	)
	return ev
}

func (b *builder) publishedEvent(id string) *pact.CloudEvent {
	ev, _ := pact.NewEvent(id, b.ctx.WebhookURL, b.profile.Events.Published, b.ctx.Now,
		pact.PublishedData{PfIDs: []string{b.seed.ID}})
	return ev
}

func (b *builder) requestCreated(n int, mandatory []pact.Version) testcase.Spec {
	return testcase.Spec{
		Name:                testcase.Name(n, "Receive Asynchronous PCF Request"),
		Method:              http.MethodPost,
		Path:                b.events(),
		Headers:             map[string]string{"Content-Type": pact.CloudEventsContentType},
		ExpectedStatusCodes: []int{http.StatusOK},
		RequestBody:         RequestCreatedEvent(b.ctx, b.profile, testcase.KeyFulfillmentCallback, b.seed.ProductIDs),
		MandatoryVersions:   mandatory,
		TestKey:             testcase.Key(n),
	}
}

func (b *builder) eventsWithInvalidToken(n int, mandatory []pact.Version) testcase.Spec {
	spec := b.expectErrorCode(n, "Attempt Action Events with Invalid Token", http.MethodPost, b.events(),
		http.StatusBadRequest, pact.ErrorCodeBadRequest,
		map[string]string{"Authorization": target.InvalidBearer(), "Content-Type": pact.CloudEventsContentType},
		b.publishedEvent(b.ctx.TestRunID))
	spec.MandatoryVersions = mandatory
	return spec
}

func (b *builder) published(n int, mandatory []pact.Version) testcase.Spec {
	return testcase.Spec{
		Name:                testcase.Name(n, "Receive Notification of PCF Update"),
		Method:              http.MethodPost,
		Path:                b.events(),
		Headers:             map[string]string{"Content-Type": pact.CloudEventsContentType},
		ExpectedStatusCodes: []int{http.StatusOK},
		RequestBody:         b.publishedEvent(uuid.NewString()),
		MandatoryVersions:   mandatory,
		TestKey:             testcase.Key(n),
	}
}

func (b *builder) oidc(n int, valid bool, mandatory []pact.Version) testcase.Spec {
	label := "OpenId Connect-based Authentication Flow"
	if !valid {
		label = "OpenId connect-based authentication flow with incorrect credentials"
	}
	spec := b.authToken(n, label, valid, b.ctx.OIDCTokenURL)
	spec.MandatoryVersions = mandatory
	if b.ctx.OIDCTokenURL == "" {
		spec.UnavailableReason = "OpenID Connect discovery did not advertise a token endpoint"
	}
	return spec
}

// filter builds a list request whose rows must all satisfy keep.
func (b *builder) filter(n int, label string, query url.Values, keep func(row map[string]any) bool, description string) testcase.Spec {
	return testcase.Spec{
		Name:                testcase.Name(n, label),
		Method:              http.MethodGet,
		Path:                b.footprints() + "?" + query.Encode(),
		ExpectedStatusCodes: []int{http.StatusOK},
		Schema:              pact.SchemaSimpleList,
		Condition: func(resp *testcase.Response) bool {
			for _, row := range items(resp.Body) {
				if !keep(row) {
					return false
				}
			}
			return true
		},
		ConditionErrorMessage: fmt.Sprintf("One or more footprints do not match the condition: '%s'", description),
		MandatoryVersions:     b.mandatory,
		TestKey:               testcase.Key(n),
	}
}

func unavailable(spec testcase.Spec, reason string) testcase.Spec {
	spec.UnavailableReason = reason
	return spec
}

// linkPreference orders the relations firstLink falls back through.
var linkPreference = []string{"next", "last", "first", "prev"}

func firstLink(links map[string]string) string {
	for _, rel := range linkPreference {
		if link, ok := links[rel]; ok {
			return link
		}
	}
	rels := make([]string, 0, len(links))
	for rel := range links {
		rels = append(rels, rel)
	}
	if len(rels) == 0 {
		return ""
	}
	sort.Strings(rels)
	return links[rels[0]]
}

// httpVariant rewrites only the scheme; URLs that are not https are returned as is.
func httpVariant(u string) string {
	const secure = "https://"
	if len(u) >= len(secure) && strings.EqualFold(u[:len(secure)], secure) {
		return "http://" + u[len(secure):]
	}
	return u
}

// isoMillis renders t the way JavaScript's toISOString does.
func isoMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func field(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func items(body any) []map[string]any {
	raw, _ := field(body, "data").([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringList(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(values []string, wanted ...string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if v == w {
				return true
			}
		}
	}
	return false
}
