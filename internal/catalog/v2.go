package catalog

import (
	"net/url"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// v2AsyncMandatory are the v2.x versions that require the event flow.
var v2AsyncMandatory = []pact.Version{pact.V2_2, pact.V2_3}

// GenerateV2 builds the 18 synchronous cases of the v2.x family.
func GenerateV2(c Context, p pact.Profile) []testcase.Spec {
	b := newBuilder(c, p, pact.V2Versions)

	return []testcase.Spec{
		b.authToken(1, "Obtain auth token with valid credentials", true, b.tokenURL),
		b.authToken(2, "Obtain auth token with invalid credentials", false, b.tokenURL),
		b.getFootprint(3),
		b.listFootprints(4),
		b.pagination(5),
		b.listWithInvalidToken(6),
		b.getWithInvalidToken(7),
		b.getNonExistent(8),
		b.authOverHTTP(9),
		b.listOverHTTP(10),
		b.getOverHTTP(11),
		b.requestCreated(12, v2AsyncMandatory),
		b.eventsOverHTTP(15, v2AsyncMandatory),
		b.eventsWithInvalidToken(16, v2AsyncMandatory),
		b.oidc(17, true, nil),
		b.oidc(18, false, nil),
		b.createdFilter(19),
		b.published(20, v2AsyncMandatory),
	}
}

// createdFilter exercises the OData-style $filter of v2.x.
func (b *builder) createdFilter(n int) testcase.Spec {
	created := b.seed.Created
	spec := b.filter(n, "Get Filtered List of Footprints",
		url.Values{"$filter": {"created ge '" + created + "'"}},
		func(row map[string]any) bool { return str(row["created"]) >= created },
		"created date >= "+created)
	spec.MandatoryVersions = nil
	if created == "" {
		return unavailable(spec, "Seed footprint has no created timestamp")
	}
	return spec
}
