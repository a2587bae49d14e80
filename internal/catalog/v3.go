package catalog

import (
	"net/url"
	"strings"
	"time"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
	"github.com/wbcsd/pact-conformance-test-service/internal/target"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// GenerateV3 builds the 27 synchronous cases of v3.0. Every case is mandatory.
func GenerateV3(c Context, p pact.Profile) []testcase.Spec {
	b := newBuilder(c, p, pact.V3Versions)
	all := pact.V3Versions

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
		b.requestCreated(12, all),
		b.eventsOverHTTP(15, all),
		b.eventsWithInvalidToken(16, all),
		b.oidc(17, true, all),
		b.oidc(18, false, all),
		b.productIDFilter(19),
		b.companyIDFilter(20),
		b.geographyFilter(21),
		b.classificationFilter(22),
		b.validOnFilter(23),
		b.validAfterFilter(24),
		b.validBeforeFilter(25),
		b.statusFilter(26),
		b.statusAndProductFilter(27),
		b.productIDOrFilter(28),
		b.published(29, all),
	}
}

func filterLabel(param string) string {
	return `V3 Filtering Functionality: Get Filtered List of Footprints by "` + param + `" parameter`
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (b *builder) productIDFilter(n int) testcase.Spec {
	id := first(b.seed.ProductIDs)
	spec := b.filter(n, filterLabel("productId"), url.Values{"$productId": {id}},
		func(row map[string]any) bool { return containsAny(stringList(row["productIds"]), id) },
		"productIds contains "+id)
	if id == "" {
		return unavailable(spec, "Seed footprint has no productIds")
	}
	return spec
}

func (b *builder) companyIDFilter(n int) testcase.Spec {
	id := first(b.seed.CompanyIDs)
	spec := b.filter(n, filterLabel("companyId"), url.Values{"$companyId": {id}},
		func(row map[string]any) bool { return containsAny(stringList(row["companyIds"]), id) },
		"companyIds contains "+id)
	if id == "" {
		return unavailable(spec, "Seed footprint has no companyIds")
	}
	return spec
}

func (b *builder) geographyFilter(n int) testcase.Spec {
	geo := b.seed.PCF.GeographyCountry
	spec := b.filter(n, filterLabel("geography"), url.Values{"$geography": {geo}},
		func(row map[string]any) bool { return str(field(row, "pcf", "geographyCountry")) == geo },
		"pcf.geographyCountry = "+geo)
	if geo == "" {
		return unavailable(spec, "Seed footprint has no pcf.geographyCountry")
	}
	return spec
}

func (b *builder) classificationFilter(n int) testcase.Spec {
	class := first(b.seed.ProductClassifications)
	spec := b.filter(n, filterLabel("classification"), url.Values{"$classification": {class}},
		func(row map[string]any) bool { return containsAny(stringList(row["productClassifications"]), class) },
		"productClassifications contains "+class)
	if class == "" {
		return unavailable(spec, "Seed footprint has no productClassifications")
	}
	return spec
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

func (b *builder) validOnFilter(n int) testcase.Spec {
	on, ok := parseTime(b.seed.ValidityPeriodStart)
	spec := b.filter(n, filterLabel("validOn"), url.Values{"$validOn": {b.seed.ValidityPeriodStart}},
		func(row map[string]any) bool {
			start, okStart := parseTime(str(row["validityPeriodStart"]))
			end, okEnd := parseTime(str(row["validityPeriodEnd"]))
			return okStart && okEnd && !start.After(on) && !end.Before(on)
		},
		"validityPeriodStart <= "+b.seed.ValidityPeriodStart+" <= validityPeriodEnd")
	if !ok {
		return unavailable(spec, "Seed footprint has no validityPeriodStart")
	}
	return spec
}

func (b *builder) validAfterFilter(n int) testcase.Spec {
	start, ok := parseTime(b.seed.ValidityPeriodStart)
	bound := start.AddDate(0, 0, -1)
	rendered := isoMillis(bound)
	spec := b.filter(n, filterLabel("validAfter"), url.Values{"$validAfter": {rendered}},
		func(row map[string]any) bool {
			t, ok := parseTime(str(row["validityPeriodStart"]))
			return ok && t.After(bound)
		},
		"validityPeriodStart > "+rendered)
	if !ok {
		return unavailable(spec, "Seed footprint has no validityPeriodStart")
	}
	return spec
}

func (b *builder) validBeforeFilter(n int) testcase.Spec {
	end, ok := parseTime(b.seed.ValidityPeriodEnd)
	bound := end.AddDate(0, 0, 1)
	rendered := isoMillis(bound)
	spec := b.filter(n, filterLabel("validBefore"), url.Values{"$validBefore": {rendered}},
		func(row map[string]any) bool {
			t, ok := parseTime(str(row["validityPeriodEnd"]))
			return ok && t.Before(bound)
		},
		"validityPeriodEnd < "+rendered)
	if !ok {
		return unavailable(spec, "Seed footprint has no validityPeriodEnd")
	}
	return spec
}

func (b *builder) statusFilter(n int) testcase.Spec {
	status := b.seed.Status
	spec := b.filter(n, filterLabel("status"), url.Values{"$status": {status}},
		func(row map[string]any) bool { return str(row["status"]) == status },
		"status = "+status)
	if status == "" {
		return unavailable(spec, "Seed footprint has no status")
	}
	return spec
}

func (b *builder) statusAndProductFilter(n int) testcase.Spec {
	status, id := b.seed.Status, first(b.seed.ProductIDs)
	spec := b.filter(n, `V3 Filtering Functionality: Get Filtered List of Footprints by both "status" and "productId" parameters`,
		url.Values{"$status": {status}, "$productId": {id}},
		func(row map[string]any) bool {
			return str(row["status"]) == status && containsAny(stringList(row["productIds"]), id)
		},
		"status = "+status+" AND productIds contains "+id)
	if status == "" || id == "" {
		return unavailable(spec, "Seed footprint has no status or productIds")
	}
	return spec
}

// productIDOrFilter repeats $productId; rows may match either value.
func (b *builder) productIDOrFilter(n int) testcase.Spec {
	ids := []string{first(b.seed.ProductIDs)}
	if len(b.ctx.Footprints) > 1 && len(b.ctx.Footprints[1].ProductIDs) > 0 && b.ctx.Footprints[1].ProductIDs[0] != ids[0] {
		ids = append(ids, b.ctx.Footprints[1].ProductIDs[0])
	} else {
		ids = append(ids, "urn:pact:conformance:unknown-product-"+target.RandomString(8))
	}
	spec := b.filter(n, `V3 Filtering Functionality: Get Filtered List of Footprints by repeated "productId" parameter`,
		url.Values{"$productId": ids},
		func(row map[string]any) bool { return containsAny(stringList(row["productIds"]), ids...) },
		"productIds contains "+strings.Join(ids, " OR "))
	if ids[0] == "" {
		return unavailable(spec, "Seed footprint has no productIds")
	}
	return spec
}
