// Package pacttest provides PACT fixtures and an in-process fake target system for tests.
package pacttest

import (
	"encoding/json"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
)

// Fixed identifiers of the seeded footprints.
const (
	FootprintID1 = "91715e5e-fd0b-4d1c-8fab-76290c46e6ed"
	FootprintID2 = "c3a1b2d4-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	ProductID1   = "urn:gtin:4712345060507"
	ProductID2   = "urn:gtin:4712345060508"
	CompanyID    = "urn:uuid:69585GB6-56T9-6958-E526-6FDGZJHU1326"
	Class1       = "urn:pact:productclassification:un-cpc:22220"
	Class2       = "urn:pact:productclassification:un-cpc:22230"
)

func strs(values ...string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// V2Footprint returns a schema-valid v2.x footprint as decoded JSON.
func V2Footprint(id, productID, classification, created string) map[string]any {
	return map[string]any{
		"id":                     id,
		"specVersion":            "2.3.0",
		"version":                float64(1),
		"created":                created,
		"status":                 "Active",
		"validityPeriodStart":    "2025-01-01T00:00:00Z",
		"validityPeriodEnd":      "2025-12-31T00:00:00Z",
		"comment":                "",
		"companyName":            "Acme Steel",
		"companyIds":             strs(CompanyID),
		"productDescription":     "Cold rolled steel coil",
		"productIds":             strs(productID),
		"productClassifications": strs(classification),
		"productCategoryCpc":     "4121",
		"productNameCompany":     "Coil 42",
		"pcf": map[string]any{
			"declaredUnit":                       "kilogram",
			"unitaryProductAmount":               "1",
			"pCfExcludingBiogenic":               "1.63",
			"fossilGhgEmissions":                 "1.5",
			"fossilCarbonContent":                "0",
			"biogenicCarbonContent":              "0",
			"characterizationFactors":            "AR6",
			"ipccCharacterizationFactorsSources": strs("AR6"),
			"crossSectoralStandardsUsed":         strs("GHG Protocol Product standard"),
			"boundaryProcessesDescription":       "Cradle to gate",
			"referencePeriodStart":               "2024-01-01T00:00:00Z",
			"referencePeriodEnd":                 "2025-01-01T00:00:00Z",
			"geographyCountry":                   "DE",
			"exemptedEmissionsPercent":           float64(0),
			"exemptedEmissionsDescription":       "",
			"packagingEmissionsIncluded":         false,
		},
	}
}

// V3Footprint returns a schema-valid v3.0 footprint as decoded JSON.
func V3Footprint(id, productID, classification, created string) map[string]any {
	return map[string]any{
		"id":                     id,
		"specVersion":            "3.0.0",
		"created":                created,
		"status":                 "Active",
		"validityPeriodStart":    "2025-01-01T00:00:00Z",
		"validityPeriodEnd":      "2025-12-31T00:00:00Z",
		"companyName":            "Acme Steel",
		"companyIds":             strs(CompanyID),
		"productDescription":     "Cold rolled steel coil",
		"productIds":             strs(productID),
		"productClassifications": strs(classification),
		"productNameCompany":     "Coil 42",
		"pcf": map[string]any{
			"declaredUnitOfMeasurement":   "kilogram",
			"declaredUnitAmount":          "1",
			"productMassPerDeclaredUnit":  "1",
			"referencePeriodStart":        "2024-01-01T00:00:00Z",
			"referencePeriodEnd":          "2025-01-01T00:00:00Z",
			"geographyCountry":            "DE",
			"pcfExcludingBiogenicUptake":  "1.63",
			"pcfIncludingBiogenicUptake":  "1.60",
			"fossilGhgEmissions":          "1.5",
			"fossilCarbonContent":         "0",
			"ipccCharacterizationFactors": strs("AR6"),
			"crossSectoralStandards":      strs("ISO14067"),
			"exemptedEmissionsPercent":    "0",
		},
	}
}

// Footprints returns the two footprints a fake target serves for the given version.
func Footprints(v pact.Version) []map[string]any {
	build := V2Footprint
	if p, err := pact.ProfileFor(v); err == nil && p.Family == pact.FamilyV3 {
		build = V3Footprint
	}
	return []map[string]any{
		build(FootprintID1, ProductID1, Class1, "2025-02-01T10:00:00Z"),
		build(FootprintID2, ProductID2, Class2, "2025-03-01T10:00:00Z"),
	}
}

// FulfilledEvent builds a schema-valid fulfillment callback for the version's family.
func FulfilledEvent(v pact.Version, eventID, requestEventID string, pfs ...map[string]any) map[string]any {
	profile := pact.ProfileForStored(string(v))
	items := make([]any, len(pfs))
	for i, pf := range pfs {
		items[i] = pf
	}
	return map[string]any{
		"type":        profile.Events.RequestFulfilled,
		"specversion": "1.0",
		"id":          eventID,
		"source":      "https://target.example.com/events",
		"time":        "2025-04-01T12:00:00Z",
		"data": map[string]any{
			"requestEventId": requestEventID,
			"pfs":            items,
		},
	}
}

// RejectedEvent builds a rejection callback. A nil errObj omits data.error.
func RejectedEvent(v pact.Version, eventID, requestEventID string, errObj map[string]any) map[string]any {
	profile := pact.ProfileForStored(string(v))
	data := map[string]any{"requestEventId": requestEventID}
	if errObj != nil {
		data["error"] = errObj
	}
	return map[string]any{
		"type":        profile.Events.RequestRejected,
		"specversion": "1.0",
		"id":          eventID,
		"source":      "https://target.example.com/events",
		"time":        "2025-04-01T12:00:00Z",
		"data":        data,
	}
}

// MustJSON marshals v or panics.
func MustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
