package pact

// Footprint carries the fields of a product footprint the harness seeds test cases
// with. Everything else in the record is left to schema validation.
type Footprint struct {
	ID                     string   `json:"id"`
	Created                string   `json:"created,omitempty"`
	Status                 string   `json:"status,omitempty"`
	CompanyIDs             []string `json:"companyIds,omitempty"`
	ProductIDs             []string `json:"productIds,omitempty"`
	ProductClassifications []string `json:"productClassifications,omitempty"`
	ValidityPeriodStart    string   `json:"validityPeriodStart,omitempty"`
	ValidityPeriodEnd      string   `json:"validityPeriodEnd,omitempty"`
	PCF                    struct {
		GeographyCountry string `json:"geographyCountry,omitempty"`
	} `json:"pcf"`
}

// FootprintList is the ListFootprints response body.
type FootprintList struct {
	Data []Footprint `json:"data"`
}

// SingleFootprint is the GetFootprint response body.
type SingleFootprint struct {
	Data Footprint `json:"data"`
}

// ErrorResponse is the error body every PACT action returns.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes asserted by the catalogs.
const (
	ErrorCodeBadRequest      = "BadRequest"
	ErrorCodeNoSuchFootprint = "NoSuchFootprint"
)
