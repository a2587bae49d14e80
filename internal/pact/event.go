package pact

import (
	"encoding/json"
	"net/url"
	"time"
)

// CloudEventsContentType is sent on every event POST.
const CloudEventsContentType = "application/cloudevents+json; charset=UTF-8"

// CloudEvent is the structured envelope for outbound triggers and inbound callbacks.
type CloudEvent struct {
	SpecVersion string          `json:"specversion"`
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Time        string          `json:"time"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RequestCreatedData is the payload of a request-created event.
type RequestCreatedData struct {
	PF      RequestedFootprint `json:"pf"`
	Comment string             `json:"comment,omitempty"`
}

// RequestedFootprint narrows the requested footprints. A nil ProductIDs serializes
// as null, which conformant targets must reject.
type RequestedFootprint struct {
	ProductIDs []string `json:"productIds"`
}

// PublishedData is the payload of a footprint-published notification.
type PublishedData struct {
	PfIDs []string `json:"pfIds"`
}

// NewEvent builds an envelope with spec version 1.0 and an RFC 3339 timestamp.
func NewEvent(id, source, eventType string, now time.Time, data any) (*CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &CloudEvent{
		SpecVersion: "1.0",
		ID:          id,
		Source:      source,
		Time:        now.UTC().Format(time.RFC3339Nano),
		Type:        eventType,
		Data:        raw,
	}, nil
}

// WebhookSource appends the correlation parameters to the harness webhook URL.
func WebhookSource(webhookURL, testRunID, testKey string) string {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return webhookURL
	}
	q := u.Query()
	q.Set("testRunId", testRunID)
	q.Set("testCaseName", testKey)
	u.RawQuery = q.Encode()
	return u.String()
}
