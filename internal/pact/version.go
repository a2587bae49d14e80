// Package pact describes the PACT data-exchange protocol versions the harness probes.
package pact

import (
	"fmt"
	"strings"
)

// Version is a PACT technical specification version as sent by the caller, e.g. "V2.3".
type Version string

const (
	V2_0 Version = "V2.0"
	V2_1 Version = "V2.1"
	V2_2 Version = "V2.2"
	V2_3 Version = "V2.3"
	V3_0 Version = "V3.0"
)

// Family groups versions that share one test catalog.
type Family int

const (
	FamilyV2 Family = iota + 2
	FamilyV3
)

// V2Versions and V3Versions list the versions of each family in release order.
var (
	V2Versions = []Version{V2_0, V2_1, V2_2, V2_3}
	V3Versions = []Version{V3_0}
	// AsyncVersions are the versions for which the asynchronous event flow is mandatory.
	AsyncVersions = []Version{V2_2, V2_3, V3_0}
)

// EventTypes holds the CloudEvent type names used by one family.
type EventTypes struct {
	RequestCreated   string
	RequestFulfilled string
	RequestRejected  string
	Published        string
}

// Profile is the tagged configuration for a single version. Catalog builders and the
// callback resolver branch on the profile instead of on version strings.
type Profile struct {
	Version           Version
	Family            Family
	PathPrefix        string
	ListSchema        string
	FulfillmentSchema string
	Events            EventTypes
	AsyncMandatory    bool
}

var v2Events = EventTypes{
	RequestCreated:   "org.wbcsd.pathfinder.ProductFootprintRequest.Created.v1",
	RequestFulfilled: "org.wbcsd.pathfinder.ProductFootprintRequest.Fulfilled.v1",
	RequestRejected:  "org.wbcsd.pathfinder.ProductFootprintRequest.Rejected.v1",
	Published:        "org.wbcsd.pathfinder.ProductFootprint.Published.v1",
}

var v3Events = EventTypes{
	RequestCreated:   "org.wbcsd.pact.ProductFootprint.RequestCreatedEvent.3",
	RequestFulfilled: "org.wbcsd.pact.ProductFootprint.RequestFulfilledEvent.3",
	RequestRejected:  "org.wbcsd.pact.ProductFootprint.RequestRejectedEvent.3",
	Published:        "org.wbcsd.pact.ProductFootprint.PublishedEvent.3",
}

// Schema names registered by the schema package.
const (
	SchemaSimpleList       = "simple-list"
	SchemaSimpleFootprint  = "simple-footprint"
	SchemaListV2_0         = "v2.0-list"
	SchemaListV2_1         = "v2.1-list"
	SchemaListV2_2         = "v2.2-list"
	SchemaListV2_3         = "v2.3-list"
	SchemaListV3_0         = "v3.0-list"
	SchemaFulfilledEventV2 = "v2-request-fulfilled-event"
	SchemaFulfilledEventV3 = "v3-request-fulfilled-event"
)

var profiles = map[Version]Profile{
	V2_0: {Version: V2_0, Family: FamilyV2, PathPrefix: "/2", ListSchema: SchemaListV2_0, FulfillmentSchema: SchemaFulfilledEventV2, Events: v2Events},
	V2_1: {Version: V2_1, Family: FamilyV2, PathPrefix: "/2", ListSchema: SchemaListV2_1, FulfillmentSchema: SchemaFulfilledEventV2, Events: v2Events},
	V2_2: {Version: V2_2, Family: FamilyV2, PathPrefix: "/2", ListSchema: SchemaListV2_2, FulfillmentSchema: SchemaFulfilledEventV2, Events: v2Events, AsyncMandatory: true},
	V2_3: {Version: V2_3, Family: FamilyV2, PathPrefix: "/2", ListSchema: SchemaListV2_3, FulfillmentSchema: SchemaFulfilledEventV2, Events: v2Events, AsyncMandatory: true},
	V3_0: {Version: V3_0, Family: FamilyV3, PathPrefix: "/3", ListSchema: SchemaListV3_0, FulfillmentSchema: SchemaFulfilledEventV3, Events: v3Events, AsyncMandatory: true},
}

// ParseVersion accepts the exact version strings the harness supports.
func ParseVersion(s string) (Version, error) {
	v := Version(strings.TrimSpace(s))
	if _, ok := profiles[v]; !ok {
		return "", fmt.Errorf("unsupported version %q", s)
	}
	return v, nil
}

// ProfileFor returns the profile of a known version.
func ProfileFor(v Version) (Profile, error) {
	p, ok := profiles[v]
	if !ok {
		return Profile{}, fmt.Errorf("unsupported version %q", v)
	}
	return p, nil
}

// ProfileForStored resolves the profile of a version read back from storage. Unknown
// strings fall back on their major prefix so late callbacks for retired versions still
// get a schema.
func ProfileForStored(s string) Profile {
	if p, ok := profiles[Version(s)]; ok {
		return p
	}
	if strings.HasPrefix(strings.ToUpper(s), "V2") {
		return profiles[V2_3]
	}
	return profiles[V3_0]
}

// Contains reports whether v is in versions.
func Contains(versions []Version, v Version) bool {
	for _, candidate := range versions {
		if candidate == v {
			return true
		}
	}
	return false
}

func (v Version) String() string { return string(v) }
