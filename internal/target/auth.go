// Package target talks to the PACT system under test outside of individual test cases:
// token issuance, OpenID discovery and seed data.
package target

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"net/http"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomString returns n random alphanumeric characters.
func RandomString(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}

func basic(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

// tokenHeaders leave Host to the URL being called; the auth server may live on
// another host than the data API.
func tokenHeaders(authorization string) map[string]string {
	return map[string]string{
		"Accept":        "application/json",
		"Content-Type":  "application/x-www-form-urlencoded",
		"Authorization": authorization,
	}
}

// ValidAuthHeaders are the headers of a client-credentials token request. The Basic
// credentials are the raw id and secret, not form-encoded.
func ValidAuthHeaders(clientID, clientSecret string) map[string]string {
	return tokenHeaders(basic(clientID, clientSecret))
}

// InvalidAuthHeaders uses freshly randomized credentials on every call.
func InvalidAuthHeaders() map[string]string {
	return tokenHeaders(basic(RandomString(16), RandomString(16)))
}

// basicAuthTransport sets the Basic header of every token request itself, so the
// oauth2 client never form-encodes the credentials first.
type basicAuthTransport struct {
	authorization string
	base          http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", t.authorization)
	return t.base.RoundTrip(r)
}

// withBasicAuth derives a client from c that authenticates as clientID.
func withBasicAuth(c *http.Client, clientID, clientSecret string) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	derived := *c
	derived.Transport = &basicAuthTransport{authorization: basic(clientID, clientSecret), base: base}
	return &derived
}

// InvalidBearer returns a syntactically plausible bearer header value no target issued.
func InvalidBearer() string {
	return "Bearer very-invalid-access-token-" + RandomString(16)
}
