package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
)

// ErrNoFootprints is returned when the target lists zero footprints.
var ErrNoFootprints = errors.New("no footprints returned by the target")

// Client performs the setup calls of a run.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient wraps an HTTP client. A nil logger falls back to slog.Default.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, logger: logger}
}

// DefaultTokenURL is the conventional token endpoint below an auth base URL.
func DefaultTokenURL(authBaseURL string) string {
	return strings.TrimRight(authBaseURL, "/") + "/auth/token"
}

// DiscoverTokenEndpoint reads the OpenID configuration below authBaseURL. It returns
// "" when discovery is not available.
func (c *Client) DiscoverTokenEndpoint(ctx context.Context, authBaseURL string) string {
	url := strings.TrimRight(authBaseURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("openid discovery failed", "url", url, "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var doc struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return ""
	}
	return doc.TokenEndpoint
}

// AccessToken runs the client-credentials grant with HTTP Basic authentication against
// tokenURL, or the default endpoint when tokenURL is empty.
func (c *Client) AccessToken(ctx context.Context, authBaseURL, clientID, clientSecret, tokenURL string) (string, error) {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL(authBaseURL)
	}
	// credentials travel only in the raw Basic header; with empty ids the params carry
	// nothing but the grant type
	cfg := clientcredentials.Config{
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, withBasicAuth(c.http, clientID, clientSecret)))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", fmt.Errorf("failed to obtain access token from %s. Status: %d", tokenURL, re.Response.StatusCode)
		}
		return "", fmt.Errorf("failed to obtain access token from %s: %w", tokenURL, err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("access token not present in response")
	}
	return tok.AccessToken, nil
}

// FootprintsPath is the list endpoint of a version.
func FootprintsPath(v pact.Version) string {
	p, err := pact.ProfileFor(v)
	if err != nil {
		p = pact.ProfileForStored(string(v))
	}
	return p.PathPrefix + "/footprints"
}

func (c *Client) get(ctx context.Context, url, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// FetchFootprints lists the target's footprints. Every later test case is seeded from
// the result, so a non-OK answer or an empty list is an error.
func (c *Client) FetchFootprints(ctx context.Context, baseURL, accessToken string, v pact.Version) ([]pact.Footprint, error) {
	url := baseURL + FootprintsPath(v)
	resp, err := c.get(ctx, url, accessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch footprints: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch footprints from %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var list pact.FootprintList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode footprints: %w", err)
	}
	if len(list.Data) == 0 {
		return nil, ErrNoFootprints
	}
	return list.Data, nil
}

// FetchPaginationLinks requests a single-item page and returns its Link relations.
func (c *Client) FetchPaginationLinks(ctx context.Context, baseURL, accessToken string, v pact.Version) (map[string]string, error) {
	resp, err := c.get(ctx, baseURL+FootprintsPath(v)+"?limit=1", accessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch pagination links: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return ParseLinkHeader(resp.Header.Get("Link")), nil
}

var linkPattern = regexp.MustCompile(`<(.*)>;\s*rel="(.*)"`)

// ParseLinkHeader maps each rel of a Link header onto its URL. An empty header
// yields an empty map.
func ParseLinkHeader(header string) map[string]string {
	links := map[string]string{}
	if header == "" {
		return links
	}
	for _, part := range strings.Split(header, ", ") {
		if m := linkPattern.FindStringSubmatch(part); m != nil {
			links[m[2]] = m[1]
		}
	}
	return links
}

// PostEvent sends a CloudEvent to the version's events endpoint and returns the status.
func (c *Client) PostEvent(ctx context.Context, baseURL, accessToken string, v pact.Version, ev *pact.CloudEvent) (int, error) {
	p, err := pact.ProfileFor(v)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+p.PathPrefix+"/events", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", pact.CloudEventsContentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
