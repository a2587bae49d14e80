package pacttest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wbcsd/pact-conformance-test-service/internal/pact"
)

// Default credentials accepted by the fake target.
const (
	ClientID     = "pact-client"
	ClientSecret = "pact-secret"
	AccessToken  = "valid-access-token"
)

// Server is a TLS-only fake PACT target. Plain-HTTP requests to its port are refused
// by the TLS listener with 400, which is what the HTTPS-enforcement cases expect.
type Server struct {
	*httptest.Server

	Version    pact.Version
	Footprints []map[string]any
	OIDC       bool
	// OnEvent, when set, is invoked for every accepted event after the response is written.
	OnEvent func(pact.CloudEvent)

	mu     sync.Mutex
	events []pact.CloudEvent
	wg     sync.WaitGroup
}

// NewServer starts a fake target for the version and stops it when the test ends.
func NewServer(t testing.TB, v pact.Version) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{Version: v, Footprints: Footprints(v), OIDC: true}

	r := gin.New()
	r.POST("/auth/token", s.token)
	r.GET("/.well-known/openid-configuration", s.discovery)
	for _, prefix := range []string{"/2", "/3"} {
		r.GET(prefix+"/footprints", s.list)
		r.GET(prefix+"/footprints/:id", s.get)
		r.POST(prefix+"/events", s.event)
	}

	s.Server = httptest.NewTLSServer(r)
	t.Cleanup(func() {
		s.wg.Wait()
		s.Close()
	})
	return s
}

// Events returns the events accepted so far.
func (s *Server) Events() []pact.CloudEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pact.CloudEvent(nil), s.events...)
}

// WaitCallbacks blocks until every OnEvent invocation has returned.
func (s *Server) WaitCallbacks() { s.wg.Wait() }

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, pact.ErrorResponse{Code: pact.ErrorCodeBadRequest, Message: "Bad Request"})
}

func (s *Server) authorized(c *gin.Context) bool {
	return c.GetHeader("Authorization") == "Bearer "+AccessToken
}

func (s *Server) token(c *gin.Context) {
	id, secret, ok := c.Request.BasicAuth()
	if !ok || id != ClientID || secret != ClientSecret {
		c.JSON(http.StatusUnauthorized, pact.ErrorResponse{Code: "AccessDenied", Message: "Access denied"})
		return
	}
	raw, _ := io.ReadAll(c.Request.Body)
	form, err := url.ParseQuery(string(raw))
	if err != nil || form.Get("grant_type") != "client_credentials" {
		badRequest(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": AccessToken, "token_type": "bearer", "expires_in": 3600})
}

func (s *Server) discovery(c *gin.Context) {
	if !s.OIDC {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issuer": s.URL, "token_endpoint": s.URL + "/auth/token"})
}

func (s *Server) list(c *gin.Context) {
	if !s.authorized(c) {
		badRequest(c)
		return
	}
	matched := make([]map[string]any, 0, len(s.Footprints))
	for _, fp := range s.Footprints {
		if matches(fp, c.Request.URL.Query()) {
			matched = append(matched, fp)
		}
	}

	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset > len(matched) {
		offset = len(matched)
	}
	page := matched[offset:]
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(page) {
		page = page[:limit]
		next := s.URL + c.Request.URL.Path + "?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset+limit)
		c.Header("Link", "<"+next+">; rel=\"next\"")
	}
	c.JSON(http.StatusOK, gin.H{"data": page})
}

func (s *Server) get(c *gin.Context) {
	if !s.authorized(c) {
		badRequest(c)
		return
	}
	for _, fp := range s.Footprints {
		if fp["id"] == c.Param("id") {
			c.JSON(http.StatusOK, gin.H{"data": fp})
			return
		}
	}
	c.JSON(http.StatusNotFound, pact.ErrorResponse{Code: pact.ErrorCodeNoSuchFootprint, Message: "The specified footprint does not exist"})
}

func (s *Server) event(c *gin.Context) {
	if !s.authorized(c) {
		badRequest(c)
		return
	}
	var ev pact.CloudEvent
	if err := json.NewDecoder(c.Request.Body).Decode(&ev); err != nil {
		badRequest(c)
		return
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	c.Status(http.StatusOK)

	if s.OnEvent != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.OnEvent(ev)
		}()
	}
}

func matches(fp map[string]any, q url.Values) bool {
	if f := q.Get("$filter"); f != "" {
		// only "created ge '<timestamp>'" is understood
		parts := strings.SplitN(f, " ge ", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) != "created" {
			return false
		}
		bound := strings.Trim(strings.TrimSpace(parts[1]), "'")
		if str(fp["created"]) < bound {
			return false
		}
	}
	if ids := q["$productId"]; len(ids) > 0 && !containsAny(fp["productIds"], ids) {
		return false
	}
	if ids := q["$companyId"]; len(ids) > 0 && !containsAny(fp["companyIds"], ids) {
		return false
	}
	if ids := q["$classification"]; len(ids) > 0 && !containsAny(fp["productClassifications"], ids) {
		return false
	}
	if g := q.Get("$geography"); g != "" {
		pcf, _ := fp["pcf"].(map[string]any)
		if str(pcf["geographyCountry"]) != g {
			return false
		}
	}
	if st := q.Get("$status"); st != "" && str(fp["status"]) != st {
		return false
	}
	start, _ := time.Parse(time.RFC3339, str(fp["validityPeriodStart"]))
	end, _ := time.Parse(time.RFC3339, str(fp["validityPeriodEnd"]))
	if v := q.Get("$validOn"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil || start.After(t) || end.Before(t) {
			return false
		}
	}
	if v := q.Get("$validAfter"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil || !start.After(t) {
			return false
		}
	}
	if v := q.Get("$validBefore"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil || !end.Before(t) {
			return false
		}
	}
	return true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func containsAny(list any, wanted []string) bool {
	items, _ := list.([]any)
	for _, item := range items {
		for _, w := range wanted {
			if item == w {
				return true
			}
		}
	}
	return false
}
