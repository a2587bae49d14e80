package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wbcsd/pact-conformance-test-service/internal/service"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// ConformanceHandler HTTP处理器
type ConformanceHandler struct {
	runs     service.RunService
	callback service.CallbackService
	results  service.ResultsService
	auth     *service.CallbackAuth
	logger   *slog.Logger
}

// NewConformanceHandler 创建处理器
func NewConformanceHandler(
	runs service.RunService,
	callback service.CallbackService,
	results service.ResultsService,
	auth *service.CallbackAuth,
	logger *slog.Logger,
) *ConformanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConformanceHandler{runs: runs, callback: callback, results: results, auth: auth, logger: logger}
}

// RegisterRoutes 注册路由
func (h *ConformanceHandler) RegisterRoutes(r *gin.Engine) {
	// Conformance runs
	r.POST("/runTestCases", h.RunTestCases)
	r.GET("/getTestResults", h.GetTestResults)
	r.GET("/getRecentTestRuns", h.GetRecentTestRuns)

	// Callbacks from the system under test
	r.POST("/testHarness", h.ReceiveCallback)
	r.POST("/auth/token", h.IssueToken)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "BadRequest", "message": message})
}

// RunTestCases runs a conformance test synchronously. A run with a failed mandatory
// case answers 500 with the same body as a passing one.
func (h *ConformanceHandler) RunTestCases(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": service.ErrMissingParameters.Error()})
		return
	}

	resp, err := h.runs.Run(c.Request.Context(), &req)
	if err != nil {
		var runErr *service.RunError
		switch {
		case errors.Is(err, service.ErrMissingParameters):
			c.JSON(http.StatusBadRequest, gin.H{"message": service.ErrMissingParameters.Error()})
		case errors.Is(err, service.ErrUnsupportedVersion), errors.Is(err, service.ErrInvalidTestRunID):
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		case errors.Is(err, service.ErrTestRunExists):
			c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		case errors.As(err, &runErr):
			results := runErr.Results
			if results == nil {
				results = []testcase.Result{}
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"message":   "Error occurred in test run",
				"error":     runErr.Error(),
				"testRunId": runErr.TestRunID,
				"results":   results,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Error occurred in test run", "error": err.Error()})
		}
		return
	}

	status := http.StatusOK
	if !resp.Passed {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// ReceiveCallback acknowledges every parseable, correlated callback with 200 and an
// empty body, whatever the conformance verdict.
func (h *ConformanceHandler) ReceiveCallback(c *gin.Context) {
	if h.auth != nil && h.auth.Required() {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			badRequest(c, "Missing bearer token")
			return
		}
		if _, err := h.auth.ValidateToken(token); err != nil {
			badRequest(c, "Invalid bearer token")
			return
		}
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		badRequest(c, "Missing request body")
		return
	}

	if _, err := h.callback.Resolve(c.Request.Context(), raw, c.Query("testRunId")); err != nil {
		switch {
		case errors.Is(err, service.ErrTestDataNotFound):
			badRequest(c, "Test data not found")
		case errors.Is(err, service.ErrInvalidEvent):
			badRequest(c, err.Error())
		default:
			h.logger.Error("callback processing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		}
		return
	}
	c.Status(http.StatusOK)
}

// IssueToken is the client-credentials endpoint targets use before calling back.
func (h *ConformanceHandler) IssueToken(c *gin.Context) {
	clientID, clientSecret, ok := c.Request.BasicAuth()
	if !ok || h.auth == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BadRequest"})
		return
	}
	tok, err := h.auth.IssueToken(clientID, clientSecret)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidCredentials) {
			h.logger.Error("token issuance failed", "error", err)
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "BadRequest"})
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h *ConformanceHandler) GetTestResults(c *gin.Context) {
	testRunID := c.Query("testRunId")
	if testRunID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required query parameter: testRunId"})
		return
	}

	res, err := h.results.GetTestResults(c.Request.Context(), testRunID)
	if err != nil {
		if errors.Is(err, service.ErrTestRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Test run not found", "testRunId": testRunID})
			return
		}
		h.logger.Error("failed to load test results", "testRunId", testRunID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ConformanceHandler) GetRecentTestRuns(c *gin.Context) {
	adminEmail := c.Query("adminEmail")
	if adminEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required query parameter: adminEmail"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	runs, err := h.results.GetRecentTestRuns(c.Request.Context(), adminEmail, limit)
	if err != nil {
		h.logger.Error("failed to list test runs", "adminEmail", adminEmail, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, runs)
}
