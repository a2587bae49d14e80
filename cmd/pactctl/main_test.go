package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/repository"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// seededConfig writes a config pointing at a fresh sqlite file holding one run.
func seededConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, "pact.db")
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\ntype = \"sqlite\"\ndsn = \""+filepath.ToSlash(dsn)+"\"\n[log]\nlevel = \"error\"\n"), 0o644))

	ctx := context.Background()
	repo, closeRepo, err := repository.New(ctx, config.DatabaseConfig{Type: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer closeRepo()
	require.NoError(t, repo.SaveTestRun(ctx, &models.TestRun{
		TestRunID: "run-1", Timestamp: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
		CompanyName: "Acme Steel", CompanyIdentifier: "acme", AdminEmail: "admin@example.com",
		AdminName: "Admin", TechSpecVersion: "V3.0",
	}))
	require.NoError(t, repo.SaveTestCaseResults(ctx, "run-1", []testcase.Result{
		{Name: "Test Case 1: Obtain auth token with valid credentials", Status: testcase.StatusSuccess, Success: true, Mandatory: true, TestKey: "TESTCASE#1"},
		testcase.Pending("Test Case 13: Respond to Asynchronous PCF Request", testcase.KeyFulfillmentCallback, true),
	}))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagJSON, flagLimit = false, 0
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pactctl dev\n", out)
}

func TestResultsCommand(t *testing.T) {
	cfg := seededConfig(t)

	out, err := execute(t, "results", "--config", cfg, "--test-run-id", "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Test run run-1: FAIL (50%)")
	assert.Contains(t, out, "TESTCASE#13")
	assert.Contains(t, out, "PENDING")

	_, err = execute(t, "results", "--config", cfg, "--test-run-id", "missing")
	assert.Error(t, err)
}

func TestRunsCommand(t *testing.T) {
	cfg := seededConfig(t)

	out, err := execute(t, "runs", "--config", cfg, "--admin-email", "admin@example.com", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 1`)
	assert.Contains(t, out, `"testRunId": "run-1"`)
}

func TestRunCommand_RequiresFlags(t *testing.T) {
	_, err := execute(t, "run", "--config", seededConfig(t))
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "abc", firstLine("abc\ndef", 10))
	assert.Equal(t, "abcdefg...", firstLine("abcdefghijklmnop", 10))
	// multi-byte characters are never split
	assert.Equal(t, "ééééééé...", firstLine("éééééééééééé", 10))
}
