package repository

import (
	"context"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	return db
}

func exerciseContract(t *testing.T, repo TestRunRepository) {
	ctx := context.Background()
	runID := uuid.NewString()
	email := runID + "@example.com"

	// nothing stored yet
	data, err := repo.GetTestData(ctx, runID)
	require.NoError(t, err)
	assert.Nil(t, data)

	res, err := repo.GetTestResults(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Nil(t, res.Timestamp)

	base := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveTestRun(ctx, &models.TestRun{
		TestRunID: runID, Timestamp: base, CompanyName: "Acme", CompanyIdentifier: "urn:acme",
		AdminEmail: email, AdminName: "Admin", TechSpecVersion: "V2.3",
	}))
	require.NoError(t, repo.SaveTestData(ctx, runID, &models.TestData{ProductIDs: models.StringList{"urn:p1"}, Version: "V2.3"}))

	data, err = repo.GetTestData(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, models.StringList{"urn:p1"}, data.ProductIDs)
	assert.Equal(t, "V2.3", data.Version)

	first := testcase.Result{Name: "Test Case 1: token", Status: testcase.StatusSuccess, Success: true, Mandatory: true, TestKey: testcase.Key(1)}
	pending := testcase.Pending("Test Case 13: callback", testcase.KeyFulfillmentCallback, true)
	require.NoError(t, repo.SaveTestCaseResults(ctx, runID, []testcase.Result{first, pending}))

	// duplicates are skipped by the batch form and reported by the single form
	dup := first
	dup.Status, dup.Success, dup.ErrorMessage = testcase.StatusFailure, false, "should not be stored"
	require.NoError(t, repo.SaveTestCaseResults(ctx, runID, []testcase.Result{dup}))
	assert.ErrorIs(t, repo.SaveTestCaseResult(ctx, runID, dup, false), ErrAlreadyExists)

	resolved := pending
	resolved.Status, resolved.Success = testcase.StatusSuccess, true
	require.NoError(t, repo.SaveTestCaseResult(ctx, runID, resolved, true))
	resolved.Status, resolved.Success, resolved.ErrorMessage = testcase.StatusFailure, false, "second callback"
	require.NoError(t, repo.SaveTestCaseResult(ctx, runID, resolved, true))

	res, err = repo.GetTestResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	require.NotNil(t, res.Timestamp)
	assert.True(t, base.Equal(*res.Timestamp))

	testcase.SortByKey(res.Results)
	assert.Equal(t, testcase.StatusSuccess, res.Results[0].Status)
	assert.Equal(t, testcase.StatusFailure, res.Results[1].Status)
	assert.Equal(t, "second callback", res.Results[1].ErrorMessage)

	// recent runs are newest first and limited
	for i := 1; i <= 2; i++ {
		require.NoError(t, repo.SaveTestRun(ctx, &models.TestRun{
			TestRunID: runID + "-" + strconv.Itoa(i), Timestamp: base.Add(time.Duration(i) * time.Hour),
			CompanyName: "Acme", CompanyIdentifier: "urn:acme", AdminEmail: email, AdminName: "Admin", TechSpecVersion: "V3.0",
		}))
	}
	runs, err := repo.GetRecentTestRunsByEmail(ctx, email, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, runID+"-2", runs[0].TestRunID)
	assert.Equal(t, runID+"-1", runs[1].TestRunID)

	runs, err = repo.GetRecentTestRunsByEmail(ctx, "nobody@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGormRepository_Contract(t *testing.T) {
	exerciseContract(t, NewTestRunRepository(setupTestDB(t)))
}

func TestDynamoDBRepository_Contract(t *testing.T) {
	exerciseContract(t, NewDynamoDBRepository(newFakeDynamoDB(), "runs"))
}

func TestPostgresRepository_Contract(t *testing.T) {
	dsn := os.Getenv("PACT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PACT_TEST_POSTGRES_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	exerciseContract(t, repo)
}

func TestNew_SelectsStore(t *testing.T) {
	repo, closeFn, err := New(context.Background(), config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, repo)

	_, _, err = New(context.Background(), config.DatabaseConfig{Type: "mysql"})
	assert.ErrorContains(t, err, "unsupported database type")
}

// fakeDynamoDB is an in-memory table keyed by testId and SK.
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]dbtypes.AttributeValue
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]dbtypes.AttributeValue{}}
}

func itemKey(item map[string]dbtypes.AttributeValue) string {
	return attr(item, "testId") + "|" + attr(item, "SK")
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := itemKey(in.Item)
	if _, exists := f.items[k]; exists && in.ConditionExpression != nil {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamoDB) sorted(keep func(map[string]dbtypes.AttributeValue) bool) []map[string]dbtypes.AttributeValue {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []map[string]dbtypes.AttributeValue
	for _, k := range keys {
		if keep(f.items[k]) {
			out = append(out, f.items[k])
		}
	}
	return out
}

func (f *fakeDynamoDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attr(in.ExpressionAttributeValues, ":testId")
	items := f.sorted(func(item map[string]dbtypes.AttributeValue) bool { return attr(item, "testId") == pk })
	return &dynamodb.QueryOutput{Items: items}, nil
}

// Scan returns one item per page so callers must follow LastEvaluatedKey.
func (f *fakeDynamoDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email := attr(in.ExpressionAttributeValues, ":adminEmail")
	sk := attr(in.ExpressionAttributeValues, ":sk")
	items := f.sorted(func(item map[string]dbtypes.AttributeValue) bool {
		return attr(item, "adminEmail") == email && attr(item, "SK") == sk
	})

	offset := 0
	if in.ExclusiveStartKey != nil {
		offset, _ = strconv.Atoi(attr(in.ExclusiveStartKey, "offset"))
	}
	if offset >= len(items) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := &dynamodb.ScanOutput{Items: items[offset : offset+1]}
	if offset+1 < len(items) {
		out.LastEvaluatedKey = map[string]dbtypes.AttributeValue{"offset": strAttr(strconv.Itoa(offset + 1))}
	}
	return out, nil
}
