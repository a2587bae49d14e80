package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// DynamoDBClient defines the DynamoDB operations used by the repository.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBRepository keeps every record of a run in one partition: testId is the
// partition key and SK is the details marker, the test data marker or the test key.
type DynamoDBRepository struct {
	client DynamoDBClient
	table  string
}

// NewDynamoDBRepository stores runs in table.
func NewDynamoDBRepository(client DynamoDBClient, table string) *DynamoDBRepository {
	return &DynamoDBRepository{client: client, table: table}
}

func strAttr(v string) dbtypes.AttributeValue { return &dbtypes.AttributeValueMemberS{Value: v} }

func attr(item map[string]dbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*dbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func key(testRunID, sk string) map[string]dbtypes.AttributeValue {
	return map[string]dbtypes.AttributeValue{"testId": strAttr(testRunID), "SK": strAttr(sk)}
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (r *DynamoDBRepository) put(ctx context.Context, item map[string]dbtypes.AttributeValue, condition string) error {
	input := &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: item}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	_, err := r.client.PutItem(ctx, input)
	var conflict *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &conflict) {
		return ErrAlreadyExists
	}
	return err
}

func (r *DynamoDBRepository) SaveTestRun(ctx context.Context, run *models.TestRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	item := key(run.TestRunID, models.DetailsKey)
	item["timestamp"] = strAttr(stamp(run.Timestamp))
	item["companyName"] = strAttr(run.CompanyName)
	item["companyIdentifier"] = strAttr(run.CompanyIdentifier)
	item["adminEmail"] = strAttr(run.AdminEmail)
	item["adminName"] = strAttr(run.AdminName)
	item["techSpecVersion"] = strAttr(run.TechSpecVersion)
	if err := r.put(ctx, item, ""); err != nil {
		return fmt.Errorf("dynamodb: save test run: %w", err)
	}
	return nil
}

func (r *DynamoDBRepository) SaveTestData(ctx context.Context, testRunID string, data *models.TestData) error {
	data.TestRunID = testRunID
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal test data: %w", err)
	}
	item := key(testRunID, models.TestDataKey)
	item["timestamp"] = strAttr(stamp(time.Now()))
	item["data"] = strAttr(string(raw))
	if err := r.put(ctx, item, ""); err != nil {
		return fmt.Errorf("dynamodb: save test data: %w", err)
	}
	return nil
}

func (r *DynamoDBRepository) SaveTestCaseResult(ctx context.Context, testRunID string, result testcase.Result, overwrite bool) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal test case result: %w", err)
	}
	item := key(testRunID, result.TestKey)
	item["timestamp"] = strAttr(stamp(time.Now()))
	item["result"] = strAttr(string(raw))

	condition := "attribute_not_exists(testId) AND attribute_not_exists(SK)"
	if overwrite {
		condition = ""
	}
	err = r.put(ctx, item, condition)
	if errors.Is(err, ErrAlreadyExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("dynamodb: save test case %s: %w", result.Name, err)
	}
	return nil
}

func (r *DynamoDBRepository) SaveTestCaseResults(ctx context.Context, testRunID string, results []testcase.Result) error {
	return saveEach(ctx, r, testRunID, results)
}

func (r *DynamoDBRepository) GetTestData(ctx context.Context, testRunID string) (*models.TestData, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       key(testRunID, models.TestDataKey),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get test data: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var data models.TestData
	if err := json.Unmarshal([]byte(attr(out.Item, "data")), &data); err != nil {
		return nil, fmt.Errorf("dynamodb: decode test data: %w", err)
	}
	data.TestRunID = testRunID
	return &data, nil
}

func (r *DynamoDBRepository) GetTestResults(ctx context.Context, testRunID string) (*RunResults, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("testId = :testId"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":testId": strAttr(testRunID),
		},
	}
	out := &RunResults{TestRunID: testRunID, Results: []testcase.Result{}}
	for {
		page, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: query test results: %w", err)
		}
		for _, item := range page.Items {
			switch attr(item, "SK") {
			case models.DetailsKey:
				if ts, err := time.Parse(time.RFC3339Nano, attr(item, "timestamp")); err == nil {
					out.Timestamp = &ts
				}
			case models.TestDataKey:
			default:
				var res testcase.Result
				if err := json.Unmarshal([]byte(attr(item, "result")), &res); err != nil {
					continue
				}
				out.Results = append(out.Results, res)
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func (r *DynamoDBRepository) GetRecentTestRunsByEmail(ctx context.Context, adminEmail string, limit int) ([]models.TestRun, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(r.table),
		FilterExpression: aws.String("adminEmail = :adminEmail AND SK = :sk"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":adminEmail": strAttr(adminEmail),
			":sk":         strAttr(models.DetailsKey),
		},
	}
	var runs []models.TestRun
	for {
		page, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("dynamodb: scan test runs: %w", err)
		}
		for _, item := range page.Items {
			ts, _ := time.Parse(time.RFC3339Nano, attr(item, "timestamp"))
			runs = append(runs, models.TestRun{
				TestRunID:         attr(item, "testId"),
				Timestamp:         ts,
				CompanyName:       attr(item, "companyName"),
				CompanyIdentifier: attr(item, "companyIdentifier"),
				AdminEmail:        attr(item, "adminEmail"),
				AdminName:         attr(item, "adminName"),
				TechSpecVersion:   attr(item, "techSpecVersion"),
			})
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
