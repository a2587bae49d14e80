// Package repository persists runs, their test data and their case results. Every
// record is addressed by run id plus a discriminator (details, test data or test key).
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wbcsd/pact-conformance-test-service/internal/config"
	"github.com/wbcsd/pact-conformance-test-service/internal/models"
	"github.com/wbcsd/pact-conformance-test-service/internal/testcase"
)

// ErrAlreadyExists is returned by a non-overwriting write that found a record.
var ErrAlreadyExists = errors.New("record already exists")

// RunResults is everything stored for one run's results.
type RunResults struct {
	TestRunID string
	// Timestamp is the run's creation time, nil when no run details are stored.
	Timestamp *time.Time
	Results   []testcase.Result
}

// TestRunRepository 测试运行数据访问接口
type TestRunRepository interface {
	SaveTestRun(ctx context.Context, run *models.TestRun) error
	SaveTestData(ctx context.Context, testRunID string, data *models.TestData) error
	// SaveTestCaseResult inserts a result. Without overwrite an existing record for the
	// same key is left untouched and ErrAlreadyExists is returned.
	SaveTestCaseResult(ctx context.Context, testRunID string, result testcase.Result, overwrite bool) error
	// SaveTestCaseResults inserts each result without overwrite, skipping existing ones.
	SaveTestCaseResults(ctx context.Context, testRunID string, results []testcase.Result) error
	// GetTestData returns nil, nil when no record exists.
	GetTestData(ctx context.Context, testRunID string) (*models.TestData, error)
	GetTestResults(ctx context.Context, testRunID string) (*RunResults, error)
	GetRecentTestRunsByEmail(ctx context.Context, adminEmail string, limit int) ([]models.TestRun, error)
}

// saveEach is the sequential wrapper every adapter shares.
func saveEach(ctx context.Context, repo TestRunRepository, testRunID string, results []testcase.Result) error {
	for _, r := range results {
		err := repo.SaveTestCaseResult(ctx, testRunID, r, false)
		if errors.Is(err, ErrAlreadyExists) {
			slog.Debug("test case result already stored", "testRunId", testRunID, "testKey", r.TestKey)
			continue
		}
		if err != nil {
			return fmt.Errorf("save %s: %w", r.TestKey, err)
		}
	}
	return nil
}

// New opens the store selected by cfg. The returned close function releases it.
func New(ctx context.Context, cfg config.DatabaseConfig) (TestRunRepository, func(), error) {
	switch cfg.Type {
	case "sqlite":
		db, err := OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return NewTestRunRepository(db), closeFn, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres pool: %w", err)
		}
		repo := NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
		return NewDynamoDBRepository(client, cfg.Table), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// OpenSQLite opens (creating its directory) and migrates a SQLite database.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer at a time, and every ":memory:" connection is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
