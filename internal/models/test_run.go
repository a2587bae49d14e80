package models

import (
	"time"
)

// Sort keys of the two non-result records filed under a run.
const (
	DetailsKey  = "TESTRUN#DETAILS"
	TestDataKey = "TESTRUN#TESTDATA"
)

// TestRun 一次一致性测试运行
type TestRun struct {
	TestRunID         string    `gorm:"primaryKey;size:255" json:"testRunId"`
	Timestamp         time.Time `gorm:"not null;index" json:"timestamp"`
	CompanyName       string    `gorm:"size:255;not null" json:"companyName"`
	CompanyIdentifier string    `gorm:"size:255;not null" json:"companyIdentifier"`
	AdminEmail        string    `gorm:"size:255;not null;index" json:"adminEmail"`
	AdminName         string    `gorm:"size:255;not null" json:"adminName"`
	TechSpecVersion   string    `gorm:"size:16;not null" json:"techSpecVersion"`
}

// TableName 指定表名
func (TestRun) TableName() string {
	return "test_runs"
}

// TestData is the side record the callback resolver correlates against.
type TestData struct {
	TestRunID  string     `gorm:"primaryKey;size:255" json:"-"`
	ProductIDs StringList `gorm:"type:text;column:product_ids" json:"productIds"`
	Version    string     `gorm:"size:16;not null" json:"version"`
	Timestamp  time.Time  `json:"-"`
}

// TableName 指定表名
func (TestData) TableName() string {
	return "test_data"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{&TestRun{}, &TestData{}, &TestCaseResult{}}
}
