package domain

import (
	"fmt"
	"time"
)

// MigrationState is the state of the migration engine
type MigrationState string

const (
	MigrationIdle         MigrationState = "idle"
	MigrationPlanning     MigrationState = "planning"
	MigrationPlanProposed MigrationState = "plan_proposed"
	MigrationExecuting    MigrationState = "executing"
)

// MigrationPlan is a pending bulk copy from one location to another.
// It is consumed whole by a single decision.
type MigrationPlan struct {
	ID                  string          `json:"id"`
	Source              StorageLocation `json:"source"`
	Destination         StorageLocation `json:"destination"`
	Items               []StoredAsset   `json:"items"`
	IsFromLegacyDefault bool            `json:"is_from_legacy_default"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Clone returns a deep copy of the plan
func (p *MigrationPlan) Clone() *MigrationPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = append([]StoredAsset(nil), p.Items...)
	return &c
}

// MigrationProgress exists only while a confirmed plan executes.
// CurrentIndex is 1-based.
type MigrationProgress struct {
	CurrentAssetName string `json:"current_asset_name"`
	CurrentIndex     int    `json:"current_index"`
	TotalCount       int    `json:"total_count"`
}

// MigrationResult is the aggregated tally of an executed plan
type MigrationResult struct {
	SuccessCount int `json:"success_count"`
	FailCount    int `json:"fail_count"`
}

// Message returns the summary shown after a migration
func (r MigrationResult) Message() string {
	if r.FailCount == 0 {
		return fmt.Sprintf("Migrated %d model(s)", r.SuccessCount)
	}
	return fmt.Sprintf("Migrated %d, failed %d model(s)", r.SuccessCount, r.FailCount)
}
