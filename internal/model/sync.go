package model

import "time"

// SyncType records what started a sync run.
type SyncType string

const (
	SyncTypeInitial SyncType = "initial"
	SyncTypeStartup SyncType = "startup"
	SyncTypeAuto    SyncType = "auto"
	SyncTypeManual  SyncType = "manual"
)

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncRun is one row of the sync log. It is created as running and
// finalized exactly once.
type SyncRun struct {
	ID               int64      `json:"id"`
	SyncType         SyncType   `json:"sync_type"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsAdded     int        `json:"records_added"`
	RecordsUpdated   int        `json:"records_updated"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Status           SyncStatus `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}

// SyncTally holds the counters written when a run is finalized.
type SyncTally struct {
	Processed int `json:"processed"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
}
