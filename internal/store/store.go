package store

import (
	"context"
	"time"

	"github.com/sells-group/screenpop/internal/model"
)

// PhoneCache is the normalized-phone lookup table.
type PhoneCache interface {
	// Lookup returns every record for a normalized number, most recently
	// confirmed first. An empty result is a cache miss, not an error.
	Lookup(ctx context.Context, normalized string) ([]model.CacheRecord, error)
	// Upsert updates the record for (normalized phone, company, contact) in
	// place, or inserts it when absent.
	Upsert(ctx context.Context, p model.UpsertParams) error
	// ListRecords returns the whole cache ordered by company name and number.
	ListRecords(ctx context.Context) ([]model.CacheRecord, error)
	Stats(ctx context.Context) (*model.CacheStats, error)
	// StaleAge returns the age of the oldest record, or nil when the cache is empty.
	StaleAge(ctx context.Context) (*time.Duration, error)
	Clear(ctx context.Context) error
}

// SyncLog records cache refresh runs.
type SyncLog interface {
	StartSync(ctx context.Context, syncType model.SyncType) (int64, error)
	CompleteSync(ctx context.Context, id int64, tally model.SyncTally) error
	FailSync(ctx context.Context, id int64, tally model.SyncTally, errMsg string) error
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// Extensions stores internal extension assignments.
type Extensions interface {
	AssignExtension(ctx context.Context, a model.ExtensionAssignment) error
	// AssignExtensions writes every assignment in one transaction; on error
	// none of them are applied.
	AssignExtensions(ctx context.Context, list []model.ExtensionAssignment) error
	// GetExtension returns nil, nil when the extension is unassigned.
	GetExtension(ctx context.Context, extension string) (*model.ExtensionAssignment, error)
	ListExtensions(ctx context.Context) ([]model.ExtensionAssignment, error)
	RemoveExtension(ctx context.Context, extension string) error
	AssignedNames(ctx context.Context) (map[model.PersonName]bool, error)
}

// Store defines the persistence interface for the screenpop service.
type Store interface {
	PhoneCache
	SyncLog
	Extensions

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// contactKey maps an optional contact id onto the non-null uniqueness column.
// ConnectWise ids are positive, so 0 never collides with a real contact.
func contactKey(contactID *int64) int64 {
	if contactID == nil {
		return 0
	}
	return *contactID
}

// defaultRunLimit caps ListSyncRuns when no limit is given.
const defaultRunLimit = 20
