// Package phonesync refreshes the phone cache from the ConnectWise contact listing.
package phonesync

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phone"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// ContactSource pages through upstream contacts.
type ContactSource interface {
	ListContacts(ctx context.Context, page, pageSize int) ([]connectwise.Contact, error)
}

// Store is the persistence a sync run writes to.
type Store interface {
	store.PhoneCache
	store.SyncLog
}

// Defaults for Options left at zero.
const (
	DefaultPageSize = 100
	DefaultMaxPages = 100
)

// unknownCompany names companies the listing returns without a name.
const unknownCompany = "Unknown"

// Options bound the page loop.
type Options struct {
	PageSize int
	MaxPages int
}

// Syncer runs a single cache refresh.
type Syncer struct {
	src   ContactSource
	store Store
	opts  Options
	log   *zap.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(src ContactSource, st Store, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	return &Syncer{
		src:   src,
		store: st,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "phonesync")),
	}
}

// Run records a new sync run, executes it and returns its id and tally.
// The returned error is the fault that failed the run, if any; the run's
// Sync Log row is finalized either way.
func (s *Syncer) Run(ctx context.Context, syncType model.SyncType) (int64, model.SyncTally, error) {
	id, err := s.Begin(ctx, syncType)
	if err != nil {
		return 0, model.SyncTally{}, err
	}
	tally, err := s.Execute(ctx, id, syncType)
	return id, tally, err
}

// Begin creates the running Sync Log row for a new run.
func (s *Syncer) Begin(ctx context.Context, syncType model.SyncType) (int64, error) {
	id, err := s.store.StartSync(ctx, syncType)
	if err != nil {
		return 0, eris.Wrapf(err, "phonesync: begin %s sync", syncType)
	}
	return id, nil
}

// Execute runs the page loop for a run created by Begin and finalizes it.
func (s *Syncer) Execute(ctx context.Context, id int64, syncType model.SyncType) (model.SyncTally, error) {
	log := s.log.With(zap.Int64("sync_id", id), zap.String("sync_type", string(syncType)))
	log.Info("cache sync started")
	start := time.Now()

	tally, runErr := s.pages(ctx, log)

	// Finalize even when ctx was cancelled mid-run.
	fctx := context.WithoutCancel(ctx)
	if runErr != nil {
		log.Error("cache sync failed",
			zap.Int("processed", tally.Processed),
			zap.Int("added", tally.Added),
			zap.Int("updated", tally.Updated),
			zap.Error(runErr),
		)
		if err := s.store.FailSync(fctx, id, tally, runErr.Error()); err != nil {
			log.Error("recording failed sync", zap.Error(err))
		}
		return tally, runErr
	}

	if err := s.store.CompleteSync(fctx, id, tally); err != nil {
		err = eris.Wrapf(err, "phonesync: complete sync %d", id)
		log.Error("recording completed sync", zap.Error(err))
		if ferr := s.store.FailSync(fctx, id, tally, err.Error()); ferr != nil {
			log.Error("recording failed sync", zap.Error(ferr))
		}
		return tally, err
	}
	log.Info("cache sync completed",
		zap.Int("processed", tally.Processed),
		zap.Int("added", tally.Added),
		zap.Int("updated", tally.Updated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return tally, nil
}

func (s *Syncer) pages(ctx context.Context, log *zap.Logger) (model.SyncTally, error) {
	var tally model.SyncTally
	for page := 1; page <= s.opts.MaxPages; page++ {
		contacts, err := s.src.ListContacts(ctx, page, s.opts.PageSize)
		if err != nil {
			return tally, eris.Wrapf(err, "phonesync: fetch page %d", page)
		}

		for _, c := range contacts {
			if err := s.contact(ctx, c, &tally); err != nil {
				return tally, err
			}
		}
		log.Debug("page synced", zap.Int("page", page), zap.Int("contacts", len(contacts)))

		if len(contacts) < s.opts.PageSize {
			return tally, nil
		}
		if page == s.opts.MaxPages {
			log.Warn("page ceiling reached, stopping sync", zap.Int("max_pages", s.opts.MaxPages))
		}
	}
	return tally, nil
}

// contact caches every dialable phone item on c.
func (s *Syncer) contact(ctx context.Context, c connectwise.Contact, tally *model.SyncTally) error {
	tally.Processed++

	if c.Company == nil || c.Company.ID == 0 {
		return nil
	}
	companyID := c.Company.ID
	companyName := c.Company.Name
	if companyName == "" {
		companyName = unknownCompany
	}
	var contactID *int64
	if c.ID != 0 {
		contactID = model.Int64Ptr(c.ID)
	}
	contactName := strings.TrimSpace(c.FirstName + " " + c.LastName)

	for _, item := range c.CommunicationItems {
		ct, ok := model.ParseContactType(item.Type.Name)
		if !ok || item.Value == "" {
			continue
		}
		normalized := phone.Normalize(item.Value)
		if !phone.IsDialable(normalized) {
			continue
		}

		existing, err := s.store.Lookup(ctx, normalized)
		if err != nil {
			return eris.Wrapf(err, "phonesync: classify %s", normalized)
		}
		isNew := IsNewPair(existing, companyID, contactID)

		if err := s.store.Upsert(ctx, model.UpsertParams{
			PhoneNumber:     item.Value,
			NormalizedPhone: normalized,
			CompanyID:       companyID,
			CompanyName:     companyName,
			ContactID:       contactID,
			ContactName:     contactName,
			ContactType:     ct,
		}); err != nil {
			return eris.Wrapf(err, "phonesync: cache %s", normalized)
		}

		if isNew {
			tally.Added++
		} else {
			tally.Updated++
		}
	}
	return nil
}

// IsNewPair reports whether none of the existing records for a number belong
// to the given company/contact pair.
func IsNewPair(existing []model.CacheRecord, companyID int64, contactID *int64) bool {
	for _, r := range existing {
		if r.SameContact(companyID, contactID) {
			return false
		}
	}
	return true
}
