package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/screenpop/internal/db"
	"github.com/sells-group/screenpop/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS phone_cache (
	id               BIGSERIAL PRIMARY KEY,
	phone_number     TEXT NOT NULL,
	normalized_phone TEXT NOT NULL,
	company_id       BIGINT NOT NULL,
	company_name     TEXT NOT NULL,
	contact_id       BIGINT,
	contact_key      BIGINT NOT NULL DEFAULT 0,
	contact_name     TEXT,
	contact_type     TEXT,
	last_updated     TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_normalized_phone ON phone_cache(normalized_phone);
CREATE UNIQUE INDEX IF NOT EXISTS idx_phone_cache_key ON phone_cache(normalized_phone, company_id, contact_key);

CREATE TABLE IF NOT EXISTS sync_log (
	id                BIGSERIAL PRIMARY KEY,
	sync_type         TEXT NOT NULL,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_added     INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ,
	status            TEXT NOT NULL,
	error_message     TEXT
);

CREATE TABLE IF NOT EXISTS extension_assignments (
	extension         TEXT PRIMARY KEY,
	first_name        TEXT NOT NULL,
	last_name         TEXT NOT NULL,
	member_identifier TEXT,
	assigned_date     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- phone cache --

func (s *PostgresStore) Lookup(ctx context.Context, normalized string) ([]model.CacheRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cacheColumns+` FROM phone_cache
		 WHERE normalized_phone = $1
		 ORDER BY last_updated DESC, id DESC`,
		normalized,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup %s", normalized)
	}
	return scanPostgresRecords(rows)
}

func (s *PostgresStore) Upsert(ctx context.Context, p model.UpsertParams) error {
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO phone_cache (
			phone_number, normalized_phone, company_id, company_name,
			contact_id, contact_key, contact_name, contact_type, last_updated, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (normalized_phone, company_id, contact_key) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			company_name = EXCLUDED.company_name,
			contact_name = EXCLUDED.contact_name,
			contact_type = EXCLUDED.contact_type,
			last_updated = EXCLUDED.last_updated`,
		p.PhoneNumber, p.NormalizedPhone, p.CompanyID, p.CompanyName,
		p.ContactID, contactKey(p.ContactID), textOrNil(p.ContactName),
		textOrNil(string(p.ContactType)), now,
	)
	return eris.Wrapf(err, "postgres: upsert %s company %d", p.NormalizedPhone, p.CompanyID)
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]model.CacheRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cacheColumns+` FROM phone_cache
		 ORDER BY company_name, normalized_phone, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	return scanPostgresRecords(rows)
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	var st model.CacheStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT normalized_phone), COUNT(*), MIN(last_updated), MAX(last_updated)
		 FROM phone_cache`,
	).Scan(&st.UniquePhones, &st.TotalRecords, &st.OldestRecord, &st.NewestRecord)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}

	runs, err := s.ListSyncRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		r := runs[0]
		st.LastSync = &model.LastSync{
			Type:      r.SyncType,
			Completed: r.CompletedAt,
			Added:     r.RecordsAdded,
			Updated:   r.RecordsUpdated,
			Status:    r.Status,
		}
	}
	return &st, nil
}

func (s *PostgresStore) StaleAge(ctx context.Context) (*time.Duration, error) {
	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MIN(last_updated) FROM phone_cache`).Scan(&oldest); err != nil {
		return nil, eris.Wrap(err, "postgres: stale age")
	}
	if oldest == nil {
		return nil, nil
	}
	age := s.now().Sub(*oldest)
	if age < 0 {
		age = 0
	}
	return &age, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM phone_cache`)
	return eris.Wrap(err, "postgres: clear cache")
}

// -- sync log --

func (s *PostgresStore) StartSync(ctx context.Context, syncType model.SyncType) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (sync_type, started_at, status) VALUES ($1, $2, $3) RETURNING id`,
		string(syncType), s.now().UTC(), string(model.SyncStatusRunning),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start %s sync", syncType)
	}
	return id, nil
}

func (s *PostgresStore) CompleteSync(ctx context.Context, id int64, tally model.SyncTally) error {
	return s.finishSync(ctx, id, tally, model.SyncStatusCompleted, "")
}

func (s *PostgresStore) FailSync(ctx context.Context, id int64, tally model.SyncTally, errMsg string) error {
	return s.finishSync(ctx, id, tally, model.SyncStatusFailed, errMsg)
}

func (s *PostgresStore) finishSync(ctx context.Context, id int64, tally model.SyncTally, status model.SyncStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_log
		 SET records_processed = $1, records_added = $2, records_updated = $3,
		     completed_at = $4, status = $5, error_message = $6
		 WHERE id = $7 AND status = $8`,
		tally.Processed, tally.Added, tally.Updated,
		s.now().UTC(), string(status), textOrNil(errMsg),
		id, string(model.SyncStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish sync %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("running sync not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sync_type, records_processed, records_added, records_updated,
		        started_at, completed_at, status, error_message
		 FROM sync_log ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var syncType, status string
		var errMsg *string
		if err := rows.Scan(&r.ID, &syncType, &r.RecordsProcessed, &r.RecordsAdded, &r.RecordsUpdated,
			&r.StartedAt, &r.CompletedAt, &status, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		r.SyncType = model.SyncType(syncType)
		r.Status = model.SyncStatus(status)
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}

// -- extensions --

const pgAssignExtension = `INSERT INTO extension_assignments
	(extension, first_name, last_name, member_identifier, assigned_date, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (extension) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		member_identifier = EXCLUDED.member_identifier,
		assigned_date = EXCLUDED.assigned_date,
		updated_at = EXCLUDED.updated_at`

func (s *PostgresStore) AssignExtension(ctx context.Context, a model.ExtensionAssignment) error {
	_, err := s.pool.Exec(ctx, pgAssignExtension,
		a.Extension, a.FirstName, a.LastName, textOrNil(a.MemberIdentifier), s.now().UTC(),
	)
	return eris.Wrapf(err, "postgres: assign extension %s", a.Extension)
}

func (s *PostgresStore) AssignExtensions(ctx context.Context, list []model.ExtensionAssignment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: assign extensions: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now().UTC()
	for _, a := range list {
		if _, err := tx.Exec(ctx, pgAssignExtension,
			a.Extension, a.FirstName, a.LastName, textOrNil(a.MemberIdentifier), now,
		); err != nil {
			return eris.Wrapf(err, "postgres: assign extension %s", a.Extension)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: assign extensions: commit")
}

func (s *PostgresStore) GetExtension(ctx context.Context, extension string) (*model.ExtensionAssignment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+extensionColumns+` FROM extension_assignments WHERE extension = $1`,
		extension,
	)
	a, err := scanPostgresExtension(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extension %s", extension)
	}
	return a, nil
}

func (s *PostgresStore) ListExtensions(ctx context.Context) ([]model.ExtensionAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+extensionColumns+` FROM extension_assignments ORDER BY extension`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extensions")
	}
	defer rows.Close()

	var out []model.ExtensionAssignment
	for rows.Next() {
		a, err := scanPostgresExtension(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extension")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extensions iterate")
}

func (s *PostgresStore) RemoveExtension(ctx context.Context, extension string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM extension_assignments WHERE extension = $1`, extension)
	return eris.Wrapf(err, "postgres: remove extension %s", extension)
}

func (s *PostgresStore) AssignedNames(ctx context.Context) (map[model.PersonName]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT first_name, last_name FROM extension_assignments`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: assigned names")
	}
	defer rows.Close()

	names := make(map[model.PersonName]bool)
	for rows.Next() {
		var n model.PersonName
		if err := rows.Scan(&n.First, &n.Last); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assigned name")
		}
		names[n] = true
	}
	return names, eris.Wrap(rows.Err(), "postgres: assigned names iterate")
}

func scanPostgresRecords(rows pgx.Rows) ([]model.CacheRecord, error) {
	defer rows.Close()

	records := []model.CacheRecord{}
	for rows.Next() {
		var r model.CacheRecord
		var contactName, contactType *string
		if err := rows.Scan(&r.PhoneNumber, &r.NormalizedPhone, &r.CompanyID, &r.CompanyName,
			&r.ContactID, &contactName, &contactType, &r.LastUpdated, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache record")
		}
		if contactName != nil {
			r.ContactName = *contactName
		}
		if contactType != nil {
			r.ContactType = model.ContactType(*contactType)
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: cache records iterate")
}

func scanPostgresExtension(row scannable) (*model.ExtensionAssignment, error) {
	var a model.ExtensionAssignment
	var member *string
	if err := row.Scan(&a.Extension, &a.FirstName, &a.LastName, &member, &a.AssignedDate, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if member != nil {
		a.MemberIdentifier = *member
	}
	return &a, nil
}

// textOrNil maps empty strings to SQL NULL.
func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
