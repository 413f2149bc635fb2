package store

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/screenpop/internal/model"
)

// sqliteTimeLayout is fixed width so text timestamps sort chronologically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas are applied to every pooled connection through the DSN, so
// concurrent writers wait on the lock instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sqlite: ping %s", path)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS phone_cache (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	phone_number     TEXT NOT NULL,
	normalized_phone TEXT NOT NULL,
	company_id       INTEGER NOT NULL,
	company_name     TEXT NOT NULL,
	contact_id       INTEGER,
	contact_key      INTEGER NOT NULL DEFAULT 0,
	contact_name     TEXT,
	contact_type     TEXT,
	last_updated     TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_normalized_phone ON phone_cache(normalized_phone);
CREATE UNIQUE INDEX IF NOT EXISTS idx_phone_cache_key ON phone_cache(normalized_phone, company_id, contact_key);

CREATE TABLE IF NOT EXISTS sync_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_type         TEXT NOT NULL,
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_added     INTEGER NOT NULL DEFAULT 0,
	records_updated   INTEGER NOT NULL DEFAULT 0,
	started_at        TEXT NOT NULL,
	completed_at      TEXT,
	status            TEXT NOT NULL,
	error_message     TEXT
);

CREATE TABLE IF NOT EXISTS extension_assignments (
	extension         TEXT PRIMARY KEY,
	first_name        TEXT NOT NULL,
	last_name         TEXT NOT NULL,
	member_identifier TEXT,
	assigned_date     TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(sqliteTimeLayout)
}

// -- phone cache --

const cacheColumns = `phone_number, normalized_phone, company_id, company_name,
	contact_id, contact_name, contact_type, last_updated, created_at`

func (s *SQLiteStore) Lookup(ctx context.Context, normalized string) ([]model.CacheRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cacheColumns+` FROM phone_cache
		 WHERE normalized_phone = ?
		 ORDER BY last_updated DESC, id DESC`,
		normalized,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup %s", normalized)
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteStore) Upsert(ctx context.Context, p model.UpsertParams) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phone_cache (
			phone_number, normalized_phone, company_id, company_name,
			contact_id, contact_key, contact_name, contact_type, last_updated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (normalized_phone, company_id, contact_key) DO UPDATE SET
			phone_number = excluded.phone_number,
			company_name = excluded.company_name,
			contact_name = excluded.contact_name,
			contact_type = excluded.contact_type,
			last_updated = excluded.last_updated`,
		p.PhoneNumber, p.NormalizedPhone, p.CompanyID, p.CompanyName,
		nullInt64(p.ContactID), contactKey(p.ContactID), nullString(p.ContactName),
		nullString(string(p.ContactType)), now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert %s company %d", p.NormalizedPhone, p.CompanyID)
}

func (s *SQLiteStore) ListRecords(ctx context.Context) ([]model.CacheRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cacheColumns+` FROM phone_cache
		 ORDER BY company_name, normalized_phone, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.CacheStats, error) {
	var st model.CacheStats
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT normalized_phone), COUNT(*), MIN(last_updated), MAX(last_updated)
		 FROM phone_cache`,
	).Scan(&st.UniquePhones, &st.TotalRecords, &oldest, &newest)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	if st.OldestRecord, err = parseSQLiteTimePtr(oldest); err != nil {
		return nil, err
	}
	if st.NewestRecord, err = parseSQLiteTimePtr(newest); err != nil {
		return nil, err
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

func (s *SQLiteStore) StaleAge(ctx context.Context) (*time.Duration, error) {
	var oldest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(last_updated) FROM phone_cache`).Scan(&oldest); err != nil {
		return nil, eris.Wrap(err, "sqlite: stale age")
	}
	t, err := parseSQLiteTimePtr(oldest)
	if err != nil || t == nil {
		return nil, err
	}
	age := s.now().Sub(*t)
	if age < 0 {
		age = 0
	}
	return &age, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM phone_cache`)
	return eris.Wrap(err, "sqlite: clear cache")
}

// -- sync log --

func (s *SQLiteStore) StartSync(ctx context.Context, syncType model.SyncType) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (sync_type, started_at, status) VALUES (?, ?, ?)`,
		string(syncType), s.stamp(), string(model.SyncStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start %s sync", syncType)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: sync id")
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, id int64, tally model.SyncTally) error {
	return s.finishSync(ctx, id, tally, model.SyncStatusCompleted, "")
}

func (s *SQLiteStore) FailSync(ctx context.Context, id int64, tally model.SyncTally, errMsg string) error {
	return s.finishSync(ctx, id, tally, model.SyncStatusFailed, errMsg)
}

func (s *SQLiteStore) finishSync(ctx context.Context, id int64, tally model.SyncTally, status model.SyncStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_log
		 SET records_processed = ?, records_added = ?, records_updated = ?,
		     completed_at = ?, status = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		tally.Processed, tally.Added, tally.Updated,
		s.stamp(), string(status), nullString(errMsg),
		id, string(model.SyncStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish sync %d", id)
	}
	return checkRowsAffected(res, "running sync", id)
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sync_type, records_processed, records_added, records_updated,
		        started_at, completed_at, status, error_message
		 FROM sync_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		var started string
		var completed, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.SyncType, &r.RecordsProcessed, &r.RecordsAdded, &r.RecordsUpdated,
			&started, &completed, &r.Status, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		if r.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseSQLiteTimePtr(completed); err != nil {
			return nil, err
		}
		r.ErrorMessage = errMsg.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}

// -- extensions --

func (s *SQLiteStore) AssignExtension(ctx context.Context, a model.ExtensionAssignment) error {
	return assignSQLiteExtension(ctx, s.db, a, s.stamp())
}

func (s *SQLiteStore) AssignExtensions(ctx context.Context, list []model.ExtensionAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: assign extensions: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.stamp()
	for _, a := range list {
		if err := assignSQLiteExtension(ctx, tx, a, now); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: assign extensions: commit")
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func assignSQLiteExtension(ctx context.Context, ex sqlExecer, a model.ExtensionAssignment, now string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO extension_assignments
		 (extension, first_name, last_name, member_identifier, assigned_date, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Extension, a.FirstName, a.LastName, nullString(a.MemberIdentifier), now, now,
	)
	return eris.Wrapf(err, "sqlite: assign extension %s", a.Extension)
}

const extensionColumns = `extension, first_name, last_name, member_identifier, assigned_date, updated_at`

func (s *SQLiteStore) GetExtension(ctx context.Context, extension string) (*model.ExtensionAssignment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+extensionColumns+` FROM extension_assignments WHERE extension = ?`,
		extension,
	)
	a, err := scanSQLiteExtension(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extension %s", extension)
	}
	return a, nil
}

func (s *SQLiteStore) ListExtensions(ctx context.Context) ([]model.ExtensionAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+extensionColumns+` FROM extension_assignments ORDER BY extension`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extensions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExtensionAssignment
	for rows.Next() {
		a, err := scanSQLiteExtension(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extension")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extensions iterate")
}

func (s *SQLiteStore) RemoveExtension(ctx context.Context, extension string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM extension_assignments WHERE extension = ?`, extension)
	return eris.Wrapf(err, "sqlite: remove extension %s", extension)
}

func (s *SQLiteStore) AssignedNames(ctx context.Context) (map[model.PersonName]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT first_name, last_name FROM extension_assignments`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: assigned names")
	}
	defer rows.Close() //nolint:errcheck

	names := make(map[model.PersonName]bool)
	for rows.Next() {
		var n model.PersonName
		if err := rows.Scan(&n.First, &n.Last); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assigned name")
		}
		names[n] = true
	}
	return names, eris.Wrap(rows.Err(), "sqlite: assigned names iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRecords(rows *sql.Rows) ([]model.CacheRecord, error) {
	defer rows.Close() //nolint:errcheck

	records := []model.CacheRecord{}
	for rows.Next() {
		var r model.CacheRecord
		var contactID sql.NullInt64
		var contactName, contactType sql.NullString
		var lastUpdated, createdAt string
		if err := rows.Scan(&r.PhoneNumber, &r.NormalizedPhone, &r.CompanyID, &r.CompanyName,
			&contactID, &contactName, &contactType, &lastUpdated, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache record")
		}
		if contactID.Valid {
			r.ContactID = model.Int64Ptr(contactID.Int64)
		}
		r.ContactName = contactName.String
		r.ContactType = model.ContactType(contactType.String)

		var err error
		if r.LastUpdated, err = parseSQLiteTime(lastUpdated); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: cache records iterate")
}

func scanSQLiteExtension(row scannable) (*model.ExtensionAssignment, error) {
	var a model.ExtensionAssignment
	var member sql.NullString
	var assigned, updated string
	if err := row.Scan(&a.Extension, &a.FirstName, &a.LastName, &member, &assigned, &updated); err != nil {
		return nil, err
	}
	a.MemberIdentifier = member.String

	var err error
	if a.AssignedDate, err = parseSQLiteTime(assigned); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
	}
	return t, nil
}

func parseSQLiteTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
