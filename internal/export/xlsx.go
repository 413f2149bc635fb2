// Package export writes operator reports of the phone cache.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/screenpop/internal/model"
)

// Sheet names in the cache workbook.
const (
	PhonesSheet = "Phones"
	RunsSheet   = "Sync Runs"
)

var phoneHeader = []string{
	"Normalized Phone", "Phone Number", "Company ID", "Company Name",
	"Contact ID", "Contact Name", "Contact Type", "Last Updated", "Created At",
}

var runHeader = []string{
	"ID", "Type", "Status", "Processed", "Added", "Updated", "Started At", "Completed At", "Error",
}

// CacheWorkbook builds a workbook with one row per cache record and, when
// runs is non-empty, a second sheet with the sync log.
func CacheWorkbook(records []model.CacheRecord, runs []model.SyncRun) (*xlsx.File, error) {
	f := xlsx.NewFile()

	phones, err := f.AddSheet(PhonesSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add phones sheet")
	}
	addStrings(phones.AddRow(), phoneHeader...)
	for _, r := range records {
		row := phones.AddRow()
		addStrings(row, r.NormalizedPhone, r.PhoneNumber)
		row.AddCell().SetInt64(r.CompanyID)
		addStrings(row, r.CompanyName)
		if r.ContactID != nil {
			row.AddCell().SetInt64(*r.ContactID)
		} else {
			row.AddCell().SetString("")
		}
		addStrings(row, r.ContactName, string(r.ContactType), stamp(r.LastUpdated), stamp(r.CreatedAt))
	}

	if len(runs) == 0 {
		return f, nil
	}
	sheet, err := f.AddSheet(RunsSheet)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add runs sheet")
	}
	addStrings(sheet.AddRow(), runHeader...)
	for _, run := range runs {
		row := sheet.AddRow()
		row.AddCell().SetInt64(run.ID)
		addStrings(row, string(run.SyncType), string(run.Status))
		row.AddCell().SetInt(run.RecordsProcessed)
		row.AddCell().SetInt(run.RecordsAdded)
		row.AddCell().SetInt(run.RecordsUpdated)
		completed := ""
		if run.CompletedAt != nil {
			completed = stamp(*run.CompletedAt)
		}
		addStrings(row, stamp(run.StartedAt), completed, run.ErrorMessage)
	}
	return f, nil
}

// WriteCache writes the cache workbook to path.
func WriteCache(path string, records []model.CacheRecord, runs []model.SyncRun) error {
	f, err := CacheWorkbook(records, runs)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

// WriteCacheTo streams the cache workbook to w.
func WriteCacheTo(w io.Writer, records []model.CacheRecord, runs []model.SyncRun) error {
	f, err := CacheWorkbook(records, runs)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write workbook")
}

// ReadPhones returns the data rows of the phones sheet as strings, header excluded.
func ReadPhones(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[PhonesSheet]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", PhonesSheet)
	}
	var rows [][]string
	for i, row := range sheet.Rows {
		if i == 0 {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Filename returns the default export name for a timestamp.
func Filename(now time.Time) string {
	return "phone_cache_" + now.UTC().Format("20060102-150405") + ".xlsx"
}
