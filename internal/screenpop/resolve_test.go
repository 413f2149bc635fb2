package screenpop

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/store"
)

type mapLookup map[string][]model.CacheRecord

func (m mapLookup) Lookup(_ context.Context, normalized string) ([]model.CacheRecord, error) {
	return m[normalized], nil
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, string) ([]model.CacheRecord, error) {
	return nil, errors.New("disk I/O error")
}

func rec(companyID int64, company string, contactID int64, contact string) model.CacheRecord {
	return model.CacheRecord{
		PhoneNumber:     "(408) 451-1400",
		NormalizedPhone: "4084511400",
		CompanyID:       companyID,
		CompanyName:     company,
		ContactID:       model.Int64Ptr(contactID),
		ContactName:     contact,
		ContactType:     model.ContactTypeDirect,
	}
}

func TestResolve_Miss(t *testing.T) {
	d, err := Resolve(context.Background(), mapLookup{}, "(555) 000-0000")
	require.NoError(t, err)

	miss, ok := d.(Miss)
	require.True(t, ok)
	assert.Equal(t, KindMiss, d.Kind())
	assert.Equal(t, "5550000000", miss.Normalized)
	assert.Equal(t, "(555) 000-0000", d.Number().Phone)
}

func TestResolve_EmptyNumberIsMiss(t *testing.T) {
	d, err := Resolve(context.Background(), failingLookup{}, "anonymous")
	require.NoError(t, err)
	assert.Equal(t, KindMiss, d.Kind())
}

func TestResolve_SingleMatch(t *testing.T) {
	l := mapLookup{"4084511400": {rec(10, "Acme", 5, "Pat Doe")}}

	d, err := Resolve(context.Background(), l, "(408) 451-1400")
	require.NoError(t, err)

	single, ok := d.(SingleMatch)
	require.True(t, ok, "got %T", d)
	assert.Equal(t, int64(10), single.Record.CompanyID)
	assert.Equal(t, int64(5), *single.Record.ContactID)
}

func TestResolve_SameCompanyMultiMatch(t *testing.T) {
	l := mapLookup{"4084511400": {
		rec(10, "Acme", 5, "Pat Doe"),
		rec(10, "Acme", 6, "Sam Roe"),
		rec(10, "Acme", 7, "Lee Poe"),
	}}

	d, err := Resolve(context.Background(), l, "408-451-1400")
	require.NoError(t, err)

	same, ok := d.(SameCompanyMultiMatch)
	require.True(t, ok, "got %T", d)
	assert.Equal(t, int64(10), same.CompanyID)
	assert.Equal(t, "Acme", same.CompanyName)
	require.Len(t, same.Records, 3)
	assert.Equal(t, "Pat Doe", same.Records[0].ContactName)
	assert.Equal(t, "Lee Poe", same.Records[2].ContactName)
}

func TestResolve_MultiCompanyMatch(t *testing.T) {
	l := mapLookup{"4084511400": {
		rec(20, "Globex", 8, "Hank Scorpio"),
		rec(10, "Acme", 5, "Pat Doe"),
		rec(20, "Globex", 9, "Frank Grimes"),
	}}

	d, err := Resolve(context.Background(), l, "4084511400")
	require.NoError(t, err)

	multi, ok := d.(MultiCompanyMatch)
	require.True(t, ok, "got %T", d)
	require.Len(t, multi.Companies, 2)
	assert.Equal(t, int64(20), multi.Companies[0].CompanyID, "first appearance wins")
	assert.Len(t, multi.Companies[0].Records, 2)
	assert.Equal(t, int64(10), multi.Companies[1].CompanyID)
	assert.Len(t, multi.Companies[1].Records, 1)
}

func TestResolve_StorageFault(t *testing.T) {
	_, err := Resolve(context.Background(), failingLookup{}, "4084511400")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	var se *StorageError
	assert.ErrorAs(t, err, &se)
}

func TestResolveCompany(t *testing.T) {
	l := mapLookup{"4084511400": {
		rec(20, "Globex", 8, "Hank Scorpio"),
		rec(10, "Acme", 5, "Pat Doe"),
		rec(20, "Globex", 9, "Frank Grimes"),
	}}
	ctx := context.Background()

	d, err := ResolveCompany(ctx, l, "4084511400", 10)
	require.NoError(t, err)
	assert.Equal(t, KindSingleMatch, d.Kind())

	d, err = ResolveCompany(ctx, l, "4084511400", 20)
	require.NoError(t, err)
	same, ok := d.(SameCompanyMultiMatch)
	require.True(t, ok, "got %T", d)
	assert.Len(t, same.Records, 2)

	d, err = ResolveCompany(ctx, l, "4084511400", 30)
	require.NoError(t, err)
	assert.Equal(t, KindMiss, d.Kind())
}

func TestGroupByCompany_NilContacts(t *testing.T) {
	a := rec(10, "Acme", 5, "Pat Doe")
	b := model.CacheRecord{NormalizedPhone: "4084511400", CompanyID: 10, CompanyName: "Acme"}

	groups := GroupByCompany([]model.CacheRecord{a, b})
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Records, 2)
	assert.Nil(t, groups[0].Records[1].ContactID)
}

func TestResolve_SingleMatchFromStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Upsert(ctx, model.UpsertParams{
		PhoneNumber:     "(408) 451-1400",
		NormalizedPhone: "4084511400",
		CompanyID:       10,
		CompanyName:     "Acme",
		ContactID:       model.Int64Ptr(5),
		ContactName:     "Pat Doe",
		ContactType:     model.ContactTypeDirect,
	}))

	d, err := Resolve(ctx, st, "408.451.1400")
	require.NoError(t, err)
	single, ok := d.(SingleMatch)
	require.True(t, ok, "got %T", d)
	assert.Equal(t, int64(10), single.Record.CompanyID)
	assert.Equal(t, int64(5), *single.Record.ContactID)
	assert.Equal(t, "Pat Doe", single.Record.ContactName)
}
