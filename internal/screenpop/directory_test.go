package screenpop

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

type fakeAssignments struct {
	byExt map[string]model.ExtensionAssignment
	err   error
}

func (f *fakeAssignments) GetExtension(_ context.Context, ext string) (*model.ExtensionAssignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.byExt[ext]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeAssignments) AssignedNames(context.Context) (map[model.PersonName]bool, error) {
	names := make(map[model.PersonName]bool)
	for _, a := range f.byExt {
		names[model.PersonName{First: a.FirstName, Last: a.LastName}] = true
	}
	return names, nil
}

type fakeMembers struct {
	all      []connectwise.Member
	lookups  []model.PersonName
	failWith error
}

func (f *fakeMembers) GetMemberByName(_ context.Context, first, last string) (*connectwise.Member, error) {
	f.lookups = append(f.lookups, model.PersonName{First: first, Last: last})
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, m := range f.all {
		if m.FirstName == first && m.LastName == last {
			return &m, nil
		}
	}
	return nil, eris.Wrapf(connectwise.ErrNotFound, "member %s %s", first, last)
}

func (f *fakeMembers) GetAllMembers(context.Context) ([]connectwise.Member, error) {
	return f.all, nil
}

func testDirectory() (*Directory, *fakeMembers) {
	assignments := &fakeAssignments{byExt: map[string]model.ExtensionAssignment{
		"2001": {Extension: "2001", FirstName: "Dana", LastName: "Scully"},
	}}
	members := &fakeMembers{all: []connectwise.Member{
		{ID: 1, Identifier: "dscully", FirstName: "Dana", LastName: "Scully"},
		{ID: 2, Identifier: "fmulder", FirstName: "Fox", LastName: "Mulder"},
		{ID: 3, Identifier: "wskinner", FirstName: "Walter", LastName: "Skinner"},
		{ID: 4, Identifier: "jdoggett", FirstName: "John", LastName: "Doggett", InactiveFlag: true},
		{ID: 5, Identifier: "apiuser", FirstName: "API"},
		{ID: 6, Identifier: "mreyes", FirstName: "Monica", LastName: "Reyes"},
	}}
	static := map[string]model.PersonName{
		"2001": {First: "Someone", Last: "Else"},
		"2002": {First: "Fox", Last: "Mulder"},
		"2003": {First: "Walt", Last: "Skinner"},
	}
	overrides := map[string]model.PersonName{
		"2003": {First: "Walter", Last: "Skinner"},
	}
	return NewDirectory(assignments, members, static, overrides), members
}

func TestDirectory_DatabaseWinsOverStatic(t *testing.T) {
	d, _ := testDirectory()

	r, err := d.Route(context.Background(), "2001")
	require.NoError(t, err)
	require.True(t, r.Found())
	assert.Equal(t, SourceDatabase, r.Source)
	assert.Equal(t, "dscully", r.Member.Identifier)
	assert.Equal(t, "/technician/dscully?name=Dana+Scully", r.RedirectURL())
}

func TestDirectory_StaticEntry(t *testing.T) {
	d, _ := testDirectory()

	r, err := d.Route(context.Background(), "2002")
	require.NoError(t, err)
	require.True(t, r.Found())
	assert.Equal(t, SourceStatic, r.Source)
	assert.Equal(t, "fmulder", r.Member.Identifier)
}

func TestDirectory_OverrideUsedForLookupOnly(t *testing.T) {
	d, members := testDirectory()

	r, err := d.Route(context.Background(), "2003")
	require.NoError(t, err)
	require.True(t, r.Found())
	assert.Equal(t, []model.PersonName{{First: "Walter", Last: "Skinner"}}, members.lookups)
	assert.Equal(t, "/technician/wskinner?name=Walt+Skinner", r.RedirectURL(), "directory name is displayed")
}

func TestDirectory_UnknownExtension(t *testing.T) {
	d, members := testDirectory()

	r, err := d.Route(context.Background(), "9999")
	require.NoError(t, err)
	assert.False(t, r.Found())
	assert.Nil(t, r.Name)
	assert.Empty(t, r.RedirectURL())
	assert.Empty(t, members.lookups)

	var ids []string
	for _, m := range r.Unassigned {
		ids = append(ids, m.Identifier)
	}
	// Scully is in the database, Mulder in the static map; Doggett is
	// inactive and the API user has no last name.
	assert.Equal(t, []string{"wskinner", "mreyes"}, ids)
}

func TestDirectory_MemberNotInConnectWise(t *testing.T) {
	d, members := testDirectory()
	members.all = members.all[1:]

	r, err := d.Route(context.Background(), "2001")
	require.NoError(t, err)
	assert.False(t, r.Found())
	require.NotNil(t, r.Name)
	assert.Equal(t, "Dana Scully", r.Name.Full())
	assert.NotEmpty(t, r.Unassigned)
}

func TestDirectory_UpstreamFault(t *testing.T) {
	d, members := testDirectory()
	members.failWith = errors.New("connectwise: unexpected status 503")

	_, err := d.Route(context.Background(), "2002")
	require.Error(t, err)
	assert.False(t, errors.Is(err, connectwise.ErrNotFound))
	var se *StorageError
	assert.False(t, errors.As(err, &se))
}

func TestDirectory_StorageFault(t *testing.T) {
	d, _ := testDirectory()
	d.assignments = &fakeAssignments{err: errors.New("database is locked")}

	_, err := d.Route(context.Background(), "2001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	var se *StorageError
	assert.True(t, errors.As(err, &se))
}
