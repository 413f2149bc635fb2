package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screenpop/internal/model"
	"github.com/sells-group/screenpop/internal/phonesync"
	"github.com/sells-group/screenpop/internal/screenpop"
	"github.com/sells-group/screenpop/internal/store"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// fakeCW is an in-memory connectwise.Client.
type fakeCW struct {
	mu        sync.Mutex
	companies map[int64]connectwise.Company
	contacts  map[int64]connectwise.Contact
	tickets   map[int64][]connectwise.Ticket
	members   []connectwise.Member
	memberTix map[string][]connectwise.Ticket

	added    []string
	created  []connectwise.NewContact
	newCos   []connectwise.NewCompany
	newTix   []connectwise.NewTicket
	nextID   int64
	failWith error
}

func newFakeCW() *fakeCW {
	return &fakeCW{
		companies: map[int64]connectwise.Company{
			10: {ID: 10, Identifier: "Acme", Name: "Acme", City: "San Jose", State: "CA", PhoneNumber: "4085550100"},
		},
		contacts: map[int64]connectwise.Contact{
			5: {ID: 5, FirstName: "Pat", LastName: "Doe", Company: &connectwise.Reference{ID: 10, Name: "Acme"},
				CommunicationItems: []connectwise.CommunicationItem{
					{Type: connectwise.Reference{Name: "Direct"}, Value: "(408) 451-1400", CommunicationType: "Phone"},
					{Type: connectwise.Reference{Name: "Email"}, Value: "pat@acme.test", CommunicationType: "Email"},
				}},
		},
		tickets: map[int64][]connectwise.Ticket{
			10: {{ID: 9001, Summary: "Printer on fire"}},
		},
		members: []connectwise.Member{
			{ID: 1, Identifier: "dscully", FirstName: "Dana", LastName: "Scully"},
			{ID: 2, Identifier: "fmulder", FirstName: "Fox", LastName: "Mulder"},
		},
		memberTix: map[string][]connectwise.Ticket{
			"dscully": {{ID: 7001, Summary: "VPN down"}},
		},
		nextID: 100,
	}
}

func (f *fakeCW) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeCW) addMembers(m ...connectwise.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, m...)
}

// recorded returns copies of the writes the handlers made.
func (f *fakeCW) recorded() (added []string, created []connectwise.NewContact, cos []connectwise.NewCompany, tix []connectwise.NewTicket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...),
		append([]connectwise.NewContact(nil), f.created...),
		append([]connectwise.NewCompany(nil), f.newCos...),
		append([]connectwise.NewTicket(nil), f.newTix...)
}

func (f *fakeCW) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeCW) ListContacts(context.Context, int, int) ([]connectwise.Contact, error) {
	return nil, nil
}

func (f *fakeCW) GetContact(_ context.Context, id int64) (*connectwise.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, eris.Wrapf(connectwise.ErrNotFound, "contact %d", id)
	}
	return &c, nil
}

func (f *fakeCW) AddPhoneToContact(_ context.Context, contactID int64, phone, phoneType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.added = append(f.added, phone+"/"+phoneType)
	return nil
}

func (f *fakeCW) CreateContact(_ context.Context, in connectwise.NewContact) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.created = append(f.created, in)
	return f.id(), nil
}

func (f *fakeCW) SearchCompanies(_ context.Context, q string, _ int) ([]connectwise.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []connectwise.Company
	for _, c := range f.companies {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(q)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCW) GetCompany(_ context.Context, id int64) (*connectwise.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	c, ok := f.companies[id]
	if !ok {
		return nil, eris.Wrapf(connectwise.ErrNotFound, "company %d", id)
	}
	return &c, nil
}

func (f *fakeCW) GetCompanyContacts(_ context.Context, id int64) ([]connectwise.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []connectwise.Contact
	for _, c := range f.contacts {
		if c.Company != nil && c.Company.ID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCW) CreateCompanyAndContact(_ context.Context, in connectwise.NewCompany) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, 0, f.failWith
	}
	f.newCos = append(f.newCos, in)
	return f.id(), f.id(), nil
}

func (f *fakeCW) ActivateCompanyFinance(context.Context, int64) error { return nil }

func (f *fakeCW) GetCompanyTickets(_ context.Context, id int64, _ string, _ int) ([]connectwise.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[id], nil
}

func (f *fakeCW) CreateTicket(_ context.Context, in connectwise.NewTicket) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.newTix = append(f.newTix, in)
	return f.id(), nil
}

func (f *fakeCW) GetMemberByName(_ context.Context, first, last string) (*connectwise.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.FirstName == first && m.LastName == last {
			return &m, nil
		}
	}
	return nil, eris.Wrapf(connectwise.ErrNotFound, "member %s %s", first, last)
}

func (f *fakeCW) GetAllMembers(context.Context) ([]connectwise.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectwise.Member(nil), f.members...), nil
}

func (f *fakeCW) GetMemberTickets(_ context.Context, identifier, _ string, _ int) ([]connectwise.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.memberTix[identifier], nil
}

var _ connectwise.Client = (*fakeCW)(nil)

type fakeSyncer struct {
	mu    sync.Mutex
	calls []model.SyncType
	err   error
}

func (f *fakeSyncer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSyncer) Calls() []model.SyncType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SyncType(nil), f.calls...)
}

func (f *fakeSyncer) Trigger(_ context.Context, t model.SyncType) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, t)
	return int64(len(f.calls)), nil
}

type testEnv struct {
	store  *store.SQLiteStore
	cw     *fakeCW
	syncer *fakeSyncer
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	cw := newFakeCW()
	syncer := &fakeSyncer{}
	dir := screenpop.NewDirectory(st, cw,
		map[string]model.PersonName{"2002": {First: "Fox", Last: "Mulder"}},
		nil,
	)
	s := NewServer(st, cw, syncer, dir, Options{
		SyncInterval:    4 * time.Hour,
		ConnectWiseURL:  "https://cw.example.test/v4_6_release/apis/3.0",
		NilearURL:       "https://mtx.link",
		NilearTicketURL: "https://app.nilear.com/mtx",
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{store: st, cw: cw, syncer: syncer, srv: srv}
}

// noRedirect is an http.Client that reports redirects instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := noRedirect.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func (e *testEnv) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := noRedirect.PostForm(e.srv.URL+path, form)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func (e *testEnv) seed(t *testing.T, companyID int64, company string, contactID int64, contact string) {
	t.Helper()
	require.NoError(t, e.store.Upsert(context.Background(), model.UpsertParams{
		PhoneNumber:     "(408) 451-1400",
		NormalizedPhone: "4084511400",
		CompanyID:       companyID,
		CompanyName:     company,
		ContactID:       model.Int64Ptr(contactID),
		ContactName:     contact,
		ContactType:     model.ContactTypeDirect,
	}))
}

var errUpstream = errors.New("connectwise: unexpected status 503")

var _ Syncer = (*phonesync.Scheduler)(nil)
