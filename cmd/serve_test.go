package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screenpop/internal/config"
	"github.com/sells-group/screenpop/internal/model"
)

// fakeConnectWise serves a one-contact listing; the short first page ends the sync.
func fakeConnectWise(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/company/contacts" {
			http.NotFound(w, r)
			return
		}
		pages.Add(1)
		fmt.Fprint(w, `[{"id":5,"firstName":"Pat","lastName":"Doe",
			"company":{"id":10,"name":"Acme"},
			"communicationItems":[{"type":{"name":"Direct"},"value":"(408) 451-1400","communicationType":"Phone"}]}]`)
	}))
	t.Cleanup(srv.Close)
	return srv, &pages
}

func testConfig(t *testing.T, cwURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "cache.db")},
		ConnectWise: config.ConnectWiseConfig{
			BaseURL: cwURL, CompanyID: "acme", PublicKey: "pub", PrivateKey: "priv", ClientID: "client",
		},
		Nilear: config.NilearConfig{BaseURL: "https://mtx.link", TicketURL: "https://app.nilear.com/mtx"},
		Sync:   config.SyncConfig{IntervalHours: 4, PageSize: 100, MaxPages: 5, RetryBackoffSecs: 1},
		Server: config.ServerConfig{ShutdownTimeoutSecs: 5},
	}
}

func TestApp_ServeLifecycle(t *testing.T) {
	cw, pages := fakeConnectWise(t)
	c := testConfig(t, cw.URL)

	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- newApp(c, st, newConnectWise(c.ConnectWise)).serve(ctx, ln) }()

	// The empty cache triggers an initial sync at startup.
	require.Eventually(t, func() bool {
		recs, err := st.Lookup(context.Background(), "4084511400")
		return err == nil && len(recs) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), pages.Load())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "healthy", health["status"])

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = noFollow.Get(base + "/screenpop?phone=4084511400")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/company/10", resp.Header.Get("Location"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	runs, err := st.ListSyncRuns(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, model.SyncTypeInitial, runs[len(runs)-1].SyncType)
	assert.Equal(t, model.SyncStatusCompleted, runs[len(runs)-1].Status)
}

func TestNewApp_DefaultShutdown(t *testing.T) {
	c := testConfig(t, "https://cw.example.test")
	c.Server.ShutdownTimeoutSecs = 0

	st, err := openStore(context.Background(), c.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	a := newApp(c, st, newConnectWise(c.ConnectWise))
	assert.Equal(t, 15*time.Second, a.shutdown)
	require.NoError(t, a.scheduler.Stop(time.Second))
}
