package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/partnerapi"
	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/syncer"
	"github.com/ledgerhound/ledgerhound/internal/vault"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			fmt.Fprint(w, `{"response":{"dates":["2024-01-01"],"result_highwatermark":"5"}}`)
		default:
			fmt.Fprintf(w, `{"response":{
				"results":[{"date":%q,"line_item_type":"Package","country_code":"US",
					"primary_appid":480,"currency":"USD","net_units_sold":1,"net_sales_usd":"9.99"}],
				"max_id":"0"
			}}`, r.URL.Query().Get("date"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDaemon_SyncsOnStartAndVaultChange(t *testing.T) {
	srv := testServer(t)
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := vault.Open(dir)
	require.NoError(t, err)

	s := syncer.New(db, partnerapi.New(srv.URL), v, zap.NewNop())
	d, err := New(db, s, v, Config{Schedule: "@every 1h", Debounce: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// No credentials yet: the startup run syncs nothing.
	// Registering one rewrites the vault container, which the watcher
	// picks up and, after the debounce, triggers a run.
	time.Sleep(200 * time.Millisecond)
	credID, err := v.Register("sk-test")
	require.NoError(t, err)
	require.NoError(t, db.AddCredential(context.Background(), ledger.Credential{
		ID: credID, LastFour: ledger.Fingerprint("sk-test"),
	}))
	// Rewrite the container once more so a debounce window that fired
	// between Register and AddCredential still ends in a triggered run.
	require.NoError(t, v.Put(credID, "sk-test"))

	require.Eventually(t, func() bool {
		facts, err := db.GetFacts(context.Background(), ledger.Filter{CredentialID: credID})
		return err == nil && len(facts) == 1
	}, 5*time.Second, 50*time.Millisecond, "vault change should trigger a sync")

	d.Stop()
	require.NoError(t, <-done)
}

func TestDaemon_StopIsSafeFromAnywhere(t *testing.T) {
	srv := testServer(t)
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := vault.Open(dir)
	require.NoError(t, err)

	s := syncer.New(db, partnerapi.New(srv.URL), v, zap.NewNop())
	d, err := New(db, s, v, Config{}, zap.NewNop())
	require.NoError(t, err)

	// Stop before Start, concurrently with Start, and repeatedly: all must
	// be harmless, and Start must still return.
	d.Stop()
	go d.Stop()

	done := make(chan error, 1)
	go func() { done <- d.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
	d.Stop()
}

func TestDaemon_RecoversStuckTasksOnStart(t *testing.T) {
	srv := testServer(t)
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := vault.Open(dir)
	require.NoError(t, err)

	credID, err := v.Register("sk-test")
	require.NoError(t, err)
	require.NoError(t, db.AddCredential(context.Background(), ledger.Credential{
		ID: credID, LastFour: ledger.Fingerprint("sk-test"),
	}))

	// A crashed run left a claimed task behind.
	require.NoError(t, db.CreateTasks(context.Background(), credID, []string{"2023-12-31"}))
	require.NoError(t, db.Claim(context.Background(), store.TaskID(credID, "2023-12-31")))

	s := syncer.New(db, partnerapi.New(srv.URL), v, zap.NewNop())
	d, err := New(db, s, v, Config{Schedule: "@every 1h", Debounce: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Startup resets the stuck task and the first run drains it along
	// with the discovered date.
	require.Eventually(t, func() bool {
		counts, err := db.CountByStatus(context.Background())
		return err == nil && counts[store.TaskDone] == 2 && counts[store.TaskInProgress] == 0
	}, 5*time.Second, 50*time.Millisecond)

	d.Stop()
	require.NoError(t, <-done)

	facts, err := db.GetFacts(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, facts, 2) // 2023-12-31 and 2024-01-01
}
