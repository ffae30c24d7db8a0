package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
	"github.com/ledgerhound/ledgerhound/internal/partnerapi"
	"github.com/ledgerhound/ledgerhound/internal/store"
	"github.com/ledgerhound/ledgerhound/internal/vault"
)

// fixture wires a real store, a real vault, and a syncer pointed at the
// given test server, with one registered credential.
type fixture struct {
	db     *store.DB
	vault  *vault.Vault
	syncer *Syncer
	credID string
}

func newFixture(t *testing.T, serverURL string) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := vault.Open(dir)
	require.NoError(t, err)

	credID, err := v.Register("sk-test-secret")
	require.NoError(t, err)
	require.NoError(t, db.AddCredential(context.Background(), ledger.Credential{
		ID:       credID,
		LastFour: ledger.Fingerprint("sk-test-secret"),
	}))

	s := New(db, partnerapi.New(serverURL), v, zap.NewNop())
	// Keep test retries fast.
	s.retry.MaxAttempts = 2
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond

	return &fixture{db: db, vault: v, syncer: s, credID: credID}
}

// salesPage renders a single-page detail response with one line per country.
func salesPage(date string, countries ...string) string {
	var lines []string
	for _, c := range countries {
		lines = append(lines, fmt.Sprintf(`{
			"date":%q,"line_item_type":"Package","country_code":%q,
			"primary_appid":480,"packageid":1234,"currency":"USD",
			"net_units_sold":2,"net_sales_usd":"19.98"
		}`, date, c))
	}
	return fmt.Sprintf(`{"response":{
		"results":[%s],
		"max_id":"0",
		"app_info":[{"appid":480,"app_name":"Example Game"}]
	}}`, strings.Join(lines, ","))
}

func TestRun_EndToEnd(t *testing.T) {
	var discoveries atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			discoveries.Add(1)
			if r.URL.Query().Get("highwatermark") == "0" {
				fmt.Fprint(w, `{"response":{"dates":["2024-01-01","2024-01-02"],"result_highwatermark":"100"}}`)
			} else {
				// Caught up.
				fmt.Fprint(w, `{"response":{"dates":[],"result_highwatermark":100}}`)
			}
		case strings.Contains(r.URL.Path, "GetDetailedSales"):
			fmt.Fprint(w, salesPage(r.URL.Query().Get("date"), "US", "DE"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	res, err := fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DatesProcessed)
	assert.Zero(t, res.DatesFailed)
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, int64(100), res.Watermark)

	// Facts landed, watermark persisted, tasks done.
	facts, err := fx.db.GetFacts(ctx, ledger.Filter{CredentialID: fx.credID})
	require.NoError(t, err)
	assert.Len(t, facts, 4)

	w, err := fx.db.GetWatermark(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w)

	counts, err := fx.db.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[store.TaskDone])

	// Second run resumes from the persisted watermark and fetches nothing.
	res, err = fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Zero(t, res.DatesProcessed)
	assert.Zero(t, res.Records)
	assert.Equal(t, int64(2), discoveries.Load())
}

func TestRun_ReRunIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			// Same date reported changed on every discovery.
			fmt.Fprint(w, `{"response":{"dates":["2024-01-01"],"result_highwatermark":"7"}}`)
		default:
			fmt.Fprint(w, salesPage("2024-01-01", "US"))
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.syncer.Run(ctx, fx.credID)
		require.NoError(t, err)
	}

	// Identity keys collapse the repeats to a single row.
	facts, err := fx.db.GetFacts(ctx, ledger.Filter{CredentialID: fx.credID})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestRun_FailedDateStaysQueued(t *testing.T) {
	var failDate = "2024-01-02"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			fmt.Fprint(w, `{"response":{"dates":["2024-01-01","2024-01-02"],"result_highwatermark":"50"}}`)
		case r.URL.Query().Get("date") == failDate:
			http.Error(w, "upstream sad", http.StatusBadGateway)
		default:
			fmt.Fprint(w, salesPage(r.URL.Query().Get("date"), "US"))
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	res, err := fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DatesProcessed)
	assert.Equal(t, 1, res.DatesFailed)

	// Watermark advanced anyway: the failed date lives on as a task.
	w, err := fx.db.GetWatermark(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), w)

	pending, err := fx.db.Pending(ctx, fx.credID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failDate, pending[0].Date)

	// Upstream recovers; the pending task drains on the next run even
	// though discovery no longer mentions the date.
	failDate = ""
	res, err = fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DatesProcessed) // recovered date + re-discovered 2024-01-01

	pending, err = fx.db.Pending(ctx, fx.credID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_RecoversCrashedTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			fmt.Fprint(w, `{"response":{"dates":[],"result_highwatermark":"9"}}`)
		default:
			fmt.Fprint(w, salesPage(r.URL.Query().Get("date"), "US"))
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	// A previous process enqueued and claimed a task, then died.
	require.NoError(t, fx.db.CreateTasks(ctx, fx.credID, []string{"2024-01-01"}))
	require.NoError(t, fx.db.Claim(ctx, store.TaskID(fx.credID, "2024-01-01")))

	// Startup recovery, then a run with an empty discovery.
	n, err := fx.db.ResetStuck(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	res, err := fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DatesProcessed)

	facts, err := fx.db.GetFacts(ctx, ledger.Filter{CredentialID: fx.credID})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestRun_PendingDrainsBeforeDiscoveredDates(t *testing.T) {
	var mu sync.Mutex
	var fetchOrder []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			fmt.Fprint(w, `{"response":{"dates":["2024-01-01"],"result_highwatermark":"30"}}`)
		default:
			date := r.URL.Query().Get("date")
			mu.Lock()
			fetchOrder = append(fetchOrder, date)
			mu.Unlock()
			fmt.Fprint(w, salesPage(date, "US"))
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	// A crashed run left a claimed task for a later calendar day; startup
	// recovery returns it to the queue.
	require.NoError(t, fx.db.CreateTasks(ctx, fx.credID, []string{"2024-01-05"}))
	require.NoError(t, fx.db.Claim(ctx, store.TaskID(fx.credID, "2024-01-05")))
	_, err := fx.db.ResetStuck(ctx)
	require.NoError(t, err)

	res, err := fx.syncer.Run(ctx, fx.credID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DatesProcessed)

	// The recovered task runs before the newly discovered date, even
	// though the discovered day sorts earlier on the calendar.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"2024-01-05", "2024-01-01"}, fetchOrder)
}

func TestRunAll_SyncsEveryCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "GetChangedDatesForPartner"):
			fmt.Fprint(w, `{"response":{"dates":["2024-01-01"],"result_highwatermark":"3"}}`)
		default:
			fmt.Fprint(w, salesPage("2024-01-01", "US"))
		}
	}))
	defer srv.Close()

	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	// Second credential alongside the fixture's.
	otherID, err := fx.vault.Register("sk-other")
	require.NoError(t, err)
	require.NoError(t, fx.db.AddCredential(ctx, ledger.Credential{
		ID: otherID, LastFour: ledger.Fingerprint("sk-other"),
	}))

	results, err := fx.syncer.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Same remote rows, but scoped per credential: two distinct facts.
	facts, err := fx.db.GetFacts(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, facts, 2)
}

func TestOrderDates_NewFirstThenAscending(t *testing.T) {
	dates := map[string]struct{}{
		"2024-01-03": {},
		"2024-01-01": {},
		"2024-01-04": {},
		"2024-01-02": {},
	}
	existing := map[string]struct{}{
		"2024-01-01": {},
		"2024-01-03": {},
	}
	got := orderDates(dates, existing)
	assert.Equal(t, []string{"2024-01-02", "2024-01-04", "2024-01-01", "2024-01-03"}, got)
}
