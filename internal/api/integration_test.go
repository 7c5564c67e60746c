package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"todowithcouchbase/cbsetup/internal/clients"
	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/orchestrator"
	"todowithcouchbase/cbsetup/internal/poll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCouchbase emulates the admin and query REST endpoints on one server.
// The admin console reports not-ready for the first uiFailures requests.
type fakeCouchbase struct {
	mu         sync.Mutex
	uiFailures int
	uiCalls    int
	statements []string
}

func (f *fakeCouchbase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ui/index.html":
		f.uiCalls++
		if f.uiCalls <= f.uiFailures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	case "/clusterInit":
		w.WriteHeader(http.StatusOK)
	case "/admin/ping":
		w.WriteHeader(http.StatusOK)
	case "/pools/default/buckets":
		w.WriteHeader(http.StatusAccepted)
	case "/query/service":
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.statements = append(f.statements, r.PostForm.Get("statement"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCouchbase) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

// newIntegrationOrchestrator wires real clients to srv with a fast poll loop.
func newIntegrationOrchestrator(t *testing.T, srv *httptest.Server) *orchestrator.Orchestrator {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.CouchbaseConfig{
		Host:               u.Hostname(),
		AdminUsername:      "Administrator",
		AdminPassword:      "123456",
		Bucket:             "todo_list",
		AdminPort:          port,
		QueryPort:          port,
		Services:           "kv,n1ql,index,fts",
		IndexerStorageMode: "plasma",
		BucketType:         "couchbase",
		BucketRAMQuotaMB:   256,
	}
	bcfg := config.BootstrapConfig{
		PollInterval:   10 * time.Millisecond,
		ProbeTimeout:   time.Second,
		RequestTimeout: time.Second,
	}

	admin := clients.NewAdminClient(cfg, bcfg, clients.NewCircuitBreaker(t.Name()+"-admin"))
	query := clients.NewQueryClient(cfg, bcfg, clients.NewCircuitBreaker(t.Name()+"-query"))
	return orchestrator.New(admin, query, cfg.Bucket, poll.WithInterval(bcfg.PollInterval))
}

// TestBootstrapFlow_202ThenReady verifies the full provisioning happy-path:
//  1. POST /api/v1/bootstrap returns 202 Accepted
//  2. GET /ready eventually returns 200 once the background run completes
//  3. GET /api/v1/bootstrap reports every step as ok
func TestBootstrapFlow_202ThenReady(t *testing.T) {
	t.Parallel()

	cb := &fakeCouchbase{uiFailures: 2}
	cbSrv := httptest.NewServer(cb)
	defer cbSrv.Close()

	o := newIntegrationOrchestrator(t, cbSrv)

	router := NewRouter(context.Background(), o, "cbsetup-test")
	srv := httptest.NewServer(router.Handler())
	defer srv.Close()

	client := srv.Client()

	resp, err := client.Post(srv.URL+"/api/v1/bootstrap", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "bootstrap should return 202 Accepted")

	var bootstrapBody map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bootstrapBody))
	assert.Equal(t, "accepted", bootstrapBody["status"])

	deadline := time.Now().Add(5 * time.Second)
	var lastCode int
	for time.Now().Before(deadline) {
		r, err := client.Get(srv.URL + "/ready")
		require.NoError(t, err)
		r.Body.Close()

		lastCode = r.StatusCode
		if lastCode == http.StatusOK {
			break
		}

		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, http.StatusOK, lastCode, "GET /ready should return 200 after provisioning completes")

	r, err := client.Get(srv.URL + "/api/v1/bootstrap")
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)

	var result orchestrator.RunResult
	require.NoError(t, json.NewDecoder(r.Body).Decode(&result))
	assert.Equal(t, orchestrator.StatusOK, result.Status)
	require.Len(t, result.Steps, 6)
	for _, s := range result.Steps {
		assert.Equal(t, orchestrator.StatusOK, s.Status, "step %s", s.Name)
	}
	wait, ok := result.Step(orchestrator.StepWaitForAdmin)
	require.True(t, ok)
	assert.Equal(t, 3, wait.Attempts)

	stmts := cb.executed()
	require.Len(t, stmts, 9)
	assert.Equal(t, "CREATE SCOPE `todo_list`.`user-scope`", stmts[0])
	assert.Equal(t, "CREATE PRIMARY INDEX `primary_index` ON `todo_list`", stmts[8])
}
