package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todowithcouchbase/cbsetup/internal/config"
)

// capturedRequest is what a test server saw.
type capturedRequest struct {
	method      string
	path        string
	contentType string
	form        url.Values
	user        string
	pass        string
	hasAuth     bool
}

// recorder is an httptest handler that records every request and answers
// with status and body.
type recorder struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(raw))
	user, pass, ok := r.BasicAuth()

	rec.mu.Lock()
	rec.requests = append(rec.requests, capturedRequest{
		method:      r.Method,
		path:        r.URL.Path,
		contentType: r.Header.Get("Content-Type"),
		form:        form,
		user:        user,
		pass:        pass,
		hasAuth:     ok,
	})
	rec.mu.Unlock()

	w.WriteHeader(rec.status)
	_, _ = io.WriteString(w, rec.body)
}

func (rec *recorder) last(t *testing.T) capturedRequest {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.requests)
	return rec.requests[len(rec.requests)-1]
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.requests)
}

// fixedHandler returns a handler that responds with statusCode to every
// request.
func fixedHandler(statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statusCode)
	}
}

// testCouchbaseConfig points both ports at srv.
func testCouchbaseConfig(t *testing.T, srv *httptest.Server) config.CouchbaseConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return config.CouchbaseConfig{
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
}

func testBootstrapConfig() config.BootstrapConfig {
	return config.BootstrapConfig{
		PollInterval:   5 * time.Second,
		ProbeTimeout:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// makeAdminClient constructs an AdminClient wired to the given test server.
func makeAdminClient(t *testing.T, srv *httptest.Server, cbName string) *AdminClient {
	t.Helper()
	client := NewAdminClient(testCouchbaseConfig(t, srv), testBootstrapConfig(), NewCircuitBreaker(cbName))
	client.httpDo = srv.Client().Do
	return client
}

func TestNewAdminClient(t *testing.T) {
	t.Parallel()

	cfg := config.CouchbaseConfig{
		Host:          "couchbase",
		AdminUsername: "admin",
		AdminPassword: "secret",
		Bucket:        "tasks",
		AdminPort:     18091,
		QueryPort:     18093,
	}
	client := NewAdminClient(cfg, testBootstrapConfig(), NewCircuitBreaker("new-admin-test"))

	assert.Equal(t, "http://couchbase:18091", client.baseURL)
	assert.Equal(t, "admin", client.creds.username)
	assert.Equal(t, "tasks", client.bucket)
	assert.NotNil(t, client.httpDo)
}

func TestCheckUI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ready", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{status: tc.status}
			srv := httptest.NewServer(rec)
			defer srv.Close()

			client := makeAdminClient(t, srv, "check-ui-"+tc.name)
			err := client.CheckUI(context.Background())

			req := rec.last(t)
			assert.Equal(t, http.MethodGet, req.method)
			assert.Equal(t, "/ui/index.html", req.path)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "HTTP "+strconv.Itoa(tc.status))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckUI_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(fixedHandler(http.StatusOK))
	client := makeAdminClient(t, srv, "check-ui-unreachable")
	srv.Close()

	err := client.CheckUI(context.Background())
	require.Error(t, err)
}

func TestInitCluster_SendsClusterSettings(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusOK, body: "[]"}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeAdminClient(t, srv, "init-cluster")
	resp, err := client.InitCluster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", resp.Body)

	req := rec.last(t)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/clusterInit", req.path)
	assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
	assert.False(t, req.hasAuth, "a fresh node has no credentials yet")
	assert.Equal(t, "Administrator", req.form.Get("username"))
	assert.Equal(t, "123456", req.form.Get("password"))
	assert.Equal(t, "kv,n1ql,index,fts", req.form.Get("services"))
	assert.Equal(t, "SAME", req.form.Get("port"))
	assert.Equal(t, "plasma", req.form.Get("indexerStorageMode"))
	_, hasQuota := req.form["memoryQuota"]
	assert.False(t, hasQuota, "quota is left to the server when unset")
}

func TestInitCluster_OptionalQuotas(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusOK}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := testCouchbaseConfig(t, srv)
	cfg.MemoryQuotaMB = 512
	cfg.IndexMemoryQuotaMB = 256
	client := NewAdminClient(cfg, testBootstrapConfig(), NewCircuitBreaker("init-cluster-quotas"))
	client.httpDo = srv.Client().Do

	_, err := client.InitCluster(context.Background())
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, "512", req.form.Get("memoryQuota"))
	assert.Equal(t, "256", req.form.Get("indexMemoryQuota"))
}

func TestInitCluster_AlreadyInitialized(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusBadRequest, body: `{"errors":["Cluster is already initialized"]}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeAdminClient(t, srv, "init-cluster-initialized")
	resp, err := client.InitCluster(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Body, "already initialized")
	assert.NotContains(t, err.Error(), "already initialized", "the body stays out of the error message")
}

func TestCreateBucket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "ok is not accepted", status: http.StatusOK, wantErr: true},
		{name: "bucket exists", status: http.StatusBadRequest, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := &recorder{status: tc.status}
			srv := httptest.NewServer(rec)
			defer srv.Close()

			client := makeAdminClient(t, srv, "create-bucket-"+tc.name)
			resp, err := client.CreateBucket(context.Background())
			assert.Equal(t, tc.status, resp.StatusCode)

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			req := rec.last(t)
			assert.Equal(t, http.MethodPost, req.method)
			assert.Equal(t, "/pools/default/buckets", req.path)
			assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
			assert.True(t, req.hasAuth)
			assert.Equal(t, "Administrator", req.user)
			assert.Equal(t, "123456", req.pass)
			assert.Equal(t, "todo_list", req.form.Get("name"))
			assert.Equal(t, "couchbase", req.form.Get("bucketType"))
			assert.Equal(t, "256", req.form.Get("ramQuotaMB"))
		})
	}
}

func TestAdminClient_UsesConfiguredCredentials(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusAccepted}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := testCouchbaseConfig(t, srv)
	cfg.AdminUsername = "ops"
	cfg.AdminPassword = "s3cret"
	cfg.Bucket = "tasks_prod"
	client := NewAdminClient(cfg, testBootstrapConfig(), NewCircuitBreaker("admin-creds"))
	client.httpDo = srv.Client().Do

	_, err := client.CreateBucket(context.Background())
	require.NoError(t, err)

	req := rec.last(t)
	assert.Equal(t, "ops", req.user)
	assert.Equal(t, "s3cret", req.pass)
	assert.Equal(t, "tasks_prod", req.form.Get("name"))
}

func TestAdminProbe_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/ui/index.html" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := makeAdminClient(t, srv, "admin-probe-ok")
	result := client.Probe(context.Background())

	assert.Equal(t, adminProbeName, result.Name)
	assert.True(t, result.OK)
	assert.Empty(t, result.Error)
}

func TestAdminProbe_CircuitOpenAfterThreeFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(fixedHandler(http.StatusServiceUnavailable))
	defer srv.Close()

	client := makeAdminClient(t, srv, "admin-probe-cb-open")

	for i := range 3 {
		result := client.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", result.Error,
			"probe %d should not be circuit-open yet", i+1)
	}

	result := client.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)
}

// TestCheckUI_BypassesCircuitBreaker verifies readiness polling keeps reaching
// the server after the probe breaker has tripped.
func TestCheckUI_BypassesCircuitBreaker(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeAdminClient(t, srv, "admin-bypass-cb")
	for range 3 {
		client.Probe(context.Background())
	}
	require.Equal(t, "circuit open", client.Probe(context.Background()).Error)

	before := rec.count()
	for range 5 {
		err := client.CheckUI(context.Background())
		require.Error(t, err)
		assert.False(t, strings.Contains(err.Error(), "circuit open"))
	}
	assert.Equal(t, before+5, rec.count())
}
