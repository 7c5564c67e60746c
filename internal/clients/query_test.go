package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeQueryClient constructs a QueryClient wired to the given test server.
func makeQueryClient(t *testing.T, srv *httptest.Server, cbName string) *QueryClient {
	t.Helper()
	client := NewQueryClient(testCouchbaseConfig(t, srv), testBootstrapConfig(), NewCircuitBreaker(cbName))
	client.httpDo = srv.Client().Do
	return client
}

func TestPing(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusOK}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeQueryClient(t, srv, "query-ping")
	require.NoError(t, client.Ping(context.Background()))

	req := rec.last(t)
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/admin/ping", req.path)
}

func TestPing_NotReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(fixedHandler(http.StatusServiceUnavailable))
	defer srv.Close()

	client := makeQueryClient(t, srv, "query-ping-not-ready")
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestExecute_PostsStatement(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusOK, body: `{"status":"success"}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeQueryClient(t, srv, "execute")
	stmt := "CREATE SCOPE `todo_list`.`user-scope`"
	resp, err := client.Execute(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"status":"success"}`, resp.Body)

	req := rec.last(t)
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/query/service", req.path)
	assert.Equal(t, "application/x-www-form-urlencoded", req.contentType)
	assert.Equal(t, stmt, req.form.Get("statement"))
	assert.True(t, req.hasAuth)
	assert.Equal(t, "Administrator", req.user)
	assert.Equal(t, "123456", req.pass)
}

func TestQueryClient_UsesConfiguredCredentials(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusOK, body: `{"status":"success"}`}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	cfg := testCouchbaseConfig(t, srv)
	cfg.AdminUsername = "ops"
	cfg.AdminPassword = "s3cret"
	cfg.Bucket = "tasks_prod"
	client := NewQueryClient(cfg, testBootstrapConfig(), NewCircuitBreaker("query-creds"))
	client.httpDo = srv.Client().Do

	stmt := "CREATE SCOPE `tasks_prod`.`user-scope`"
	_, err := client.Execute(context.Background(), stmt)
	require.NoError(t, err)

	req := rec.last(t)
	assert.True(t, req.hasAuth)
	assert.Equal(t, "ops", req.user)
	assert.Equal(t, "s3cret", req.pass)
	assert.Equal(t, stmt, req.form.Get("statement"))
}

func TestExecute_ErrorKeepsBody(t *testing.T) {
	t.Parallel()

	body := `{"errors":[{"code":12003,"msg":"Keyspace not found"}],"status":"fatal"}`
	srv := httptest.NewServer(&recorder{status: http.StatusInternalServerError, body: body})
	defer srv.Close()

	client := makeQueryClient(t, srv, "execute-error")
	resp, err := client.Execute(context.Background(), "CREATE PRIMARY INDEX `primary_index` ON `todo_list`")

	require.Error(t, err)
	assert.Equal(t, "execute returned HTTP 500", err.Error())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, body, resp.Body)
}

func TestExecute_EachCallIsOneRequest(t *testing.T) {
	t.Parallel()

	rec := &recorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client := makeQueryClient(t, srv, "execute-once")
	for range 4 {
		_, err := client.Execute(context.Background(), "CREATE SCOPE `todo_list`.`log-scope`")
		require.Error(t, err)
	}
	assert.Equal(t, 4, rec.count(), "failed statements are never retried")
}

func TestQueryProbe(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(fixedHandler(http.StatusOK))
		defer srv.Close()

		result := makeQueryClient(t, srv, "query-probe-ok").Probe(context.Background())
		assert.Equal(t, queryProbeName, result.Name)
		assert.True(t, result.OK)
	})

	t.Run("circuit opens after three failures", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(fixedHandler(http.StatusServiceUnavailable))
		defer srv.Close()

		client := makeQueryClient(t, srv, "query-probe-cb-open")
		for i := range 3 {
			result := client.Probe(context.Background())
			assert.False(t, result.OK, "probe %d should fail", i+1)
		}
		result := client.Probe(context.Background())
		assert.False(t, result.OK)
		assert.Equal(t, "circuit open", result.Error)
	})
}
