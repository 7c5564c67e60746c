package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/orchestrator"
)

const queryProbeName = "couchbase-query"

// QueryClient submits N1QL statements to the query service.
type QueryClient struct {
	baseURL  string
	queryURL string
	creds    credentials

	probeTimeout   time.Duration
	requestTimeout time.Duration

	cb     *gobreaker.CircuitBreaker
	httpDo doFunc
}

// NewQueryClient constructs a QueryClient. No HTTP calls are made at
// construction time.
func NewQueryClient(cfg config.CouchbaseConfig, bcfg config.BootstrapConfig, cb *gobreaker.CircuitBreaker) *QueryClient {
	return &QueryClient{
		baseURL:        cfg.QueryBaseURL(),
		queryURL:       cfg.QueryURL(),
		creds:          credentials{username: cfg.AdminUsername, password: cfg.AdminPassword},
		probeTimeout:   bcfg.ProbeTimeout,
		requestTimeout: bcfg.RequestTimeout,
		cb:             cb,
		httpDo:         http.DefaultClient.Do,
	}
}

// Ping returns nil once the query service answers its ping endpoint.
func (c *QueryClient) Ping(ctx context.Context) error {
	_, err := send(ctx, c.httpDo, request{
		op:      "query-ping",
		method:  http.MethodGet,
		url:     c.baseURL + "/admin/ping",
		timeout: c.probeTimeout,
		expect:  http.StatusOK,
	})
	return err
}

// Execute runs a single statement. Anything but HTTP 200 is an error; the
// response body carries the query service's error list.
func (c *QueryClient) Execute(ctx context.Context, statement string) (orchestrator.APIResponse, error) {
	return send(ctx, c.httpDo, request{
		op:      "execute",
		method:  http.MethodPost,
		url:     c.queryURL,
		form:    url.Values{"statement": {statement}},
		auth:    &c.creds,
		timeout: c.requestTimeout,
		expect:  http.StatusOK,
	})
}

// Probe checks that the query service is reachable.
func (c *QueryClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.Ping(ctx)
	})

	return probeResult(queryProbeName, start, err)
}
