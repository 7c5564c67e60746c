package clients

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"todowithcouchbase/cbsetup/internal/config"
	"todowithcouchbase/cbsetup/internal/orchestrator"
)

const adminProbeName = "couchbase-admin"

// AdminClient talks to the cluster management REST API on the admin port.
// Only Probe goes through the circuit breaker: readiness polling and create
// calls must reach the server every time.
type AdminClient struct {
	baseURL string
	creds   credentials

	services           string
	indexerStorageMode string
	memoryQuotaMB      int
	indexMemoryQuotaMB int

	bucket           string
	bucketType       string
	bucketRAMQuotaMB int

	probeTimeout   time.Duration
	requestTimeout time.Duration

	cb     *gobreaker.CircuitBreaker
	httpDo doFunc
}

// NewAdminClient constructs an AdminClient. No HTTP calls are made at
// construction time.
func NewAdminClient(cfg config.CouchbaseConfig, bcfg config.BootstrapConfig, cb *gobreaker.CircuitBreaker) *AdminClient {
	return &AdminClient{
		baseURL:            cfg.BaseURL(),
		creds:              credentials{username: cfg.AdminUsername, password: cfg.AdminPassword},
		services:           cfg.Services,
		indexerStorageMode: cfg.IndexerStorageMode,
		memoryQuotaMB:      cfg.MemoryQuotaMB,
		indexMemoryQuotaMB: cfg.IndexMemoryQuotaMB,
		bucket:             cfg.Bucket,
		bucketType:         cfg.BucketType,
		bucketRAMQuotaMB:   cfg.BucketRAMQuotaMB,
		probeTimeout:       bcfg.ProbeTimeout,
		requestTimeout:     bcfg.RequestTimeout,
		cb:                 cb,
		httpDo:             http.DefaultClient.Do,
	}
}

// CheckUI fetches the admin console page. Any outcome other than HTTP 200 is
// reported as an error so the caller keeps waiting.
func (c *AdminClient) CheckUI(ctx context.Context) error {
	_, err := send(ctx, c.httpDo, request{
		op:      "check-ui",
		method:  http.MethodGet,
		url:     c.baseURL + "/ui/index.html",
		timeout: c.probeTimeout,
		expect:  http.StatusOK,
	})
	return err
}

// InitCluster sets the administrator credentials, enabled services and
// indexer storage mode of a fresh node in a single call. The node is not
// secured yet, so no auth is sent.
func (c *AdminClient) InitCluster(ctx context.Context) (orchestrator.APIResponse, error) {
	form := url.Values{
		"username":           {c.creds.username},
		"password":           {c.creds.password},
		"services":           {c.services},
		"port":               {"SAME"},
		"indexerStorageMode": {c.indexerStorageMode},
	}
	if c.memoryQuotaMB > 0 {
		form.Set("memoryQuota", strconv.Itoa(c.memoryQuotaMB))
	}
	if c.indexMemoryQuotaMB > 0 {
		form.Set("indexMemoryQuota", strconv.Itoa(c.indexMemoryQuotaMB))
	}

	return send(ctx, c.httpDo, request{
		op:      "init-cluster",
		method:  http.MethodPost,
		url:     c.baseURL + "/clusterInit",
		form:    form,
		timeout: c.requestTimeout,
		expect:  http.StatusOK,
	})
}

// CreateBucket creates the configured bucket. The server answers 202 because
// bucket creation completes asynchronously.
func (c *AdminClient) CreateBucket(ctx context.Context) (orchestrator.APIResponse, error) {
	return send(ctx, c.httpDo, request{
		op:     "create-bucket",
		method: http.MethodPost,
		url:    c.baseURL + "/pools/default/buckets",
		form: url.Values{
			"name":       {c.bucket},
			"bucketType": {c.bucketType},
			"ramQuotaMB": {strconv.Itoa(c.bucketRAMQuotaMB)},
		},
		auth:    &c.creds,
		timeout: c.requestTimeout,
		expect:  http.StatusAccepted,
	})
}

// Probe checks that the admin API is reachable.
func (c *AdminClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.CheckUI(ctx)
	})

	return probeResult(adminProbeName, start, err)
}

// probeResult converts a breaker-guarded call outcome into a ProbeResult.
func probeResult(name string, start time.Time, err error) orchestrator.ProbeResult {
	latency := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}

	return orchestrator.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}
