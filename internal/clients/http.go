package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"todowithcouchbase/cbsetup/internal/metrics"
	"todowithcouchbase/cbsetup/internal/orchestrator"
)

// maxBodyBytes caps how much of a response body is kept for logging.
const maxBodyBytes = 64 << 10

// doFunc is the signature of http.Client.Do; tests swap in an httptest client.
type doFunc func(req *http.Request) (*http.Response, error)

// credentials are sent as HTTP basic auth when non-nil.
type credentials struct {
	username string
	password string
}

// APIError reports a response whose status code was not the expected one.
// The body is kept on the APIResponse, not in the error message.
type APIError struct {
	Op         string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.Op, e.StatusCode)
}

// request describes one REST call against the cluster.
type request struct {
	op      string
	method  string
	url     string
	form    url.Values
	auth    *credentials
	timeout time.Duration
	expect  int
}

// send issues r and returns what the server answered. A transport failure
// yields a zero StatusCode; an unexpected status yields an *APIError together
// with the response so callers can log the body.
func send(ctx context.Context, do doFunc, r request) (orchestrator.APIResponse, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return orchestrator.APIResponse{}, fmt.Errorf("building request for %s: %w", r.op, err)
	}
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if r.auth != nil {
		req.SetBasicAuth(r.auth.username, r.auth.password)
	}

	start := time.Now()
	resp, err := do(req)
	if err != nil {
		metrics.RecordAPICall(r.op, "error", time.Since(start).Seconds())
		return orchestrator.APIResponse{}, fmt.Errorf("%s %s: %w", r.method, r.op, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	out := orchestrator.APIResponse{StatusCode: resp.StatusCode, Body: string(raw)}

	if resp.StatusCode != r.expect {
		metrics.RecordAPICall(r.op, "error", time.Since(start).Seconds())
		return out, &APIError{Op: r.op, StatusCode: resp.StatusCode}
	}
	metrics.RecordAPICall(r.op, "ok", time.Since(start).Seconds())

	if readErr != nil {
		return out, fmt.Errorf("reading %s response: %w", r.op, readErr)
	}
	return out, nil
}
