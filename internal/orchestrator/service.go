package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"todowithcouchbase/cbsetup/internal/metrics"
	"todowithcouchbase/cbsetup/internal/poll"
)

const tracerName = "cbsetup"

// ErrRunInProgress is returned by Run and Start while a provisioning run is
// already active on the same Orchestrator.
var ErrRunInProgress = errors.New("provisioning already in progress")

// AdminService is satisfied by *clients.AdminClient.
type AdminService interface {
	CheckUI(ctx context.Context) error
	InitCluster(ctx context.Context) (APIResponse, error)
	CreateBucket(ctx context.Context) (APIResponse, error)
	Probe(ctx context.Context) ProbeResult
}

// QueryService is satisfied by *clients.QueryClient.
type QueryService interface {
	Ping(ctx context.Context) error
	Execute(ctx context.Context, statement string) (APIResponse, error)
	Probe(ctx context.Context) ProbeResult
}

// Orchestrator runs the provisioning pipeline and health probes.
type Orchestrator struct {
	admin      AdminService
	query      QueryService
	bucket     string
	pollOpts   []poll.Option
	runTimeout time.Duration

	runInProgress atomic.Bool
	lastResult    *RunResult
	resultMu      sync.RWMutex
}

// New constructs an Orchestrator provisioning bucket through the given
// clients. pollOpts tune the two readiness waits.
func New(admin AdminService, query QueryService, bucket string, pollOpts ...poll.Option) *Orchestrator {
	return &Orchestrator{
		admin:    admin,
		query:    query,
		bucket:   bucket,
		pollOpts: pollOpts,
	}
}

// WithRunTimeout bounds every run started on o. Zero leaves runs unbounded.
func (o *Orchestrator) WithRunTimeout(d time.Duration) *Orchestrator {
	o.runTimeout = d
	return o
}

// step is one stage of the pipeline. A non-nil error aborts the remaining
// stages; it is only returned when ctx was cancelled or timed out.
type step struct {
	name string
	run  func(ctx context.Context) (StepResult, error)
}

// Run executes the six provisioning steps strictly in order. A failed create
// call is recorded in the RunResult and the pipeline moves on; only
// cancellation of ctx stops it early, in which case the remaining steps are
// reported as skipped and the error is returned alongside the partial result.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if !o.runInProgress.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	return o.run(ctx)
}

// Start claims the run slot synchronously and then runs the pipeline in the
// background. It returns ErrRunInProgress when another run holds the slot.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.runInProgress.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		_, _ = o.run(ctx) //nolint:errcheck // outcome is logged and kept in LastResult
	}()
	return nil
}

// run assumes the caller holds the run slot and releases it on return.
func (o *Orchestrator) run(ctx context.Context) (*RunResult, error) {
	defer o.runInProgress.Store(false)

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	result := &RunResult{
		Status: StatusInProgress,
		Bucket: o.bucket,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "cbsetup.provision",
		trace.WithAttributes(attribute.String("couchbase.bucket", o.bucket)))
	defer span.End()

	slog.InfoContext(ctx, "provisioning started", "bucket", o.bucket)

	steps := []step{
		{name: StepWaitForAdmin, run: o.waitForAdmin},
		{name: StepInitCluster, run: o.initCluster},
		{name: StepCreateBucket, run: o.createBucket},
		{name: StepCreateScopes, run: o.createScopes},
		{name: StepCreateCollections, run: o.createCollections},
		{name: StepCreateIndexes, run: o.createIndexes},
	}

	var runErr error
	for _, s := range steps {
		if runErr == nil && ctx.Err() != nil {
			runErr = fmt.Errorf("cancelled before %s: %w", s.name, ctx.Err())
		}
		if runErr != nil {
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StatusSkipped})
			metrics.RecordStep(s.name, StatusSkipped)
			continue
		}
		sr, err := o.runStep(ctx, s)
		result.Steps = append(result.Steps, sr)
		runErr = err
	}

	result.Status = StatusOK
	for _, s := range result.Steps {
		if s.Status != StatusOK {
			result.Status = StatusError
			break
		}
	}

	span.SetAttributes(attribute.String("provision.status", result.Status))
	switch {
	case runErr != nil:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "provisioning aborted")
		slog.ErrorContext(ctx, "provisioning aborted", "error", runErr)
	case result.Status == StatusError:
		span.SetStatus(codes.Error, "one or more provisioning steps failed")
		slog.WarnContext(ctx, "provisioning completed with errors", "status", result.Status)
	default:
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "provisioning completed", "status", result.Status)
	}

	// Publish the result and clear the flag together so a reader that sees the
	// result never sees the run as still active.
	o.resultMu.Lock()
	o.lastResult = result
	o.runInProgress.Store(false)
	o.resultMu.Unlock()

	if runErr != nil {
		return result, fmt.Errorf("provisioning aborted: %w", runErr)
	}
	return result, nil
}

func (o *Orchestrator) runStep(ctx context.Context, s step) (StepResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cbsetup."+s.name)
	defer span.End()

	slog.InfoContext(ctx, "step started", "step", s.name)

	sr, err := s.run(ctx)
	sr.Name = s.name

	span.SetAttributes(
		attribute.String("step.status", sr.Status),
		attribute.Int("step.attempts", sr.Attempts),
		attribute.Int("step.items", len(sr.Items)),
	)
	if sr.Status == StatusError {
		span.SetStatus(codes.Error, sr.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	metrics.RecordStep(s.name, sr.Status)
	logStep(ctx, sr)
	return sr, err
}

func (o *Orchestrator) waitForAdmin(ctx context.Context) (StepResult, error) {
	attempts, err := o.waitFor(ctx, "admin", o.admin.CheckUI)
	if err != nil {
		return StepResult{Status: StatusError, Attempts: attempts, Error: err.Error()}, err
	}
	slog.InfoContext(ctx, "couchbase admin is ready", "attempts", attempts)
	return StepResult{Status: StatusOK, Attempts: attempts}, nil
}

// initCluster submits the cluster configuration and then waits for the query
// service, which only starts listening once the cluster is initialized. A
// rejected init does not skip the wait: on an already initialized node the
// query service is up anyway.
func (o *Orchestrator) initCluster(ctx context.Context) (StepResult, error) {
	resp, err := o.admin.InitCluster(ctx)
	sr := stepFromItems([]ItemResult{o.recordItem(ctx, StepInitCluster, "cluster", resp, err)})

	attempts, waitErr := o.waitFor(ctx, "query", o.query.Ping)
	sr.Attempts = attempts
	if waitErr != nil {
		sr.Status = StatusError
		sr.Error = waitErr.Error()
		return sr, waitErr
	}
	slog.InfoContext(ctx, "query service is ready", "attempts", attempts)
	return sr, nil
}

func (o *Orchestrator) createBucket(ctx context.Context) (StepResult, error) {
	resp, err := o.admin.CreateBucket(ctx)
	return stepFromItems([]ItemResult{o.recordItem(ctx, StepCreateBucket, o.bucket, resp, err)}), nil
}

func (o *Orchestrator) createScopes(ctx context.Context) (StepResult, error) {
	calls := make([]createCall, 0, len(requiredScopes))
	for _, scope := range requiredScopes {
		calls = append(calls, createCall{name: scope, statement: createScopeStatement(o.bucket, scope)})
	}
	return o.executeAll(ctx, StepCreateScopes, calls)
}

func (o *Orchestrator) createCollections(ctx context.Context) (StepResult, error) {
	calls := make([]createCall, 0, len(requiredCollections))
	for _, spec := range requiredCollections {
		calls = append(calls, createCall{
			name:      spec.scope + "." + spec.collection,
			statement: createCollectionStatement(o.bucket, spec),
		})
	}
	return o.executeAll(ctx, StepCreateCollections, calls)
}

func (o *Orchestrator) createIndexes(ctx context.Context) (StepResult, error) {
	calls := make([]createCall, 0, len(requiredIndexes))
	for _, spec := range requiredIndexes {
		calls = append(calls, createCall{name: spec.name, statement: createIndexStatement(o.bucket, spec)})
	}
	return o.executeAll(ctx, StepCreateIndexes, calls)
}

// createCall is one statement of a create step and the item name it reports.
type createCall struct {
	name      string
	statement string
}

// executeAll issues each statement once, in order, whatever the outcome of
// the previous one. A cancelled ctx stops the loop: the step is marked failed
// and the context error is returned so the run aborts.
func (o *Orchestrator) executeAll(ctx context.Context, stepName string, calls []createCall) (StepResult, error) {
	items := make([]ItemResult, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			sr := stepFromItems(items)
			sr.Status = StatusError
			sr.Error = fmt.Sprintf("cancelled after %d of %d calls: %v", len(items), len(calls), err)
			return sr, err
		}
		resp, err := o.query.Execute(ctx, call.statement)
		items = append(items, o.recordItem(ctx, stepName, call.name, resp, err))
	}
	return stepFromItems(items), nil
}

// waitFor polls check until it passes, logging every failed attempt.
func (o *Orchestrator) waitFor(ctx context.Context, target string, check func(context.Context) error) (int, error) {
	opts := make([]poll.Option, 0, len(o.pollOpts)+1)
	opts = append(opts, o.pollOpts...)
	opts = append(opts, poll.WithOnRetry(func(attempt int, err error) {
		slog.InfoContext(ctx, "service not ready yet, retrying",
			"target", target,
			"attempt", attempt,
			"error", err,
		)
	}))

	attempts, err := poll.Until(ctx, check, opts...)
	metrics.RecordPollAttempts(target, attempts)
	return attempts, err
}

// recordItem turns the outcome of one create call into an ItemResult. Errors
// are logged with the response body and never propagated.
func (o *Orchestrator) recordItem(ctx context.Context, stepName, name string, resp APIResponse, err error) ItemResult {
	item := ItemResult{Name: name, Status: StatusOK, HTTPStatus: resp.StatusCode}
	if err != nil {
		item.Status = StatusError
		item.Error = err.Error()
		slog.WarnContext(ctx, "create call failed",
			"step", stepName,
			"item", name,
			"http_status", resp.StatusCode,
			"response", resp.Body,
			"error", err,
		)
	} else {
		slog.InfoContext(ctx, "create call succeeded",
			"step", stepName,
			"item", name,
			"http_status", resp.StatusCode,
			"response", resp.Body,
		)
	}
	metrics.RecordItem(stepName, item.Status)
	return item
}

// RunDeepHealth probes the admin and query services concurrently and returns
// a map of dependency name to ProbeResult.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, 2)
	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		probe := o.admin.Probe(ctx)
		mu.Lock()
		results["admin"] = probe
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		probe := o.query.Probe(ctx)
		mu.Lock()
		results["query"] = probe
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
	return results
}

// IsRunInProgress returns true while a provisioning run is active.
func (o *Orchestrator) IsRunInProgress() bool {
	return o.runInProgress.Load()
}

// IsReady returns true if the last run completed with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Status == StatusOK
}

// LastResult returns the result of the most recent completed run, or nil.
func (o *Orchestrator) LastResult() *RunResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult
}

// logStep emits a trace-correlated log for a step result.
// Errors log at WARN so they are visible without being fatal.
func logStep(ctx context.Context, s StepResult) {
	if s.Status == StatusOK {
		slog.InfoContext(ctx, "step ok", "step", s.Name, "attempts", s.Attempts, "items", len(s.Items))
		return
	}
	slog.WarnContext(ctx, "step failed", "step", s.Name, "error", s.Error)
}

// stepFromItems derives a step status from its create calls.
func stepFromItems(items []ItemResult) StepResult {
	sr := StepResult{Status: StatusOK, Items: items}
	failed := 0
	for _, it := range items {
		if it.Status != StatusOK {
			failed++
		}
	}
	if failed > 0 {
		sr.Status = StatusError
		sr.Error = fmt.Sprintf("%d of %d calls failed", failed, len(items))
	}
	return sr
}
