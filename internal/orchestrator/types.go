package orchestrator

// Status values used across RunResult, StepResult and ItemResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// Step names, in execution order.
const (
	StepWaitForAdmin      = "wait-for-admin"
	StepInitCluster       = "init-cluster"
	StepCreateBucket      = "create-bucket"
	StepCreateScopes      = "create-scopes"
	StepCreateCollections = "create-collections"
	StepCreateIndexes     = "create-indexes"
)

// RunResult is the aggregate result of a full provisioning run.
type RunResult struct {
	Status string       `json:"status"` // "ok", "error", "in-progress"
	Bucket string       `json:"bucket"`
	Steps  []StepResult `json:"steps"`
}

// Step returns the result recorded for name, if any.
func (r *RunResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// StepResult represents the outcome of a single pipeline step.
type StepResult struct {
	Name     string       `json:"name"`
	Status   string       `json:"status"` // "ok", "error", "skipped"
	Attempts int          `json:"attempts,omitempty"`
	Error    string       `json:"error,omitempty"`
	Items    []ItemResult `json:"items,omitempty"`
}

// ItemResult is the outcome of one REST call or statement inside a step.
type ItemResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Error      string `json:"error,omitempty"`
}

// APIResponse is what the cluster answered to a create call. StatusCode is
// zero when the request never got a response.
type APIResponse struct {
	StatusCode int
	Body       string
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
