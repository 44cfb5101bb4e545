// Package advisory attaches optional narrative commentary to a
// concentration result. The commentary never participates in the numeric
// result; a failure here degrades to a placeholder artifact, never a
// request error.
package advisory

import (
	"context"
	"sync"
	"time"

	"github.com/concentra-io/concentra/internal/concentration"
	"github.com/concentra-io/concentra/internal/registry"
	"github.com/concentra-io/concentra/internal/util"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultCallBudget = 10

	ReasonDisabled        = "disabled"
	ReasonUsageLimit      = "usage_limit"
	ReasonValidationError = "validation_error"
	ReasonAPIError        = "api_error"
	ReasonTimeout         = "timeout"
)

// CommentaryRequest is the narrow payload handed to a Provider: enough
// shape to narrate, nothing that could feed back into the math.
type CommentaryRequest struct {
	DatasetID string
	GroupBy   string
	ValueCol  string
	Result    *concentration.Result
}

// Provider is the interface the core consumes from an advisory backend.
// Prompt construction and the HTTP transport to a model API are external
// collaborators; only this interface is in scope.
type Provider interface {
	GenerateCommentary(ctx context.Context, req CommentaryRequest) (string, error)
}

// Artifact is the on-disk shape of one advisory artifact.
type Artifact struct {
	Status      string    `json:"status"` // ok | placeholder
	Reason      string    `json:"reason,omitempty"`
	Commentary  string    `json:"commentary,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Advisor enforces the provider timeout and per-dataset call budget
// around a Provider, and records the enrichment lifecycle as lineage.
type Advisor struct {
	provider   Provider
	registry   *registry.Registry
	timeout    time.Duration
	callBudget int

	mu    sync.Mutex
	calls map[string]int
}

// NewAdvisor builds an Advisor. A nil provider means the advisory layer is
// disabled; Enrich will always produce a "disabled" placeholder.
func NewAdvisor(provider Provider, reg *registry.Registry, timeout time.Duration, callBudget int) *Advisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if callBudget <= 0 {
		callBudget = DefaultCallBudget
	}
	return &Advisor{
		provider:   provider,
		registry:   reg,
		timeout:    timeout,
		callBudget: callBudget,
		calls:      make(map[string]int),
	}
}

// Enrich runs one advisory call for datasetID and persists its artifact and
// lineage step. It is designed to be invoked as a background task (e.g.
// `go advisor.Enrich(...)`) after the analysis artifact is durably written;
// it never returns an error to the caller, since failures here degrade to
// a placeholder rather than surfacing as request errors.
func (a *Advisor) Enrich(ctx context.Context, functionName string, req CommentaryRequest) {
	logger := util.FromContext(ctx).With("dataset_id", req.DatasetID, "function", functionName)

	if a.provider == nil {
		a.writePlaceholder(ctx, functionName, req.DatasetID, ReasonDisabled)
		return
	}

	if !a.reserveCallBudget(req.DatasetID) {
		a.writePlaceholder(ctx, functionName, req.DatasetID, ReasonUsageLimit)
		return
	}

	if req.Result == nil || req.GroupBy == "" || req.ValueCol == "" {
		a.writePlaceholder(ctx, functionName, req.DatasetID, ReasonValidationError)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	commentary, err := a.provider.GenerateCommentary(callCtx, req)
	if err != nil {
		reason := ReasonAPIError
		if callCtx.Err() == context.DeadlineExceeded {
			reason = ReasonTimeout
		}
		logger.Warn("advisory enrichment failed", "error", err, "reason", reason)
		a.writePlaceholder(ctx, functionName, req.DatasetID, reason)
		return
	}

	artifact := Artifact{Status: "ok", Commentary: commentary, GeneratedAt: time.Now().UTC()}
	a.persist(ctx, functionName, req.DatasetID, artifact, nil)
}

func (a *Advisor) reserveCallBudget(datasetID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls[datasetID] >= a.callBudget {
		return false
	}
	a.calls[datasetID]++
	return true
}

func (a *Advisor) writePlaceholder(ctx context.Context, functionName, datasetID, reason string) {
	artifact := Artifact{Status: "placeholder", Reason: reason, GeneratedAt: time.Now().UTC()}
	a.persist(ctx, functionName, datasetID, artifact, []string{"advisory enrichment skipped: " + reason})
}

func (a *Advisor) persist(ctx context.Context, functionName, datasetID string, artifact Artifact, warnings []string) {
	logger := util.FromContext(ctx).With("dataset_id", datasetID, "function", functionName)
	if a.registry == nil {
		return
	}
	path, err := a.registry.SaveLLMArtifact(datasetID, functionName, artifact.GeneratedAt.Unix(), artifact)
	if err != nil {
		util.LogError(logger, err)
		return
	}
	outputs := map[string]interface{}{"artifact_path": path, "status": artifact.Status}
	if artifact.Reason != "" {
		outputs["reason"] = artifact.Reason
	}
	if err := a.registry.RecordStep(datasetID, "advisory_enrich_"+functionName, nil, outputs, warnings); err != nil {
		util.LogError(logger, err)
	}
}
