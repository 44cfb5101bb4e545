package advisory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/concentra-io/concentra/internal/concentration"
	"github.com/concentra-io/concentra/internal/registry"
)

type stubProvider struct {
	commentary string
	err        error
}

func (s *stubProvider) GenerateCommentary(ctx context.Context, req CommentaryRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.commentary, nil
}

func newTestRegistry(t *testing.T) (*registry.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.New(filepath.Join(dir, "datasets"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	id, err := reg.CreateDataset("sample.csv")
	if err != nil {
		t.Fatal(err)
	}
	return reg, id
}

func sampleRequest(datasetID string) CommentaryRequest {
	return CommentaryRequest{
		DatasetID: datasetID,
		GroupBy:   "entity",
		ValueCol:  "revenue",
		Result: &concentration.Result{
			Totals: concentration.PeriodResult{
				Total:         2500,
				TotalEntities: 4,
				Head:          []concentration.HeadRow{{GroupBy: "ACME", Value: 1000}},
			},
		},
	}
}

func TestEnrichDisabledProvider(t *testing.T) {
	reg, id := newTestRegistry(t)
	advisor := NewAdvisor(nil, reg, time.Second, 10)
	advisor.Enrich(context.Background(), "insights", sampleRequest(id))

	_, data, err := reg.LatestLLMArtifact(id, "insights")
	if err != nil {
		t.Fatal(err)
	}
	if data == nil {
		t.Fatal("expected placeholder artifact to be written")
	}
}

func TestEnrichSuccess(t *testing.T) {
	reg, id := newTestRegistry(t)
	advisor := NewAdvisor(&stubProvider{commentary: "ACME leads with 40% share."}, reg, time.Second, 10)
	advisor.Enrich(context.Background(), "insights", sampleRequest(id))

	_, data, err := reg.LatestLLMArtifact(id, "insights")
	if err != nil {
		t.Fatal(err)
	}
	if data == nil {
		t.Fatal("expected artifact to be written")
	}
}

func TestEnrichBudgetExhausted(t *testing.T) {
	reg, id := newTestRegistry(t)
	advisor := NewAdvisor(&stubProvider{commentary: "ok"}, reg, time.Second, 1)
	advisor.Enrich(context.Background(), "insights", sampleRequest(id))
	advisor.Enrich(context.Background(), "insights", sampleRequest(id))

	lineage, err := reg.GetLineage(id)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, step := range lineage.Steps {
		if step.Operation == "advisory_enrich_insights" {
			if reason, ok := step.Outputs["reason"]; ok && reason == ReasonUsageLimit {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected a usage_limit lineage step after budget exhaustion")
	}
}

func TestEnrichProviderError(t *testing.T) {
	reg, id := newTestRegistry(t)
	advisor := NewAdvisor(&stubProvider{err: errors.New("boom")}, reg, time.Second, 10)
	advisor.Enrich(context.Background(), "insights", sampleRequest(id))

	lineage, err := reg.GetLineage(id)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, step := range lineage.Steps {
		if step.Operation == "advisory_enrich_insights" {
			if reason, ok := step.Outputs["reason"]; ok && reason == ReasonAPIError {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected an api_error lineage step")
	}
}
