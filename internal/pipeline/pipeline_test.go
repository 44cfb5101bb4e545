package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/concentra-io/concentra/internal/config"
	"github.com/concentra-io/concentra/internal/registry"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "datasets"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	cfg := config.GetDefaultConfig()
	cfg.Datasets.MaxFileSizeMB = 25
	return NewController(reg, nil, cfg)
}

const sampleCSV = `entity,revenue,year,month
ACME,1000,2024,1
BETA,500,2024,1
GAMMA,500,2024,1
DELTA,500,2024,1
ACME,800,2024,2
BETA,900,2024,2
`

func TestIngestAndAnalyze(t *testing.T) {
	ctrl := newTestController(t)

	ingestResult, err := ctrl.Ingest(context.Background(), "sample.csv", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if ingestResult.RowsProcessed != 6 {
		t.Errorf("expected 6 rows processed, got %d", ingestResult.RowsProcessed)
	}
	if ingestResult.ColumnsProcessed < 4 {
		t.Errorf("expected at least 4 columns processed, got %d", ingestResult.ColumnsProcessed)
	}

	schema, err := ctrl.Schema(ingestResult.DatasetID)
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if schema.PeriodGrain != "year_month" {
		t.Errorf("expected year_month grain, got %q", schema.PeriodGrain)
	}

	resp, err := ctrl.Analyze(context.Background(), AnalyzeRequest{
		DatasetID:  ingestResult.DatasetID,
		GroupBy:    "entity",
		Value:      "revenue",
		Thresholds: []int{10, 50},
		RunLLM:     false,
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if resp.Totals.Total != 4200 {
		t.Errorf("expected total 4200, got %v", resp.Totals.Total)
	}
	if len(resp.ByPeriod) != 2 {
		t.Errorf("expected 2 periods, got %d", len(resp.ByPeriod))
	}
	if resp.ExportLinks == nil || resp.ExportLinks.CSV == "" || resp.ExportLinks.XLSX == "" {
		t.Errorf("expected both export links to be populated, got %+v", resp.ExportLinks)
	}

	lineage, err := ctrl.Lineage(ingestResult.DatasetID)
	if err != nil {
		t.Fatalf("Lineage failed: %v", err)
	}
	var ops []string
	for _, step := range lineage.Steps {
		ops = append(ops, step.Operation)
	}
	wantOps := []string{"create", "ingest", "normalize", "analyze"}
	for _, op := range wantOps {
		found := false
		for _, got := range ops {
			if got == op {
				found = true
			}
		}
		if !found {
			t.Errorf("expected lineage operation %q, got %v", op, ops)
		}
	}

	csvPath, err := ctrl.DownloadPath(ingestResult.DatasetID, "concentration.csv")
	if err != nil {
		t.Fatalf("DownloadPath failed: %v", err)
	}
	if csvPath == "" {
		t.Error("expected non-empty csv download path")
	}

	normalizedPath, err := ctrl.DownloadPath(ingestResult.DatasetID, "normalized.csv")
	if err != nil {
		t.Fatalf("DownloadPath(normalized.csv) failed: %v", err)
	}
	if normalizedPath == "" {
		t.Error("expected non-empty normalized csv download path")
	}

	insight, err := ctrl.Insights(ingestResult.DatasetID)
	if err != nil {
		t.Fatalf("Insights failed: %v", err)
	}
	if insight.Status != "placeholder" || insight.Reason != "disabled" {
		t.Errorf("expected disabled placeholder insight with no advisor, got %+v", insight)
	}
}

func TestIngestRejectsUnsupportedExtension(t *testing.T) {
	ctrl := newTestController(t)
	_, err := ctrl.Ingest(context.Background(), "sample.txt", strings.NewReader("hello"))
	if err == nil {
		t.Fatal("expected an error for unsupported extension")
	}
}

func TestAnalyzeRejectsInvalidDatasetID(t *testing.T) {
	ctrl := newTestController(t)
	_, err := ctrl.Analyze(context.Background(), AnalyzeRequest{DatasetID: "not-a-valid-id", GroupBy: "a", Value: "b"})
	if err == nil {
		t.Fatal("expected an error for an invalid dataset id")
	}
}
