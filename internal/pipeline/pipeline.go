// Package pipeline sequences the ingest -> normalize -> analyze -> export
// flow over one dataset, recording a lineage step per stage and mapping
// every failure onto the error taxonomy the API layer understands.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/concentra-io/concentra/internal/advisory"
	"github.com/concentra-io/concentra/internal/concentration"
	"github.com/concentra-io/concentra/internal/config"
	"github.com/concentra-io/concentra/internal/export"
	"github.com/concentra-io/concentra/internal/normalize"
	"github.com/concentra-io/concentra/internal/registry"
	"github.com/concentra-io/concentra/internal/storage"
	"github.com/concentra-io/concentra/internal/table"
	"github.com/concentra-io/concentra/internal/util"
)

const (
	columnarFilename = "normalized.parquet"
	analysisName     = "concentration"
	advisoryFunction = "commentary"
)

var supportedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
}

// Controller glues Storage, Registry, Normalizer, Concentration Engine,
// Exporter, and the advisory task together into the per-dataset request
// flow.
type Controller struct {
	reg                   *registry.Registry
	advisor               *advisory.Advisor
	maxFileSizeBytes      int64
	defaultThresholds     []int
	largeDatasetThreshold int
}

// NewController builds a Controller from a loaded Config. advisor may be
// nil, in which case Enrich calls are skipped entirely (equivalent to an
// always-disabled provider).
func NewController(reg *registry.Registry, advisor *advisory.Advisor, cfg *config.Config) *Controller {
	return &Controller{
		reg:                   reg,
		advisor:               advisor,
		maxFileSizeBytes:      int64(cfg.Datasets.MaxFileSizeMB) * 1024 * 1024,
		defaultThresholds:     cfg.Analysis.DefaultThresholds,
		largeDatasetThreshold: cfg.Analysis.LargeDatasetThreshold,
	}
}

// IngestResult is returned from Ingest, matching the §6 response shape.
type IngestResult struct {
	DatasetID        string `json:"dataset_id"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	RowsProcessed    int    `json:"rows_processed"`
	ColumnsProcessed int    `json:"columns_processed"`
}

// Ingest reads src (the raw upload body), validates its extension and
// size, creates a new dataset, persists the raw bytes, normalizes the
// table, and writes the columnar file + schema document. Every stage is
// recorded to lineage regardless of where a later stage fails.
func (c *Controller) Ingest(ctx context.Context, originalFilename string, src io.Reader) (*IngestResult, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !supportedExtensions[ext] {
		return nil, util.NewKindError(util.KindValidation, fmt.Sprintf("unsupported file extension %q", ext))
	}

	datasetID, err := c.reg.CreateDataset(originalFilename)
	if err != nil {
		return nil, err
	}

	rawPath, err := c.reg.RawPath(datasetID, originalFilename)
	if err != nil {
		return nil, err
	}
	written, err := writeLimited(rawPath, src, c.maxFileSizeBytes)
	if err != nil {
		return nil, err
	}

	digest, err := storage.SHA256(rawPath)
	if err != nil {
		return nil, err
	}

	raw, sheetName, err := c.readRaw(rawPath, ext)
	if err != nil {
		return nil, err
	}

	ingestOutputs := map[string]interface{}{
		"bytes":  written,
		"sha256": digest,
	}
	if sheetName != "" {
		ingestOutputs["sheet"] = sheetName
	}
	_ = c.reg.RecordStep(datasetID, "ingest", map[string]interface{}{
		"filename": originalFilename,
	}, ingestOutputs, nil)

	normalized, schema, err := normalize.Normalize(raw)
	if err != nil {
		return nil, err
	}

	columnarPath := filepath.Join(c.reg.DatasetDir(datasetID), columnarFilename)
	if err := storage.WriteColumnar(normalized, columnarPath); err != nil {
		return nil, err
	}
	if err := c.reg.SaveSchema(datasetID, schema); err != nil {
		return nil, err
	}
	if err := c.reg.RecordStep(datasetID, "normalize", nil, map[string]interface{}{
		"rows":         normalized.NumRows(),
		"columns":      len(normalized.Columns),
		"period_grain": schema.PeriodGrain,
	}, schema.Warnings); err != nil {
		return nil, err
	}

	util.DefaultMetrics.IncCounter("datasets_ingested", map[string]string{"extension": ext})
	util.DefaultMetrics.ObserveHistogram("ingest_rows", float64(normalized.NumRows()), nil)

	return &IngestResult{
		DatasetID:        datasetID,
		Status:           "ready",
		Message:          "dataset normalized and ready for analysis",
		RowsProcessed:    normalized.NumRows(),
		ColumnsProcessed: len(normalized.Columns),
	}, nil
}

// readRaw loads the uploaded file into a RawTable. sheetName is non-empty
// only for spreadsheet inputs, where it records which sheet was chosen for
// the ingest lineage step.
func (c *Controller) readRaw(path, ext string) (rt *table.RawTable, sheetName string, err error) {
	switch ext {
	case ".csv":
		rt, err = storage.ReadDelimited(path, storage.DelimitedOptions{MaxBytes: c.maxFileSizeBytes})
		return rt, "", err
	case ".xlsx", ".xls":
		rt, sheetName, err = storage.ReadSpreadsheet(path, "", c.maxFileSizeBytes)
		return rt, sheetName, err
	default:
		return nil, "", util.NewKindError(util.KindValidation, fmt.Sprintf("unsupported file extension %q", ext))
	}
}

func writeLimited(path string, src io.Reader, maxBytes int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, util.WrapKindError(util.KindInternal, err, "failed to create raw file")
	}
	defer f.Close()

	limited := src
	if maxBytes > 0 {
		limited = io.LimitReader(src, maxBytes+1)
	}
	n, err := io.Copy(f, limited)
	if err != nil {
		os.Remove(path)
		return 0, util.WrapKindError(util.KindInternal, err, "failed to persist raw upload")
	}
	if maxBytes > 0 && n > maxBytes {
		os.Remove(path)
		return 0, util.NewKindError(util.KindPayloadTooLarge, "upload exceeds configured byte limit")
	}
	return n, nil
}

// Schema returns the persisted schema document for datasetID.
func (c *Controller) Schema(datasetID string) (*normalize.Schema, error) {
	if !registry.ValidID(datasetID) {
		return nil, util.NewKindError(util.KindValidation, "invalid dataset id")
	}
	var schema normalize.Schema
	if err := c.reg.GetSchema(datasetID, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// Lineage returns the lineage document verbatim.
func (c *Controller) Lineage(datasetID string) (*registry.Lineage, error) {
	if !registry.ValidID(datasetID) {
		return nil, util.NewKindError(util.KindValidation, "invalid dataset id")
	}
	return c.reg.GetLineage(datasetID)
}

// ListDatasets passes through to the registry index.
func (c *Controller) ListDatasets() ([]registry.DatasetInfo, error) {
	return c.reg.ListDatasets()
}

// AnalyzeRequest is the decoded analyze endpoint body.
type AnalyzeRequest struct {
	DatasetID  string
	GroupBy    string
	Value      string
	TimeColumn string
	Thresholds []int
	RunLLM     bool
}

// AnalyzeResponse wraps the concentration result document with the
// relative export links the download endpoints serve.
type AnalyzeResponse struct {
	*concentration.Result
	DatasetID   string             `json:"dataset_id"`
	ExportLinks *export.LinksBlock `json:"export_links"`
}

// Analyze loads the dataset's normalized table, runs the concentration
// engine, persists the result document, renders the CSV/XLSX exports (a
// failure there degrades to a warning rather than failing the request),
// and - unless the caller opted out - schedules the advisory enrichment
// task after the analysis artifact is durably written.
func (c *Controller) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	if !registry.ValidID(req.DatasetID) {
		return nil, util.NewKindError(util.KindValidation, "invalid dataset id")
	}

	var schema normalize.Schema
	if err := c.reg.GetSchema(req.DatasetID, &schema); err != nil {
		return nil, err
	}

	columnarPath := filepath.Join(c.reg.DatasetDir(req.DatasetID), columnarFilename)
	t, err := storage.ReadColumnar(columnarPath)
	if err != nil {
		return nil, err
	}

	thresholds := req.Thresholds
	if len(thresholds) == 0 {
		thresholds = c.defaultThresholds
	}

	result, err := concentration.Analyze(t, concentration.Request{
		GroupBy:               req.GroupBy,
		Value:                 req.Value,
		TimeColumn:            req.TimeColumn,
		PeriodGrain:           schema.PeriodGrain,
		Thresholds:            thresholds,
		LargeDatasetThreshold: c.largeDatasetThreshold,
	})
	if err != nil {
		return nil, err
	}

	if err := c.reg.SaveAnalysis(req.DatasetID, analysisName, result); err != nil {
		return nil, err
	}

	completedOutputs := map[string]interface{}{}
	for _, pr := range result.ByPeriod {
		completedOutputs[fmt.Sprintf("concentration_calculation_%s", pr.Period)] = "completed"
	}
	completedOutputs[fmt.Sprintf("concentration_calculation_%s", result.Totals.Period)] = "completed"
	if err := c.reg.RecordStep(req.DatasetID, "analyze", map[string]interface{}{
		"group_by":   req.GroupBy,
		"value":      req.Value,
		"thresholds": thresholds,
	}, completedOutputs, result.Warnings); err != nil {
		return nil, err
	}

	links, exportWarnings := c.renderExports(req, result)
	if len(exportWarnings) > 0 {
		result.Warnings = append(result.Warnings, exportWarnings...)
		_ = c.reg.RecordStep(req.DatasetID, "export", nil, nil, exportWarnings)
	}

	if c.advisor != nil && req.RunLLM {
		c.scheduleAdvisory(req.DatasetID, req.GroupBy, req.Value, result)
	}

	util.DefaultMetrics.IncCounter("analyses_completed", map[string]string{"period_grain": schema.PeriodGrain})
	util.DefaultMetrics.SetGauge("concentration_total", result.Totals.Total, map[string]string{"dataset_id": req.DatasetID})

	return &AnalyzeResponse{Result: result, DatasetID: req.DatasetID, ExportLinks: links}, nil
}

// renderExports writes the CSV/XLSX artifacts; a failure here is reported
// as a warning, never as a request error. The link of a failed artifact is
// left empty, and ExportLinks is nil only when both artifacts fail.
func (c *Controller) renderExports(req AnalyzeRequest, result *concentration.Result) (*export.LinksBlock, []string) {
	params := export.Parameters{
		GroupBy:    req.GroupBy,
		ValueCol:   req.Value,
		TimeCol:    req.TimeColumn,
		Thresholds: result.Thresholds,
	}

	csvPath := c.reg.AnalysisPath(req.DatasetID, analysisName+".csv")
	xlsxPath := c.reg.AnalysisPath(req.DatasetID, analysisName+".xlsx")

	var warnings []string
	var links export.LinksBlock

	if err := export.WriteCSV(result, params, csvPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("CSV export failed: %v", err))
	} else {
		links.CSV = fmt.Sprintf("/datasets/%s/download/concentration.csv", req.DatasetID)
	}
	if err := export.WriteXLSX(result, params, xlsxPath); err != nil {
		warnings = append(warnings, fmt.Sprintf("XLSX export failed: %v", err))
	} else {
		links.XLSX = fmt.Sprintf("/datasets/%s/download/concentration.xlsx", req.DatasetID)
	}

	if links.CSV == "" && links.XLSX == "" {
		return nil, warnings
	}
	return &links, warnings
}

func (c *Controller) scheduleAdvisory(datasetID, groupBy, value string, result *concentration.Result) {
	go func() {
		bgCtx := context.Background()
		c.advisor.Enrich(bgCtx, advisoryFunction, advisory.CommentaryRequest{
			DatasetID: datasetID,
			GroupBy:   groupBy,
			ValueCol:  value,
			Result:    result,
		})
	}()
}

// DownloadPath resolves the on-disk path of a named export artifact.
// "normalized.csv" is rendered from the columnar table on every request,
// since the normalized data has no durable CSV form of its own; a file left
// by an earlier request is overwritten, not reused.
func (c *Controller) DownloadPath(datasetID, artifact string) (string, error) {
	if !registry.ValidID(datasetID) {
		return "", util.NewKindError(util.KindValidation, "invalid dataset id")
	}
	switch artifact {
	case "concentration.csv", "concentration.xlsx":
		path := c.reg.AnalysisPath(datasetID, artifact)
		if _, err := os.Stat(path); err != nil {
			return "", util.WrapKindError(util.KindNotFound, err, "export artifact not found")
		}
		return path, nil
	case "normalized.csv":
		return c.renderNormalizedCSV(datasetID)
	default:
		return "", util.NewKindError(util.KindValidation, fmt.Sprintf("unknown artifact %q", artifact))
	}
}

func (c *Controller) renderNormalizedCSV(datasetID string) (string, error) {
	csvPath := filepath.Join(c.reg.DatasetDir(datasetID), "normalized.csv")
	columnarPath := filepath.Join(c.reg.DatasetDir(datasetID), columnarFilename)

	if _, err := os.Stat(columnarPath); err != nil {
		return "", util.WrapKindError(util.KindNotFound, err, "dataset not yet normalized")
	}

	t, err := storage.ReadColumnar(columnarPath)
	if err != nil {
		return "", err
	}
	if err := storage.WriteDelimited(t, csvPath); err != nil {
		return "", err
	}
	return csvPath, nil
}

// Insight is one named advisory artifact slot in the Insights response.
type Insight struct {
	Function    string    `json:"function"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	Commentary  string    `json:"commentary,omitempty"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

// Insights returns the latest advisory artifact for datasetID, or a
// structured "disabled" placeholder when no advisory task has run yet.
func (c *Controller) Insights(datasetID string) (*Insight, error) {
	if !registry.ValidID(datasetID) {
		return nil, util.NewKindError(util.KindValidation, "invalid dataset id")
	}
	_, data, err := c.reg.LatestLLMArtifact(datasetID, advisoryFunction)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &Insight{Function: advisoryFunction, Status: "placeholder", Reason: "disabled"}, nil
	}
	var artifact advisory.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, util.WrapError(err, "failed to parse advisory artifact")
	}
	return &Insight{
		Function:    advisoryFunction,
		Status:      artifact.Status,
		Reason:      artifact.Reason,
		Commentary:  artifact.Commentary,
		GeneratedAt: artifact.GeneratedAt,
	}, nil
}
