package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/concentra-io/concentra/internal/config"
	"github.com/concentra-io/concentra/internal/pipeline"
	"github.com/concentra-io/concentra/internal/registry"
)

const sampleCSV = `entity,revenue
ACME,1000
BETA,500
GAMMA,500
DELTA,500
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "datasets"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	cfg := config.GetDefaultConfig()
	cfg.Server.Auth.APIKey = ""
	ctrl := pipeline.NewController(reg, nil, cfg)
	s := NewServer(cfg, ctrl)
	s.router = s.setupRouter()
	return s
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	w.Close()
	return buf, w.FormDataContentType()
}

func TestIngestAndAnalyzeEndpoints(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartUpload(t, "sample.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/datasets", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from ingest, got %d: %s", rec.Code, rec.Body.String())
	}
	var ingestResp pipeline.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &ingestResp); err != nil {
		t.Fatal(err)
	}
	if ingestResp.DatasetID == "" {
		t.Fatal("expected a dataset id")
	}

	analyzeBody := []byte(`{"group_by":"entity","value":"revenue","thresholds":[10,50],"run_llm":false}`)
	req2 := httptest.NewRequest(http.MethodPost, "/datasets/"+ingestResp.DatasetID+"/analyze", bytes.NewReader(analyzeBody))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 from analyze, got %d: %s", rec2.Code, rec2.Body.String())
	}
	if rec2.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID to be set on the response")
	}
}

func TestAnalyzeUnknownColumnReturnsValidationError(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartUpload(t, "sample.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/datasets", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var ingestResp pipeline.IngestResult
	json.Unmarshal(rec.Body.Bytes(), &ingestResp)

	analyzeBody := []byte(`{"group_by":"nope","value":"revenue"}`)
	req2 := httptest.NewRequest(http.MethodPost, "/datasets/"+ingestResp.DatasetID+"/analyze", bytes.NewReader(analyzeBody))
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec2.Code, rec2.Body.String())
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(rec2.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Message != "Column 'nope' not found in dataset" {
		t.Errorf("unexpected message: %q", envelope.Message)
	}
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Server.Auth.APIKey = "secret"
	s.router = s.setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without api key, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/datasets", nil)
	req2.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct api key, got %d", rec2.Code)
	}
}
