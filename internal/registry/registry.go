// Package registry owns the per-dataset directory layout, the append-only
// lineage log, schema persistence, and the dataset identifier lifecycle.
// It writes lineage, schema, analysis and advisory JSON documents itself,
// serializing those writes to the same dataset behind a per-id mutex; other
// components write raw uploads, the columnar table and exports into paths it
// hands out (RawPath, DatasetDir, AnalysisPath), outside that mutex.
package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/concentra-io/concentra/internal/util"
)

const (
	rawDir      = "raw"
	analysesDir = "analyses"
	llmDir      = "llm"
	schemaFile  = "schema.json"
	lineageFile = "lineage.json"
	indexDBFile = "registry.db"
)

// DatasetInfo is the summary row ListDatasets returns, backed by the
// sqlite index rather than a directory scan.
type DatasetInfo struct {
	ID               string    `json:"dataset_id"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// Registry manages dataset directories rooted at BasePath.
type Registry struct {
	basePath string
	db       *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens (creating if absent) the registry rooted at basePath, along
// with its sqlite collision/listing index.
func New(basePath string) (*Registry, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, util.WrapKindError(util.KindInternal, err, "failed to create datasets base path")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000", filepath.Join(basePath, indexDBFile))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, util.WrapKindError(util.KindInternal, err, "failed to open registry index")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		original_filename TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, util.WrapKindError(util.KindInternal, err, "failed to initialize registry index schema")
	}

	return &Registry{
		basePath: basePath,
		db:       db,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) lockFor(datasetID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[datasetID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[datasetID] = l
	}
	return l
}

// DatasetDir returns the directory owned by datasetID, without checking
// that it exists.
func (r *Registry) DatasetDir(datasetID string) string {
	return filepath.Join(r.basePath, datasetID)
}

func (r *Registry) idExists(id string) (bool, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM datasets WHERE id = ?`, id).Scan(&count); err != nil {
		return false, util.WrapError(err, "failed to check dataset id collision")
	}
	return count > 0, nil
}

// CreateDataset allocates a fresh dataset id (collision-checked against the
// registry index, bounded retries), creates its directory tree, and writes
// the initial lineage entry.
func (r *Registry) CreateDataset(originalFilename string) (string, error) {
	var id string
	for attempt := 0; attempt < maxIDAllocationAttempts; attempt++ {
		candidate, err := newCandidateID()
		if err != nil {
			return "", err
		}
		exists, err := r.idExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			id = candidate
			break
		}
		slog.Warn("dataset id collision, retrying", "candidate", candidate, "attempt", attempt)
	}
	if id == "" {
		return "", util.NewKindError(util.KindInternal, "exhausted dataset id allocation attempts")
	}

	dir := r.DatasetDir(id)
	for _, sub := range []string{rawDir, analysesDir, llmDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", util.WrapKindError(util.KindInternal, err, "failed to create dataset directory")
		}
	}

	now := time.Now().UTC()
	if _, err := r.db.Exec(`INSERT INTO datasets (id, original_filename, created_at) VALUES (?, ?, ?)`,
		id, originalFilename, now.Format(time.RFC3339)); err != nil {
		return "", util.WrapKindError(util.KindInternal, err, "failed to record dataset in registry index")
	}

	lineage := &Lineage{
		DatasetID: id,
		CreatedAt: now,
		Steps: []LineageStep{{
			Operation:  "create",
			Timestamp:  now,
			Parameters: map[string]interface{}{"filename": originalFilename},
		}},
	}
	if err := writeJSONAtomic(filepath.Join(dir, lineageFile), lineage); err != nil {
		return "", err
	}

	slog.Info("dataset created", "dataset_id", id, "filename", originalFilename)
	return id, nil
}

// ListDatasets returns every known dataset, newest first.
func (r *Registry) ListDatasets() ([]DatasetInfo, error) {
	rows, err := r.db.Query(`SELECT id, original_filename, created_at FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, util.WrapError(err, "failed to list datasets")
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		var info DatasetInfo
		var createdAt string
		if err := rows.Scan(&info.ID, &info.OriginalFilename, &createdAt); err != nil {
			return nil, util.WrapError(err, "failed to scan dataset row")
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, info)
	}
	return out, nil
}

// RawPath canonicalizes filename against datasetID's raw/ directory,
// rejecting any traversal outside it. Callers must validate datasetID with
// ValidID before calling this - it does not re-validate the id's shape.
func (r *Registry) RawPath(datasetID, filename string) (string, error) {
	dir := filepath.Join(r.DatasetDir(datasetID), rawDir)
	joined := filepath.Join(dir, filepath.Base(filename))
	cleaned, err := filepath.Abs(joined)
	if err != nil {
		return "", util.WrapKindError(util.KindValidation, err, "failed to resolve raw path")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", util.WrapKindError(util.KindValidation, err, "failed to resolve raw directory")
	}
	rel, err := filepath.Rel(absDir, cleaned)
	if err != nil || rel == ".." || (len(rel) >= 2 && rel[:2] == "..") {
		return "", util.NewKindError(util.KindValidation, "resolved path escapes dataset directory")
	}
	return cleaned, nil
}

// RecordStep appends one step to the dataset's lineage under its exclusive
// lock: read-modify-write of lineage.json via temp-then-rename.
func (r *Registry) RecordStep(datasetID, operation string, parameters, outputs map[string]interface{}, warnings []string) error {
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(r.DatasetDir(datasetID), lineageFile)
	lineage, err := readLineageLocked(path)
	if err != nil {
		return err
	}

	ts := time.Now().UTC()
	if len(lineage.Steps) > 0 {
		last := lineage.Steps[len(lineage.Steps)-1].Timestamp
		if ts.Before(last) {
			ts = last
		}
	}
	lineage.Steps = append(lineage.Steps, LineageStep{
		Operation:  operation,
		Timestamp:  ts,
		Parameters: parameters,
		Outputs:    outputs,
		Warnings:   warnings,
	})

	return writeJSONAtomic(path, lineage)
}

func readLineageLocked(path string) (*Lineage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, util.WrapKindError(util.KindNotFound, err, "dataset lineage not found")
		}
		return nil, util.WrapError(err, "failed to read lineage")
	}
	var lineage Lineage
	if err := json.Unmarshal(data, &lineage); err != nil {
		return nil, util.WrapError(err, "failed to parse lineage")
	}
	return &lineage, nil
}

// GetLineage returns the lineage document verbatim.
func (r *Registry) GetLineage(datasetID string) (*Lineage, error) {
	return readLineageLocked(filepath.Join(r.DatasetDir(datasetID), lineageFile))
}

// SaveSchema atomically replaces schema.json for datasetID.
func (r *Registry) SaveSchema(datasetID string, schema interface{}) error {
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(filepath.Join(r.DatasetDir(datasetID), schemaFile), schema)
}

// GetSchema decodes schema.json into out (a pointer).
func (r *Registry) GetSchema(datasetID string, out interface{}) error {
	path := filepath.Join(r.DatasetDir(datasetID), schemaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return util.WrapKindError(util.KindNotFound, err, "dataset schema not found")
		}
		return util.WrapError(err, "failed to read schema")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return util.WrapError(err, "failed to parse schema")
	}
	return nil
}

// SaveAnalysis writes payload as JSON to analyses/<name>.json, atomically.
func (r *Registry) SaveAnalysis(datasetID, name string, payload interface{}) error {
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	path := filepath.Join(r.DatasetDir(datasetID), analysesDir, name+".json")
	return writeJSONAtomic(path, payload)
}

// AnalysisPath returns the on-disk path of a named analysis artifact
// (JSON, CSV, or XLSX - extension supplied by the caller).
func (r *Registry) AnalysisPath(datasetID, filename string) string {
	return filepath.Join(r.DatasetDir(datasetID), analysesDir, filename)
}

// SaveLLMArtifact writes an advisory artifact to
// llm/<function>_<unix-seconds>.json.
func (r *Registry) SaveLLMArtifact(datasetID, functionName string, unixSeconds int64, payload interface{}) (string, error) {
	lock := r.lockFor(datasetID)
	lock.Lock()
	defer lock.Unlock()
	filename := fmt.Sprintf("%s_%d.json", functionName, unixSeconds)
	path := filepath.Join(r.DatasetDir(datasetID), llmDir, filename)
	if err := writeJSONAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// LatestLLMArtifact returns the most recent artifact for functionName, or
// ("", nil) when none exists yet.
func (r *Registry) LatestLLMArtifact(datasetID, functionName string) (string, []byte, error) {
	dir := filepath.Join(r.DatasetDir(datasetID), llmDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, nil
		}
		return "", nil, util.WrapError(err, "failed to list advisory artifacts")
	}
	var best string
	for _, e := range entries {
		name := e.Name()
		if len(name) > len(functionName) && name[:len(functionName)+1] == functionName+"_" {
			if name > best {
				best = name
			}
		}
	}
	if best == "" {
		return "", nil, nil
	}
	path := filepath.Join(dir, best)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, util.WrapError(err, "failed to read advisory artifact")
	}
	return path, data, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return util.WrapError(err, "failed to marshal JSON document")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return util.WrapKindError(util.KindInternal, err, "failed to write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return util.WrapKindError(util.KindInternal, err, "failed to commit file")
	}
	return nil
}
