// Package catalog keeps the validation run history in a local SQLite
// database. Every gate evaluation is recorded with the input file's digest,
// the rule pack that judged it and the resulting verdict, so repeated
// deliveries of the same survey line can be compared over time.
package catalog

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a run id is not in the catalog.
var ErrNotFound = errors.New("catalog: run not found")

// Run is one recorded gate evaluation.
type Run struct {
	RunId        string
	CreatedAt    time.Time
	InputFile    string
	FileSha256   string
	Profile      string
	RulePackId   string
	RulePackVer  string
	RecordCount  int
	CorruptCount int
	UnknownCount int
	Errors       int
	Warnings     int
	Pass         bool
}

// Artifact is a file produced by a run (diagnostics, acceptance report,
// manifest).
type Artifact struct {
	RunId  string
	Kind   string
	Path   string
	Sha256 string
}

// Catalog wraps the run history database.
type Catalog struct {
	db *sql.DB
}

// Open creates or opens the catalog at path and applies the schema.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordRun inserts a run and returns its generated id. A zero CreatedAt is
// filled with the current time.
func (c *Catalog) RecordRun(run Run) (string, error) {
	if run.RunId == "" {
		run.RunId = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO validation_runs (
			run_id, created_at, input_file, file_sha256, profile,
			rule_pack_id, rule_pack_ver, record_count, corrupt_count,
			unknown_count, errors, warnings, pass
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := c.db.Exec(q,
		run.RunId, run.CreatedAt.UnixMicro(), run.InputFile, run.FileSha256,
		run.Profile, run.RulePackId, run.RulePackVer, run.RecordCount,
		run.CorruptCount, run.UnknownCount, run.Errors, run.Warnings,
		boolToInt(run.Pass))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.RunId, nil
}

// AddArtifact attaches a produced file to a run. A second artifact of the
// same kind replaces the first.
func (c *Catalog) AddArtifact(a Artifact) error {
	const q = `
		INSERT INTO run_artifacts (run_id, kind, path, sha256)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, kind) DO UPDATE SET path = excluded.path, sha256 = excluded.sha256`
	if _, err := c.db.Exec(q, a.RunId, a.Kind, a.Path, a.Sha256); err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetRun loads one run by id.
func (c *Catalog) GetRun(runId string) (Run, error) {
	const q = `
		SELECT run_id, created_at, input_file, file_sha256, profile,
		       rule_pack_id, rule_pack_ver, record_count, corrupt_count,
		       unknown_count, errors, warnings, pass
		FROM validation_runs WHERE run_id = ?`
	run, err := scanRun(c.db.QueryRow(q, runId))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run %s: %w", runId, err)
	}
	return run, nil
}

// Artifacts lists the files attached to a run.
func (c *Catalog) Artifacts(runId string) ([]Artifact, error) {
	rows, err := c.db.Query(
		`SELECT run_id, kind, path, sha256 FROM run_artifacts WHERE run_id = ? ORDER BY kind`,
		runId)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()
	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.RunId, &a.Kind, &a.Path, &a.Sha256); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means no
// limit.
func (c *Catalog) ListRuns(limit int) ([]Run, error) {
	q := `
		SELECT run_id, created_at, input_file, file_sha256, profile,
		       rule_pack_id, rule_pack_ver, record_count, corrupt_count,
		       unknown_count, errors, warnings, pass
		FROM validation_runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// RunsForFile returns every recorded evaluation of the file with the given
// digest, newest first.
func (c *Catalog) RunsForFile(fileSha256 string) ([]Run, error) {
	const q = `
		SELECT run_id, created_at, input_file, file_sha256, profile,
		       rule_pack_id, rule_pack_ver, record_count, corrupt_count,
		       unknown_count, errors, warnings, pass
		FROM validation_runs WHERE file_sha256 = ?
		ORDER BY created_at DESC, run_id`
	rows, err := c.db.Query(q, fileSha256)
	if err != nil {
		return nil, fmt.Errorf("list runs for file: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// LatestForFile returns the most recent run for the file digest, or
// ErrNotFound when the file was never evaluated.
func (c *Catalog) LatestForFile(fileSha256 string) (Run, error) {
	runs, err := c.RunsForFile(fileSha256)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

// Stats summarizes the catalog for status endpoints.
type Stats struct {
	TotalRuns  int
	PassedRuns int
	FailedRuns int
}

func (c *Catalog) Stats() (Stats, error) {
	var s Stats
	row := c.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(pass), 0),
		       COALESCE(SUM(1 - pass), 0)
		FROM validation_runs`)
	if err := row.Scan(&s.TotalRuns, &s.PassedRuns, &s.FailedRuns); err != nil {
		return s, fmt.Errorf("catalog stats: %w", err)
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var createdUs int64
	var pass int
	err := row.Scan(
		&run.RunId, &createdUs, &run.InputFile, &run.FileSha256, &run.Profile,
		&run.RulePackId, &run.RulePackVer, &run.RecordCount, &run.CorruptCount,
		&run.UnknownCount, &run.Errors, &run.Warnings, &pass)
	if err != nil {
		return run, err
	}
	run.CreatedAt = time.UnixMicro(createdUs).UTC()
	run.Pass = pass != 0
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
