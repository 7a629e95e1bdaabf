package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is one batch dispatch over the configured agents.
type Run struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Context     string          `json:"context"`
	Agents      json.RawMessage `json:"agents"`
	Results     json.RawMessage `json:"results,omitempty"`
	Report      string          `json:"-"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, status, context, agents, results, report, error, started_at, completed_at`

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var agents string
	var results, report, runErr *string
	err := scanner.Scan(&r.ID, &r.Status, &r.Context, &agents, &results, &report, &runErr, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Agents = json.RawMessage(agents)
	if results != nil {
		r.Results = json.RawMessage(*results)
	}
	if report != nil {
		r.Report = *report
	}
	if runErr != nil {
		r.Error = *runErr
	}
	return r, nil
}

func (s *Store) SaveRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO crew_runs (id, status, context, agents, results, report, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			results = excluded.results,
			report = excluded.report,
			error = excluded.error`,
		r.ID, r.Status, r.Context, string(r.Agents), nullable(string(r.Results)), nullable(r.Report), nullable(r.Error), r.StartedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// CompleteRun marks a run completed with its results and report.
func (s *Store) CompleteRun(id string, results json.RawMessage, report string) error {
	_, err := s.db.Exec(`
		UPDATE crew_runs
		SET status = 'completed', results = ?, report = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(results), report, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// FailRun marks a run failed, discarding any partial results. Only the
// error message is recorded.
func (s *Store) FailRun(id string, message string) error {
	_, err := s.db.Exec(`
		UPDATE crew_runs
		SET status = 'failed', results = NULL, report = NULL, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, message, id)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM crew_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM crew_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM crew_runs WHERE id = ?`, id)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
