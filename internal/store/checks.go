package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Check is a recurring consultation: the scheduler fans it out each time its
// schedule comes due.
type Check struct {
	ID           string          `json:"id"`
	SubjectID    string          `json:"subject_id"`
	Name         string          `json:"name"`
	Schedule     string          `json:"schedule"`
	RequestTypes []string        `json:"request_types"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Context      json.RawMessage `json:"context,omitempty"`
	Status       string          `json:"status"`
	NextRun      *time.Time      `json:"next_run,omitempty"`
	LastRun      *time.Time      `json:"last_run,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (s *Store) SaveCheck(c *Check) error {
	types, err := json.Marshal(c.RequestTypes)
	if err != nil {
		return fmt.Errorf("marshal request types: %w", err)
	}
	status := c.Status
	if status == "" {
		status = "active"
	}

	_, err = s.db.Exec(`
		INSERT INTO checks (id, subject_id, name, schedule, request_types,
			parameters, context, status, next_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_id=excluded.subject_id, name=excluded.name,
			schedule=excluded.schedule, request_types=excluded.request_types,
			parameters=excluded.parameters, context=excluded.context,
			status=excluded.status, next_run=excluded.next_run,
			updated_at=CURRENT_TIMESTAMP`,
		c.ID, c.SubjectID, c.Name, c.Schedule, string(types),
		nullableJSON(c.Parameters), nullableJSON(c.Context), status, c.NextRun)
	if err != nil {
		return fmt.Errorf("save check: %w", err)
	}
	return nil
}

// GetDueChecks returns active checks whose next_run is at or before now.
func (s *Store) GetDueChecks(now time.Time) ([]Check, error) {
	rows, err := s.db.Query(`
		SELECT id, subject_id, name, schedule, request_types, parameters,
		       context, status, next_run, last_run, created_at, updated_at
		FROM checks
		WHERE status = 'active' AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run`, now)
	if err != nil {
		return nil, fmt.Errorf("get due checks: %w", err)
	}
	defer rows.Close()
	return collectChecks(rows)
}

func (s *Store) ListChecks() ([]Check, error) {
	rows, err := s.db.Query(`
		SELECT id, subject_id, name, schedule, request_types, parameters,
		       context, status, next_run, last_run, created_at, updated_at
		FROM checks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer rows.Close()
	return collectChecks(rows)
}

// MarkCheckRun records a firing. A nil nextRun retires the check.
func (s *Store) MarkCheckRun(id string, lastRun time.Time, nextRun *time.Time) error {
	status := "active"
	if nextRun == nil {
		status = "done"
	}
	_, err := s.db.Exec(`
		UPDATE checks
		SET last_run = ?, next_run = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		lastRun, nextRun, status, id)
	if err != nil {
		return fmt.Errorf("mark check run: %w", err)
	}
	return nil
}

func (s *Store) DeleteCheck(id string) error {
	_, err := s.db.Exec(`DELETE FROM checks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete check: %w", err)
	}
	return nil
}

func collectChecks(rows *sql.Rows) ([]Check, error) {
	var checks []Check
	for rows.Next() {
		c := Check{}
		var types string
		var params, reqCtx sql.NullString
		var nextRun, lastRun sql.NullTime

		err := rows.Scan(&c.ID, &c.SubjectID, &c.Name, &c.Schedule, &types,
			&params, &reqCtx, &c.Status, &nextRun, &lastRun,
			&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}

		if err := json.Unmarshal([]byte(types), &c.RequestTypes); err != nil {
			return nil, fmt.Errorf("unmarshal request types: %w", err)
		}
		if params.Valid {
			c.Parameters = json.RawMessage(params.String)
		}
		if reqCtx.Valid {
			c.Context = json.RawMessage(reqCtx.String)
		}
		if nextRun.Valid {
			t := nextRun.Time
			c.NextRun = &t
		}
		if lastRun.Valid {
			t := lastRun.Time
			c.LastRun = &t
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}
