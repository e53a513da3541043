package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Consultation is the durable record of one fan-out/fan-in cycle.
type Consultation struct {
	CorrelationID string          `json:"correlation_id"`
	SubjectID     string          `json:"subject_id"`
	RequestTypes  []string        `json:"request_types"`
	Status        string          `json:"status"`
	Responses     json.RawMessage `json:"responses,omitempty"`
	Synthesis     json.RawMessage `json:"synthesis,omitempty"`
	ElapsedMs     int64           `json:"elapsed_ms"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// SaveConsultation records a consultation at publish time, status pending.
func (s *Store) SaveConsultation(c *Consultation) error {
	types, err := json.Marshal(c.RequestTypes)
	if err != nil {
		return fmt.Errorf("marshal request types: %w", err)
	}
	status := c.Status
	if status == "" {
		status = "pending"
	}

	_, err = s.db.Exec(`
		INSERT INTO consultations (correlation_id, subject_id, request_types, status)
		VALUES (?, ?, ?, ?)`,
		c.CorrelationID, c.SubjectID, string(types), status)
	if err != nil {
		return fmt.Errorf("save consultation: %w", err)
	}
	return nil
}

// ResolveConsultation stores the aggregation outcome for a pending record.
func (s *Store) ResolveConsultation(correlationID, status string, responses, synthesis json.RawMessage, elapsed time.Duration) error {
	_, err := s.db.Exec(`
		UPDATE consultations
		SET status = ?, responses = ?, synthesis = ?, elapsed_ms = ?,
		    resolved_at = CURRENT_TIMESTAMP
		WHERE correlation_id = ?`,
		status, nullableJSON(responses), nullableJSON(synthesis),
		elapsed.Milliseconds(), correlationID)
	if err != nil {
		return fmt.Errorf("resolve consultation: %w", err)
	}
	return nil
}

func (s *Store) GetConsultation(correlationID string) (*Consultation, error) {
	row := s.db.QueryRow(`
		SELECT correlation_id, subject_id, request_types, status,
		       responses, synthesis, elapsed_ms, created_at, resolved_at
		FROM consultations WHERE correlation_id = ?`, correlationID)

	c, err := scanConsultation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

// ListConsultations returns a subject's history in chronological order.
func (s *Store) ListConsultations(subjectID string, limit int) ([]Consultation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT correlation_id, subject_id, request_types, status,
		       responses, synthesis, elapsed_ms, created_at, resolved_at
		FROM consultations
		WHERE subject_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	var consultations []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		consultations = append(consultations, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(consultations)-1; i < j; i, j = i+1, j-1 {
		consultations[i], consultations[j] = consultations[j], consultations[i]
	}
	return consultations, nil
}

func scanConsultation(s scanner) (*Consultation, error) {
	c := &Consultation{}
	var types string
	var responses, synthesis sql.NullString
	var elapsed sql.NullInt64
	var resolvedAt sql.NullTime

	err := s.Scan(&c.CorrelationID, &c.SubjectID, &types, &c.Status,
		&responses, &synthesis, &elapsed, &c.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(types), &c.RequestTypes); err != nil {
		return nil, fmt.Errorf("unmarshal request types: %w", err)
	}
	if responses.Valid {
		c.Responses = json.RawMessage(responses.String)
	}
	if synthesis.Valid {
		c.Synthesis = json.RawMessage(synthesis.String)
	}
	c.ElapsedMs = elapsed.Int64
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
