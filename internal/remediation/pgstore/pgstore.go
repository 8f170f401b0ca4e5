// Package pgstore provides a PostgreSQL implementation of remediation.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/remediation/pgstore")

//go:embed schema.sql
var schema string

// Store persists remediation state in PostgreSQL. Pipeline results and
// execution records are kept as JSONB payloads: they are written whole and
// read whole, never queried field-by-field.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// PutIncident upserts an incident.
func (s *Store) PutIncident(ctx context.Context, inc *incident.Incident) error {
	ctx, span := startSpan(ctx, "pgstore.PutIncident", "INSERT")
	defer span.End()

	notes, err := json.Marshal(orEmpty(inc.Notes))
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal notes: %w", err))
	}

	const query = `
		INSERT INTO incidents (id, service, severity, suspected_cause, created_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			service = EXCLUDED.service,
			severity = EXCLUDED.severity,
			suspected_cause = EXCLUDED.suspected_cause,
			notes = EXCLUDED.notes`
	if _, err := s.pool.Exec(ctx, query,
		inc.ID, inc.Service, string(inc.Severity), inc.SuspectedCause, inc.CreatedAt, notes); err != nil {
		return spanErr(span, fmt.Errorf("insert incident: %w", err))
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetIncident", "SELECT")
	defer span.End()

	const query = `
		SELECT id, service, severity, suspected_cause, created_at, notes
		FROM incidents WHERE id = $1`
	inc, err := scanIncident(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, err)
	}
	return inc, true, nil
}

// ListIncidents returns all incidents ordered by creation time, oldest first.
func (s *Store) ListIncidents(ctx context.Context) ([]*incident.Incident, error) {
	ctx, span := startSpan(ctx, "pgstore.ListIncidents", "SELECT")
	defer span.End()

	const query = `
		SELECT id, service, severity, suspected_cause, created_at, notes
		FROM incidents ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list incidents: %w", err))
	}
	defer rows.Close()

	var out []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, spanErr(span, err)
		}
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("list incidents: %w", err))
	}
	return out, nil
}

// PutResult upserts the pipeline result for an incident.
func (s *Store) PutResult(ctx context.Context, r *remediation.Result) error {
	ctx, span := startSpan(ctx, "pgstore.PutResult", "INSERT")
	defer span.End()

	payload, err := json.Marshal(r)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal result: %w", err))
	}

	const query = `
		INSERT INTO pipeline_results (incident_id, status, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (incident_id) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, r.IncidentID, string(r.Status), payload); err != nil {
		return spanErr(span, fmt.Errorf("insert result: %w", err))
	}
	return nil
}

// GetResult retrieves the pipeline result for an incident.
func (s *Store) GetResult(ctx context.Context, incidentID string) (*remediation.Result, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetResult", "SELECT")
	defer span.End()

	const query = `SELECT payload FROM pipeline_results WHERE incident_id = $1`
	var payload []byte
	if err := s.pool.QueryRow(ctx, query, incidentID).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanErr(span, fmt.Errorf("get result: %w", err))
	}

	var r remediation.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, spanErr(span, fmt.Errorf("unmarshal result: %w", err))
	}
	return &r, true, nil
}

// SetApproval upserts the approval flag for an incident.
func (s *Store) SetApproval(ctx context.Context, incidentID string, approved bool) error {
	ctx, span := startSpan(ctx, "pgstore.SetApproval", "INSERT")
	defer span.End()

	const query = `
		INSERT INTO approvals (incident_id, approved, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (incident_id) DO UPDATE SET
			approved = EXCLUDED.approved,
			updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, incidentID, approved); err != nil {
		return spanErr(span, fmt.Errorf("set approval: %w", err))
	}
	return nil
}

// GetApproval reports the approval flag for an incident; no row means false.
func (s *Store) GetApproval(ctx context.Context, incidentID string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetApproval", "SELECT")
	defer span.End()

	const query = `SELECT approved FROM approvals WHERE incident_id = $1`
	var approved bool
	if err := s.pool.QueryRow(ctx, query, incidentID).Scan(&approved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, spanErr(span, fmt.Errorf("get approval: %w", err))
	}
	return approved, nil
}

// AppendExecution appends an execution record. Records are insert-only.
func (s *Store) AppendExecution(ctx context.Context, rec *remediation.ExecutionRecord) error {
	ctx, span := startSpan(ctx, "pgstore.AppendExecution", "INSERT")
	defer span.End()

	payload, err := json.Marshal(rec)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal execution: %w", err))
	}

	const query = `
		INSERT INTO executions (execution_id, incident_id, payload)
		VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, rec.ExecutionID, rec.IncidentID, payload); err != nil {
		return spanErr(span, fmt.Errorf("insert execution: %w", err))
	}
	return nil
}

// ListExecutions returns execution records for an incident in append order.
func (s *Store) ListExecutions(ctx context.Context, incidentID string) ([]*remediation.ExecutionRecord, error) {
	ctx, span := startSpan(ctx, "pgstore.ListExecutions", "SELECT")
	defer span.End()

	const query = `SELECT payload FROM executions WHERE incident_id = $1 ORDER BY seq`
	rows, err := s.pool.Query(ctx, query, incidentID)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list executions: %w", err))
	}
	defer rows.Close()

	var out []*remediation.ExecutionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan execution: %w", err))
		}
		var rec remediation.ExecutionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, spanErr(span, fmt.Errorf("unmarshal execution: %w", err))
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("list executions: %w", err))
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*incident.Incident, error) {
	var (
		inc      incident.Incident
		severity string
		notes    []byte
	)
	if err := row.Scan(&inc.ID, &inc.Service, &severity, &inc.SuspectedCause, &inc.CreatedAt, &notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	inc.Severity = incident.Severity(severity)
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &inc.Notes); err != nil {
			return nil, fmt.Errorf("unmarshal notes: %w", err)
		}
	}
	return &inc, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
