// Package pgstore provides a PostgreSQL implementation of workflow.Store.
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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/warden/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/workflow/pgstore")

//go:embed schema.sql
var schema string

const inflightIndex = "workflow_runs_alert_inflight_idx"

func isInflightConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == inflightIndex
}

// Store persists workflow records in PostgreSQL. The full record is kept
// as JSONB next to a few indexed summary columns.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
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

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Get retrieves a record by workflow ID.
func (s *Store) Get(ctx context.Context, id string) (*workflow.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT record FROM workflow_runs WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return rec, rec != nil, nil
}

// GetByAlertID retrieves the most recent record for an alert.
func (s *Store) GetByAlertID(ctx context.Context, alertID string) (*workflow.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByAlertID", "SELECT")
	defer span.End()

	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT record FROM workflow_runs WHERE alert_id = $1 ORDER BY started_at DESC LIMIT 1`, alertID))
	if err != nil {
		return nil, false, fail(span, err)
	}
	return rec, rec != nil, nil
}

// Put inserts or updates a record. Inserting a second non-terminal run
// for an alert returns workflow.ErrDuplicateRun.
func (s *Store) Put(ctx context.Context, rec *workflow.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()
	span.SetAttributes(attribute.String("warden.workflow.id", rec.WorkflowID))

	body, err := json.Marshal(rec)
	if err != nil {
		return fail(span, fmt.Errorf("marshal record: %w", err))
	}

	var verdict, priority, ticket *string
	if rec.Decision != nil {
		v, p := string(rec.Decision.FinalVerdict), string(rec.Decision.Priority)
		verdict, priority = &v, &p
	}
	if rec.Response != nil {
		ticket = rec.Response.TicketID
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO workflow_runs (
		id, alert_id, rule_id, severity, status, current_stage, enable_ai,
		final_verdict, priority, ticket_id, started_at, completed_at, processing_time_s, record
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (id) DO UPDATE SET
		status            = EXCLUDED.status,
		current_stage     = EXCLUDED.current_stage,
		final_verdict     = EXCLUDED.final_verdict,
		priority          = EXCLUDED.priority,
		ticket_id         = EXCLUDED.ticket_id,
		completed_at      = EXCLUDED.completed_at,
		processing_time_s = EXCLUDED.processing_time_s,
		record            = EXCLUDED.record,
		updated_at        = now()`,
		rec.WorkflowID, rec.Alert.ID, rec.Alert.RuleID, string(rec.Alert.Severity),
		string(rec.Status), string(rec.CurrentStage), rec.EnableAI,
		verdict, priority, ticket, rec.StartedAt, rec.CompletedAt, rec.ProcessingTimeSeconds, body,
	)
	if isInflightConflict(err) {
		span.SetAttributes(attribute.Bool("warden.duplicate", true))
		return fmt.Errorf("alert %s: %w", rec.Alert.ID, workflow.ErrDuplicateRun)
	}
	if err != nil {
		return fail(span, fmt.Errorf("upsert workflow: %w", err))
	}
	return nil
}

// AppendEvent inserts one progress event. Re-appending the same seq is a no-op.
func (s *Store) AppendEvent(ctx context.Context, workflowID string, seq int, ev workflow.Event) error {
	ctx, span := startSpan(ctx, "pgstore.AppendEvent", "INSERT")
	defer span.End()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fail(span, fmt.Errorf("marshal event seq %d: %w", seq, err))
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_events (workflow_id, seq, stage, status, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (workflow_id, seq) DO NOTHING`,
		workflowID, seq, string(ev.Stage), string(ev.Status), payload, ev.Time,
	)
	if err != nil {
		return fail(span, fmt.Errorf("insert event seq %d: %w", seq, err))
	}
	return nil
}

// Events returns the events for a workflow ordered by seq.
func (s *Store) Events(ctx context.Context, workflowID string) ([]workflow.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.Events", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT seq, payload FROM workflow_events WHERE workflow_id = $1 ORDER BY seq`, workflowID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query events: %w", err))
	}
	defer rows.Close()

	var events []workflow.Event
	for rows.Next() {
		var (
			seq     int
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fail(span, fmt.Errorf("scan event: %w", err))
		}
		var ev workflow.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fail(span, fmt.Errorf("unmarshal event seq %d: %w", seq, err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate events: %w", err))
	}
	return events, nil
}

// scanRecord decodes the record column. Returns (nil, nil) when no row is found.
func scanRecord(row pgx.Row) (*workflow.Record, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	return workflow.DecodeRecord(body)
}
