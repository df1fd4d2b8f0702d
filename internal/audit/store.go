package audit

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docflow-systems/docflow-stack/common/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists status events in Postgres. Rows are insert-only; there is
// no update path by design.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and runs pending migrations.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	if err := runMigrations(connString); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}

	pgPool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pgPool.Ping(ctx); err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &Store{pool: pgPool}, nil
}

func runMigrations(connString string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Insert appends one status event. Every call creates a new row; replaying
// the same event twice yields two rows, preserving the append-only
// invariant.
func (s *Store) Insert(ctx context.Context, ev *models.StatusEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	q := `INSERT INTO audit_events (document_id, status, occurred_at, details, doc_type, confidence)
          VALUES ($1, $2, $3, $4, $5, $6)`

	var docType interface{}
	if ev.DocType != "" {
		docType = ev.DocType
	}
	var confidence interface{}
	if ev.Confidence != nil {
		confidence = *ev.Confidence
	}

	_, err = s.pool.Exec(ctx, q, ev.DocumentID, ev.Status, ev.Timestamp, details, docType, confidence)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// DocumentSummary is the latest known state of a document, derived from its
// event log.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	DocType    string    `json:"doc_type,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	EventCount int       `json:"event_count"`
}

// ListDocuments returns the most recently active documents with their
// latest status.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]DocumentSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	q := `SELECT DISTINCT ON (document_id)
              document_id, status, doc_type, confidence, occurred_at,
              (SELECT count(*) FROM audit_events e2 WHERE e2.document_id = e.document_id)
          FROM audit_events e
          ORDER BY document_id, occurred_at DESC, id DESC
          LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		var docType *string
		if err := rows.Scan(&d.DocumentID, &d.Status, &docType, &d.Confidence, &d.UpdatedAt, &d.EventCount); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if docType != nil {
			d.DocType = *docType
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListEvents returns a document's full event log, oldest first, so an
// observer can reconstruct the lifecycle from the audit stream alone.
func (s *Store) ListEvents(ctx context.Context, documentID string) ([]models.StatusEvent, error) {
	q := `SELECT document_id, status, occurred_at, details, doc_type, confidence
          FROM audit_events
          WHERE document_id = $1
          ORDER BY occurred_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.StatusEvent
	for rows.Next() {
		var ev models.StatusEvent
		var details []byte
		var docType *string
		if err := rows.Scan(&ev.DocumentID, &ev.Status, &ev.Timestamp, &details, &docType, &ev.Confidence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if docType != nil {
			ev.DocType = *docType
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FirstEvent returns a document's oldest event with the given status, or
// nil when none exists. Reprocessing uses this to recover the original
// ingestion record.
func (s *Store) FirstEvent(ctx context.Context, documentID, status string) (*models.StatusEvent, error) {
	events, err := s.ListEvents(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Status == status {
			return &events[i], nil
		}
	}
	return nil, nil
}

// LatestEvent returns a document's most recent event, or nil when the
// document is unknown.
func (s *Store) LatestEvent(ctx context.Context, documentID string) (*models.StatusEvent, error) {
	events, err := s.ListEvents(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[len(events)-1], nil
}
