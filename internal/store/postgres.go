package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertRequest writes request metadata. The API never calls it; it exists for
// seeding and for the systems that own request creation.
func (s *PostgresStore) UpsertRequest(ctx context.Context, req PortCallRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO port_call_requests (id, vessel_name, port_name, eta, due_date, ship_contact_email)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			vessel_name = EXCLUDED.vessel_name,
			port_name = EXCLUDED.port_name,
			eta = EXCLUDED.eta,
			due_date = EXCLUDED.due_date,
			ship_contact_email = EXCLUDED.ship_contact_email,
			updated_at = NOW()
	`, req.ID, req.VesselName, req.PortName, req.ETA, req.DueDate, req.ShipContactEmail)
	if err != nil {
		return fmt.Errorf("upsert request %s: %w", req.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (PortCallRequest, error) {
	var req PortCallRequest
	var eta, due sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vessel_name, port_name, eta, due_date, ship_contact_email, created_at, updated_at
		FROM port_call_requests
		WHERE id = $1
	`, id).Scan(&req.ID, &req.VesselName, &req.PortName, &eta, &due, &req.ShipContactEmail, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PortCallRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PortCallRequest{}, fmt.Errorf("get request %s: %w", id, err)
	}
	if eta.Valid {
		req.ETA = &eta.Time
	}
	if due.Valid {
		req.DueDate = &due.Time
	}
	return req, nil
}

const recordColumns = `doc_id, status, file_url, file_name, file_size, note, rejection_reason, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (checklist.Record, error) {
	var rec checklist.Record
	var status string
	if err := row.Scan(&rec.DefinitionID, &status, &rec.FileURL, &rec.FileName, &rec.FileSize, &rec.Note, &rec.RejectionReason, &rec.UpdatedAt); err != nil {
		return checklist.Record{}, err
	}
	rec.Status = checklist.Status(status)
	rec.Log = []checklist.LogEntry{}
	return rec, nil
}

// LoadRecords returns every stored record of a request with its log. Slots
// never written are absent; Records.Get fills them in as drafts.
func (s *PostgresStore) LoadRecords(ctx context.Context, requestID string) (checklist.Records, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM document_records WHERE request_id = $1`, requestID)
	if err != nil {
		return nil, fmt.Errorf("load records %s: %w", requestID, err)
	}
	defer rows.Close()

	records := checklist.Records{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records[rec.DefinitionID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	logRows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, kind, message, role, created_at
		FROM document_log
		WHERE request_id = $1
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("load log %s: %w", requestID, err)
	}
	defer logRows.Close()

	for logRows.Next() {
		var entry checklist.LogEntry
		var docID, kind, role string
		if err := logRows.Scan(&entry.ID, &docID, &kind, &entry.Message, &role, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Kind = checklist.LogKind(kind)
		entry.Role = catalog.Party(role)
		rec, ok := records[docID]
		if !ok {
			continue
		}
		rec.Log = append(rec.Log, entry)
		records[docID] = rec
	}
	if err := logRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return records, nil
}

// MutateRecord locks one slot, applies fn to its current value and persists
// the result together with any log entries fn appended, in one transaction.
// Concurrent writers to the same slot are serialised by the row lock.
func (s *PostgresStore) MutateRecord(ctx context.Context, requestID, docID, actor string, fn func(checklist.Record) (checklist.Record, error)) (checklist.Record, checklist.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM port_call_requests WHERE id = $1)`, requestID).Scan(&exists); err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("check request %s: %w", requestID, err)
	}
	if !exists {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_records (request_id, doc_id) VALUES ($1, $2)
		ON CONFLICT (request_id, doc_id) DO NOTHING
	`, requestID, docID); err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("ensure record %s/%s: %w", requestID, docID, err)
	}

	prev, err := scanRecord(tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM document_records
		WHERE request_id = $1 AND doc_id = $2
		FOR UPDATE
	`, requestID, docID))
	if err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("lock record %s/%s: %w", requestID, docID, err)
	}
	logRows, err := tx.QueryContext(ctx, `
		SELECT id, kind, message, role, created_at
		FROM document_log
		WHERE request_id = $1 AND doc_id = $2
		ORDER BY created_at, id
	`, requestID, docID)
	if err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("load log %s/%s: %w", requestID, docID, err)
	}
	for logRows.Next() {
		var entry checklist.LogEntry
		var kind, role string
		if err := logRows.Scan(&entry.ID, &kind, &entry.Message, &role, &entry.CreatedAt); err != nil {
			logRows.Close()
			return checklist.Record{}, checklist.Record{}, fmt.Errorf("scan log entry: %w", err)
		}
		entry.Kind = checklist.LogKind(kind)
		entry.Role = catalog.Party(role)
		prev.Log = append(prev.Log, entry)
	}
	logRows.Close()
	if err := logRows.Err(); err != nil {
		return checklist.Record{}, checklist.Record{}, fmt.Errorf("iterate log: %w", err)
	}

	next, err := fn(prev.Clone())
	if err != nil {
		return prev, prev, err
	}
	if err := next.Validate(); err != nil {
		return prev, prev, fmt.Errorf("refusing to store invalid record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE document_records SET
			status = $3, file_url = $4, file_name = $5, file_size = $6,
			note = $7, rejection_reason = $8, updated_by = $9, updated_at = $10
		WHERE request_id = $1 AND doc_id = $2
	`, requestID, docID, string(next.Status), next.FileURL, next.FileName, next.FileSize,
		next.Note, next.RejectionReason, actor, next.UpdatedAt); err != nil {
		return prev, prev, fmt.Errorf("update record %s/%s: %w", requestID, docID, err)
	}

	for _, entry := range checklist.AppendedEntries(prev, next) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_log (id, request_id, doc_id, kind, message, role, author_name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.ID, requestID, docID, string(entry.Kind), entry.Message, string(entry.Role), actor, entry.CreatedAt); err != nil {
			return prev, prev, fmt.Errorf("append log %s/%s: %w", requestID, docID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return prev, prev, fmt.Errorf("commit record %s/%s: %w", requestID, docID, err)
	}
	return prev, next, nil
}
