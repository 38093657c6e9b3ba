package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
)

var crewList = catalog.Definition{ID: "crew_list", DisplayName: "Crew List", Owner: catalog.PartyShip}

func seededStore(t *testing.T) *PostgresStore {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := ApplyMigrationsDir(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)
	eta := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	if err := s.UpsertRequest(ctx, PortCallRequest{ID: "REQ-1", VesselName: "MV Nordic Star", PortName: "Rotterdam", ETA: &eta, ShipContactEmail: "master@nordic.example"}); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return s
}

func TestGetRequest(t *testing.T) {
	s := seededStore(t)
	req, err := s.GetRequest(context.Background(), "REQ-1")
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if req.VesselName != "MV Nordic Star" || req.ETA == nil || req.DueDate != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if _, err := s.GetRequest(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutateRecordPersistsTransitionsAndLog(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, uploaded, err := s.MutateRecord(ctx, "REQ-1", crewList.ID, "chief officer", func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Upload(rec, crewList, checklist.FileRef{URL: "http://x/api/files/crew.pdf", Name: "crew.pdf", Size: 1200}, now)
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uploaded.Status != checklist.StatusPendingReview {
		t.Fatalf("expected pending_review, got %s", uploaded.Status)
	}

	prev, rejected, err := s.MutateRecord(ctx, "REQ-1", crewList.ID, "agent", func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Reject(rec, crewList, "blurry scan", catalog.PartyOffice, now.Add(time.Minute))
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if prev.Status != checklist.StatusPendingReview || rejected.RejectionReason != "blurry scan" {
		t.Fatalf("unexpected transition %s -> %+v", prev.Status, rejected)
	}

	records, err := s.LoadRecords(ctx, "REQ-1")
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	got := records.Get(crewList.ID)
	if got.Status != checklist.StatusRejected || got.FileSize != 1200 {
		t.Fatalf("unexpected stored record: %+v", got)
	}
	if len(got.Log) != 1 || got.Log[0].Message != "blurry scan" || got.Log[0].Role != catalog.PartyOffice {
		t.Fatalf("unexpected log: %+v", got.Log)
	}
	if records.Get("port_clearance").Status != checklist.StatusDraft {
		t.Fatal("unwritten slot should read as draft")
	}
}

func TestMutateRecordFailedTransitionWritesNothing(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	_, _, err := s.MutateRecord(ctx, "REQ-1", crewList.ID, "agent", func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Approve(rec, crewList, time.Now())
	})
	if !errors.Is(err, checklist.ErrNotFiled) {
		t.Fatalf("expected ErrNotFiled, got %v", err)
	}
	records, err := s.LoadRecords(ctx, "REQ-1")
	if err != nil {
		t.Fatalf("LoadRecords() error = %v", err)
	}
	if _, ok := records[crewList.ID]; ok {
		t.Fatal("failed transition left a row behind")
	}
}

func TestMutateRecordUnknownRequest(t *testing.T) {
	s := seededStore(t)
	_, _, err := s.MutateRecord(context.Background(), "nope", crewList.ID, "agent", func(rec checklist.Record) (checklist.Record, error) {
		return rec, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDocumentLogIsAppendOnly(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	if _, _, err := s.MutateRecord(ctx, "REQ-1", crewList.ID, "master", func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Annotate(rec, "original list to follow", catalog.PartyShip, time.Now())
	}); err != nil {
		t.Fatalf("annotate: %v", err)
	}

	for _, stmt := range []string{
		`UPDATE document_log SET message = 'edited' WHERE request_id = 'REQ-1'`,
		`DELETE FROM document_log WHERE request_id = 'REQ-1'`,
	} {
		_, err := s.DB().ExecContext(ctx, stmt)
		if err == nil {
			t.Fatalf("expected %q to be blocked", stmt)
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23001" {
			t.Fatalf("expected restrict_violation, got %v", err)
		}
	}
}

func TestRecordConstraintsRejectInvalidRows(t *testing.T) {
	s := seededStore(t)
	_, err := s.DB().ExecContext(context.Background(), `
		INSERT INTO document_records (request_id, doc_id, status) VALUES ('REQ-1', 'crew_list', 'approved')
	`)
	if err == nil {
		t.Fatal("expected approved record without file to be rejected by the schema")
	}
}
