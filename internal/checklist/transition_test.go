package checklist

import (
	"errors"
	"testing"
	"time"

	"prearrival/api/internal/catalog"
)

var (
	crewList      = catalog.Definition{ID: "crew_list", DisplayName: "Crew List", Owner: catalog.PartyShip}
	portClearance = catalog.Definition{ID: "port_clearance", DisplayName: "Port Clearance", Owner: catalog.PartyOffice}
	t0            = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
)

func filed(status Status) Record {
	rec := Draft(crewList.ID)
	rec.Status = status
	rec.FileURL = "http://files/crew.pdf"
	rec.FileName = "crew.pdf"
	return rec
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	rec := Draft(crewList.ID)
	got, err := Upload(rec, crewList, FileRef{URL: "http://files/big.pdf", Name: "big.pdf", Size: 600 * 1024}, t0)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got.Status != StatusDraft || got.FileURL != "" {
		t.Fatalf("record changed on failed upload: %+v", got)
	}
}

func TestCheckUploadSizeBoundary(t *testing.T) {
	if err := CheckUploadSize(MaxUploadBytes); err != nil {
		t.Fatalf("limit itself should pass: %v", err)
	}
	if err := CheckUploadSize(MaxUploadBytes + 1); !IsValidation(err) {
		t.Fatalf("expected validation error above limit, got %v", err)
	}
}

func TestUploadTransitions(t *testing.T) {
	file := FileRef{URL: "http://files/new.pdf", Name: "new.pdf", Size: 1024}
	cases := []struct {
		name string
		rec  Record
		def  catalog.Definition
		want Status
	}{
		{name: "draft ship", rec: Draft(crewList.ID), def: crewList, want: StatusPendingReview},
		{name: "rejected ship reopens review", rec: filed(StatusRejected), def: crewList, want: StatusPendingReview},
		{name: "approved ship reopens review", rec: filed(StatusApproved), def: crewList, want: StatusPendingReview},
		{name: "office self attested", rec: Draft(portClearance.ID), def: portClearance, want: StatusApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Upload(tc.rec, tc.def, file, t0)
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
			if got.FileURL != file.URL || got.FileName != file.Name {
				t.Fatalf("file not attached: %+v", got)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("invariant violated: %v", err)
			}
		})
	}
}

func TestRejectPendingReview(t *testing.T) {
	rec := filed(StatusPendingReview)
	got, err := Reject(rec, crewList, "blurry scan", catalog.PartyOffice, t0)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected || got.RejectionReason != "blurry scan" {
		t.Fatalf("unexpected record: %+v", got)
	}
	added := AppendedEntries(rec, got)
	if len(added) != 1 {
		t.Fatalf("expected exactly one new log entry, got %d", len(added))
	}
	if added[0].Message != "blurry scan" || added[0].Kind != LogRejection || added[0].Role != catalog.PartyOffice {
		t.Fatalf("unexpected log entry: %+v", added[0])
	}
	if len(rec.Log) != 0 {
		t.Fatalf("input record was mutated")
	}
}

func TestRejectRequiresReason(t *testing.T) {
	rec := filed(StatusPendingReview)
	got, err := Reject(rec, crewList, "   ", catalog.PartyOffice, t0)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got.Status != StatusPendingReview || len(got.Log) != 0 {
		t.Fatalf("record changed: %+v", got)
	}
}

func TestApproveClearsReason(t *testing.T) {
	rec := filed(StatusRejected)
	rec.RejectionReason = "wrong port"
	got, err := Approve(rec, crewList, t0)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved || got.RejectionReason != "" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestApprovedCanBeRejected(t *testing.T) {
	got, err := Reject(filed(StatusApproved), crewList, "expired", catalog.PartyOffice, t0)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
}

func TestDecisionGuards(t *testing.T) {
	if _, err := Approve(Draft(crewList.ID), crewList, t0); !errors.Is(err, ErrNotFiled) {
		t.Fatalf("expected ErrNotFiled, got %v", err)
	}
	if _, err := Reject(Draft(crewList.ID), crewList, "missing", catalog.PartyOffice, t0); !errors.Is(err, ErrNotFiled) {
		t.Fatalf("expected ErrNotFiled, got %v", err)
	}
	office := filed(StatusApproved)
	office.DefinitionID = portClearance.ID
	if _, err := Approve(office, portClearance, t0); !errors.Is(err, ErrNotReviewable) {
		t.Fatalf("expected ErrNotReviewable, got %v", err)
	}
	if _, err := Reject(office, portClearance, "late", catalog.PartyOffice, t0); !errors.Is(err, ErrNotReviewable) {
		t.Fatalf("expected ErrNotReviewable, got %v", err)
	}
}

func TestAnnotate(t *testing.T) {
	rec := Draft(crewList.ID)
	got, err := Annotate(rec, "  will send after bunkering ", catalog.PartyShip, t0)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if got.Note != "will send after bunkering" || got.Status != StatusDraft {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Log) != 1 || got.Log[0].Kind != LogNote || got.Log[0].Role != catalog.PartyShip {
		t.Fatalf("unexpected log: %+v", got.Log)
	}
	if _, err := Annotate(rec, "", catalog.PartyShip, t0); !IsValidation(err) {
		t.Fatalf("expected validation error for empty note, got %v", err)
	}
}

func TestValidateInvariants(t *testing.T) {
	bad := []Record{
		{DefinitionID: "a", Status: "archived"},
		{DefinitionID: "a", Status: StatusApproved, FileURL: "x", RejectionReason: "no"},
		{DefinitionID: "a", Status: StatusRejected},
		{DefinitionID: "a", Status: StatusPendingReview},
	}
	for _, rec := range bad {
		if err := rec.Validate(); err == nil {
			t.Fatalf("expected %+v to be invalid", rec)
		}
	}
	if err := Draft("a").Validate(); err != nil {
		t.Fatalf("draft should be valid: %v", err)
	}
}
