package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
)

var crewList = catalog.Definition{ID: "crew", DisplayName: "Crew List", Owner: catalog.PartyShip}

func pendingRecords() checklist.Records {
	return checklist.Records{
		"crew": {DefinitionID: "crew", Status: checklist.StatusPendingReview, FileURL: "mem://crew", FileName: "crew.pdf", Log: []checklist.LogEntry{}},
	}
}

func reject(reason string) Transition {
	return func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Reject(rec, crewList, reason, catalog.PartyOffice, time.Now())
	}
}

func approve(rec checklist.Record) (checklist.Record, error) {
	return checklist.Approve(rec, crewList, time.Now())
}

func TestApplyShowsOverlayImmediately(t *testing.T) {
	c := New(pendingRecords(), nil)
	_, rec, err := c.Apply("crew", reject("blurry scan"))
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if rec.Status != checklist.StatusRejected {
		t.Fatalf("expected rejected, got %s", rec.Status)
	}
	view := c.View("crew")
	if view.Status != checklist.StatusRejected || view.RejectionReason != "blurry scan" {
		t.Fatalf("view not updated: %+v", view)
	}
	if c.Confirmed("crew").Status != checklist.StatusPendingReview {
		t.Fatal("confirmed state changed before acknowledgement")
	}
}

func TestApplyValidationErrorLeavesStateAlone(t *testing.T) {
	c := New(pendingRecords(), nil)
	if _, _, err := c.Apply("crew", reject("")); !checklist.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if c.Pending("crew") {
		t.Fatal("overlay installed for failed transition")
	}
}

func TestDiscardRestoresConfirmedAndNotifies(t *testing.T) {
	var notified []string
	c := New(pendingRecords(), func(docID string, err error) {
		notified = append(notified, docID+": "+err.Error())
	})
	ticket, _, err := c.Apply("crew", approve)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	c.Discard(ticket, errors.New("network down"))
	if got := c.View("crew").Status; got != checklist.StatusPendingReview {
		t.Fatalf("expected confirmed status after discard, got %s", got)
	}
	if len(notified) != 1 || notified[0] != "crew: network down" {
		t.Fatalf("unexpected notifications: %v", notified)
	}
}

func TestCommitKeepsNewerOverlay(t *testing.T) {
	c := New(pendingRecords(), nil)
	first, _, _ := c.Apply("crew", reject("stamp missing"))
	second, _, _ := c.Apply("crew", approve)

	server := pendingRecords()["crew"]
	server.Status = checklist.StatusRejected
	server.RejectionReason = "stamp missing"
	c.Commit(first, server)

	if got := c.View("crew").Status; got != checklist.StatusApproved {
		t.Fatalf("newer overlay lost, view is %s", got)
	}
	if got := c.Confirmed("crew").Status; got != checklist.StatusRejected {
		t.Fatalf("confirmed not updated, got %s", got)
	}
	c.Discard(second, errors.New("timeout"))
	if got := c.View("crew").Status; got != checklist.StatusRejected {
		t.Fatalf("expected confirmed rejection after discard, got %s", got)
	}
}

func TestRunCommitsServerRecord(t *testing.T) {
	c := New(pendingRecords(), nil)
	done, err := c.Run(context.Background(), "crew", approve, func(_ context.Context, rec checklist.Record) (checklist.Record, error) {
		rec.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		return rec, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	outcome := <-done
	if outcome.Err != nil || outcome.Record.Status != checklist.StatusApproved {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if c.Pending("crew") {
		t.Fatal("overlay not cleared after commit")
	}
	if c.Confirmed("crew").UpdatedAt.Year() != 2026 {
		t.Fatal("server record not stored")
	}
}

func TestRunFailureReverts(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	c := New(pendingRecords(), func(_ string, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	release := make(chan struct{})
	done, err := c.Run(context.Background(), "crew", reject("wrong vessel"), func(context.Context, checklist.Record) (checklist.Record, error) {
		<-release
		return checklist.Record{}, errors.New("502 bad gateway")
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if c.View("crew").Status != checklist.StatusRejected {
		t.Fatal("optimistic state not visible while write is in flight")
	}
	close(release)
	outcome := <-done
	if outcome.Err == nil || outcome.Record.Status != checklist.StatusPendingReview {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected one notification, got %v", errs)
	}
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	c := New(pendingRecords(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	done, err := c.Run(ctx, "crew", approve, func(wctx context.Context, rec checklist.Record) (checklist.Record, error) {
		<-release
		return rec, wctx.Err()
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	cancel()
	close(release)
	if outcome := <-done; outcome.Err != nil {
		t.Fatalf("write saw cancellation: %v", outcome.Err)
	}
}

func TestSnapshotMergesOverlays(t *testing.T) {
	c := New(pendingRecords(), nil)
	_, _, _ = c.Apply("crew", approve)
	snap := c.Snapshot()
	if snap.Get("crew").Status != checklist.StatusApproved {
		t.Fatalf("snapshot missing overlay: %+v", snap)
	}
	if snap.Get("isps").Status != checklist.StatusDraft {
		t.Fatal("absent record should read as draft")
	}
}

func annotate(note string) Transition {
	return func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Annotate(rec, note, catalog.PartyShip, time.Now())
	}
}

func TestDiscardOlderTicketRebuildsNewerOverlay(t *testing.T) {
	c := New(pendingRecords(), nil)
	first, _, err := c.Apply("crew", annotate("A"))
	if err != nil {
		t.Fatalf("Apply(A) error = %v", err)
	}
	if _, _, err := c.Apply("crew", annotate("B")); err != nil {
		t.Fatalf("Apply(B) error = %v", err)
	}

	c.Discard(first, errors.New("network down"))

	view := c.View("crew")
	if view.Note != "B" {
		t.Fatalf("expected note B, got %q", view.Note)
	}
	if len(view.Log) != 1 || view.Log[0].Message != "B" {
		t.Fatalf("failed note still visible in log: %+v", view.Log)
	}
	if !c.Pending("crew") {
		t.Fatal("newer overlay dropped with the failed one")
	}
}

func TestDiscardDropsOverlayThatNoLongerApplies(t *testing.T) {
	records := pendingRecords()
	crew := records["crew"]
	crew.FileURL, crew.FileName, crew.Status = "", "", checklist.StatusDraft
	records["crew"] = crew
	c := New(records, nil)

	upload := func(rec checklist.Record) (checklist.Record, error) {
		return checklist.Upload(rec, crewList, checklist.FileRef{URL: "mem://crew", Name: "crew.pdf", Size: 10}, time.Now())
	}
	first, _, err := c.Apply("crew", upload)
	if err != nil {
		t.Fatalf("Apply(upload) error = %v", err)
	}
	if _, _, err := c.Apply("crew", approve); err != nil {
		t.Fatalf("Apply(approve) error = %v", err)
	}

	c.Discard(first, errors.New("upload failed"))
	if got := c.View("crew").Status; got != checklist.StatusDraft {
		t.Fatalf("approval of a failed upload still shown: %s", got)
	}
}

func TestRunDoesNotResendFailedChange(t *testing.T) {
	c := New(pendingRecords(), nil)
	release := make(chan struct{})
	firstDone, err := c.Run(context.Background(), "crew", annotate("A"), func(context.Context, checklist.Record) (checklist.Record, error) {
		<-release
		return checklist.Record{}, errors.New("502 bad gateway")
	})
	if err != nil {
		t.Fatalf("Run(A) error = %v", err)
	}

	var sent checklist.Record
	secondDone, err := c.Run(context.Background(), "crew", annotate("B"), func(_ context.Context, rec checklist.Record) (checklist.Record, error) {
		sent = rec
		return rec, nil
	})
	if err != nil {
		t.Fatalf("Run(B) error = %v", err)
	}
	if view := c.View("crew"); view.Note != "B" || len(view.Log) != 2 {
		t.Fatalf("both notes should show while writes are in flight: %+v", view)
	}

	close(release)
	if outcome := <-firstDone; outcome.Err == nil {
		t.Fatal("first write should fail")
	}
	outcome := <-secondDone
	if outcome.Err != nil {
		t.Fatalf("second write failed: %v", outcome.Err)
	}
	if len(sent.Log) != 1 || sent.Log[0].Message != "B" {
		t.Fatalf("second write carried the failed note: %+v", sent.Log)
	}
	if c.Pending("crew") || c.Confirmed("crew").Note != "B" {
		t.Fatalf("unexpected final state: %+v", c.Confirmed("crew"))
	}
}
