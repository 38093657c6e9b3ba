package checklist

import (
	"testing"
	"time"

	"prearrival/api/internal/catalog"
)

func TestHistorySortsAscending(t *testing.T) {
	rec := Draft("crew")
	rec.Log = []LogEntry{
		{ID: "3", Kind: LogNote, Message: "resent", Role: catalog.PartyShip, CreatedAt: t0.Add(2 * time.Hour)},
		{ID: "1", Kind: LogRejection, Message: "blurry", Role: catalog.PartyOffice, CreatedAt: t0},
		{ID: "2", Kind: LogNote, Message: "ok", Role: catalog.PartyShip, CreatedAt: t0.Add(time.Hour)},
	}
	got := History(rec)
	for i, want := range []string{"1", "2", "3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
	if rec.Log[0].ID != "3" {
		t.Fatalf("History reordered the record log")
	}
}

func TestThreadSides(t *testing.T) {
	rec := filed(StatusPendingReview)
	rec, _ = Reject(rec, crewList, "stamp missing", catalog.PartyOffice, t0)
	rec, _ = Annotate(rec, "stamped copy uploaded", catalog.PartyShip, t0.Add(time.Minute))

	conv := Thread(rec)
	if conv.Empty || len(conv.Messages) != 2 {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.Messages[0].Side != SideLeft || conv.Messages[1].Side != SideRight {
		t.Fatalf("unexpected sides: %s, %s", conv.Messages[0].Side, conv.Messages[1].Side)
	}
}

func TestThreadEmpty(t *testing.T) {
	conv := Thread(Draft("crew"))
	if !conv.Empty || len(conv.Messages) != 0 {
		t.Fatalf("expected empty conversation, got %+v", conv)
	}
}
