// Package checklist holds the per-request document records and the rules
// that move them between states.
package checklist

import (
	"fmt"
	"strings"
	"time"

	"prearrival/api/internal/catalog"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Decided is true once a reviewer (or self-attestation) has ruled on the file.
func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

type LogKind string

const (
	LogNote      LogKind = "note"
	LogRejection LogKind = "rejection"
)

// LogEntry is immutable once appended.
type LogEntry struct {
	ID        string        `json:"id"`
	Kind      LogKind       `json:"kind"`
	Message   string        `json:"message"`
	Role      catalog.Party `json:"role"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Record is the mutable state of one slot within one port-call request.
// Transitions never modify a Record in place; they return a new value.
type Record struct {
	DefinitionID    string     `json:"docId"`
	Status          Status     `json:"status"`
	FileURL         string     `json:"fileUrl,omitempty"`
	FileName        string     `json:"fileName,omitempty"`
	FileSize        int64      `json:"fileSize,omitempty"`
	Note            string     `json:"note,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	Log             []LogEntry `json:"log"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func Draft(definitionID string) Record {
	return Record{DefinitionID: definitionID, Status: StatusDraft, Log: []LogEntry{}}
}

func (r Record) HasFile() bool {
	return strings.TrimSpace(r.FileURL) != ""
}

// Clone copies the record including its log so the copy can be appended to
// without aliasing the original.
func (r Record) Clone() Record {
	out := r
	out.Log = make([]LogEntry, len(r.Log))
	copy(out.Log, r.Log)
	return out
}

// Validate reports the first invariant the record violates.
func (r Record) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", r.DefinitionID, r.Status)
	}
	if r.Status == StatusApproved && r.RejectionReason != "" {
		return fmt.Errorf("record %s: approved record carries a rejection reason", r.DefinitionID)
	}
	if r.Status.Decided() && !r.HasFile() {
		return fmt.Errorf("record %s: %s without a file", r.DefinitionID, r.Status)
	}
	if !r.HasFile() && r.Status != StatusDraft {
		return fmt.Errorf("record %s: %s without a file", r.DefinitionID, r.Status)
	}
	return nil
}

// Records maps definition id to record for one request.
type Records map[string]Record

// Get returns the stored record or an implicit Draft.
func (rs Records) Get(definitionID string) Record {
	if rec, ok := rs[definitionID]; ok {
		return rec
	}
	return Draft(definitionID)
}

// With returns a copy of rs with rec merged in.
func (rs Records) With(rec Record) Records {
	out := make(Records, len(rs)+1)
	for k, v := range rs {
		out[k] = v
	}
	out[rec.DefinitionID] = rec
	return out
}

// Counts tallies records by status across the given definitions.
func (rs Records) Counts(defs []catalog.Definition) map[Status]int {
	counts := map[Status]int{
		StatusDraft:         0,
		StatusPendingReview: 0,
		StatusApproved:      0,
		StatusRejected:      0,
	}
	for _, def := range defs {
		counts[rs.Get(def.ID).Status]++
	}
	return counts
}
