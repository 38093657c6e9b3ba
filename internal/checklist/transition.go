package checklist

import (
	"fmt"
	"strings"
	"time"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/util"
)

// MaxUploadBytes is the largest file accepted into a slot.
const MaxUploadBytes int64 = 512000

// FileRef points at bytes already written to the blob store.
type FileRef struct {
	URL  string
	Name string
	Size int64
}

// CheckUploadSize is the client-side guard run before any network call.
func CheckUploadSize(size int64) error {
	if size > MaxUploadBytes {
		return validationError("file", fmt.Sprintf("file is %d bytes; the limit is %d bytes (500 KiB)", size, MaxUploadBytes))
	}
	if size < 0 {
		return validationError("file", "file size is unknown")
	}
	return nil
}

// Upload attaches a file to the slot. Ship documents go back to review on
// every upload, including after a rejection or an approval. Office
// documents have no review step and are approved on upload.
func Upload(rec Record, def catalog.Definition, file FileRef, now time.Time) (Record, error) {
	if err := CheckUploadSize(file.Size); err != nil {
		return rec, err
	}
	if strings.TrimSpace(file.URL) == "" {
		return rec, validationError("file", "file url is required")
	}
	next := rec.Clone()
	next.DefinitionID = def.ID
	next.FileURL = file.URL
	next.FileName = strings.TrimSpace(file.Name)
	next.FileSize = file.Size
	if def.Owner == catalog.PartyOffice {
		next.Status = StatusApproved
		next.RejectionReason = ""
	} else {
		next.Status = StatusPendingReview
	}
	next.UpdatedAt = now
	return next, nil
}

func checkDecidable(rec Record, def catalog.Definition) error {
	if def.Owner != catalog.PartyShip {
		return fmt.Errorf("%w: %s is owned by %s", ErrNotReviewable, def.ID, def.Owner)
	}
	if !rec.HasFile() {
		return fmt.Errorf("%w: %s", ErrNotFiled, def.ID)
	}
	return nil
}

// Approve accepts the current file. Any previous rejection reason is cleared.
func Approve(rec Record, def catalog.Definition, now time.Time) (Record, error) {
	if err := checkDecidable(rec, def); err != nil {
		return rec, err
	}
	next := rec.Clone()
	next.Status = StatusApproved
	next.RejectionReason = ""
	next.UpdatedAt = now
	return next, nil
}

// Reject refuses the current file with a mandatory reason, which is also
// appended to the record's log.
func Reject(rec Record, def catalog.Definition, reason string, by catalog.Party, now time.Time) (Record, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return rec, validationError("reason", "a rejection reason is required")
	}
	if err := checkDecidable(rec, def); err != nil {
		return rec, err
	}
	next := rec.Clone()
	next.Status = StatusRejected
	next.RejectionReason = reason
	next.Log = append(next.Log, newEntry(LogRejection, reason, by, now))
	next.UpdatedAt = now
	return next, nil
}

// Annotate sets the slot note and records it in the log.
func Annotate(rec Record, note string, by catalog.Party, now time.Time) (Record, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return rec, validationError("note", "note is empty")
	}
	next := rec.Clone()
	next.Note = note
	next.Log = append(next.Log, newEntry(LogNote, note, by, now))
	next.UpdatedAt = now
	return next, nil
}

func newEntry(kind LogKind, message string, by catalog.Party, now time.Time) LogEntry {
	return LogEntry{
		ID:        util.NewID("log"),
		Kind:      kind,
		Message:   message,
		Role:      by,
		CreatedAt: now,
	}
}

// AppendedEntries returns the log entries in next that are not in prev.
// Logs only grow, so this is the tail.
func AppendedEntries(prev, next Record) []LogEntry {
	if len(next.Log) <= len(prev.Log) {
		return nil
	}
	return next.Log[len(prev.Log):]
}
