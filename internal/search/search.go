package search

import (
	"context"

	"prearrival/api/internal/catalog"
)

// SlotRecord is the data we index for one document slot of one request.
type SlotRecord struct {
	ID              string        `json:"id"`
	RequestID       string        `json:"requestId"`
	DocID           string        `json:"docId"`
	DocName         string        `json:"docName"`
	Owner           catalog.Party `json:"owner"`
	Status          string        `json:"status"`
	VesselName      string        `json:"vesselName"`
	PortName        string        `json:"portName"`
	FileName        string        `json:"fileName"`
	Note            string        `json:"note"`
	RejectionReason string        `json:"rejectionReason"`
	UpdatedAt       int64         `json:"updatedAt"`
}

// SlotID is the index primary key; Meilisearch ids allow only [A-Za-z0-9_-].
func SlotID(requestID, docID string) string {
	return sanitizeID(requestID) + "__" + sanitizeID(docID)
}

func sanitizeID(value string) string {
	out := []rune(value)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}

// Result is a single queue hit returned to the caller.
type Result struct {
	RequestID       string        `json:"requestId"`
	DocID           string        `json:"docId"`
	DocName         string        `json:"docName"`
	Owner           catalog.Party `json:"owner"`
	Status          string        `json:"status"`
	VesselName      string        `json:"vesselName"`
	PortName        string        `json:"portName"`
	FileName        string        `json:"fileName,omitempty"`
	Snippet         string        `json:"snippet,omitempty"`
	RejectionReason string        `json:"rejectionReason,omitempty"`
}

// Query describes a review queue search.
type Query struct {
	Text     string
	Statuses []string
	// Owners limits results to slots the caller may see; empty means none.
	Owners []catalog.Party
	Limit  int
	Offset int
}

// Response is the envelope returned by the review queue endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a queue search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

func limitOf(q Query) int {
	if q.Limit <= 0 || q.Limit > 200 {
		return 50
	}
	return q.Limit
}
