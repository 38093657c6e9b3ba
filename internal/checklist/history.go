package checklist

import (
	"sort"

	"prearrival/api/internal/catalog"
)

// History returns the record's log oldest first.
func History(rec Record) []LogEntry {
	out := make([]LogEntry, len(rec.Log))
	copy(out, rec.Log)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

type ThreadMessage struct {
	LogEntry
	Side Side `json:"side"`
}

// Conversation is the history laid out as a two-party thread: office on the
// left, ship on the right.
type Conversation struct {
	Empty    bool            `json:"empty"`
	Messages []ThreadMessage `json:"messages"`
}

func Thread(rec Record) Conversation {
	entries := History(rec)
	conv := Conversation{Empty: len(entries) == 0, Messages: make([]ThreadMessage, 0, len(entries))}
	for _, entry := range entries {
		side := SideRight
		if entry.Role == catalog.PartyOffice {
			side = SideLeft
		}
		conv.Messages = append(conv.Messages, ThreadMessage{LogEntry: entry, Side: side})
	}
	return conv
}
