package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"prearrival/api/internal/catalog"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db  *sql.DB
	cat *catalog.Catalog
}

// NewPgFTS creates a PostgreSQL FTS searcher. The catalog supplies display
// names and owners, which are not stored in the database.
func NewPgFTS(db *sql.DB, cat *catalog.Catalog) *PgFTS {
	return &PgFTS{db: db, cat: cat}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const slotDocument = `to_tsvector('simple',
	r.vessel_name || ' ' || r.port_name || ' ' || r.id || ' ' ||
	d.doc_id || ' ' || d.file_name || ' ' || d.note || ' ' || d.rejection_reason)`

// docIDsFor lists the catalog entries owned by any of owners.
func (p *PgFTS) docIDsFor(owners []catalog.Party) []string {
	var ids []string
	for _, def := range p.cat.All() {
		for _, o := range owners {
			if def.Owner == o {
				ids = append(ids, def.ID)
				break
			}
		}
	}
	return ids
}

func placeholders(args *[]any, values []string) string {
	marks := make([]string, 0, len(values))
	for _, v := range values {
		*args = append(*args, v)
		marks = append(marks, fmt.Sprintf("$%d", len(*args)))
	}
	return strings.Join(marks, ", ")
}

// Search runs the queue query. An empty text matches every slot that passes
// the owner and status filters.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	docIDs := p.docIDsFor(q.Owners)
	if len(docIDs) == 0 {
		return nil, 0, nil
	}

	var args []any
	where := []string{"d.doc_id IN (" + placeholders(&args, docIDs) + ")"}
	if len(q.Statuses) > 0 {
		where = append(where, "d.status IN ("+placeholders(&args, q.Statuses)+")")
	}
	text := strings.TrimSpace(q.Text)
	snippet := "''::text"
	if text != "" {
		args = append(args, text)
		tsQuery := fmt.Sprintf("plainto_tsquery('simple', $%d)", len(args))
		where = append(where, slotDocument+" @@ "+tsQuery)
		snippet = fmt.Sprintf("ts_headline('simple', d.rejection_reason || ' ' || d.note, %s, 'MaxFragments=1,MaxWords=30')", tsQuery)
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limitOf(q), offset)

	query := fmt.Sprintf(`
		SELECT d.request_id, d.doc_id, d.status, r.vessel_name, r.port_name,
			d.file_name, d.rejection_reason, %s AS snippet, d.updated_at,
			COUNT(*) OVER () AS total
		FROM document_records d
		JOIN port_call_requests r ON r.id = d.request_id
		WHERE %s
		ORDER BY d.updated_at DESC, d.request_id, d.doc_id
		LIMIT $%d OFFSET $%d`, snippet, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var updatedAt time.Time
		if err := rows.Scan(&r.RequestID, &r.DocID, &r.Status, &r.VesselName, &r.PortName,
			&r.FileName, &r.RejectionReason, &r.Snippet, &updatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if def, ok := p.cat.Lookup(r.DocID); ok {
			r.DocName = def.DisplayName
			r.Owner = def.Owner
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}

// LoadAllSlots reads every stored slot for reindexing into Meilisearch.
func (p *PgFTS) LoadAllSlots(ctx context.Context) ([]SlotRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.request_id, d.doc_id, d.status, r.vessel_name, r.port_name,
			d.file_name, d.note, d.rejection_reason, d.updated_at
		FROM document_records d
		JOIN port_call_requests r ON r.id = d.request_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	var slots []SlotRecord
	for rows.Next() {
		var s SlotRecord
		var updatedAt time.Time
		if err := rows.Scan(&s.RequestID, &s.DocID, &s.Status, &s.VesselName, &s.PortName,
			&s.FileName, &s.Note, &s.RejectionReason, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		def, ok := p.cat.Lookup(s.DocID)
		if !ok {
			continue
		}
		s.ID = SlotID(s.RequestID, s.DocID)
		s.DocName = def.DisplayName
		s.Owner = def.Owner
		s.UpdatedAt = updatedAt.UnixMilli()
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
