package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"

	"prearrival/api/internal/catalog"
)

const idxSlots = "prearrival_slots"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is tolerated; the health loop picks it up later.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxSlots, PrimaryKey: "id"}); err != nil {
		m.log.Debug().Err(err).Msg("create slot index (may already exist)")
	}
	index := m.client.Index(idxSlots)
	filterable := []interface{}{"status", "owner", "requestId", "docId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"vesselName", "portName", "docName", "fileName", "rejectionReason", "note", "requestId"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
	sortable := []string{"updatedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.log.Warn().Err(err).Msg("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// filters builds the Meilisearch filter expressions for q. Each element is
// ANDed by the engine.
func filters(q Query) []string {
	var out []string
	owners := make([]string, 0, len(q.Owners))
	for _, o := range q.Owners {
		owners = append(owners, strconv.Quote(string(o)))
	}
	out = append(out, "owner IN ["+strings.Join(owners, ", ")+"]")
	if len(q.Statuses) > 0 {
		statuses := make([]string, 0, len(q.Statuses))
		for _, s := range q.Statuses {
			statuses = append(statuses, strconv.Quote(s))
		}
		out = append(out, "status IN ["+strings.Join(statuses, ", ")+"]")
	}
	return out
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if len(q.Owners) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxSlots,
			Query:                 q.Text,
			Limit:                 int64(limitOf(q)),
			Offset:                int64(q.Offset),
			Filter:                filters(q),
			Sort:                  []string{"updatedAt:desc"},
			AttributesToHighlight: []string{"rejectionReason", "note"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		RequestID:       decodeString(hit, "requestId"),
		DocID:           decodeString(hit, "docId"),
		DocName:         decodeString(hit, "docName"),
		Owner:           catalog.Party(decodeString(hit, "owner")),
		Status:          decodeString(hit, "status"),
		VesselName:      decodeString(hit, "vesselName"),
		PortName:        decodeString(hit, "portName"),
		FileName:        decodeString(hit, "fileName"),
		RejectionReason: decodeString(hit, "rejectionReason"),
		Snippet:         firstNonBlank(decodeFormattedString(hit, "rejectionReason"), decodeFormattedString(hit, "note")),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexSlots adds or updates slots in the index.
func (m *Meili) IndexSlots(slots []SlotRecord) error {
	if len(slots) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSlots).AddDocuments(slots, nil)
	return err
}
