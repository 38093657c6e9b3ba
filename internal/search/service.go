package search

import (
	"context"

	"github.com/rs/zerolog"
)

type slotIndex interface {
	Searcher
	IndexSlots(slots []SlotRecord) error
}

type fallbackSearcher interface {
	Searcher
	LoadAllSlots(ctx context.Context) ([]SlotRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili slotIndex
	pgfts fallbackSearcher
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}
	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "pgfts"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "pgfts"}
}

// IndexSlot indexes one slot (fire-and-forget to Meilisearch).
func (s *Service) IndexSlot(slot SlotRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if slot.ID == "" {
		slot.ID = SlotID(slot.RequestID, slot.DocID)
	}
	go func() {
		if err := s.meili.IndexSlots([]SlotRecord{slot}); err != nil {
			s.log.Warn().Err(err).Str("slot", slot.ID).Msg("index slot")
		}
	}()
}

// ReindexAllFromPG pushes every stored slot into Meilisearch. Called at
// startup so a fresh index catches up with the database.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	slots, err := s.pgfts.LoadAllSlots(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexSlots(slots); err != nil {
		s.log.Error().Err(err).Msg("reindex slots")
		return
	}
	s.log.Info().Int("slots", len(slots)).Msg("reindexed review queue")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if m, ok := s.meili.(*Meili); ok {
		m.Close()
	}
}
