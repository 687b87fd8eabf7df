package search

import (
	"log"
	"sync"

	"cadence/api/internal/item"
)

// Service is the facade that tries Meilisearch first and falls back to
// matching the caller's cards in memory.
type Service struct {
	meili *Meili

	mu      sync.Mutex
	indexed map[string]map[string]struct{}
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili) *Service {
	return &Service{meili: meili, indexed: make(map[string]map[string]struct{})}
}

func (s *Service) Healthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise matches fallback().
func (s *Service) Search(q Query, fallback func() []item.Item) Response {
	if s.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to memory: %v", err)
	}

	var items []item.Item
	if fallback != nil {
		items = fallback()
	}
	results, total := MatchItems(items, q)
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Sync indexes a partition's cards and removes cards that have left it
// since the previous call (fire-and-forget to Meilisearch).
func (s *Service) Sync(projectID string, instance item.Instance, items []item.Item) {
	if !s.Healthy() {
		return
	}
	key := projectID + "/" + string(instance)
	records := make([]ItemRecord, 0, len(items))
	current := make(map[string]struct{}, len(items))
	for _, it := range items {
		rec := RecordFor(projectID, instance, it)
		records = append(records, rec)
		current[rec.DocID] = struct{}{}
	}

	s.mu.Lock()
	var removed []string
	for docID := range s.indexed[key] {
		if _, ok := current[docID]; !ok {
			removed = append(removed, docID)
		}
	}
	s.indexed[key] = current
	s.mu.Unlock()

	go func() {
		if err := s.meili.IndexItems(records); err != nil {
			log.Printf("search: index %s: %v", key, err)
		}
		for _, docID := range removed {
			if err := s.meili.DeleteItem(docID); err != nil {
				log.Printf("search: delete %s: %v", docID, err)
			}
		}
	}()
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
