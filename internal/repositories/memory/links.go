// Package memory holds in-process record and link stores. They back the "memory" store mode and
// the workflow tests.
package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/models"
)

// LinkStore keeps links in maps guarded by one mutex. Commit validates the whole change set before
// applying any of it.
type LinkStore struct {
	mu    sync.RWMutex
	links map[models.LinkKey]models.Link

	failCommits int
}

func NewLinkStore() *LinkStore {
	return &LinkStore{links: make(map[models.LinkKey]models.Link)}
}

// FailNextCommits makes the next n Commit calls fail with a 503 before touching any state.
func (s *LinkStore) FailNextCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

func (s *LinkStore) UpsertLink(_ context.Context, link models.Link) error {
	if link.Classification == models.ClassificationNoMatch {
		return httperror.NewHTTPError(http.StatusBadRequest, "NO_MATCH links are not stored")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if link.IsMatch() {
		for key, l := range s.links {
			if key.Source == link.Source && key.Golden != link.Golden && l.IsMatch() {
				return httperror.NewHTTPError(http.StatusConflict, "source already has a MATCH link")
			}
		}
	}
	s.links[link.Key()] = link
	return nil
}

func (s *LinkStore) DeleteLink(_ context.Context, key models.LinkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[key]; !ok {
		return httperror.NewHTTPError(http.StatusNotFound, "link not found")
	}
	delete(s.links, key)
	return nil
}

func (s *LinkStore) FindLink(_ context.Context, source models.RecordReference) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, l := range s.links {
		if key.Source == source && l.IsMatch() {
			return &l, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "link not found")
}

func (s *LinkStore) FindPossibleMatches(_ context.Context, source models.RecordReference) ([]models.Link, error) {
	return s.filter(func(l models.Link) bool {
		return l.Source == source && l.Classification == models.ClassificationPossibleMatch
	}), nil
}

func (s *LinkStore) FindLinks(_ context.Context, source models.RecordReference) ([]models.Link, error) {
	return s.filter(func(l models.Link) bool { return l.Source == source }), nil
}

func (s *LinkStore) FindLinksTo(_ context.Context, golden models.RecordReference) ([]models.Link, error) {
	return s.filter(func(l models.Link) bool { return l.Golden == golden }), nil
}

func (s *LinkStore) CountLinks(_ context.Context, classification models.Classification) (int, error) {
	return len(s.filter(func(l models.Link) bool {
		return classification == "" || l.Classification == classification
	})), nil
}

// All returns every stored link ordered by source then golden.
func (s *LinkStore) All() []models.Link {
	return s.filter(func(models.Link) bool { return true })
}

func (s *LinkStore) Commit(_ context.Context, cs models.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommits > 0 {
		s.failCommits--
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "link store unavailable")
	}

	next := make(map[models.LinkKey]models.Link)
	for key, l := range s.links {
		if key.Source == cs.Source {
			next[key] = l
		}
	}
	for _, key := range cs.Deletes {
		if key.Source != cs.Source {
			return httperror.NewHTTPError(http.StatusBadRequest, "change set deletes a link of another source")
		}
		delete(next, key)
	}
	for _, l := range cs.Upserts {
		if l.Source != cs.Source {
			return httperror.NewHTTPError(http.StatusBadRequest, "change set writes a link of another source")
		}
		if l.Classification == models.ClassificationNoMatch {
			return httperror.NewHTTPError(http.StatusBadRequest, "NO_MATCH links are not stored")
		}
		next[l.Key()] = l
	}

	matches := 0
	for _, l := range next {
		if l.IsMatch() {
			matches++
		}
	}
	if matches > 1 {
		return httperror.NewHTTPError(http.StatusConflict, "change set leaves more than one MATCH link")
	}

	for key := range s.links {
		if key.Source == cs.Source {
			delete(s.links, key)
		}
	}
	for key, l := range next {
		s.links[key] = l
	}
	return nil
}

func (s *LinkStore) filter(keep func(models.Link) bool) []models.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Link{}
	for _, l := range s.links {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source.Less(out[j].Source)
		}
		return out[i].Golden.Less(out[j].Golden)
	})
	return out
}
