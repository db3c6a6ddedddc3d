package memory

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/clover/pkg/models"
)

type storedRecord struct {
	record models.Record
	keys   []string
}

// RecordStore keeps source and golden records in memory. Golden records are found by blocking
// key; when none are given every golden record of the type is a candidate.
type RecordStore struct {
	mu      sync.RWMutex
	records map[models.RecordReference]storedRecord
	nextID  int64
	now     func() time.Time
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[models.RecordReference]storedRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *RecordStore) ReadRecord(_ context.Context, ref models.RecordReference) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[ref]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "record not found")
	}
	rec := stored.record
	return &rec, nil
}

// UpsertSourceRecord stores a source record. A zero ID allocates one.
func (s *RecordStore) UpsertSourceRecord(_ context.Context, ref models.RecordReference, data map[string]any) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.ID == 0 {
		s.nextID++
		ref.ID = s.nextID
	} else if ref.ID > s.nextID {
		s.nextID = ref.ID
	}

	now := s.now()
	rec := models.Record{Ref: ref, Data: data, CreatedAt: now, UpdatedAt: now}
	if prev, ok := s.records[ref]; ok {
		if prev.record.Golden {
			return nil, httperror.NewHTTPError(http.StatusConflict, "record is a golden record")
		}
		rec.CreatedAt = prev.record.CreatedAt
	}
	s.records[ref] = storedRecord{record: rec}
	return &rec, nil
}

func (s *RecordStore) CreateGoldenRecord(_ context.Context, goldenType string, seed map[string]any, blockingKeys []string) (models.RecordReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ref := models.NewRef(goldenType, s.nextID)
	now := s.now()
	s.records[ref] = storedRecord{
		record: models.Record{Ref: ref, Data: seed, Golden: true, CreatedAt: now, UpdatedAt: now},
		keys:   append([]string(nil), blockingKeys...),
	}
	return ref, nil
}

func (s *RecordStore) DeleteRecord(_ context.Context, ref models.RecordReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[ref]; !ok {
		return httperror.NewHTTPError(http.StatusNotFound, "record not found")
	}
	delete(s.records, ref)
	return nil
}

func (s *RecordStore) FindCandidateGoldenRecords(_ context.Context, query models.CandidateQuery) ([]models.RecordReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(query.BlockingKeys))
	for _, k := range query.BlockingKeys {
		wanted[k] = struct{}{}
	}

	var refs []models.RecordReference
	for ref, stored := range s.records {
		if !stored.record.Golden || ref.Type != query.GoldenType {
			continue
		}
		if len(wanted) > 0 && !sharesKey(stored.keys, wanted) {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	if query.Limit > 0 && len(refs) > query.Limit {
		refs = refs[:query.Limit]
	}
	return refs, nil
}

func sharesKey(keys []string, wanted map[string]struct{}) bool {
	for _, k := range keys {
		if _, ok := wanted[k]; ok {
			return true
		}
	}
	return false
}
