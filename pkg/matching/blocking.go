package matching

import (
	"fmt"
	"sort"

	"github.com/Ramsey-B/clover/pkg/extractor"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

type blockingKey struct {
	path      string
	normalize normalizers.Normalizer
}

// Blocker derives candidate search keys of the form "path=value" from a record.
type Blocker struct {
	keys     []blockingKey
	filters  []FilterDefinition
	accessor extractor.Accessor
}

func newBlocker(rs *RuleSet, accessor extractor.Accessor) (*Blocker, error) {
	b := &Blocker{accessor: accessor, filters: rs.CandidateFilter}
	for i, def := range rs.CandidateSearch {
		normalize, err := normalizers.Chain(def.Normalizers...)
		if err != nil {
			return nil, configErrorf(fmt.Sprintf("candidate_search[%d]", i), "%v", err)
		}
		b.keys = append(b.keys, blockingKey{path: def.Path, normalize: normalize})
	}
	return b, nil
}

// Keys returns the sorted, distinct blocking keys of record.
func (b *Blocker) Keys(record models.Record) ([]string, error) {
	set := make(map[string]struct{})
	for _, k := range b.keys {
		values, err := b.accessor.Values(record, k.path)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			s := k.normalize(extractor.ToString(v))
			if s == "" {
				continue
			}
			set[k.path+"="+s] = struct{}{}
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Eligible reports whether record passes every candidate filter.
func (b *Blocker) Eligible(record models.Record) bool {
	for _, f := range b.filters {
		values, err := b.accessor.Values(record, f.Path)
		if err != nil {
			return false
		}
		found := false
		for _, v := range values {
			if extractor.ToString(v) == f.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
