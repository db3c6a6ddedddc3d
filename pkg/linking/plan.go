package linking

import (
	"sort"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Snapshot is everything the planner needs about one source record.
type Snapshot struct {
	Source models.RecordReference
	// Existing holds the source's links as read under the exclusive section.
	Existing []models.Link
	// Outcomes holds the evaluated golden records that still exist.
	Outcomes []models.CandidateOutcome
	// Missing holds golden records that could not be read.
	Missing []models.RecordReference
	Now     time.Time
}

// Decision is the result of Plan. When NeedsGolden is set the caller creates a golden record and
// calls WithGolden before committing.
type Decision struct {
	Changes     models.ChangeSet
	Match       *models.Link
	Possible    []models.Link
	NeedsGolden bool
}

// Plan computes the link changes for one source. It is a pure function of the snapshot.
//
// A single automatic MATCH link goes to the best MATCH candidate, ordered by score then by lowest
// golden reference. Other MATCH candidates and every POSSIBLE_MATCH candidate get POSSIBLE_MATCH
// links. A manual MATCH link is kept and automatic MATCH candidates are downgraded instead. With
// POSSIBLE_MATCH candidates but no MATCH candidate an existing MATCH link is left unchanged. When
// every candidate is NO_MATCH a golden record is requested. Automatic links that are no longer
// supported and links to missing golden records are deleted.
func Plan(s Snapshot) Decision {
	existing := make(map[models.RecordReference]models.Link, len(s.Existing))
	var current *models.Link
	for _, l := range s.Existing {
		existing[l.Golden] = l
		if l.IsMatch() {
			l := l
			current = &l
		}
	}

	missing := make(map[models.RecordReference]struct{}, len(s.Missing))
	for _, ref := range s.Missing {
		missing[ref] = struct{}{}
	}
	if current != nil {
		if _, gone := missing[current.Golden]; gone {
			current = nil
		}
	}

	var matches, possibles []models.CandidateOutcome
	outcomes := make(map[models.RecordReference]models.MatchOutcome, len(s.Outcomes))
	for _, c := range s.Outcomes {
		if c.Golden == s.Source {
			continue
		}
		outcomes[c.Golden] = c.Outcome
		switch c.Outcome.Classification {
		case models.ClassificationMatch:
			matches = append(matches, c)
		case models.ClassificationPossibleMatch:
			possibles = append(possibles, c)
		}
	}
	sortCandidates(matches)
	sortCandidates(possibles)

	desired := make(map[models.RecordReference]models.Link)
	add := func(golden models.RecordReference, outcome models.MatchOutcome, class models.Classification) {
		link := models.Link{
			Source:         s.Source,
			Golden:         golden,
			Classification: class,
			Vector:         outcome.Vector,
			Score:          outcome.Score,
			RuleCount:      outcome.RuleCount,
			LinkSource:     models.LinkSourceAutomatic,
		}
		if prev, ok := existing[golden]; ok && prev.LinkSource == models.LinkSourceManual {
			link.LinkSource = models.LinkSourceManual
			link.ResolvedBy = prev.ResolvedBy
		}
		desired[golden] = link
	}

	decision := Decision{}
	manual := current != nil && current.LinkSource == models.LinkSourceManual

	switch {
	case manual:
		keep := *current
		if outcome, ok := outcomes[keep.Golden]; ok {
			keep.Vector, keep.Score, keep.RuleCount = outcome.Vector, outcome.Score, outcome.RuleCount
		}
		desired[keep.Golden] = keep
		for _, group := range [][]models.CandidateOutcome{matches, possibles} {
			for _, c := range group {
				if c.Golden != keep.Golden {
					add(c.Golden, c.Outcome, models.ClassificationPossibleMatch)
				}
			}
		}
	case len(matches) > 0:
		add(matches[0].Golden, matches[0].Outcome, models.ClassificationMatch)
		for _, c := range matches[1:] {
			add(c.Golden, c.Outcome, models.ClassificationPossibleMatch)
		}
		for _, c := range possibles {
			add(c.Golden, c.Outcome, models.ClassificationPossibleMatch)
		}
	case len(possibles) > 0:
		for _, c := range possibles {
			add(c.Golden, c.Outcome, models.ClassificationPossibleMatch)
		}
		// the MATCH link keeps the vector it was classified with
		if current != nil {
			desired[current.Golden] = *current
		}
	default:
		// an automatic MATCH link to a golden record that no longer matches is deleted
		decision.NeedsGolden = true
	}

	// manual POSSIBLE_MATCH links survive re-evaluation unless their golden record is gone
	for golden, l := range existing {
		if _, ok := desired[golden]; ok {
			continue
		}
		if _, gone := missing[golden]; gone {
			continue
		}
		if l.LinkSource == models.LinkSourceManual && !l.IsMatch() {
			desired[golden] = l
		}
	}

	decision.Changes = diff(s, existing, desired)
	decision.Match, decision.Possible = split(desired)
	return decision
}

// WithGolden adds the MATCH link to a newly created golden record.
func (d Decision) WithGolden(source, golden models.RecordReference, outcome models.MatchOutcome, now time.Time) Decision {
	link := models.Link{
		Source:         source,
		Golden:         golden,
		Classification: models.ClassificationMatch,
		Vector:         outcome.Vector,
		Score:          outcome.Score,
		RuleCount:      outcome.RuleCount,
		LinkSource:     models.LinkSourceAutomatic,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.NeedsGolden = false
	d.Match = &link
	d.Changes.Upserts = append(d.Changes.Upserts, link)
	return d
}

func diff(s Snapshot, existing, desired map[models.RecordReference]models.Link) models.ChangeSet {
	cs := models.ChangeSet{Source: s.Source}

	for golden := range existing {
		if _, ok := desired[golden]; !ok {
			cs.Deletes = append(cs.Deletes, models.LinkKey{Source: s.Source, Golden: golden})
		}
	}
	sort.Slice(cs.Deletes, func(i, j int) bool { return cs.Deletes[i].Golden.Less(cs.Deletes[j].Golden) })

	for golden, link := range desired {
		prev, ok := existing[golden]
		if ok && prev.SameState(link) {
			continue
		}
		if ok {
			link.CreatedAt = prev.CreatedAt
		} else {
			link.CreatedAt = s.Now
		}
		link.UpdatedAt = s.Now
		cs.Upserts = append(cs.Upserts, link)
	}
	sortUpserts(cs.Upserts)
	return cs
}

// sortUpserts puts POSSIBLE_MATCH links before the MATCH link so that a downgrade is written
// before its replacement.
func sortUpserts(links []models.Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].IsMatch() != links[j].IsMatch() {
			return !links[i].IsMatch()
		}
		return links[i].Golden.Less(links[j].Golden)
	})
}

func split(desired map[models.RecordReference]models.Link) (*models.Link, []models.Link) {
	var match *models.Link
	possible := make([]models.Link, 0, len(desired))
	for _, l := range desired {
		if l.IsMatch() {
			l := l
			match = &l
			continue
		}
		possible = append(possible, l)
	}
	sort.Slice(possible, func(i, j int) bool { return possible[i].Golden.Less(possible[j].Golden) })
	return match, possible
}

// sortCandidates orders by score descending, then by golden reference ascending.
func sortCandidates(candidates []models.CandidateOutcome) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Outcome.Score != candidates[j].Outcome.Score {
			return candidates[i].Outcome.Score > candidates[j].Outcome.Score
		}
		return candidates[i].Golden.Less(candidates[j].Golden)
	})
}
