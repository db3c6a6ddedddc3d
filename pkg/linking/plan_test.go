package linking

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	planNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src     = models.NewRef("Patient", 100)
)

func golden(id int64) models.RecordReference {
	return models.NewRef("Person", id)
}

func candidate(id int64, class models.Classification, score float64) models.CandidateOutcome {
	vector := models.MatchVector(0)
	switch class {
	case models.ClassificationMatch:
		vector = 0b111
	case models.ClassificationPossibleMatch:
		vector = 0b110
	}
	return models.CandidateOutcome{
		Golden:  golden(id),
		Outcome: models.MatchOutcome{Vector: vector, Score: score, RuleCount: 3, Classification: class},
	}
}

func linkFrom(c models.CandidateOutcome, class models.Classification, source models.LinkSource) models.Link {
	return models.Link{
		Source:         src,
		Golden:         c.Golden,
		Classification: class,
		Vector:         c.Outcome.Vector,
		Score:          c.Outcome.Score,
		RuleCount:      c.Outcome.RuleCount,
		LinkSource:     source,
		CreatedAt:      planNow.Add(-time.Hour),
		UpdatedAt:      planNow.Add(-time.Hour),
	}
}

func TestPlanNoCandidatesNeedsGolden(t *testing.T) {
	d := Plan(Snapshot{Source: src, Now: planNow})

	assert.True(t, d.NeedsGolden)
	assert.True(t, d.Changes.Empty())
	assert.Nil(t, d.Match)

	d = d.WithGolden(src, golden(1), models.MatchOutcome{Vector: 0b111, Score: 3, RuleCount: 3}, planNow)
	assert.False(t, d.NeedsGolden)
	require.Len(t, d.Changes.Upserts, 1)
	assert.Equal(t, golden(1), d.Match.Golden)
	assert.Equal(t, models.ClassificationMatch, d.Changes.Upserts[0].Classification)
	assert.Equal(t, models.LinkSourceAutomatic, d.Changes.Upserts[0].LinkSource)
}

func TestPlanOnlyNoMatchCandidatesNeedsGolden(t *testing.T) {
	d := Plan(Snapshot{
		Source:   src,
		Outcomes: []models.CandidateOutcome{candidate(1, models.ClassificationNoMatch, 0.2)},
		Now:      planNow,
	})
	assert.True(t, d.NeedsGolden)
	assert.True(t, d.Changes.Empty())
}

func TestPlanTieBreaksMatchesByScoreThenLowestGolden(t *testing.T) {
	d := Plan(Snapshot{
		Source: src,
		Outcomes: []models.CandidateOutcome{
			candidate(5, models.ClassificationMatch, 2.5),
			candidate(1, models.ClassificationMatch, 1.0),
			candidate(3, models.ClassificationMatch, 2.5),
			candidate(7, models.ClassificationPossibleMatch, 2.9),
		},
		Now: planNow,
	})

	require.NotNil(t, d.Match)
	assert.Equal(t, golden(3), d.Match.Golden)
	assert.False(t, d.NeedsGolden)

	var possible []models.RecordReference
	for _, l := range d.Possible {
		possible = append(possible, l.Golden)
		assert.Equal(t, models.ClassificationPossibleMatch, l.Classification)
	}
	assert.Equal(t, []models.RecordReference{golden(1), golden(5), golden(7)}, possible)

	// POSSIBLE_MATCH upserts precede the MATCH upsert
	require.Len(t, d.Changes.Upserts, 4)
	assert.True(t, d.Changes.Upserts[3].IsMatch())
	for _, l := range d.Changes.Upserts {
		assert.Equal(t, planNow, l.CreatedAt)
		assert.Equal(t, planNow, l.UpdatedAt)
	}
}

func TestPlanSupersedesAutomaticMatch(t *testing.T) {
	old := candidate(1, models.ClassificationMatch, 3)

	t.Run("downgrades when the old golden still matches", func(t *testing.T) {
		d := Plan(Snapshot{
			Source:   src,
			Existing: []models.Link{linkFrom(old, models.ClassificationMatch, models.LinkSourceAutomatic)},
			Outcomes: []models.CandidateOutcome{
				candidate(1, models.ClassificationPossibleMatch, 2),
				candidate(2, models.ClassificationMatch, 3),
			},
			Now: planNow,
		})

		require.NotNil(t, d.Match)
		assert.Equal(t, golden(2), d.Match.Golden)
		require.Len(t, d.Changes.Upserts, 2)
		assert.Equal(t, golden(1), d.Changes.Upserts[0].Golden)
		assert.Equal(t, models.ClassificationPossibleMatch, d.Changes.Upserts[0].Classification)
		assert.Equal(t, planNow.Add(-time.Hour), d.Changes.Upserts[0].CreatedAt)
		assert.Empty(t, d.Changes.Deletes)
	})

	t.Run("deletes when the old golden no longer matches", func(t *testing.T) {
		d := Plan(Snapshot{
			Source:   src,
			Existing: []models.Link{linkFrom(old, models.ClassificationMatch, models.LinkSourceAutomatic)},
			Outcomes: []models.CandidateOutcome{
				candidate(1, models.ClassificationNoMatch, 0.5),
				candidate(2, models.ClassificationMatch, 3),
			},
			Now: planNow,
		})

		assert.Equal(t, golden(2), d.Match.Golden)
		assert.Equal(t, []models.LinkKey{{Source: src, Golden: golden(1)}}, d.Changes.Deletes)
	})
}

func TestPlanKeepsManualMatch(t *testing.T) {
	manual := linkFrom(candidate(1, models.ClassificationPossibleMatch, 2), models.ClassificationMatch, models.LinkSourceManual)
	user := "reviewer"
	manual.ResolvedBy = &user

	d := Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{manual},
		Outcomes: []models.CandidateOutcome{
			candidate(1, models.ClassificationPossibleMatch, 2),
			candidate(2, models.ClassificationMatch, 3),
		},
		Now: planNow,
	})

	require.NotNil(t, d.Match)
	assert.Equal(t, golden(1), d.Match.Golden)
	assert.Equal(t, models.LinkSourceManual, d.Match.LinkSource)
	require.Len(t, d.Possible, 1)
	assert.Equal(t, golden(2), d.Possible[0].Golden)
	assert.Empty(t, d.Changes.Deletes)
}

func TestPlanLeavesMatchWhenOnlyPossibleMatches(t *testing.T) {
	current := linkFrom(candidate(1, models.ClassificationMatch, 3), models.ClassificationMatch, models.LinkSourceAutomatic)

	d := Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{current},
		Outcomes: []models.CandidateOutcome{
			candidate(1, models.ClassificationMatch, 3),
			candidate(2, models.ClassificationPossibleMatch, 2),
		},
		Now: planNow,
	})
	assert.Equal(t, golden(1), d.Match.Golden)

	d = Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{current},
		Outcomes: []models.CandidateOutcome{
			candidate(1, models.ClassificationPossibleMatch, 2),
			candidate(2, models.ClassificationPossibleMatch, 2),
		},
		Now: planNow,
	})
	require.NotNil(t, d.Match)
	assert.Equal(t, golden(1), d.Match.Golden)
	assert.Equal(t, models.ClassificationMatch, d.Match.Classification)
	assert.Equal(t, current.Vector, d.Match.Vector)
	assert.False(t, d.NeedsGolden)
	for _, l := range d.Changes.Upserts {
		assert.NotEqual(t, golden(1), l.Golden)
	}
	require.Len(t, d.Possible, 1)
	assert.Equal(t, golden(2), d.Possible[0].Golden)
}

func TestPlanReplacesMatchThatNoLongerMatches(t *testing.T) {
	current := linkFrom(candidate(1, models.ClassificationMatch, 3), models.ClassificationMatch, models.LinkSourceAutomatic)

	d := Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{current},
		Outcomes: []models.CandidateOutcome{candidate(1, models.ClassificationNoMatch, 1)},
		Now:      planNow,
	})
	assert.True(t, d.NeedsGolden)
	assert.Nil(t, d.Match)
	assert.Equal(t, []models.LinkKey{current.Key()}, d.Changes.Deletes)
	assert.Empty(t, d.Changes.Upserts)

	d = d.WithGolden(src, golden(2), models.MatchOutcome{Vector: 0b111, Score: 3, RuleCount: 3}, planNow)
	require.NotNil(t, d.Match)
	assert.Equal(t, golden(2), d.Match.Golden)
	assert.Equal(t, []models.LinkKey{current.Key()}, d.Changes.Deletes)
	require.Len(t, d.Changes.Upserts, 1)
	assert.Equal(t, models.ClassificationMatch, d.Changes.Upserts[0].Classification)
}

func TestPlanKeepsManualMatchWhenNothingMatches(t *testing.T) {
	current := linkFrom(candidate(1, models.ClassificationMatch, 3), models.ClassificationMatch, models.LinkSourceManual)

	d := Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{current},
		Outcomes: []models.CandidateOutcome{candidate(1, models.ClassificationNoMatch, 1)},
		Now:      planNow,
	})
	assert.False(t, d.NeedsGolden)
	require.NotNil(t, d.Match)
	assert.Equal(t, golden(1), d.Match.Golden)
	assert.Equal(t, models.LinkSourceManual, d.Match.LinkSource)
	assert.Empty(t, d.Changes.Deletes)
}

func TestPlanRemovesUnsupportedAndDanglingLinks(t *testing.T) {
	stale := linkFrom(candidate(2, models.ClassificationPossibleMatch, 2), models.ClassificationPossibleMatch, models.LinkSourceAutomatic)
	manualPossible := linkFrom(candidate(3, models.ClassificationPossibleMatch, 2), models.ClassificationPossibleMatch, models.LinkSourceManual)
	dangling := linkFrom(candidate(4, models.ClassificationMatch, 3), models.ClassificationMatch, models.LinkSourceAutomatic)

	d := Plan(Snapshot{
		Source:   src,
		Existing: []models.Link{stale, manualPossible, dangling},
		Outcomes: []models.CandidateOutcome{
			candidate(1, models.ClassificationMatch, 3),
			candidate(2, models.ClassificationNoMatch, 0),
			candidate(3, models.ClassificationNoMatch, 0),
		},
		Missing: []models.RecordReference{golden(4)},
		Now:     planNow,
	})

	assert.Equal(t, golden(1), d.Match.Golden)
	assert.Equal(t, []models.LinkKey{
		{Source: src, Golden: golden(2)},
		{Source: src, Golden: golden(4)},
	}, d.Changes.Deletes)
	require.Len(t, d.Possible, 1)
	assert.Equal(t, golden(3), d.Possible[0].Golden)
}

func TestPlanIgnoresSelfCandidate(t *testing.T) {
	d := Plan(Snapshot{
		Source:   src,
		Outcomes: []models.CandidateOutcome{{Golden: src, Outcome: models.MatchOutcome{Classification: models.ClassificationMatch}}},
		Now:      planNow,
	})
	assert.True(t, d.NeedsGolden)
}

func applyChanges(links []models.Link, cs models.ChangeSet) []models.Link {
	return apply(links, cs)
}

func TestPlanIsIdempotentAndKeepsOneMatch(t *testing.T) {
	classes := []models.Classification{models.ClassificationNoMatch, models.ClassificationPossibleMatch, models.ClassificationMatch}
	rnd := rand.New(rand.NewSource(42))

	for i := range 300 {
		var outcomes []models.CandidateOutcome
		for id := range int64(rnd.Intn(6)) {
			outcomes = append(outcomes, candidate(id+1, classes[rnd.Intn(len(classes))], float64(rnd.Intn(4))))
		}

		var existing []models.Link
		for round := range 3 {
			d := Plan(Snapshot{Source: src, Existing: existing, Outcomes: outcomes, Now: planNow})
			if d.NeedsGolden {
				d = d.WithGolden(src, golden(1000+int64(i)), models.MatchOutcome{Vector: 0b111, Score: 3, RuleCount: 3}, planNow)
				outcomes = append(outcomes, candidate(1000+int64(i), models.ClassificationMatch, 3))
			}
			if round > 0 {
				assert.True(t, d.Changes.Empty(), "iteration %d round %d changed a settled link set: %+v", i, round, d.Changes)
			}
			existing = applyChanges(existing, d.Changes)

			matches, possibles := 0, 0
			for _, l := range existing {
				assert.NotEqual(t, models.ClassificationNoMatch, l.Classification)
				if l.IsMatch() {
					matches++
				} else {
					possibles++
				}
			}
			if possibles == 0 {
				assert.Equal(t, 1, matches, "iteration %d round %d", i, round)
			} else {
				assert.LessOrEqual(t, matches, 1, "iteration %d round %d", i, round)
			}
		}
	}
}

func TestLockKeysSortedAndDistinct(t *testing.T) {
	keys := LockKeys(src, []models.RecordReference{golden(2), golden(1), golden(2)})
	assert.Equal(t, []string{"golden:Person/1", "golden:Person/2", "source:Patient/100"}, keys)
}
