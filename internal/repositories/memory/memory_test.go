package memory

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	src = models.NewRef("Patient", 1)
	g1  = models.NewRef("Person", 10)
	g2  = models.NewRef("Person", 11)
)

func link(golden models.RecordReference, class models.Classification) models.Link {
	return models.Link{Source: src, Golden: golden, Classification: class, LinkSource: models.LinkSourceAutomatic}
}

func status(err error) int {
	if err == nil || !httperror.IsHTTPError(err) {
		return 0
	}
	return httperror.GetStatusCode(err)
}

func TestLinkStoreKeepsOneMatchPerSource(t *testing.T) {
	ctx := context.Background()
	s := NewLinkStore()

	require.NoError(t, s.UpsertLink(ctx, link(g1, models.ClassificationMatch)))
	err := s.UpsertLink(ctx, link(g2, models.ClassificationMatch))
	assert.Equal(t, http.StatusConflict, status(err))

	err = s.UpsertLink(ctx, link(g2, models.ClassificationNoMatch))
	assert.Equal(t, http.StatusBadRequest, status(err))

	require.NoError(t, s.UpsertLink(ctx, link(g2, models.ClassificationPossibleMatch)))

	match, err := s.FindLink(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, g1, match.Golden)

	possible, err := s.FindPossibleMatches(ctx, src)
	require.NoError(t, err)
	require.Len(t, possible, 1)
	assert.Equal(t, g2, possible[0].Golden)

	n, err := s.CountLinks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLinkStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewLinkStore()

	_, err := s.FindLink(ctx, src)
	assert.Equal(t, http.StatusNotFound, status(err))
	err = s.DeleteLink(ctx, models.LinkKey{Source: src, Golden: g1})
	assert.Equal(t, http.StatusNotFound, status(err))

	links, err := s.FindLinks(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinkStoreCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewLinkStore()
	require.NoError(t, s.UpsertLink(ctx, link(g1, models.ClassificationMatch)))

	// a change set that would leave two MATCH links is rejected whole
	err := s.Commit(ctx, models.ChangeSet{
		Source:  src,
		Deletes: []models.LinkKey{{Source: src, Golden: models.NewRef("Person", 99)}},
		Upserts: []models.Link{link(g2, models.ClassificationMatch)},
	})
	assert.Equal(t, http.StatusConflict, status(err))
	assert.Equal(t, []models.Link{link(g1, models.ClassificationMatch)}, s.All())

	s.FailNextCommits(1)
	swap := models.ChangeSet{
		Source: src,
		Upserts: []models.Link{
			link(g1, models.ClassificationPossibleMatch),
			link(g2, models.ClassificationMatch),
		},
	}
	assert.Equal(t, http.StatusServiceUnavailable, status(s.Commit(ctx, swap)))
	assert.Len(t, s.All(), 1)

	require.NoError(t, s.Commit(ctx, swap))
	match, err := s.FindLink(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, g2, match.Golden)

	other := models.ChangeSet{Source: src, Upserts: []models.Link{{Source: models.NewRef("Patient", 2), Golden: g1, Classification: models.ClassificationMatch}}}
	assert.Equal(t, http.StatusBadRequest, status(s.Commit(ctx, other)))
}

func TestRecordStoreCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()

	smith, err := s.CreateGoldenRecord(ctx, "Person", map[string]any{"last_name": "smith"}, []string{"last_name=smith"})
	require.NoError(t, err)
	jones, err := s.CreateGoldenRecord(ctx, "Person", map[string]any{"last_name": "jones"}, []string{"last_name=jones"})
	require.NoError(t, err)
	_, err = s.CreateGoldenRecord(ctx, "Household", nil, []string{"last_name=smith"})
	require.NoError(t, err)

	refs, err := s.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Person", BlockingKeys: []string{"last_name=smith", "dob=1980-04-12"}})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordReference{smith}, refs)

	refs, err = s.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Person"})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordReference{smith, jones}, refs)

	refs, err = s.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Person", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []models.RecordReference{smith}, refs)
}

func TestRecordStoreSourceRecords(t *testing.T) {
	ctx := context.Background()
	s := NewRecordStore()

	rec, err := s.UpsertSourceRecord(ctx, models.NewRef("Patient", 0), map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Ref.ID)

	again, err := s.UpsertSourceRecord(ctx, rec.Ref, map[string]any{"a": 2})
	require.NoError(t, err)
	assert.Equal(t, rec.CreatedAt, again.CreatedAt)

	read, err := s.ReadRecord(ctx, rec.Ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2}, read.Data)
	assert.False(t, read.Golden)

	golden, err := s.CreateGoldenRecord(ctx, "Patient", nil, nil)
	require.NoError(t, err)
	_, err = s.UpsertSourceRecord(ctx, golden, map[string]any{})
	assert.Equal(t, http.StatusConflict, status(err))

	require.NoError(t, s.DeleteRecord(ctx, rec.Ref))
	_, err = s.ReadRecord(ctx, rec.Ref)
	assert.Equal(t, http.StatusNotFound, status(err))
	assert.Equal(t, http.StatusNotFound, status(s.DeleteRecord(ctx, rec.Ref)))
}
