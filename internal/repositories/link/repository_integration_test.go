//go:build integration

package link

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testutil"
	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	src = models.NewRef("Patient", 1)
	g1  = models.NewRef("Person", 10)
	g2  = models.NewRef("Person", 11)
)

func newLink(golden models.RecordReference, class models.Classification) models.Link {
	return models.Link{
		Source:         src,
		Golden:         golden,
		Classification: class,
		Vector:         models.MatchVector(1 << 63),
		Score:          2.5,
		RuleCount:      64,
		LinkSource:     models.LinkSourceAutomatic,
	}
}

func TestLinkRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.Postgres(t), testutil.Logger())

	require.NoError(t, repo.UpsertLink(ctx, newLink(g1, models.ClassificationMatch)))

	match, err := repo.FindLink(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, g1, match.Golden)
	assert.Equal(t, models.MatchVector(1<<63), match.Vector)
	assert.Equal(t, 64, match.RuleCount)

	err = repo.UpsertLink(ctx, newLink(g2, models.ClassificationMatch))
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	err = repo.UpsertLink(ctx, newLink(g2, models.ClassificationNoMatch))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	// the downgrade is written before the new MATCH link
	require.NoError(t, repo.Commit(ctx, models.ChangeSet{
		Source: src,
		Upserts: []models.Link{
			newLink(g1, models.ClassificationPossibleMatch),
			newLink(g2, models.ClassificationMatch),
		},
	}))
	match, err = repo.FindLink(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, g2, match.Golden)

	possible, err := repo.FindPossibleMatches(ctx, src)
	require.NoError(t, err)
	require.Len(t, possible, 1)
	assert.Equal(t, g1, possible[0].Golden)

	to, err := repo.FindLinksTo(ctx, g2)
	require.NoError(t, err)
	require.Len(t, to, 1)

	n, err := repo.CountLinks(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = repo.CountLinks(ctx, models.ClassificationMatch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a failing change set leaves nothing behind
	err = repo.Commit(ctx, models.ChangeSet{
		Source:  src,
		Deletes: []models.LinkKey{{Source: src, Golden: g1}},
		Upserts: []models.Link{newLink(models.NewRef("Person", 12), models.ClassificationMatch)},
	})
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
	links, err := repo.FindLinks(ctx, src)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	require.NoError(t, repo.DeleteLink(ctx, models.LinkKey{Source: src, Golden: g1}))
	err = repo.DeleteLink(ctx, models.LinkKey{Source: src, Golden: g1})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	require.NoError(t, repo.Commit(ctx, models.ChangeSet{Source: src, Deletes: []models.LinkKey{{Source: src, Golden: g2}}}))
	_, err = repo.FindLink(ctx, src)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
