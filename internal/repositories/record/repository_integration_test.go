//go:build integration

package record

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

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.Postgres(t), testutil.Logger())

	t.Run("upsert allocates ids and keeps created_at", func(t *testing.T) {
		rec, err := repo.UpsertSourceRecord(ctx, models.NewRef("Patient", 0), map[string]any{"last_name": "Smith"})
		require.NoError(t, err)
		assert.Positive(t, rec.Ref.ID)
		assert.False(t, rec.Golden)

		updated, err := repo.UpsertSourceRecord(ctx, rec.Ref, map[string]any{"last_name": "Smyth"})
		require.NoError(t, err)
		assert.Equal(t, rec.CreatedAt.Unix(), updated.CreatedAt.Unix())

		read, err := repo.ReadRecord(ctx, rec.Ref)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"last_name": "Smyth"}, read.Data)
	})

	t.Run("golden records are not overwritten as sources", func(t *testing.T) {
		ref, err := repo.CreateGoldenRecord(ctx, "Person", map[string]any{"last_name": "Smith"}, []string{"last_name=smith"})
		require.NoError(t, err)

		_, err = repo.UpsertSourceRecord(ctx, ref, map[string]any{})
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

		read, err := repo.ReadRecord(ctx, ref)
		require.NoError(t, err)
		assert.True(t, read.Golden)
	})

	t.Run("candidates share a blocking key", func(t *testing.T) {
		smith, err := repo.CreateGoldenRecord(ctx, "Candidate", nil, []string{"last_name=smith", "dob=1980-04-12"})
		require.NoError(t, err)
		jones, err := repo.CreateGoldenRecord(ctx, "Candidate", nil, []string{"last_name=jones", "dob=1980-04-12"})
		require.NoError(t, err)
		_, err = repo.CreateGoldenRecord(ctx, "Candidate", nil, []string{"last_name=brown"})
		require.NoError(t, err)

		refs, err := repo.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Candidate", BlockingKeys: []string{"last_name=smith"}})
		require.NoError(t, err)
		assert.Equal(t, []models.RecordReference{smith}, refs)

		refs, err = repo.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Candidate", BlockingKeys: []string{"last_name=smith", "dob=1980-04-12"}})
		require.NoError(t, err)
		assert.Equal(t, []models.RecordReference{smith, jones}, refs)

		refs, err = repo.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Candidate", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []models.RecordReference{smith, jones}, refs)
	})

	t.Run("delete", func(t *testing.T) {
		ref, err := repo.CreateGoldenRecord(ctx, "Gone", nil, []string{"k=v"})
		require.NoError(t, err)
		require.NoError(t, repo.DeleteRecord(ctx, ref))

		_, err = repo.ReadRecord(ctx, ref)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(repo.DeleteRecord(ctx, ref)))

		refs, err := repo.FindCandidateGoldenRecords(ctx, models.CandidateQuery{GoldenType: "Gone", BlockingKeys: []string{"k=v"}})
		require.NoError(t, err)
		assert.Empty(t, refs)
	})
}
