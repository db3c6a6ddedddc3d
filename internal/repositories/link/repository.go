package link

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const table = "record_links"

// uniqueViolation is the postgres SQLSTATE raised by uq_record_links_one_match.
const uniqueViolation = "23505"

var linkColumns = []string{
	"source_type", "source_id", "golden_type", "golden_id", "classification", "vector", "score",
	"rule_count", "link_source", "resolved_by", "created_at", "updated_at",
}

type linkRow struct {
	SourceType     string    `db:"source_type"`
	SourceID       int64     `db:"source_id"`
	GoldenType     string    `db:"golden_type"`
	GoldenID       int64     `db:"golden_id"`
	Classification string    `db:"classification"`
	Vector         int64     `db:"vector"`
	Score          float64   `db:"score"`
	RuleCount      int       `db:"rule_count"`
	LinkSource     string    `db:"link_source"`
	ResolvedBy     *string   `db:"resolved_by"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r linkRow) toModel() models.Link {
	return models.Link{
		Source:         models.NewRef(r.SourceType, r.SourceID),
		Golden:         models.NewRef(r.GoldenType, r.GoldenID),
		Classification: models.Classification(r.Classification),
		// vectors use every bit of the column
		Vector:     models.MatchVector(uint64(r.Vector)),
		Score:      r.Score,
		RuleCount:  r.RuleCount,
		LinkSource: models.LinkSource(r.LinkSource),
		ResolvedBy: r.ResolvedBy,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// Repository is the postgres link store. A partial unique index keeps at most one MATCH link per
// source; Commit runs in a single transaction.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) UpsertLink(ctx context.Context, link models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.UpsertLink")
	defer span.End()

	return r.upsert(ctx, link)
}

func (r *Repository) upsert(ctx context.Context, link models.Link) error {
	if link.Classification == models.ClassificationNoMatch {
		return httperror.NewHTTPError(http.StatusBadRequest, "NO_MATCH links are not stored")
	}

	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = now
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(linkColumns...)
	ib.Values(
		link.Source.Type, link.Source.ID, link.Golden.Type, link.Golden.ID,
		string(link.Classification), int64(uint64(link.Vector)), link.Score, link.RuleCount,
		string(link.LinkSource), link.ResolvedBy, link.CreatedAt, link.UpdatedAt,
	)
	ib.OnConflictUpdate(
		[]string{"source_type", "source_id", "golden_type", "golden_id"},
		"classification", "vector", "score", "rule_count", "link_source", "resolved_by", "updated_at",
	)

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("source %s already has a MATCH link", link.Source))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source": link.Source.String(),
			"golden": link.Golden.String(),
		}).Error("Failed to upsert link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert link")
	}
	return nil
}

// DeleteLink returns a 404 httperror when the link does not exist.
func (r *Repository) DeleteLink(ctx context.Context, key models.LinkKey) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.DeleteLink")
	defer span.End()

	return r.delete(ctx, key)
}

func (r *Repository) delete(ctx context.Context, key models.LinkKey) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(
		db.Equal("source_type", key.Source.Type),
		db.Equal("source_id", key.Source.ID),
		db.Equal("golden_type", key.Golden.Type),
		db.Equal("golden_id", key.Golden.ID),
	)

	query, args := db.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source": key.Source.String(),
			"golden": key.Golden.String(),
		}).Error("Failed to delete link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete link")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "link not found")
	}
	return nil
}

// FindLink returns the MATCH link of source, or a 404 httperror.
func (r *Repository) FindLink(ctx context.Context, source models.RecordReference) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindLink")
	defer span.End()

	links, err := r.selectLinks(ctx, func(sb whereBuilder) []string {
		return []string{
			sb.Equal("source_type", source.Type),
			sb.Equal("source_id", source.ID),
			sb.Equal("classification", string(models.ClassificationMatch)),
		}
	})
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "link not found")
	}
	return &links[0], nil
}

func (r *Repository) FindPossibleMatches(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindPossibleMatches")
	defer span.End()

	return r.selectLinks(ctx, func(sb whereBuilder) []string {
		return []string{
			sb.Equal("source_type", source.Type),
			sb.Equal("source_id", source.ID),
			sb.Equal("classification", string(models.ClassificationPossibleMatch)),
		}
	})
}

func (r *Repository) FindLinks(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindLinks")
	defer span.End()

	return r.selectLinks(ctx, func(sb whereBuilder) []string {
		return []string{
			sb.Equal("source_type", source.Type),
			sb.Equal("source_id", source.ID),
		}
	})
}

func (r *Repository) FindLinksTo(ctx context.Context, golden models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.FindLinksTo")
	defer span.End()

	return r.selectLinks(ctx, func(sb whereBuilder) []string {
		return []string{
			sb.Equal("golden_type", golden.Type),
			sb.Equal("golden_id", golden.ID),
		}
	})
}

// CountLinks counts links of classification, or every link when it is empty.
func (r *Repository) CountLinks(ctx context.Context, classification models.Classification) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.CountLinks")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(table)
	if classification != "" {
		sb.Where(sb.Equal("classification", string(classification)))
	}

	query, args := sb.Build()
	var count int
	if err := database.Conn(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count links")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count links")
	}
	return count, nil
}

// Commit applies a change set in one transaction, deletes first. Deleting a link that is already
// gone is not an error here.
func (r *Repository) Commit(ctx context.Context, cs models.ChangeSet) error {
	ctx, span := tracing.StartSpan(ctx, "link.Repository.Commit")
	defer span.End()

	for _, key := range cs.Deletes {
		if key.Source != cs.Source {
			return httperror.NewHTTPError(http.StatusBadRequest, "change set deletes a link of another source")
		}
	}
	for _, l := range cs.Upserts {
		if l.Source != cs.Source {
			return httperror.NewHTTPError(http.StatusBadRequest, "change set writes a link of another source")
		}
	}

	err := database.RunInTx(ctx, r.logger, r.db, func(ctx context.Context) error {
		for _, key := range cs.Deletes {
			if err := r.delete(ctx, key); err != nil && httperror.GetStatusCode(err) != http.StatusNotFound {
				return err
			}
		}
		for _, l := range cs.Upserts {
			if err := r.upsert(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  cs.Source.String(),
		"upserts": len(cs.Upserts),
		"deletes": len(cs.Deletes),
	}).Debug("Committed link changes")
	return nil
}

type whereBuilder interface {
	Equal(field string, value interface{}) string
}

func (r *Repository) selectLinks(ctx context.Context, where func(sb whereBuilder) []string) ([]models.Link, error) {
	sb := database.NewSelectBuilder()
	sb.Select(linkColumns...)
	sb.From(table)
	sb.Where(where(sb)...)
	sb.OrderBy("source_id", "source_type", "golden_id", "golden_type")

	query, args := sb.Build()
	var rows []linkRow
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to select links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to select links")
	}

	links := make([]models.Link, len(rows))
	for i, row := range rows {
		links[i] = row.toModel()
	}
	return links, nil
}
