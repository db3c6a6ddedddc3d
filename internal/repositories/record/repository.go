package record

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type recordRow struct {
	Type      string                         `db:"type"`
	ID        int64                          `db:"id"`
	Data      database.JSONB[map[string]any] `db:"data"`
	Golden    bool                           `db:"golden"`
	CreatedAt time.Time                      `db:"created_at"`
	UpdatedAt time.Time                      `db:"updated_at"`
}

func (r recordRow) toModel() *models.Record {
	data := r.Data.Data
	if data == nil {
		data = map[string]any{}
	}
	return &models.Record{
		Ref:       models.NewRef(r.Type, r.ID),
		Data:      data,
		Golden:    r.Golden,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

var recordColumns = []string{"type", "id", "data", "golden", "created_at", "updated_at"}

// Repository stores source and golden records in postgres. Golden records carry the blocking keys
// they were created with in record_blocking_keys.
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

// ReadRecord returns a 404 httperror when the record does not exist.
func (r *Repository) ReadRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ReadRecord")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(recordColumns...)
	sb.From("records")
	sb.Where(
		sb.Equal("type", ref.Type),
		sb.Equal("id", ref.ID),
	)

	query, args := sb.Build()
	var row recordRow
	if err := database.Conn(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("record %s not found", ref))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record": ref.String()}).Error("Failed to read record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read record")
	}
	return row.toModel(), nil
}

// UpsertSourceRecord creates or replaces a source record. A zero ID is allocated from the
// record_ids sequence. Overwriting a golden record is a 409.
func (r *Repository) UpsertSourceRecord(ctx context.Context, ref models.RecordReference, data map[string]any) (*models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.UpsertSourceRecord")
	defer span.End()

	conn := database.Conn(ctx, r.db)
	if ref.ID == 0 {
		id, err := r.nextID(ctx, conn)
		if err != nil {
			return nil, err
		}
		ref.ID = id
	}
	if data == nil {
		data = map[string]any{}
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("records")
	ib.Cols(recordColumns...)
	ib.Values(ref.Type, ref.ID, database.NewJSONB(data), false, now, now)
	ib.SQL("ON CONFLICT (type, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at WHERE records.golden = FALSE")
	ib.SQL("RETURNING " + strings.Join(recordColumns, ", "))

	query, args := ib.Build()
	var row recordRow
	if err := conn.GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("record %s is a golden record", ref))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record": ref.String()}).Error("Failed to upsert record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert record")
	}
	return row.toModel(), nil
}

// CreateGoldenRecord inserts a golden record and its blocking keys in one transaction.
func (r *Repository) CreateGoldenRecord(ctx context.Context, goldenType string, seed map[string]any, blockingKeys []string) (models.RecordReference, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.CreateGoldenRecord")
	defer span.End()

	if seed == nil {
		seed = map[string]any{}
	}

	var ref models.RecordReference
	err := database.RunInTx(ctx, r.logger, r.db, func(ctx context.Context) error {
		conn := database.Conn(ctx, r.db)
		id, err := r.nextID(ctx, conn)
		if err != nil {
			return err
		}
		ref = models.NewRef(goldenType, id)

		now := time.Now().UTC()
		ib := database.NewInsertBuilder()
		ib.InsertInto("records")
		ib.Cols(recordColumns...)
		ib.Values(ref.Type, ref.ID, database.NewJSONB(seed), true, now, now)
		query, args := ib.Build()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record": ref.String()}).Error("Failed to create golden record")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create golden record")
		}

		if len(blockingKeys) == 0 {
			return nil
		}
		kb := database.NewInsertBuilder()
		kb.InsertInto("record_blocking_keys")
		kb.Cols("record_type", "record_id", "key")
		for _, key := range blockingKeys {
			kb.Values(ref.Type, ref.ID, key)
		}
		kb.OnConflictDoNothing()
		query, args = kb.Build()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record": ref.String()}).Error("Failed to store blocking keys")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store blocking keys")
		}
		return nil
	})
	if err != nil {
		return models.RecordReference{}, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"record": ref.String(),
		"keys":   len(blockingKeys),
	}).Debug("Created golden record")
	return ref, nil
}

// DeleteRecord removes a record and its blocking keys. Links are left to the workflow.
func (r *Repository) DeleteRecord(ctx context.Context, ref models.RecordReference) error {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.DeleteRecord")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("records")
	db.Where(
		db.Equal("type", ref.Type),
		db.Equal("id", ref.ID),
	)

	query, args := db.Build()
	res, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"record": ref.String()}).Error("Failed to delete record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete record")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("record %s not found", ref))
	}
	return nil
}

// FindCandidateGoldenRecords returns golden records of the query's type that share at least one
// blocking key with the source. Without keys every golden record of the type is returned. Results
// are ordered by id and capped at the query limit.
func (r *Repository) FindCandidateGoldenRecords(ctx context.Context, q models.CandidateQuery) ([]models.RecordReference, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.FindCandidateGoldenRecords")
	defer span.End()

	sb := database.NewSelectBuilder()
	if len(q.BlockingKeys) == 0 {
		sb.Select("r.type", "r.id")
		sb.From("records r")
		sb.Where(sb.Equal("r.type", q.GoldenType), "r.golden")
	} else {
		keys := make([]any, len(q.BlockingKeys))
		for i, k := range q.BlockingKeys {
			keys[i] = k
		}
		sb.Select("DISTINCT r.type", "r.id")
		sb.From("records r")
		sb.Join("record_blocking_keys k", "k.record_type = r.type", "k.record_id = r.id")
		sb.Where(
			sb.Equal("r.type", q.GoldenType),
			"r.golden",
			sb.In("k.key", keys...),
		)
	}
	sb.OrderBy("r.id", "r.type")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}

	query, args := sb.Build()
	var rows []models.RecordReference
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": q.Source.String()}).Error("Failed to find candidate golden records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find candidate golden records")
	}
	return rows, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) nextID(ctx context.Context, conn database.Querier) (int64, error) {
	var id int64
	if err := conn.GetContext(ctx, &id, "SELECT nextval('record_ids')"); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to allocate record id")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to allocate record id")
	}
	return id, nil
}
