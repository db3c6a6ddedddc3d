// Package processor applies record change messages from kafka to the record store and the link
// maintenance workflow.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// RecordWriter stores source records. DeleteRecord returns a 404 httperror for unknown records.
type RecordWriter interface {
	UpsertSourceRecord(ctx context.Context, ref models.RecordReference, data map[string]any) (*models.Record, error)
	DeleteRecord(ctx context.Context, ref models.RecordReference) error
}

// Linker is the part of *linking.Service the processor drives.
type Linker interface {
	UpdateLinks(ctx context.Context, source models.RecordReference) (*models.LinkResult, error)
	HandleRecordDeleted(ctx context.Context, ref models.RecordReference) (int, error)
}

type Processor struct {
	logger   ectologger.Logger
	records  RecordWriter
	linker   Linker
	validate *validator.Validate
}

func NewProcessor(logger ectologger.Logger, records RecordWriter, linker Linker) *Processor {
	return &Processor{
		logger:   logger,
		records:  records,
		linker:   linker,
		validate: validator.New(),
	}
}

// HandleMessage is a kafka.MessageHandler. Messages that can never succeed are returned as
// kafka.PermanentError so the consumer commits past them.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	ctx = appctx.SetOrigin(ctx, appctx.OriginKafka)

	var change models.RecordChange
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		return kafka.Permanent(fmt.Errorf("failed to decode record change: %w", err))
	}
	if err := p.validate.Struct(change); err != nil {
		return kafka.Permanent(fmt.Errorf("invalid record change: %w", err))
	}

	err := p.Apply(ctx, change)
	if isPermanent(err) {
		return kafka.Permanent(err)
	}
	return err
}

// Apply stores or removes the record and brings its links up to date.
func (p *Processor) Apply(ctx context.Context, change models.RecordChange) error {
	ref := change.Ref()
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"record": ref.String(),
		"op":     string(change.Op),
	})

	switch change.Op {
	case models.RecordChangeUpsert:
		if _, err := p.records.UpsertSourceRecord(ctx, ref, change.Data); err != nil {
			if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict {
				// a golden record never becomes a source record
				return kafka.Permanent(err)
			}
			return err
		}
		result, err := p.linker.UpdateLinks(ctx, ref)
		if err != nil {
			log.WithError(err).Warn("Failed to update links")
			return err
		}
		fields := map[string]any{
			"candidates": len(result.Candidates),
			"possible":   len(result.Possible),
			"filtered":   result.Filtered,
		}
		if result.Match != nil {
			fields["golden"] = result.Match.Golden.String()
		}
		log.WithFields(fields).Debug("Applied record change")
		return nil

	case models.RecordChangeDelete:
		if err := p.records.DeleteRecord(ctx, ref); err != nil && httperror.GetStatusCode(err) != http.StatusNotFound {
			return err
		}
		removed, err := p.linker.HandleRecordDeleted(ctx, ref)
		if err != nil {
			return err
		}
		log.WithField("removed_links", removed).Debug("Applied record deletion")
		return nil
	}
	return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown record change op %q", change.Op))
}

// isPermanent reports client errors that a redelivery cannot fix.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if matching.IsTypeError(err) {
		return true
	}
	if !httperror.IsHTTPError(err) {
		return false
	}
	code := httperror.GetStatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusRequestTimeout
}
