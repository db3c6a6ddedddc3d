package graph

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// LinkStore keeps links as LINKED relationships from source to golden :Record nodes. Nodes are
// keyed by the "Type/ID" reference string.
type LinkStore struct {
	client *Client
	logger ectologger.Logger
}

func NewLinkStore(client *Client, logger ectologger.Logger) *LinkStore {
	return &LinkStore{
		client: client,
		logger: logger,
	}
}

const (
	upsertCypher = `
		MERGE (s:Record {key: $source_key})
		ON CREATE SET s.type = $source_type, s.id = $source_id
		MERGE (g:Record {key: $golden_key})
		ON CREATE SET g.type = $golden_type, g.id = $golden_id
		MERGE (s)-[l:LINKED]->(g)
		SET l += $props
	`
	otherMatchCypher = `
		MATCH (s:Record {key: $source_key})-[l:LINKED {classification: 'MATCH'}]->(g:Record)
		WHERE g.key <> $golden_key
		RETURN count(l) AS n
	`
	matchCountCypher = `
		MATCH (s:Record {key: $source_key})-[l:LINKED {classification: 'MATCH'}]->(:Record)
		RETURN count(l) AS n
	`
	deleteCypher = `
		MATCH (:Record {key: $source_key})-[l:LINKED]->(:Record {key: $golden_key})
		DELETE l
		RETURN count(*) AS n
	`
	selectCypher = `
		MATCH (s:Record)-[l:LINKED]->(g:Record)
		WHERE %s
		RETURN s.type AS source_type, s.id AS source_id, g.type AS golden_type, g.id AS golden_id, l
		ORDER BY s.id, s.type, g.id, g.type
	`
)

func (s *LinkStore) UpsertLink(ctx context.Context, link models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.UpsertLink")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, s.upsert(ctx, tx, link)
	})
	return s.wrap(ctx, err, "failed to upsert link")
}

func (s *LinkStore) upsert(ctx context.Context, tx neo4j.ManagedTransaction, link models.Link) error {
	if link.Classification == models.ClassificationNoMatch {
		return httperror.NewHTTPError(http.StatusBadRequest, "NO_MATCH links are not stored")
	}
	params := keyParams(link.Key())
	if link.IsMatch() {
		n, err := count(ctx, tx, otherMatchCypher, params)
		if err != nil {
			return err
		}
		if n > 0 {
			return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("source %s already has a MATCH link", link.Source))
		}
	}

	params["props"] = linkProps(link, time.Now().UTC())
	result, err := tx.Run(ctx, upsertCypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

// DeleteLink returns a 404 httperror when the link does not exist.
func (s *LinkStore) DeleteLink(ctx context.Context, key models.LinkKey) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.DeleteLink")
	defer span.End()

	res, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return count(ctx, tx, deleteCypher, keyParams(key))
	})
	if err != nil {
		return s.wrap(ctx, err, "failed to delete link")
	}
	if n, _ := res.(int64); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "link not found")
	}
	return nil
}

func (s *LinkStore) FindLink(ctx context.Context, source models.RecordReference) (*models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.FindLink")
	defer span.End()

	links, err := s.selectLinks(ctx, "s.key = $source_key AND l.classification = $classification", map[string]any{
		"source_key":     source.String(),
		"classification": string(models.ClassificationMatch),
	})
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "link not found")
	}
	return &links[0], nil
}

func (s *LinkStore) FindPossibleMatches(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.FindPossibleMatches")
	defer span.End()

	return s.selectLinks(ctx, "s.key = $source_key AND l.classification = $classification", map[string]any{
		"source_key":     source.String(),
		"classification": string(models.ClassificationPossibleMatch),
	})
}

func (s *LinkStore) FindLinks(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.FindLinks")
	defer span.End()

	return s.selectLinks(ctx, "s.key = $source_key", map[string]any{"source_key": source.String()})
}

func (s *LinkStore) FindLinksTo(ctx context.Context, golden models.RecordReference) ([]models.Link, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.FindLinksTo")
	defer span.End()

	return s.selectLinks(ctx, "g.key = $golden_key", map[string]any{"golden_key": golden.String()})
}

func (s *LinkStore) CountLinks(ctx context.Context, classification models.Classification) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.CountLinks")
	defer span.End()

	cypher := "MATCH (:Record)-[l:LINKED]->(:Record) RETURN count(l) AS n"
	params := map[string]any{}
	if classification != "" {
		cypher = "MATCH (:Record)-[l:LINKED]->(:Record) WHERE l.classification = $classification RETURN count(l) AS n"
		params["classification"] = string(classification)
	}

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return count(ctx, tx, cypher, params)
	})
	if err != nil {
		return 0, s.wrap(ctx, err, "failed to count links")
	}
	n, _ := res.(int64)
	return int(n), nil
}

// Commit applies the change set in one write transaction and rolls it back when the source ends up
// with more than one MATCH link.
func (s *LinkStore) Commit(ctx context.Context, cs models.ChangeSet) error {
	ctx, span := tracing.StartSpan(ctx, "graph.LinkStore.Commit")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, key := range cs.Deletes {
			if key.Source != cs.Source {
				return nil, httperror.NewHTTPError(http.StatusBadRequest, "change set deletes a link of another source")
			}
			if _, err := count(ctx, tx, deleteCypher, keyParams(key)); err != nil {
				return nil, err
			}
		}
		for _, l := range cs.Upserts {
			if l.Source != cs.Source {
				return nil, httperror.NewHTTPError(http.StatusBadRequest, "change set writes a link of another source")
			}
			if err := s.upsert(ctx, tx, l); err != nil {
				return nil, err
			}
		}

		n, err := count(ctx, tx, matchCountCypher, map[string]any{"source_key": cs.Source.String()})
		if err != nil {
			return nil, err
		}
		if n > 1 {
			return nil, httperror.NewHTTPError(http.StatusConflict, "change set leaves more than one MATCH link")
		}
		return nil, nil
	})
	return s.wrap(ctx, err, "failed to commit link changes")
}

func (s *LinkStore) selectLinks(ctx context.Context, where string, params map[string]any) ([]models.Link, error) {
	cypher := fmt.Sprintf(selectCypher, where)
	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		links := []models.Link{}
		for result.Next(ctx) {
			link, err := linkFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			links = append(links, link)
		}
		return links, result.Err()
	})
	if err != nil {
		return nil, s.wrap(ctx, err, "failed to select links")
	}
	return res.([]models.Link), nil
}

// wrap passes httperrors through and turns driver errors into a logged 500.
func (s *LinkStore) wrap(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}
	s.logger.WithContext(ctx).WithError(err).Error(msg)
	return httperror.NewHTTPError(http.StatusInternalServerError, msg)
}

func count(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (int64, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	v, _ := record.Get("n")
	n, _ := v.(int64)
	return n, nil
}

func keyParams(key models.LinkKey) map[string]any {
	return map[string]any{
		"source_key":  key.Source.String(),
		"source_type": key.Source.Type,
		"source_id":   key.Source.ID,
		"golden_key":  key.Golden.String(),
		"golden_type": key.Golden.Type,
		"golden_id":   key.Golden.ID,
	}
}

// linkProps renders the relationship properties. Timestamps are unix nanoseconds and the vector
// keeps its bit pattern in an int64.
func linkProps(link models.Link, now time.Time) map[string]any {
	created, updated := link.CreatedAt, link.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	props := map[string]any{
		"classification": string(link.Classification),
		"vector":         int64(uint64(link.Vector)),
		"score":          link.Score,
		"rule_count":     int64(link.RuleCount),
		"link_source":    string(link.LinkSource),
		"resolved_by":    nil,
		"created_at":     created.UnixNano(),
		"updated_at":     updated.UnixNano(),
	}
	if link.ResolvedBy != nil {
		props["resolved_by"] = *link.ResolvedBy
	}
	return props
}

func linkFromProps(source, golden models.RecordReference, props map[string]any) models.Link {
	link := models.Link{
		Source:         source,
		Golden:         golden,
		Classification: models.Classification(stringProp(props, "classification")),
		Vector:         models.MatchVector(uint64(intProp(props, "vector"))),
		RuleCount:      int(intProp(props, "rule_count")),
		LinkSource:     models.LinkSource(stringProp(props, "link_source")),
		CreatedAt:      time.Unix(0, intProp(props, "created_at")).UTC(),
		UpdatedAt:      time.Unix(0, intProp(props, "updated_at")).UTC(),
	}
	if score, ok := props["score"].(float64); ok {
		link.Score = score
	}
	if by, ok := props["resolved_by"].(string); ok {
		link.ResolvedBy = &by
	}
	return link
}

func linkFromRecord(record *neo4j.Record) (models.Link, error) {
	sourceType, _ := record.Get("source_type")
	sourceID, _ := record.Get("source_id")
	goldenType, _ := record.Get("golden_type")
	goldenID, _ := record.Get("golden_id")
	raw, _ := record.Get("l")

	rel, ok := raw.(neo4j.Relationship)
	if !ok {
		return models.Link{}, fmt.Errorf("unexpected link value %T", raw)
	}
	st, _ := sourceType.(string)
	gt, _ := goldenType.(string)
	sid, _ := sourceID.(int64)
	gid, _ := goldenID.(int64)
	return linkFromProps(models.NewRef(st, sid), models.NewRef(gt, gid), rel.Props), nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}
