// Package linking maintains the links between source records and golden records.
package linking

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Config tunes the workflow.
type Config struct {
	// CandidateLimit caps the golden records returned by the candidate finder.
	CandidateLimit int
	// MaxLockRetries bounds how often a run re-acquires its exclusive section after the link set
	// of the source, or its golden record candidates, changed between the unlocked read and
	// acquisition.
	MaxLockRetries int
	// BatchWorkers bounds the parallelism of UpdateLinksBatch.
	BatchWorkers int
	// LockerName labels lock wait metrics.
	LockerName string
	Retry      RetryPolicy
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 100
	}
	if c.MaxLockRetries <= 0 {
		c.MaxLockRetries = 3
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 8
	}
	if c.LockerName == "" {
		c.LockerName = "local"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryPolicy
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Dependencies are the collaborators of a Service. Events is optional.
type Dependencies struct {
	Matcher    Matcher
	Records    RecordStore
	Candidates CandidateFinder
	Links      LinkStore
	Locker     Locker
	Events     EventPublisher
	Logger     ectologger.Logger
}

// errStaleCandidates reports that a golden record candidate appeared while a run waited for its
// exclusive section.
var errStaleCandidates = errors.New("golden record candidates changed")

// Service runs the link maintenance workflow.
type Service struct {
	matcher    Matcher
	records    RecordStore
	candidates CandidateFinder
	links      LinkStore
	locker     Locker
	events     EventPublisher
	logger     ectologger.Logger
	cfg        Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	return &Service{
		matcher:    deps.Matcher,
		records:    deps.Records,
		candidates: deps.Candidates,
		links:      deps.Links,
		locker:     deps.Locker,
		events:     deps.Events,
		logger:     deps.Logger,
		cfg:        cfg.withDefaults(),
	}
}

// UpdateLinks evaluates source against its golden record candidates and commits the resulting
// link changes.
func (s *Service) UpdateLinks(ctx context.Context, source models.RecordReference) (*models.LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.UpdateLinks")
	defer span.End()

	start := time.Now()
	result, err := s.updateLinks(ctx, source)
	s.recordRun("update", start, err)
	return result, err
}

func (s *Service) updateLinks(ctx context.Context, sourceRef models.RecordReference) (*models.LinkResult, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"method": "UpdateLinks",
		"source": sourceRef.String(),
	})

	source, err := s.readRecord(ctx, sourceRef)
	if err != nil {
		return nil, err
	}
	if source.Golden {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "golden records cannot be linked as sources")
	}

	result := &models.LinkResult{
		Source:     sourceRef,
		Possible:   []models.Link{},
		Candidates: []models.CandidateOutcome{},
	}
	if !s.matcher.Eligible(*source) {
		log.Debug("Source record does not pass the candidate filter")
		result.Filtered = true
		return result, nil
	}

	keys, err := s.matcher.BlockingKeys(*source)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	query := models.CandidateQuery{
		Source:       sourceRef,
		GoldenType:   s.matcher.GoldenType(),
		BlockingKeys: keys,
		Limit:        s.cfg.CandidateLimit,
	}
	candidates, err := s.findCandidates(ctx, query)
	if err != nil {
		return nil, err
	}
	// runs whose sources share a blocking key serialize, so only one of them creates the golden
	// record the other would find
	blockLocks := BlockingLockKeys(query.GoldenType, keys)

	var events []models.LinkEvent
	for attempt := 0; ; attempt++ {
		var fresh []models.RecordReference
		err = s.exclusive(ctx, sourceRef, candidates, blockLocks, func(ctx context.Context, links []models.Link) error {
			var planErr error
			fresh, planErr = s.planAndCommit(ctx, log, *source, query, candidates, links, attempt < s.cfg.MaxLockRetries, result, &events)
			return planErr
		})
		if !errors.Is(err, errStaleCandidates) {
			break
		}
		log.WithFields(map[string]any{"attempt": attempt + 1}).Debug("Golden record candidates changed under the lock, retrying")
		candidates = mergeRefs(candidates, fresh)
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	log.WithFields(map[string]any{
		"candidates": len(result.Candidates),
		"upserts":    len(result.Changes.Upserts),
		"deletes":    len(result.Changes.Deletes),
		"created":    result.CreatedGolden != nil,
	}).Info("Updated source record links")
	return result, nil
}

// planAndCommit evaluates the candidates and commits the plan. It runs inside the exclusive
// section. When a golden record is needed and recheck is set, the candidate search runs again and
// errStaleCandidates is returned with the fresh candidates if a golden record appeared meanwhile.
func (s *Service) planAndCommit(ctx context.Context, log ectologger.Logger, source models.Record, query models.CandidateQuery, candidates []models.RecordReference, links []models.Link, recheck bool, result *models.LinkResult, events *[]models.LinkEvent) ([]models.RecordReference, error) {
	sourceRef := source.Ref
	snap := Snapshot{Source: sourceRef, Existing: links, Now: s.cfg.Now()}
	result.Candidates = []models.CandidateOutcome{}
	result.Skipped = nil

	evaluated := mergeRefs(candidates, linkGoldens(links))
	for _, goldenRef := range evaluated {
		if goldenRef == sourceRef {
			continue
		}
		golden, err := s.readRecord(ctx, goldenRef)
		if IsNotFound(err) {
			log.WithFields(map[string]any{"golden": goldenRef.String()}).Warn("Golden record candidate not found, skipping")
			snap.Missing = append(snap.Missing, goldenRef)
			result.Skipped = append(result.Skipped, goldenRef)
			continue
		}
		if err != nil {
			return nil, err
		}

		outcome, err := s.matcher.Match(ctx, source, *golden)
		if err != nil {
			return nil, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		metrics.RecordClassification(string(outcome.Classification))
		candidate := models.CandidateOutcome{Golden: goldenRef, Outcome: outcome}
		snap.Outcomes = append(snap.Outcomes, candidate)
		result.Candidates = append(result.Candidates, candidate)
	}
	metrics.RecordCandidates(len(snap.Outcomes))

	decision := Plan(snap)
	if decision.NeedsGolden {
		if recheck {
			found, err := s.findCandidates(ctx, query)
			if err != nil {
				return nil, err
			}
			if len(missingRefs(found, evaluated)) > 0 {
				return found, errStaleCandidates
			}
		}
		goldenRef, outcome, err := s.createGolden(ctx, source)
		if err != nil {
			return nil, err
		}
		decision = decision.WithGolden(sourceRef, goldenRef, outcome, snap.Now)
		result.CreatedGolden = &goldenRef
	}

	if err := s.commit(ctx, decision.Changes); err != nil {
		return nil, err
	}

	result.Match = decision.Match
	result.Possible = decision.Possible
	result.Changes = decision.Changes
	*events = models.LinkEvents(decision.Changes, links, snap.Now)
	return nil, nil
}

func (s *Service) createGolden(ctx context.Context, source models.Record) (models.RecordReference, models.MatchOutcome, error) {
	goldenType := s.matcher.GoldenType()
	golden := models.Record{
		Ref:    models.RecordReference{Type: goldenType},
		Data:   s.matcher.Seed(source),
		Golden: true,
	}
	keys, err := s.matcher.BlockingKeys(golden)
	if err != nil {
		return models.RecordReference{}, models.MatchOutcome{}, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ref, err := Retry(ctx, s.logger, s.cfg.Retry, "create_golden", func(ctx context.Context) (models.RecordReference, error) {
		return s.records.CreateGoldenRecord(ctx, goldenType, golden.Data, keys)
	})
	if err != nil {
		return models.RecordReference{}, models.MatchOutcome{}, err
	}
	golden.Ref = ref
	metrics.GoldenRecordsCreated.Inc()

	outcome, err := s.matcher.Match(ctx, source, golden)
	if err != nil {
		return models.RecordReference{}, models.MatchOutcome{}, httperror.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source": source.Ref.String(),
		"golden": ref.String(),
	}).Info("Created golden record")
	return ref, outcome, nil
}

// UpdateLinksBatch runs UpdateLinks for every source with bounded parallelism. Results are in
// input order.
func (s *Service) UpdateLinksBatch(ctx context.Context, sources []models.RecordReference) ([]*models.LinkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.UpdateLinksBatch")
	defer span.End()

	results := make([]*models.LinkResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchWorkers)
	for i, source := range sources {
		g.Go(func() error {
			result, err := s.UpdateLinks(gctx, source)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Resolve settles a POSSIBLE_MATCH link. MATCH turns it into a manual MATCH link and downgrades the
// source's previous MATCH link; NO_MATCH deletes it.
func (s *Service) Resolve(ctx context.Context, req models.ResolveRequest) (*models.SourceLinks, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.Resolve")
	defer span.End()

	start := time.Now()
	result, err := s.resolve(ctx, req)
	s.recordRun("resolve", start, err)
	return result, err
}

func (s *Service) resolve(ctx context.Context, req models.ResolveRequest) (*models.SourceLinks, error) {
	if req.Outcome != models.ClassificationMatch && req.Outcome != models.ClassificationNoMatch {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "outcome must be MATCH or NO_MATCH")
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"method":  "Resolve",
		"source":  req.Source.String(),
		"golden":  req.Golden.String(),
		"outcome": string(req.Outcome),
	})

	var (
		events []models.LinkEvent
		after  []models.Link
	)
	err := s.exclusive(ctx, req.Source, []models.RecordReference{req.Golden}, nil, func(ctx context.Context, links []models.Link) error {
		var target, current *models.Link
		for i := range links {
			if links[i].Golden == req.Golden {
				target = &links[i]
			}
			if links[i].IsMatch() {
				current = &links[i]
			}
		}
		if target == nil {
			return httperror.NewHTTPError(http.StatusNotFound, "link not found")
		}
		if target.Classification != models.ClassificationPossibleMatch {
			return httperror.NewHTTPError(http.StatusConflict, "only POSSIBLE_MATCH links can be resolved")
		}

		now := s.cfg.Now()
		cs := models.ChangeSet{Source: req.Source}
		switch req.Outcome {
		case models.ClassificationNoMatch:
			cs.Deletes = []models.LinkKey{target.Key()}
		case models.ClassificationMatch:
			if current != nil {
				// a superseded link goes back to automatic re-evaluation
				downgraded := *current
				downgraded.Classification = models.ClassificationPossibleMatch
				downgraded.LinkSource = models.LinkSourceAutomatic
				downgraded.ResolvedBy = nil
				downgraded.UpdatedAt = now
				cs.Upserts = append(cs.Upserts, downgraded)
			}
			resolved := *target
			resolved.Classification = models.ClassificationMatch
			resolved.LinkSource = models.LinkSourceManual
			resolved.UpdatedAt = now
			if userID := appctx.GetUserID(ctx); userID != "" {
				resolved.ResolvedBy = &userID
			}
			cs.Upserts = append(cs.Upserts, resolved)
		}

		if err := s.commit(ctx, cs); err != nil {
			return err
		}
		events = models.LinkEvents(cs, links, now)
		after = apply(links, cs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	log.Info("Resolved link")
	return sourceLinks(req.Source, after), nil
}

// Unlink deletes one link.
func (s *Service) Unlink(ctx context.Context, key models.LinkKey) error {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.Unlink")
	defer span.End()

	start := time.Now()
	var events []models.LinkEvent
	err := s.exclusive(ctx, key.Source, []models.RecordReference{key.Golden}, nil, func(ctx context.Context, links []models.Link) error {
		found := false
		for _, l := range links {
			if l.Golden == key.Golden {
				found = true
				break
			}
		}
		if !found {
			return httperror.NewHTTPError(http.StatusNotFound, "link not found")
		}

		_, err := Retry(ctx, s.logger, s.cfg.Retry, "delete_link", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.links.DeleteLink(ctx, key)
		})
		if err != nil {
			return err
		}
		events = models.LinkEvents(models.ChangeSet{Source: key.Source, Deletes: []models.LinkKey{key}}, links, s.cfg.Now())
		return nil
	})
	s.recordRun("unlink", start, err)
	if err != nil {
		return err
	}

	s.publish(ctx, events)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"source": key.Source.String(),
		"golden": key.Golden.String(),
	}).Info("Unlinked records")
	return nil
}

// HandleRecordDeleted removes every link from ref as a source and every link to ref as a golden
// record. It returns the number of links deleted.
func (s *Service) HandleRecordDeleted(ctx context.Context, ref models.RecordReference) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.HandleRecordDeleted")
	defer span.End()

	start := time.Now()
	deleted, err := s.handleRecordDeleted(ctx, ref)
	s.recordRun("delete", start, err)
	return deleted, err
}

func (s *Service) handleRecordDeleted(ctx context.Context, ref models.RecordReference) (int, error) {
	deleted := 0
	var events []models.LinkEvent

	removeWhere := func(source models.RecordReference, goldens []models.RecordReference, match func(models.Link) bool) error {
		return s.exclusive(ctx, source, goldens, nil, func(ctx context.Context, links []models.Link) error {
			cs := models.ChangeSet{Source: source}
			for _, l := range links {
				if match(l) {
					cs.Deletes = append(cs.Deletes, l.Key())
				}
			}
			if err := s.commit(ctx, cs); err != nil {
				return err
			}
			deleted += len(cs.Deletes)
			events = append(events, models.LinkEvents(cs, links, s.cfg.Now())...)
			return nil
		})
	}

	if err := removeWhere(ref, nil, func(models.Link) bool { return true }); err != nil {
		return deleted, err
	}

	incoming, err := Retry(ctx, s.logger, s.cfg.Retry, "find_links_to", func(ctx context.Context) ([]models.Link, error) {
		return s.links.FindLinksTo(ctx, ref)
	})
	if err != nil {
		return deleted, err
	}
	for _, source := range mergeRefs(nil, linkSources(incoming)) {
		err := removeWhere(source, []models.RecordReference{ref}, func(l models.Link) bool { return l.Golden == ref })
		if err != nil {
			return deleted, err
		}
	}

	s.publish(ctx, events)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"record":  ref.String(),
		"deleted": deleted,
	}).Info("Removed links of deleted record")
	return deleted, nil
}

// Links returns the MATCH link and the POSSIBLE_MATCH links of source.
func (s *Service) Links(ctx context.Context, source models.RecordReference) (*models.SourceLinks, error) {
	ctx, span := tracing.StartSpan(ctx, "linking.Service.Links")
	defer span.End()

	result := &models.SourceLinks{Source: source}
	match, err := s.links.FindLink(ctx, source)
	switch {
	case IsNotFound(err):
	case err != nil:
		return nil, err
	default:
		result.Match = match
	}

	possible, err := s.links.FindPossibleMatches(ctx, source)
	if err != nil {
		return nil, err
	}
	result.Possible = nonNil(possible)
	return result, nil
}

// PossibleMatches returns the POSSIBLE_MATCH links of source.
func (s *Service) PossibleMatches(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	links, err := s.links.FindPossibleMatches(ctx, source)
	return nonNil(links), err
}

// LinksTo returns every link to golden.
func (s *Service) LinksTo(ctx context.Context, golden models.RecordReference) ([]models.Link, error) {
	links, err := s.links.FindLinksTo(ctx, golden)
	return nonNil(links), err
}

// CountLinks counts links of classification, or all links when it is empty.
func (s *Service) CountLinks(ctx context.Context, classification models.Classification) (int, error) {
	if classification == models.ClassificationNoMatch {
		return 0, nil
	}
	if classification != "" && !classification.Valid() {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "unknown classification")
	}
	return s.links.CountLinks(ctx, classification)
}

// IsLinked reports whether source has a MATCH link.
func (s *Service) IsLinked(ctx context.Context, source models.RecordReference) (bool, error) {
	_, err := s.links.FindLink(ctx, source)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// SameGoldenRecord reports whether both sources have a MATCH link to the same golden record.
func (s *Service) SameGoldenRecord(ctx context.Context, a, b models.RecordReference) (bool, error) {
	la, err := s.links.FindLink(ctx, a)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	lb, err := s.links.FindLink(ctx, b)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return la.Golden == lb.Golden, nil
}

// exclusive runs fn while holding the keys of source, of goldens, of every golden record the
// source is linked to and the extra keys. When the source's links reach outside the held keys the section is
// released and re-acquired with the wider key set. fn runs at most once.
func (s *Service) exclusive(ctx context.Context, source models.RecordReference, goldens []models.RecordReference, extra []string, fn func(ctx context.Context, links []models.Link) error) error {
	for attempt := 0; attempt <= s.cfg.MaxLockRetries; attempt++ {
		links, err := s.findLinks(ctx, source)
		if err != nil {
			return err
		}
		held := mergeRefs(goldens, linkGoldens(links))

		start := time.Now()
		release, err := s.locker.Acquire(ctx, append(LockKeys(source, held), extra...))
		metrics.RecordLockWait(s.cfg.LockerName, time.Since(start).Seconds())
		if err != nil {
			return err
		}

		done, err := func() (bool, error) {
			defer release()

			links, err := s.findLinks(ctx, source)
			if err != nil {
				return true, err
			}
			if !covers(held, linkGoldens(links)) {
				return false, nil
			}
			return true, fn(ctx, links)
		}()
		if done {
			return err
		}

		metrics.LockRetries.Inc()
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"source":  source.String(),
			"attempt": attempt + 1,
		}).Debug("Links changed while acquiring locks, retrying with a wider key set")
	}
	return httperror.NewHTTPError(http.StatusConflict, "links of "+source.String()+" kept changing while acquiring locks")
}

func (s *Service) commit(ctx context.Context, cs models.ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	_, err := Retry(ctx, s.logger, s.cfg.Retry, "commit", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.links.Commit(ctx, cs)
	})
	return err
}

func (s *Service) findCandidates(ctx context.Context, query models.CandidateQuery) ([]models.RecordReference, error) {
	return Retry(ctx, s.logger, s.cfg.Retry, "find_candidates", func(ctx context.Context) ([]models.RecordReference, error) {
		return s.candidates.FindCandidateGoldenRecords(ctx, query)
	})
}

func (s *Service) readRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error) {
	return Retry(ctx, s.logger, s.cfg.Retry, "read_record", func(ctx context.Context) (*models.Record, error) {
		return s.records.ReadRecord(ctx, ref)
	})
}

func (s *Service) findLinks(ctx context.Context, source models.RecordReference) ([]models.Link, error) {
	return Retry(ctx, s.logger, s.cfg.Retry, "find_links", func(ctx context.Context) ([]models.Link, error) {
		return s.links.FindLinks(ctx, source)
	})
}

func (s *Service) publish(ctx context.Context, events []models.LinkEvent) {
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.PublishLinkEvents(ctx, events); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"events": len(events),
		}).Warn("Failed to publish link events")
	}
}

func (s *Service) recordRun(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RecordLinkRun(operation, result, time.Since(start).Seconds())
}

// LockKeys returns the sorted, distinct exclusive section keys for a source and golden records.
func LockKeys(source models.RecordReference, goldens []models.RecordReference) []string {
	set := map[string]struct{}{"source:" + source.String(): {}}
	for _, g := range goldens {
		set["golden:"+g.String()] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BlockingLockKeys returns the exclusive section keys for a source's blocking keys. A source
// without blocking keys locks the whole golden type.
func BlockingLockKeys(goldenType string, blockingKeys []string) []string {
	if len(blockingKeys) == 0 {
		return []string{"block:" + goldenType + ":*"}
	}
	keys := make([]string, 0, len(blockingKeys))
	for _, k := range blockingKeys {
		keys = append(keys, "block:"+goldenType+":"+k)
	}
	sort.Strings(keys)
	return keys
}

// missingRefs returns the references of found that are not in known.
func missingRefs(found, known []models.RecordReference) []models.RecordReference {
	seen := make(map[models.RecordReference]struct{}, len(known))
	for _, ref := range known {
		seen[ref] = struct{}{}
	}
	var out []models.RecordReference
	for _, ref := range found {
		if _, ok := seen[ref]; !ok {
			out = append(out, ref)
		}
	}
	return out
}

// mergeRefs returns the distinct references of both lists, ordered.
func mergeRefs(a, b []models.RecordReference) []models.RecordReference {
	seen := make(map[models.RecordReference]struct{}, len(a)+len(b))
	out := make([]models.RecordReference, 0, len(a)+len(b))
	for _, list := range [][]models.RecordReference{a, b} {
		for _, ref := range list {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func covers(held, needed []models.RecordReference) bool {
	set := make(map[models.RecordReference]struct{}, len(held))
	for _, ref := range held {
		set[ref] = struct{}{}
	}
	for _, ref := range needed {
		if _, ok := set[ref]; !ok {
			return false
		}
	}
	return true
}

func linkGoldens(links []models.Link) []models.RecordReference {
	refs := make([]models.RecordReference, len(links))
	for i, l := range links {
		refs[i] = l.Golden
	}
	return refs
}

func linkSources(links []models.Link) []models.RecordReference {
	refs := make([]models.RecordReference, len(links))
	for i, l := range links {
		refs[i] = l.Source
	}
	return refs
}

// apply returns links with cs applied.
func apply(links []models.Link, cs models.ChangeSet) []models.Link {
	state := make(map[models.RecordReference]models.Link, len(links))
	for _, l := range links {
		state[l.Golden] = l
	}
	for _, key := range cs.Deletes {
		delete(state, key.Golden)
	}
	for _, l := range cs.Upserts {
		state[l.Golden] = l
	}
	out := make([]models.Link, 0, len(state))
	for _, l := range state {
		out = append(out, l)
	}
	return out
}

func sourceLinks(source models.RecordReference, links []models.Link) *models.SourceLinks {
	result := &models.SourceLinks{Source: source, Possible: []models.Link{}}
	for _, l := range links {
		if l.IsMatch() {
			l := l
			result.Match = &l
			continue
		}
		result.Possible = append(result.Possible, l)
	}
	sort.Slice(result.Possible, func(i, j int) bool { return result.Possible[i].Golden.Less(result.Possible[j].Golden) })
	return result
}

func nonNil(links []models.Link) []models.Link {
	if links == nil {
		return []models.Link{}
	}
	return links
}
