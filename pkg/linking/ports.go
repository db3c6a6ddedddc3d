package linking

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Matcher scores a source record against a golden record. *matching.Matcher implements it.
type Matcher interface {
	Match(ctx context.Context, left, right models.Record) (models.MatchOutcome, error)
	GoldenType() string
	Seed(source models.Record) map[string]any
	BlockingKeys(record models.Record) ([]string, error)
	Eligible(record models.Record) bool
}

// RecordStore reads records and creates golden records. ReadRecord returns a 404 httperror when
// the record does not exist.
type RecordStore interface {
	ReadRecord(ctx context.Context, ref models.RecordReference) (*models.Record, error)
	CreateGoldenRecord(ctx context.Context, goldenType string, seed map[string]any, blockingKeys []string) (models.RecordReference, error)
}

// CandidateFinder retrieves golden record candidates for a source.
type CandidateFinder interface {
	FindCandidateGoldenRecords(ctx context.Context, query models.CandidateQuery) ([]models.RecordReference, error)
}

// LinkStore persists links. Each method is atomic for the links it touches; Commit applies a whole
// change set atomically, deletes first, then upserts in order.
type LinkStore interface {
	UpsertLink(ctx context.Context, link models.Link) error
	// DeleteLink returns a 404 httperror when the link does not exist.
	DeleteLink(ctx context.Context, key models.LinkKey) error
	// FindLink returns the MATCH link of source, or a 404 httperror when there is none.
	FindLink(ctx context.Context, source models.RecordReference) (*models.Link, error)
	FindPossibleMatches(ctx context.Context, source models.RecordReference) ([]models.Link, error)
	// FindLinks returns every link of source, MATCH and POSSIBLE_MATCH.
	FindLinks(ctx context.Context, source models.RecordReference) ([]models.Link, error)
	FindLinksTo(ctx context.Context, golden models.RecordReference) ([]models.Link, error)
	// CountLinks counts links with the given classification, or every link when it is empty.
	CountLinks(ctx context.Context, classification models.Classification) (int, error)
	Commit(ctx context.Context, cs models.ChangeSet) error
}

// Locker provides exclusive sections over a set of keys. The returned release function must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// EventPublisher delivers link events after a commit.
type EventPublisher interface {
	PublishLinkEvents(ctx context.Context, events []models.LinkEvent) error
}
