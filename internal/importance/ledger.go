// Package importance maintains the per-(actor, resource) importance
// ledger: a sparse, non-negative usage counter incremented on confirmed
// use and decayed nightly for actors active that day.
package importance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

const (
	// DefaultImportanceWeight is the boost applied per importance point
	// when blending importance into a combined score.
	DefaultImportanceWeight = 0.1
)

// DecayResult summarizes one nightly decay sweep.
type DecayResult struct {
	ActorsProcessed   int   `json:"actors_processed"`
	ImportanceDecayed int64 `json:"importance_decayed"`
}

// RankedResource pairs a resource with its vector, importance, and
// combined scores.
type RankedResource struct {
	Resource        store.Resource `json:"resource"`
	VectorScore     float64        `json:"vector_score"`
	ActorImportance int64          `json:"actor_importance"`
	CombinedScore   float64        `json:"combined_score"`
}

// Ledger provides importance reads, atomic increments, and decay.
type Ledger struct {
	db               *store.DB
	logger           *zap.Logger
	importanceWeight float64
	now              func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithImportanceWeight overrides the importance boost weight.
func WithImportanceWeight(w float64) Option {
	return func(l *Ledger) {
		l.importanceWeight = w
	}
}

// withClock overrides the time source; used by tests.
func withClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates an importance ledger backed by the given store.
func NewLedger(db *store.DB, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		db:               db,
		logger:           logger,
		importanceWeight: DefaultImportanceWeight,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Increment atomically bumps the importance counter for the pair,
// creating the record at importance 1 on first touch.
func (l *Ledger) Increment(ctx context.Context, actorID int64, resourceID string) (*store.ImportanceRecord, error) {
	rec, err := l.db.IncrementImportance(ctx, actorID, resourceID)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("importance incremented",
		zap.Int64("actor_id", actorID),
		zap.String("resource_id", resourceID),
		zap.Int64("importance", rec.Importance))
	return rec, nil
}

// Importance returns the counter for a pair; a missing record is 0.
func (l *Ledger) Importance(ctx context.Context, actorID int64, resourceID string) (int64, error) {
	return l.db.GetImportance(ctx, actorID, resourceID)
}

// ByActor returns the actor's importance counters keyed by resource ID.
func (l *Ledger) ByActor(ctx context.Context, actorID int64) (map[string]int64, error) {
	return l.db.ImportanceByActor(ctx, actorID)
}

// RunNightlyDecay decrements every positive importance record by 1 for
// each actor that produced audit activity since the start of the current
// day. Actors without activity are skipped entirely, so decay tracks an
// actor's own engagement period rather than uniform wall-clock time.
//
// A failure for one actor is logged and skipped; the sweep continues and
// the result reflects the work actually done.
func (l *Ledger) RunNightlyDecay(ctx context.Context) (*DecayResult, error) {
	now := l.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	actors, err := l.db.ActiveActorsSince(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("selecting active actors: %w", err)
	}

	result := &DecayResult{}
	for _, actorID := range actors {
		decayed, err := l.db.DecayActorImportance(ctx, actorID)
		if err != nil {
			l.logger.Warn("decay failed for actor, skipping",
				zap.Int64("actor_id", actorID),
				zap.Error(err))
			continue
		}
		result.ActorsProcessed++
		result.ImportanceDecayed += decayed
	}

	l.logger.Info("nightly decay completed",
		zap.Int("actors_processed", result.ActorsProcessed),
		zap.Int64("importance_decayed", result.ImportanceDecayed))

	return result, nil
}

// RankedResources runs a vector search and blends in the actor's
// importance: combined = vectorScore + weight x importance. Ties break by
// most recently updated resource.
//
// This is a convenience query without authorization filtering; callers
// exposing results to an actor must gate them first.
func (l *Ledger) RankedResources(ctx context.Context, actorID int64, queryEmbedding []float32, projectID string, limit int) ([]RankedResource, error) {
	if limit <= 0 {
		limit = 10
	}

	filter := store.NewResourceFilter()
	if projectID != "" {
		filter = filter.WithProject(projectID)
	}
	scored, err := l.db.NearestResources(ctx, queryEmbedding, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	byResource, err := l.db.ImportanceByActor(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("loading importance: %w", err)
	}

	ranked := make([]RankedResource, 0, len(scored))
	for _, s := range scored {
		imp := byResource[s.Resource.ID]
		ranked = append(ranked, RankedResource{
			Resource:        s.Resource,
			VectorScore:     s.Score,
			ActorImportance: imp,
			CombinedScore:   s.Score + l.importanceWeight*float64(imp),
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CombinedScore != ranked[j].CombinedScore {
			return ranked[i].CombinedScore > ranked[j].CombinedScore
		}
		return ranked[i].Resource.UpdatedAt.After(ranked[j].Resource.UpdatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
