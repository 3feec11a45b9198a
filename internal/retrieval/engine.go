// Package retrieval orchestrates the actor-weighted retrieval pipeline:
// embed query, oversampled vector search, authorization filtering,
// importance re-ranking, optional recency blending, final sort and
// truncate.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/authz"
	"github.com/fyrsmithlabs/retrieverd/internal/embeddings"
	"github.com/fyrsmithlabs/retrieverd/internal/importance"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// Common errors for retrieval operations.
var (
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrUnknownStrategy = errors.New("unknown ranking strategy")
)

// Strategy selects a total ordering over the candidate set.
type Strategy string

const (
	// StrategyCombined blends vector score, importance, and recency.
	StrategyCombined Strategy = "combined"
	// StrategyVectorOnly sorts by vector similarity alone.
	StrategyVectorOnly Strategy = "vector_only"
	// StrategyImportanceOnly sorts by actor importance alone.
	StrategyImportanceOnly Strategy = "importance_only"
	// StrategyRecencyBoosted sorts by vector score plus a strong
	// recency boost.
	StrategyRecencyBoosted Strategy = "recency_boosted"
)

// Weights hold the scoring constants. They are configuration rather than
// hard-coded literals; the defaults reproduce the standard ranking.
type Weights struct {
	// Importance is the boost per importance point (default 0.1).
	Importance float64
	// Recency is the default recency blend weight (default 0.05).
	Recency float64
	// EmphasizedRecency replaces Recency when the caller requests
	// recency emphasis (default 0.15).
	EmphasizedRecency float64
	// RecencyBoost is the weight used by the recency_boosted strategy
	// (default 0.3).
	RecencyBoost float64
	// RecencyHorizon is the age at which the recency component reaches
	// zero (default 30 days).
	RecencyHorizon time.Duration
	// Oversample multiplies the candidate fetch before authorization
	// filtering (default 2).
	Oversample int
	// DefaultLimit is used when a request does not set one (default 10).
	DefaultLimit int
}

// DefaultWeights returns the standard scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Importance:        0.1,
		Recency:           0.05,
		EmphasizedRecency: 0.15,
		RecencyBoost:      0.3,
		RecencyHorizon:    30 * 24 * time.Hour,
		Oversample:        2,
		DefaultLimit:      10,
	}
}

// Params describe one retrieval request.
type Params struct {
	ActorID int64 `json:"actor_id"`

	// Query is the text to embed. Ignored when QueryEmbedding is set.
	Query string `json:"query"`

	// QueryEmbedding is an optional precomputed embedding.
	QueryEmbedding []float32 `json:"-"`

	ProjectID     string   `json:"project_id,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	Limit         int      `json:"limit,omitempty"`

	// IncludeGlobalRecency raises the recency weight from the default
	// to the emphasized value.
	IncludeGlobalRecency bool `json:"include_global_recency,omitempty"`
}

// RankedResult is one scored retrieval hit.
type RankedResult struct {
	Resource        store.Resource `json:"resource"`
	VectorScore     float64        `json:"vector_score"`
	ActorImportance int64          `json:"actor_importance"`
	GlobalRecency   float64        `json:"global_recency"`
	CombinedScore   float64        `json:"combined_score"`
}

// Engine orchestrates the retrieval pipeline. It holds no per-call state;
// every result is derivable from the request and current store contents.
type Engine struct {
	db       *store.DB
	gate     *authz.Gate
	ledger   *importance.Ledger
	embedder embeddings.Embedder
	weights  Weights
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights overrides the scoring constants.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) {
		e.weights = w
	}
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// withClock overrides the time source; used by tests.
func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(db *store.DB, gate *authz.Gate, ledger *importance.Ledger, embedder embeddings.Embedder, logger *zap.Logger, opts ...EngineOption) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("authorization gate cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("importance ledger cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		db:       db,
		gate:     gate,
		ledger:   ledger,
		embedder: embedder,
		weights:  DefaultWeights(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Retrieve runs the full pipeline with the combined ranking.
func (e *Engine) Retrieve(ctx context.Context, params Params) ([]RankedResult, error) {
	return e.search(ctx, params, StrategyCombined)
}

// SearchWithFeedback runs Retrieve, then increments importance once per
// confirmed resource ID.
//
// There is no idempotency key: a caller that retries the same confirmation
// will double-increment. Callers are responsible for confirming at most
// once per user-visible result.
func (e *Engine) SearchWithFeedback(ctx context.Context, params Params, confirmedResourceIDs []string) ([]RankedResult, error) {
	results, err := e.Retrieve(ctx, params)
	if err != nil {
		return nil, err
	}

	for _, id := range confirmedResourceIDs {
		if _, err := e.ledger.Increment(ctx, params.ActorID, id); err != nil {
			return nil, fmt.Errorf("recording feedback for %s: %w", id, err)
		}
		if e.metrics != nil {
			e.metrics.feedbackTotal.Inc()
		}
	}
	return results, nil
}

// AdvancedSearch exposes alternate total orderings over the same
// candidate set.
func (e *Engine) AdvancedSearch(ctx context.Context, params Params, strategy Strategy) ([]RankedResult, error) {
	switch strategy {
	case "", StrategyCombined:
		strategy = StrategyCombined
	case StrategyVectorOnly, StrategyImportanceOnly, StrategyRecencyBoosted:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	return e.search(ctx, params, strategy)
}

// BatchRetrieve runs the pipeline once per query. Queries are independent
// and order-insensitive; the shared params supply everything but the
// query text.
func (e *Engine) BatchRetrieve(ctx context.Context, actorID int64, queries []string, shared Params) (map[string][]RankedResult, error) {
	results := make(map[string][]RankedResult, len(queries))
	for _, query := range queries {
		params := shared
		params.ActorID = actorID
		params.Query = query
		params.QueryEmbedding = nil

		ranked, err := e.Retrieve(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("retrieving %q: %w", query, err)
		}
		results[query] = ranked
	}
	return results, nil
}

// search embeds, gathers authorized scored candidates, orders them by the
// strategy, and truncates to the limit.
func (e *Engine) search(ctx context.Context, params Params, strategy Strategy) ([]RankedResult, error) {
	start := e.now()

	limit := params.Limit
	if limit <= 0 {
		limit = e.weights.DefaultLimit
	}

	candidates, err := e.candidates(ctx, params, limit)
	if err != nil {
		return nil, err
	}

	e.rank(candidates, params, strategy)

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	if e.metrics != nil {
		e.metrics.searchesTotal.WithLabelValues(string(strategy)).Inc()
		e.metrics.searchDuration.Observe(e.now().Sub(start).Seconds())
	}

	e.logger.Debug("search completed",
		zap.Int64("actor_id", params.ActorID),
		zap.String("strategy", string(strategy)),
		zap.Int("results", len(candidates)),
		zap.Duration("duration", e.now().Sub(start)))

	return candidates, nil
}

// candidates performs the oversampled vector search and authorization
// filter, returning survivors with vector score, importance, and recency
// filled in.
func (e *Engine) candidates(ctx context.Context, params Params, limit int) ([]RankedResult, error) {
	queryEmbedding := params.QueryEmbedding
	if len(queryEmbedding) == 0 {
		if params.Query == "" {
			return nil, ErrEmptyQuery
		}
		var err error
		queryEmbedding, err = e.embedder.EmbedQuery(ctx, params.Query)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
	}

	filter := store.NewResourceFilter()
	if params.ProjectID != "" {
		filter = filter.WithProject(params.ProjectID)
	}
	if len(params.ResourceTypes) > 0 {
		filter = filter.WithTypes(params.ResourceTypes...)
	}

	// Oversample so entries dropped by authorization still leave a full
	// page of results.
	oversample := e.weights.Oversample
	if oversample < 1 {
		oversample = 2
	}
	scored, err := e.db.NearestResources(ctx, queryEmbedding, filter, oversample*limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if e.metrics != nil {
		e.metrics.candidatesTotal.Add(float64(len(scored)))
	}

	results := make([]RankedResult, 0, len(scored))
	for _, s := range scored {
		// The gate must run before any resource is exposed. A check
		// error for a single candidate is not fatal; the candidate is
		// treated as denied.
		decision, err := e.gate.CheckResourceAccess(ctx, params.ActorID, s.Resource.ID)
		if err != nil {
			e.logger.Warn("access check failed, dropping candidate",
				zap.Int64("actor_id", params.ActorID),
				zap.String("resource_id", s.Resource.ID),
				zap.Error(err))
			if e.metrics != nil {
				e.metrics.deniedTotal.Inc()
			}
			continue
		}
		if !decision.Allowed {
			if e.metrics != nil {
				e.metrics.deniedTotal.Inc()
			}
			continue
		}

		imp, err := e.ledger.Importance(ctx, params.ActorID, s.Resource.ID)
		if err != nil {
			return nil, fmt.Errorf("loading importance: %w", err)
		}

		results = append(results, RankedResult{
			Resource:        s.Resource,
			VectorScore:     s.Score,
			ActorImportance: imp,
			GlobalRecency:   e.recency(s.Resource.UpdatedAt),
		})
	}
	return results, nil
}

// recency computes max(0, 1 - age/horizon) for a resource's last update.
func (e *Engine) recency(updatedAt time.Time) float64 {
	age := e.now().Sub(updatedAt)
	if age <= 0 {
		return 1
	}
	r := 1 - float64(age)/float64(e.weights.RecencyHorizon)
	if r < 0 {
		return 0
	}
	return r
}

// rank fills CombinedScore per the strategy and sorts descending, ties
// broken by most recently updated resource.
func (e *Engine) rank(results []RankedResult, params Params, strategy Strategy) {
	recencyWeight := e.weights.Recency
	if params.IncludeGlobalRecency {
		recencyWeight = e.weights.EmphasizedRecency
	}

	for i := range results {
		r := &results[i]
		switch strategy {
		case StrategyVectorOnly:
			r.CombinedScore = r.VectorScore
		case StrategyImportanceOnly:
			r.CombinedScore = float64(r.ActorImportance)
		case StrategyRecencyBoosted:
			r.CombinedScore = r.VectorScore + e.weights.RecencyBoost*r.GlobalRecency
		default:
			r.CombinedScore = r.VectorScore +
				e.weights.Importance*float64(r.ActorImportance) +
				recencyWeight*r.GlobalRecency
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].Resource.UpdatedAt.After(results[j].Resource.UpdatedAt)
	})
}
