package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/authz"
	"github.com/fyrsmithlabs/retrieverd/internal/importance"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// stubEmbedder returns canned vectors keyed by text.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := s.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no stub vector for %q", text)
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

type testEnv struct {
	db     *store.DB
	gate   *authz.Gate
	ledger *importance.Ledger
	engine *Engine
}

func newTestEnv(t *testing.T, embedder *stubEmbedder, opts ...EngineOption) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	gate, err := authz.NewGate(db, zap.NewNop())
	require.NoError(t, err)
	ledger, err := importance.NewLedger(db, zap.NewNop())
	require.NoError(t, err)

	if embedder == nil {
		embedder = &stubEmbedder{vectors: map[string][]float32{}}
	}
	engine, err := NewEngine(db, gate, ledger, embedder, zap.NewNop(), opts...)
	require.NoError(t, err)

	return &testEnv{db: db, gate: gate, ledger: ledger, engine: engine}
}

// grantScopes issues a credential carrying the given scopes.
func (e *testEnv) grantScopes(t *testing.T, actorID int64, scopes ...string) {
	t.Helper()
	require.NoError(t, e.db.CreateCredential(context.Background(), &store.Credential{
		ActorID: actorID,
		KeyHash: fmt.Sprintf("hash-%d-%s", actorID, scopes[0]),
		Name:    "test",
		Scopes:  scopes,
		Active:  true,
	}))
}

func (e *testEnv) addResource(t *testing.T, uri string, embedding []float32, tags ...string) *store.Resource {
	t.Helper()
	r := &store.Resource{URI: uri, Embedding: embedding, AccessTags: tags}
	require.NoError(t, e.db.CreateResource(context.Background(), r))
	return r
}

// TestNewEngine_NilDeps tests the constructor guards.
func TestNewEngine_NilDeps(t *testing.T) {
	env := newTestEnv(t, nil)
	embedder := &stubEmbedder{}

	_, err := NewEngine(nil, env.gate, env.ledger, embedder, nil)
	assert.Error(t, err)
	_, err = NewEngine(env.db, nil, env.ledger, embedder, nil)
	assert.Error(t, err)
	_, err = NewEngine(env.db, env.gate, nil, embedder, nil)
	assert.Error(t, err)
	_, err = NewEngine(env.db, env.gate, env.ledger, nil, nil)
	assert.Error(t, err)
}

// TestRetrieve_EmptyQuery tests that a query or embedding is required.
func TestRetrieve_EmptyQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Retrieve(context.Background(), Params{ActorID: 1})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

// TestRetrieve_DeniedNeverReturned tests that unauthorized resources are
// invisible in results no matter how well they match.
func TestRetrieve_DeniedNeverReturned(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	env.addResource(t, "public", []float32{1, 0.2})
	// Perfect match, but gated behind a scope actor 1 does not hold.
	env.addResource(t, "secret", []float32{1, 0}, "team:hidden")

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "public", results[0].Resource.URI)
}

// TestRetrieve_ScopeGrantsAccess tests that a matching scope surfaces the
// gated resource.
func TestRetrieve_ScopeGrantsAccess(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	env.addResource(t, "secret", []float32{1, 0}, "team:hidden")
	env.grantScopes(t, 1, "team:hidden")

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "secret", results[0].Resource.URI)
}

// TestRetrieve_ImportanceBoost tests that confirmed-use importance can
// overtake a better vector match.
func TestRetrieve_ImportanceBoost(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	env.addResource(t, "near", []float32{1, 0.1})
	favored := env.addResource(t, "favored", []float32{1, 1})

	params := Params{ActorID: 1, Query: "query"}
	results, err := env.engine.Retrieve(ctx, params)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Resource.URI)

	// cos((1,0),(1,1)) ~ 0.707 vs ~0.995; four points at 0.1 each close
	// the gap.
	for i := 0; i < 4; i++ {
		_, err := env.ledger.Increment(ctx, 1, favored.ID)
		require.NoError(t, err)
	}

	results, err = env.engine.Retrieve(ctx, params)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "favored", results[0].Resource.URI)
	assert.Equal(t, int64(4), results[0].ActorImportance)
	assert.Greater(t, results[0].CombinedScore, results[0].VectorScore)

	// Another actor's view is untouched by actor 1's importance.
	results, err = env.engine.Retrieve(ctx, Params{ActorID: 2, Query: "query"})
	require.NoError(t, err)
	assert.Equal(t, "near", results[0].Resource.URI)
}

// TestRetrieve_Monotonic tests that adding importance never lowers a
// resource's combined score.
func TestRetrieve_Monotonic(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	r := env.addResource(t, "doc", []float32{1, 0.5})
	params := Params{ActorID: 1, Query: "query"}

	var last float64
	for i := 0; i < 3; i++ {
		results, err := env.engine.Retrieve(ctx, params)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.GreaterOrEqual(t, results[0].CombinedScore, last)
		last = results[0].CombinedScore

		_, err = env.ledger.Increment(ctx, 1, r.ID)
		require.NoError(t, err)
	}
}

// TestRetrieve_LimitAndDefault tests truncation and the default limit.
func TestRetrieve_LimitAndDefault(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		env.addResource(t, fmt.Sprintf("r%d", i), []float32{1, float32(i) * 0.01})
	}

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query"})
	require.NoError(t, err)
	assert.Len(t, results, 10)

	results, err = env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

// TestRetrieve_OversampleCoversDenied tests that denied candidates do not
// shrink a full page when enough authorized ones exist.
func TestRetrieve_OversampleCoversDenied(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	// Three well-matching gated resources ahead of three public ones.
	for i := 0; i < 3; i++ {
		env.addResource(t, fmt.Sprintf("gated%d", i), []float32{1, 0}, "team:hidden")
	}
	for i := 0; i < 3; i++ {
		env.addResource(t, fmt.Sprintf("public%d", i), []float32{1, 0.5})
	}

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NotContains(t, r.Resource.URI, "gated")
	}
}

// TestRetrieve_PrecomputedEmbedding tests skipping the embedder.
func TestRetrieve_PrecomputedEmbedding(t *testing.T) {
	env := newTestEnv(t, &stubEmbedder{vectors: map[string][]float32{}})
	ctx := context.Background()

	env.addResource(t, "doc", []float32{1, 0})

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, QueryEmbedding: []float32{1, 0}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc", results[0].Resource.URI)
}

// TestAdvancedSearch_Strategies tests the alternate orderings.
func TestAdvancedSearch_Strategies(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	near := env.addResource(t, "near", []float32{1, 0.1})
	favored := env.addResource(t, "favored", []float32{1, 1})
	for i := 0; i < 4; i++ {
		_, err := env.ledger.Increment(ctx, 1, favored.ID)
		require.NoError(t, err)
	}
	_, err := env.ledger.Increment(ctx, 1, near.ID)
	require.NoError(t, err)

	params := Params{ActorID: 1, Query: "query"}

	// vector_only ignores importance entirely.
	results, err := env.engine.AdvancedSearch(ctx, params, StrategyVectorOnly)
	require.NoError(t, err)
	assert.Equal(t, "near", results[0].Resource.URI)
	assert.Equal(t, results[0].VectorScore, results[0].CombinedScore)

	// importance_only ignores vector score entirely.
	results, err = env.engine.AdvancedSearch(ctx, params, StrategyImportanceOnly)
	require.NoError(t, err)
	assert.Equal(t, "favored", results[0].Resource.URI)
	assert.Equal(t, float64(4), results[0].CombinedScore)

	// Empty strategy falls back to combined.
	results, err = env.engine.AdvancedSearch(ctx, params, "")
	require.NoError(t, err)
	assert.Equal(t, "favored", results[0].Resource.URI)
}

// TestAdvancedSearch_UnknownStrategy tests the strategy validation.
func TestAdvancedSearch_UnknownStrategy(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.AdvancedSearch(context.Background(),
		Params{ActorID: 1, Query: "q"}, Strategy("sideways"))
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

// TestAdvancedSearch_RecencyBoosted tests the recency-weighted ordering.
func TestAdvancedSearch_RecencyBoosted(t *testing.T) {
	now := time.Now()
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder, withClock(func() time.Time { return now }))
	ctx := context.Background()

	// "stale" matches better but is 29 days old; "fresh" is current.
	// 1.0 + 0.3*(1/30) < 0.98 + 0.3*1.
	stale := env.addResource(t, "stale", []float32{1, 0})
	env.addResource(t, "fresh", []float32{1, 0.2})
	_, err := env.db.ExecContext(ctx, `UPDATE resources SET updated_at = ? WHERE id = ?`,
		now.Add(-29*24*time.Hour).UnixMilli(), stale.ID)
	require.NoError(t, err)

	results, err := env.engine.AdvancedSearch(ctx, Params{ActorID: 1, Query: "query"}, StrategyRecencyBoosted)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fresh", results[0].Resource.URI)
}

// TestRetrieve_GlobalRecencyEmphasis tests the raised recency weight.
func TestRetrieve_GlobalRecencyEmphasis(t *testing.T) {
	now := time.Now()
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder, withClock(func() time.Time { return now }))
	ctx := context.Background()

	// Gap of ~0.09 in vector score. Default weight 0.05 cannot close it;
	// the emphasized 0.15 weight can.
	stale := env.addResource(t, "stale", []float32{1, 0})
	env.addResource(t, "fresh", []float32{1, 0.43})
	_, err := env.db.ExecContext(ctx, `UPDATE resources SET updated_at = ? WHERE id = ?`,
		now.Add(-29*24*time.Hour).UnixMilli(), stale.ID)
	require.NoError(t, err)

	results, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query"})
	require.NoError(t, err)
	assert.Equal(t, "stale", results[0].Resource.URI)

	results, err = env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query", IncludeGlobalRecency: true})
	require.NoError(t, err)
	assert.Equal(t, "fresh", results[0].Resource.URI)
}

// TestSearchWithFeedback tests that confirmations bump importance.
func TestSearchWithFeedback(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	r := env.addResource(t, "doc", []float32{1, 0})

	results, err := env.engine.SearchWithFeedback(ctx,
		Params{ActorID: 1, Query: "query"}, []string{r.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)

	imp, err := env.ledger.Importance(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), imp)

	// Retrying the same confirmation double-counts; there is no
	// idempotency key.
	_, err = env.engine.SearchWithFeedback(ctx,
		Params{ActorID: 1, Query: "query"}, []string{r.ID})
	require.NoError(t, err)

	imp, err = env.ledger.Importance(ctx, 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), imp)
}

// TestBatchRetrieve tests independent per-query results.
func TestBatchRetrieve(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"alpha": {1, 0},
		"beta":  {0, 1},
	}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	env.addResource(t, "x-doc", []float32{1, 0})
	env.addResource(t, "y-doc", []float32{0, 1})

	results, err := env.engine.BatchRetrieve(ctx, 1, []string{"alpha", "beta"}, Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results["alpha"], 1)
	require.Len(t, results["beta"], 1)
	assert.Equal(t, "x-doc", results["alpha"][0].Resource.URI)
	assert.Equal(t, "y-doc", results["beta"][0].Resource.URI)
}

// TestRetrieve_TypeFilter tests resource type narrowing.
func TestRetrieve_TypeFilter(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder)
	ctx := context.Background()

	doc := &store.Resource{URI: "doc", Type: "document", Embedding: []float32{1, 0}}
	require.NoError(t, env.db.CreateResource(ctx, doc))
	snippet := &store.Resource{URI: "snippet", Type: "snippet", Embedding: []float32{1, 0}}
	require.NoError(t, env.db.CreateResource(ctx, snippet))

	results, err := env.engine.Retrieve(ctx, Params{
		ActorID: 1, Query: "query", ResourceTypes: []string{"snippet"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "snippet", results[0].Resource.URI)
}

// TestRetrieve_Metrics tests that the counters move.
func TestRetrieve_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	embedder := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	env := newTestEnv(t, embedder, WithMetrics(metrics))
	ctx := context.Background()

	env.addResource(t, "public", []float32{1, 0})
	env.addResource(t, "gated", []float32{1, 0}, "team:hidden")

	_, err := env.engine.Retrieve(ctx, Params{ActorID: 1, Query: "query"})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, f := range families {
		found[f.GetName()] = true
	}
	assert.True(t, found["retrieverd_searches_total"])
	assert.True(t, found["retrieverd_candidates_total"])
	assert.True(t, found["retrieverd_candidates_denied_total"])
	assert.True(t, found["retrieverd_search_duration_seconds"])
}
