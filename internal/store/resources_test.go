package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDB opens a migrated in-memory database.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// TestCreateResource_Roundtrip tests that a stored resource reads back intact.
func TestCreateResource_Roundtrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := &Resource{
		ProjectID:  "proj-1",
		URI:        "docs/setup.md",
		Type:       "document",
		Content:    "How to set up the service",
		AccessTags: []string{"team:platform"},
		Embedding:  []float32{0.1, 0.2, 0.3},
		Metadata:   map[string]any{"lang": "en"},
	}
	require.NoError(t, db.CreateResource(ctx, r))
	assert.NotEmpty(t, r.ID)

	got, err := db.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)
	assert.Equal(t, "docs/setup.md", got.URI)
	assert.Equal(t, "How to set up the service", got.Content)
	assert.Equal(t, []string{"team:platform"}, got.AccessTags)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, got.Embedding, 1e-6)
	assert.Equal(t, "en", got.Metadata["lang"])
	assert.False(t, got.CreatedAt.IsZero())
}

// TestCreateResource_Defaults tests ID and type generation.
func TestCreateResource_Defaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := &Resource{URI: "notes.txt", Content: "hello"}
	require.NoError(t, db.CreateResource(ctx, r))

	got, err := db.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "document", got.Type)
	assert.Empty(t, got.AccessTags)
	assert.True(t, got.IsPublic())
	assert.Nil(t, got.Embedding)
}

// TestGetResource_NotFound tests the sentinel error for unknown IDs.
func TestGetResource_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetResource(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestUpdateResourceEmbedding tests storing an embedding after creation.
func TestUpdateResourceEmbedding(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := &Resource{URI: "a.md", Content: "a"}
	require.NoError(t, db.CreateResource(ctx, r))

	require.NoError(t, db.UpdateResourceEmbedding(ctx, r.ID, []float32{1, 0}))

	got, err := db.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 0}, got.Embedding, 1e-6)

	err = db.UpdateResourceEmbedding(ctx, "no-such-id", []float32{1})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestListResources_Filter tests project and type narrowing.
func TestListResources_Filter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateResource(ctx, &Resource{ProjectID: "p1", URI: "a", Type: "document"}))
	require.NoError(t, db.CreateResource(ctx, &Resource{ProjectID: "p1", URI: "b", Type: "snippet"}))
	require.NoError(t, db.CreateResource(ctx, &Resource{ProjectID: "p2", URI: "c", Type: "document"}))

	all, err := db.ListResources(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	p1, err := db.ListResources(ctx, NewResourceFilter().WithProject("p1"))
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	snippets, err := db.ListResources(ctx, NewResourceFilter().WithProject("p1").WithTypes("snippet"))
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "b", snippets[0].URI)
}

// TestNearestResources tests exact cosine ranking over stored embeddings.
func TestNearestResources(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Aligned, diagonal, and orthogonal relative to the query (1, 0).
	require.NoError(t, db.CreateResource(ctx, &Resource{URI: "aligned", Embedding: []float32{1, 0}}))
	require.NoError(t, db.CreateResource(ctx, &Resource{URI: "diagonal", Embedding: []float32{1, 1}}))
	require.NoError(t, db.CreateResource(ctx, &Resource{URI: "orthogonal", Embedding: []float32{0, 1}}))
	// Not indexed, must be skipped.
	require.NoError(t, db.CreateResource(ctx, &Resource{URI: "unindexed"}))

	scored, err := db.NearestResources(ctx, []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, scored, 3)

	assert.Equal(t, "aligned", scored[0].Resource.URI)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-6)
	assert.Equal(t, "diagonal", scored[1].Resource.URI)
	assert.Equal(t, "orthogonal", scored[2].Resource.URI)
	assert.InDelta(t, 0.0, scored[2].Score, 1e-6)
}

// TestNearestResources_NegativeClamped tests that opposing vectors score 0.
func TestNearestResources_NegativeClamped(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateResource(ctx, &Resource{URI: "opposite", Embedding: []float32{-1, 0}}))

	scored, err := db.NearestResources(ctx, []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 0.0, scored[0].Score)
}

// TestNearestResources_Truncates tests the k limit.
func TestNearestResources_Truncates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.CreateResource(ctx, &Resource{Embedding: []float32{1, float32(i)}}))
	}

	scored, err := db.NearestResources(ctx, []float32{1, 0}, nil, 2)
	require.NoError(t, err)
	assert.Len(t, scored, 2)
}

// TestNearestResources_EmptyQuery tests the filter validation.
func TestNearestResources_EmptyQuery(t *testing.T) {
	db := newTestDB(t)

	_, err := db.NearestResources(context.Background(), nil, nil, 10)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

// TestSchemaVersion tests that migrations applied.
func TestSchemaVersion(t *testing.T) {
	db := newTestDB(t)

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, 4)
}

// TestCosineSimilarity tests the similarity math directly.
func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched dims", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

// TestListResources_Order tests newest-updated-first ordering.
func TestListResources_Order(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &Resource{URI: "first"}
	require.NoError(t, db.CreateResource(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := &Resource{URI: "second"}
	require.NoError(t, db.CreateResource(ctx, second))

	all, err := db.ListResources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].URI)
	assert.Equal(t, "first", all[1].URI)
}
