package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource is a unit of knowledge content in the shared corpus.
type Resource struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id,omitempty"`
	URI       string         `json:"uri"`
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`

	// AccessTags gate access: an empty set means the resource is public,
	// a non-empty set requires the requesting actor to hold at least one
	// matching scope.
	AccessTags []string `json:"access_tags"`

	// Embedding is nil until the resource has been indexed.
	Embedding []float32 `json:"-"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsPublic reports whether the resource has no access tags.
func (r *Resource) IsPublic() bool {
	return len(r.AccessTags) == 0
}

// ScoredResource pairs a resource with its vector similarity score.
type ScoredResource struct {
	Resource Resource
	// Score is the normalized similarity in [0, 1] (1 - cosine distance,
	// negatives clamped to zero).
	Score float64
}

// ResourceFilter narrows resource queries to safe parameterized predicates.
// The zero value matches everything.
type ResourceFilter struct {
	projectID string
	types     []string
}

// NewResourceFilter creates an empty ResourceFilter.
func NewResourceFilter() *ResourceFilter {
	return &ResourceFilter{}
}

// WithProject narrows the filter to a single project.
func (f *ResourceFilter) WithProject(projectID string) *ResourceFilter {
	f.projectID = projectID
	return f
}

// WithTypes narrows the filter to the given resource types.
func (f *ResourceFilter) WithTypes(types ...string) *ResourceFilter {
	f.types = append(f.types, types...)
	return f
}

// clauses returns the WHERE fragments and bind arguments for the filter.
func (f *ResourceFilter) clauses() ([]string, []any) {
	if f == nil {
		return nil, nil
	}
	var where []string
	var args []any
	if f.projectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.projectID)
	}
	if len(f.types) > 0 {
		placeholders := make([]string, len(f.types))
		for i, t := range f.types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	return where, args
}

const resourceColumns = `id, project_id, uri, type, content, access_tags, embedding, metadata, created_at, updated_at`

// CreateResource inserts a new resource. A missing ID is generated.
func (db *DB) CreateResource(ctx context.Context, r *Resource) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Type == "" {
		r.Type = "document"
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	tags, err := json.Marshal(emptyIfNil(r.AccessTags))
	if err != nil {
		return fmt.Errorf("marshal access tags: %w", err)
	}
	meta, err := json.Marshal(emptyMapIfNil(r.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO resources (id, project_id, uri, type, content, access_tags, embedding, metadata, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectID, r.URI, r.Type, r.Content, string(tags),
		encodeEmbedding(r.Embedding), string(meta),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// GetResource returns a resource by ID, or ErrNotFound.
func (db *DB) GetResource(ctx context.Context, id string) (*Resource, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+resourceColumns+` FROM resources WHERE id = ?
	`, id)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return r, nil
}

// UpdateResourceEmbedding stores the embedding for an indexed resource.
func (db *DB) UpdateResourceEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := db.ExecContext(ctx, `
		UPDATE resources SET embedding = ?, updated_at = ? WHERE id = ?
	`, encodeEmbedding(embedding), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListResources returns resources matching the filter, most recently
// updated first.
func (db *DB) ListResources(ctx context.Context, filter *ResourceFilter) ([]Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources`
	where, args := filter.clauses()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// NearestResources returns the k resources nearest to the query embedding,
// ordered by normalized similarity score (highest first).
//
// The scan is exact: every indexed resource matching the filter is scored
// with cosine similarity. Resources without embeddings are skipped.
func (db *DB) NearestResources(ctx context.Context, queryEmbedding []float32, filter *ResourceFilter, k int) ([]ScoredResource, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding required", ErrInvalidFilter)
	}
	if k <= 0 {
		k = 10
	}

	query := `SELECT ` + resourceColumns + ` FROM resources`
	where, args := filter.clauses()
	where = append(where, "embedding IS NOT NULL")
	query += " WHERE " + strings.Join(where, " AND ")

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nearest resources: %w", err)
	}
	defer rows.Close()

	resources, err := scanResources(rows)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredResource, 0, len(resources))
	for _, r := range resources {
		sim := CosineSimilarity(queryEmbedding, r.Embedding)
		if sim < 0 {
			sim = 0
		}
		scored = append(scored, ScoredResource{Resource: r, Score: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Resource.UpdatedAt.After(scored[j].Resource.UpdatedAt)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	var r Resource
	var projectID, content sql.NullString
	var tags, meta string
	var embedding []byte
	var createdAt, updatedAt int64

	err := row.Scan(&r.ID, &projectID, &r.URI, &r.Type, &content,
		&tags, &embedding, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.ProjectID = projectID.String
	r.Content = content.String
	r.Embedding = decodeEmbedding(embedding)
	r.CreatedAt = time.UnixMilli(createdAt)
	r.UpdatedAt = time.UnixMilli(updatedAt)

	if err := json.Unmarshal([]byte(tags), &r.AccessTags); err != nil {
		return nil, fmt.Errorf("unmarshal access tags: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &r, nil
}

func scanResources(rows *sql.Rows) ([]Resource, error) {
	var resources []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMapIfNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
