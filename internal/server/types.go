package server

import (
	"time"

	"github.com/fyrsmithlabs/retrieverd/internal/retrieval"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// SearchRequest is the request body for the search endpoints. The actor
// is always the authenticated key's actor; it cannot be set by the body.
type SearchRequest struct {
	Query                string   `json:"query"`
	ProjectID            string   `json:"project_id,omitempty"`
	ResourceTypes        []string `json:"resource_types,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	IncludeGlobalRecency bool     `json:"include_global_recency,omitempty"`
}

// SearchResponse is the response body for the search endpoints.
type SearchResponse struct {
	Results []retrieval.RankedResult `json:"results"`
	Count   int                      `json:"count"`
}

// FeedbackSearchRequest is the request body for POST /api/v1/search/feedback.
type FeedbackSearchRequest struct {
	SearchRequest
	ConfirmedResourceIDs []string `json:"confirmed_resource_ids"`
}

// AdvancedSearchRequest is the request body for POST /api/v1/search/advanced.
type AdvancedSearchRequest struct {
	SearchRequest
	Strategy string `json:"strategy"`
}

// BatchSearchRequest is the request body for POST /api/v1/search/batch.
type BatchSearchRequest struct {
	Queries              []string `json:"queries"`
	ProjectID            string   `json:"project_id,omitempty"`
	ResourceTypes        []string `json:"resource_types,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	IncludeGlobalRecency bool     `json:"include_global_recency,omitempty"`
}

// BatchSearchResponse is the response body for POST /api/v1/search/batch.
type BatchSearchResponse struct {
	Results map[string][]retrieval.RankedResult `json:"results"`
}

// CreateResourceRequest is the request body for POST /api/v1/resources.
type CreateResourceRequest struct {
	ProjectID  string         `json:"project_id"`
	URI        string         `json:"uri"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	AccessTags []string       `json:"access_tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ResourcesResponse is the response body for GET /api/v1/resources.
type ResourcesResponse struct {
	Resources []store.Resource `json:"resources"`
	Count     int              `json:"count"`
}

// AccessCheckRequest is the request body for POST /api/v1/access/check.
type AccessCheckRequest struct {
	ResourceID string `json:"resource_id"`
}

// GenerateKeyRequest is the request body for POST /api/v1/keys.
type GenerateKeyRequest struct {
	ActorID   int64      `json:"actor_id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// KeysResponse is the response body for GET /api/v1/keys.
type KeysResponse struct {
	Keys []store.Credential `json:"keys"`
}

// AuditResponse is the response body for GET /api/v1/audit.
type AuditResponse struct {
	Entries []store.AuditEntry `json:"entries"`
	Count   int                `json:"count"`
}
