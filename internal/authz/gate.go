package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// Gate decides, per (actor, resource) pair, whether access is allowed,
// based on scopes attached to actor credentials and access tags attached
// to resources. Every decision is written to the audit trail.
type Gate struct {
	db     *store.DB
	logger *zap.Logger
}

// NewGate creates an authorization gate backed by the given store.
func NewGate(db *store.DB, logger *zap.Logger) (*Gate, error) {
	if db == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{db: db, logger: logger}, nil
}

// CheckResourceAccess evaluates whether an actor may access a resource.
//
// A missing resource yields a denial with ReasonResourceNotFound and no
// audit entry, since there is no resource to attribute the check to. Every
// other outcome writes exactly one audit entry. Callers must not cache the
// result: credentials can be revoked between calls.
func (g *Gate) CheckResourceAccess(ctx context.Context, actorID int64, resourceID string) (*AccessDecision, error) {
	resource, err := g.db.GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return &AccessDecision{Allowed: false, Reason: ReasonResourceNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading resource: %w", err)
	}

	scopes, err := g.db.ActorScopes(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolving actor scopes: %w", err)
	}

	decision := evaluate(resource, scopes)

	if err := g.audit(ctx, actorID, resourceID, decision); err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}

	g.logger.Debug("access check",
		zap.Int64("actor_id", actorID),
		zap.String("resource_id", resourceID),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", decision.Reason))

	return decision, nil
}

// evaluate applies the scope rules: empty access tags means public; a
// non-empty set requires at least one matching scope.
func evaluate(resource *store.Resource, scopes []string) *AccessDecision {
	if resource.IsPublic() {
		return &AccessDecision{
			Allowed:         true,
			Reason:          ReasonPublicResource,
			EvaluatedScopes: scopes,
		}
	}

	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}
	var missing []string
	for _, tag := range resource.AccessTags {
		if scopeSet[tag] {
			return &AccessDecision{
				Allowed:         true,
				Reason:          ReasonScopeMatch,
				EvaluatedScopes: scopes,
			}
		}
		missing = append(missing, tag)
	}

	sort.Strings(missing)
	return &AccessDecision{
		Allowed:         false,
		Reason:          fmt.Sprintf("Missing required scope: %s", strings.Join(missing, ", ")),
		EvaluatedScopes: scopes,
	}
}

// audit appends the decision to the audit log.
func (g *Gate) audit(ctx context.Context, actorID int64, resourceID string, decision *AccessDecision) error {
	outcome := store.DecisionDeny
	if decision.Allowed {
		outcome = store.DecisionAllow
	}
	return g.db.AppendAudit(ctx, &store.AuditEntry{
		ActorID:    &actorID,
		Action:     "resource.access",
		ResourceID: resourceID,
		Decision:   outcome,
		Reason:     decision.Reason,
	})
}

// AuthorizedResources returns the resources the actor may access: public
// resources plus those whose access tags intersect the actor's scopes,
// optionally narrowed to one project, most recently updated first.
//
// This is the bulk pre-filter variant; it does not audit per resource.
// Callers exposing an individual resource must still run
// CheckResourceAccess on it.
func (g *Gate) AuthorizedResources(ctx context.Context, actorID int64, projectID string) ([]store.Resource, error) {
	scopes, err := g.db.ActorScopes(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("resolving actor scopes: %w", err)
	}
	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	filter := store.NewResourceFilter()
	if projectID != "" {
		filter = filter.WithProject(projectID)
	}
	resources, err := g.db.ListResources(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}

	authorized := make([]store.Resource, 0, len(resources))
	for _, r := range resources {
		if hasAccess(&r, scopeSet) {
			authorized = append(authorized, r)
		}
	}
	return authorized, nil
}

// hasAccess mirrors evaluate without constructing a decision.
func hasAccess(resource *store.Resource, scopeSet map[string]bool) bool {
	if resource.IsPublic() {
		return true
	}
	for _, tag := range resource.AccessTags {
		if scopeSet[tag] {
			return true
		}
	}
	return false
}

// AuditLog returns audit entries matching the filter, newest first.
func (g *Gate) AuditLog(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	return g.db.ListAudit(ctx, filter)
}
