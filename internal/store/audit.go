package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Decision is the outcome of an access check.
type Decision string

const (
	// DecisionAllow records a granted access check.
	DecisionAllow Decision = "allow"
	// DecisionDeny records a refused access check.
	DecisionDeny Decision = "deny"
)

// AuditEntry is one persisted access decision. The audit log is
// append-only; entries are never mutated or deleted.
type AuditEntry struct {
	ID         int64          `json:"id"`
	ActorID    *int64         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id"`
	Decision   Decision       `json:"decision"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows audit log reads. The zero value matches everything.
type AuditFilter struct {
	ActorID    *int64
	ResourceID string
	Decision   Decision
	Limit      int
}

// AppendAudit writes one audit entry and fills in its assigned ID.
func (db *DB) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	meta, err := json.Marshal(emptyMapIfNil(entry.Metadata))
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	var actorID any
	if entry.ActorID != nil {
		actorID = *entry.ActorID
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, resource_id, decision, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, actorID, entry.Action, entry.ResourceID, string(entry.Decision),
		entry.Reason, string(meta), entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	entry.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns audit entries matching the filter, newest first.
func (db *DB) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, actor_id, action, resource_id, decision, reason, metadata, created_at FROM audit_log`
	var where []string
	var args []any

	if filter.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(filter.Decision))
	}

	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var actorID sql.NullInt64
		var decision, meta string
		var createdAt int64
		if err := rows.Scan(&e.ID, &actorID, &e.Action, &e.ResourceID,
			&decision, &e.Reason, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		e.Decision = Decision(decision)
		e.CreatedAt = time.UnixMilli(createdAt)
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAudit returns the number of audit entries matching the filter.
func (db *DB) CountAudit(ctx context.Context, filter AuditFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_log`
	var where []string
	var args []any

	if filter.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(filter.Decision))
	}

	for i, w := range where {
		if i == 0 {
			query += " WHERE " + w
		} else {
			query += " AND " + w
		}
	}

	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit: %w", err)
	}
	return count, nil
}
