package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ImportanceRecord is the sparse usage-affinity counter for one
// (actor, resource) pair. Absence of a row means importance 0; rows that
// decay to 0 are kept so last-touched history survives.
type ImportanceRecord struct {
	ActorID       int64     `json:"actor_id"`
	ResourceID    string    `json:"resource_id"`
	Importance    int64     `json:"importance"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// IncrementImportance atomically increments the importance counter for the
// pair, creating the row at importance 1 on first touch. The upsert is a
// single statement so concurrent increments never lose an update.
func (db *DB) IncrementImportance(ctx context.Context, actorID int64, resourceID string) (*ImportanceRecord, error) {
	now := time.Now()
	_, err := db.ExecContext(ctx, `
		INSERT INTO importance_records (actor_id, resource_id, importance, last_touched_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(actor_id, resource_id)
		DO UPDATE SET importance = importance + 1, last_touched_at = ?
	`, actorID, resourceID, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("increment importance: %w", err)
	}

	return db.GetImportanceRecord(ctx, actorID, resourceID)
}

// GetImportanceRecord returns the record for a pair, or ErrNotFound.
func (db *DB) GetImportanceRecord(ctx context.Context, actorID int64, resourceID string) (*ImportanceRecord, error) {
	var rec ImportanceRecord
	var touched int64
	err := db.QueryRowContext(ctx, `
		SELECT actor_id, resource_id, importance, last_touched_at
		FROM importance_records WHERE actor_id = ? AND resource_id = ?
	`, actorID, resourceID).Scan(&rec.ActorID, &rec.ResourceID, &rec.Importance, &touched)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("importance record: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get importance record: %w", err)
	}
	rec.LastTouchedAt = time.UnixMilli(touched)
	return &rec, nil
}

// GetImportance returns the importance counter for a pair. A missing row is
// 0 by contract, not an error.
func (db *DB) GetImportance(ctx context.Context, actorID int64, resourceID string) (int64, error) {
	var importance int64
	err := db.QueryRowContext(ctx, `
		SELECT importance FROM importance_records
		WHERE actor_id = ? AND resource_id = ?
	`, actorID, resourceID).Scan(&importance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get importance: %w", err)
	}
	return importance, nil
}

// ImportanceByActor returns the actor's importance counters keyed by
// resource ID. Resources absent from the map have importance 0.
func (db *DB) ImportanceByActor(ctx context.Context, actorID int64) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT resource_id, importance FROM importance_records WHERE actor_id = ?
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("importance by actor: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var resourceID string
		var importance int64
		if err := rows.Scan(&resourceID, &importance); err != nil {
			return nil, fmt.Errorf("scan importance: %w", err)
		}
		result[resourceID] = importance
	}
	return result, rows.Err()
}

// DecayActorImportance decrements every positive importance record for one
// actor by 1 in a single atomic statement. The WHERE guard floors at zero,
// so the decrement can interleave safely with concurrent increments.
// Returns the number of rows decayed.
func (db *DB) DecayActorImportance(ctx context.Context, actorID int64) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE importance_records SET importance = importance - 1
		WHERE actor_id = ? AND importance > 0
	`, actorID)
	if err != nil {
		return 0, fmt.Errorf("decay actor importance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("decay rows affected: %w", err)
	}
	return n, nil
}

// ActiveActorsSince returns the distinct actors that produced any audit
// activity at or after the cutoff. Actors with no activity are skipped by
// the nightly decay sweep.
func (db *DB) ActiveActorsSince(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT actor_id FROM audit_log
		WHERE actor_id IS NOT NULL AND created_at >= ?
		ORDER BY actor_id
	`, cutoff.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("active actors since: %w", err)
	}
	defer rows.Close()

	var actors []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan actor id: %w", err)
		}
		actors = append(actors, id)
	}
	return actors, rows.Err()
}
