package store

import (
	"context"
	"fmt"

	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

// WriteVersion stores a compiled model version and its resources in one
// transaction. The version starts unreleased.
//
// Versions are immutable: writing an existing (environment, version) pair
// returns ErrVersionExists and leaves the stored version untouched.
func (s *Store) WriteVersion(ctx context.Context, env, source string, ms *model.ModelState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write version: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO versions (environment, version, source)
		VALUES (?, ?, ?)
		ON CONFLICT(environment, version) DO NOTHING
	`, env, ms.Version, source)
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("write version: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("write version %s/%d: %w", env, ms.Version, ErrVersionExists)
	}

	for pos, r := range ms.Resources() {
		attrs, err := marshalAttributes(r.Attributes)
		if err != nil {
			return fmt.Errorf("write resource %s: %w", r.ID, err)
		}
		requires, err := marshalIDs(r.Requires)
		if err != nil {
			return fmt.Errorf("write resource %s: %w", r.ID, err)
		}
		unknowns, err := marshalStrings(r.Unknowns)
		if err != nil {
			return fmt.Errorf("write resource %s: %w", r.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO resources
			(environment, version, resource_id, position, attributes, attribute_hash, requires, unknowns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			env,
			ms.Version,
			r.ID.ResourceID.String(),
			pos,
			attrs,
			r.AttributeHash,
			requires,
			unknowns,
		)
		if err != nil {
			return fmt.Errorf("write resource %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write version: commit: %w", err)
	}
	return nil
}

// ReleaseVersion marks a stored version as released, making it a candidate
// for LatestReleased.
func (s *Store) ReleaseVersion(ctx context.Context, env string, version int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE versions SET released = 1
		WHERE environment = ? AND version = ?
	`, env, version)
	if err != nil {
		return fmt.Errorf("release version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release version: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("release version %s/%d: %w", env, version, ErrVersionNotFound)
	}
	return nil
}

// UpdateResourceState upserts the latest state of a resource and appends the
// transition to the history log.
//
// A write for an older version, or for the same version with a lower seq,
// does not replace the latest-state row. Resume the scheduler clock from
// MaxSeq so a new process keeps seq increasing.
func (s *Store) UpdateResourceState(ctx context.Context, env string, version int64, id model.ResourceID, st scheduler.ResourceState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update resource state: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resource_state
		(environment, resource_id, version, status, blocked, compliance, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(environment, resource_id) DO UPDATE SET
			version = excluded.version,
			status = excluded.status,
			blocked = excluded.blocked,
			compliance = excluded.compliance,
			error = excluded.error,
			seq = excluded.seq
		WHERE excluded.version > resource_state.version
		   OR (excluded.version = resource_state.version AND excluded.seq >= resource_state.seq)
	`,
		env,
		id.String(),
		version,
		string(st.Status),
		string(st.Blocked),
		string(st.Compliance),
		st.Error,
		st.Seq,
	)
	if err != nil {
		return fmt.Errorf("update resource state %s: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_history
		(environment, resource_id, version, status, blocked, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		env,
		id.String(),
		version,
		string(st.Status),
		string(st.Blocked),
		st.Error,
		st.Seq,
	)
	if err != nil {
		return fmt.Errorf("append state history %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update resource state: commit: %w", err)
	}
	return nil
}

// RecordState implements scheduler.StateSink.
func (s *Store) RecordState(ctx context.Context, env string, version int64, id model.ResourceID, st scheduler.ResourceState) error {
	return s.UpdateResourceState(ctx, env, version, id, st)
}

// ForgetResources deletes the latest state of resources that are no longer
// part of the environment's model. History is kept.
func (s *Store) ForgetResources(ctx context.Context, env string, ids []model.ResourceID) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM resource_state WHERE environment = ? AND resource_id = ?
		`, env, id.String()); err != nil {
			return fmt.Errorf("forget resource %s: %w", id, err)
		}
	}
	return nil
}

var _ scheduler.StateSink = (*Store)(nil)
