package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/rollout/internal/executor"
	"github.com/roach88/rollout/internal/model"
	"github.com/roach88/rollout/internal/scheduler"
)

// VersionInfo describes one stored version.
type VersionInfo struct {
	Environment string `json:"environment"`
	Version     int64  `json:"version"`
	Source      string `json:"source,omitempty"`
	Released    bool   `json:"released"`
	Resources   int    `json:"resources"`
}

// StateRecord is a persisted resource state together with the resource and
// version it belongs to.
type StateRecord struct {
	ID      model.ResourceID `json:"id"`
	Version int64            `json:"version"`
	scheduler.ResourceState
}

// LatestReleased returns the highest released version of an environment.
// Returns ErrVersionNotFound if nothing has been released.
func (s *Store) LatestReleased(ctx context.Context, env string) (int64, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM versions
		WHERE environment = ? AND released = 1
	`, env).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("latest released: %w", err)
	}
	if !version.Valid {
		return 0, fmt.Errorf("latest released %s: %w", env, ErrVersionNotFound)
	}
	return version.Int64, nil
}

// ListVersions returns every stored version of an environment, oldest first.
//
// Returns an empty slice (not nil) if the environment has no versions.
func (s *Store) ListVersions(ctx context.Context, env string) ([]VersionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.environment, v.version, v.source, v.released,
		       (SELECT COUNT(*) FROM resources r
		        WHERE r.environment = v.environment AND r.version = v.version)
		FROM versions v
		WHERE v.environment = ?
		ORDER BY v.version ASC
	`, env)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	versions := []VersionInfo{}
	for rows.Next() {
		var info VersionInfo
		var released int
		if err := rows.Scan(&info.Environment, &info.Version, &info.Source, &released, &info.Resources); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		info.Released = released == 1
		versions = append(versions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

// ReadVersion rebuilds the model state of a stored version. Resources come
// back in the order they were written.
func (s *Store) ReadVersion(ctx context.Context, env string, version int64) (*model.ModelState, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM versions WHERE environment = ? AND version = ?
	`, env, version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read version %s/%d: %w", env, version, ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, attributes, attribute_hash, requires, unknowns
		FROM resources
		WHERE environment = ? AND version = ?
		ORDER BY position ASC
	`, env, version)
	if err != nil {
		return nil, fmt.Errorf("query resources: %w", err)
	}
	defer rows.Close()

	var resources []model.ResourceDetails
	for rows.Next() {
		r, err := scanResource(rows, version)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}

	ms, err := model.Build(version, resources)
	if err != nil {
		return nil, fmt.Errorf("read version %s/%d: %w", env, version, err)
	}
	return ms, nil
}

// scanResource scans a single resources row.
func scanResource(rows *sql.Rows, version int64) (model.ResourceDetails, error) {
	var idStr, attrsJSON, hash, requiresJSON, unknownsJSON string
	if err := rows.Scan(&idStr, &attrsJSON, &hash, &requiresJSON, &unknownsJSON); err != nil {
		return model.ResourceDetails{}, fmt.Errorf("scan resource: %w", err)
	}

	id, err := model.ParseResourceID(idStr)
	if err != nil {
		return model.ResourceDetails{}, fmt.Errorf("scan resource: %w", err)
	}
	attrs, err := unmarshalAttributes(attrsJSON)
	if err != nil {
		return model.ResourceDetails{}, fmt.Errorf("scan resource %s: %w", idStr, err)
	}
	requires, err := unmarshalIDs(requiresJSON)
	if err != nil {
		return model.ResourceDetails{}, fmt.Errorf("scan resource %s: %w", idStr, err)
	}
	unknowns, err := unmarshalStrings(unknownsJSON)
	if err != nil {
		return model.ResourceDetails{}, fmt.Errorf("scan resource %s: %w", idStr, err)
	}

	return model.ResourceDetails{
		ID:            id.AtVersion(version),
		Attributes:    attrs,
		AttributeHash: hash,
		Requires:      requires,
		Unknowns:      unknowns,
	}, nil
}

// ReadResourceStates returns the latest state of every resource in an
// environment, ordered by resource id.
//
// Returns an empty slice (not nil) if no state has been recorded.
func (s *Store) ReadResourceStates(ctx context.Context, env string) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, version, status, blocked, compliance, error, seq
		FROM resource_state
		WHERE environment = ?
		ORDER BY resource_id COLLATE BINARY ASC
	`, env)
	if err != nil {
		return nil, fmt.Errorf("query resource state: %w", err)
	}
	defer rows.Close()

	records := []StateRecord{}
	for rows.Next() {
		var rec StateRecord
		var idStr, status, blocked, compliance string
		if err := rows.Scan(&idStr, &rec.Version, &status, &blocked, &compliance, &rec.Error, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan resource state: %w", err)
		}
		id, err := model.ParseResourceID(idStr)
		if err != nil {
			return nil, fmt.Errorf("scan resource state: %w", err)
		}
		rec.ID = id
		rec.Status = scheduler.Status(status)
		rec.Blocked = scheduler.Blocked(blocked)
		rec.Compliance = executor.Compliance(compliance)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource state: %w", err)
	}
	return records, nil
}

// History returns every recorded transition of one resource in seq order.
func (s *Store) History(ctx context.Context, env string, id model.ResourceID) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, status, blocked, error, seq
		FROM state_history
		WHERE environment = ? AND resource_id = ?
		ORDER BY seq ASC, id ASC
	`, env, id.String())
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	records := []StateRecord{}
	for rows.Next() {
		rec := StateRecord{ID: id}
		var status, blocked string
		if err := rows.Scan(&rec.Version, &status, &blocked, &rec.Error, &rec.Seq); err != nil {
			return nil, fmt.Errorf("scan state history: %w", err)
		}
		rec.Status = scheduler.Status(status)
		rec.Blocked = scheduler.Blocked(blocked)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state history: %w", err)
	}
	return records, nil
}

// MaxSeq returns the highest seq recorded for an environment, or 0.
func (s *Store) MaxSeq(ctx context.Context, env string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM state_history WHERE environment = ?
	`, env).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

// Summary aggregates the latest resource states of an environment. The
// reported version is the newest version any state belongs to.
func (s *Store) Summary(ctx context.Context, env string) (scheduler.Summary, error) {
	records, err := s.ReadResourceStates(ctx, env)
	if err != nil {
		return scheduler.Summary{}, err
	}

	var version int64
	states := make(map[model.ResourceID]scheduler.ResourceState, len(records))
	for _, rec := range records {
		states[rec.ID] = rec.ResourceState
		version = max(version, rec.Version)
	}
	return scheduler.Summarize(env, version, "", states), nil
}
