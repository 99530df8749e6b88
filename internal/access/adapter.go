package access

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Adapter is the one-way loader that reads persisted memberships from
// the relational store and publishes them into a Holder. It never
// writes back: the CRUD layer that edits memberships directly is the
// source of truth.
type Adapter struct {
	db     *sql.DB
	holder *Holder
	logger zerolog.Logger
}

// NewAdapter opens the Postgres connection backing workspace_member and
// collab_member and wires it to holder.
func NewAdapter(databaseURL string, holder *Holder, logger zerolog.Logger) (*Adapter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("access adapter: open db: %w", err)
	}
	return &Adapter{db: db, holder: holder, logger: logger}, nil
}

// Reload streams both membership tables into a brand-new Model and
// swaps it in atomically, so no reader ever observes a partially
// loaded policy set.
func (a *Adapter) Reload(ctx context.Context) error {
	next := NewModel()

	if err := a.loadWorkspaceMemberships(ctx, next); err != nil {
		return fmt.Errorf("access adapter: load workspace memberships: %w", err)
	}
	if err := a.loadCollabMemberships(ctx, next); err != nil {
		return fmt.Errorf("access adapter: load collab memberships: %w", err)
	}

	a.holder.Swap(next)
	a.logger.Info().Msg("access policy reloaded")
	return nil
}

// loadWorkspaceMemberships streams workspace_member rows, each becoming
// (uid, Workspace(workspace_id), role.ToActionSet()).
func (a *Adapter) loadWorkspaceMemberships(ctx context.Context, m *Model) error {
	rows, err := a.db.QueryContext(ctx, `SELECT uid, workspace_id, role FROM workspace_member`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var uid, workspaceID string
		var roleCode int
		if err := rows.Scan(&uid, &workspaceID, &roleCode); err != nil {
			return err
		}
		m.Grant(uid, Workspace(workspaceID), Role(roleCode).ToActionSet())
	}
	return rows.Err()
}

// loadCollabMemberships streams collab_member rows, each becoming
// (uid, Collab(object_id), access_level.ToActionSet()).
func (a *Adapter) loadCollabMemberships(ctx context.Context, m *Model) error {
	rows, err := a.db.QueryContext(ctx, `SELECT uid, object_id, access_level FROM collab_member`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var uid, objectID string
		var levelCode int
		if err := rows.Scan(&uid, &objectID, &levelCode); err != nil {
			return err
		}
		m.Grant(uid, Collab(objectID), AccessLevel(levelCode).ToActionSet())
	}
	return rows.Err()
}

// Close releases the underlying database connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}
