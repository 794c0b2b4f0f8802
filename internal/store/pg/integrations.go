package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"zashboard.app/internal/integrations"
)

const connectionColumns = `id, organization_id, provider, status, sealed_token, items_synced,
	last_error, last_synced_at, created_at, updated_at`

func scanConnection(row scanner, c *integrations.Connection) error {
	var lastSynced sql.NullTime
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Provider, &c.Status, &c.SealedToken, &c.ItemsSynced,
		&c.LastError, &lastSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return err
	}
	c.LastSyncedAt = timePtr(lastSynced)
	return nil
}

func connectionName(orgID string, provider integrations.Provider) string {
	return "connection " + orgID + "/" + string(provider)
}

func (s *Store) GetConnection(ctx context.Context, orgID string, provider integrations.Provider) (integrations.Connection, error) {
	if s.db == nil {
		return integrations.Connection{}, errNoDB
	}
	var c integrations.Connection
	row := s.db.QueryRowContext(ctx, `
		select `+connectionColumns+`
		from integration_connections
		where organization_id = $1 and provider = $2
	`, orgID, provider)
	if err := scanConnection(row, &c); err != nil {
		return integrations.Connection{}, mapError(err, connectionName(orgID, provider))
	}
	return c, nil
}

func (s *Store) ListConnections(ctx context.Context, orgID string) ([]integrations.Connection, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+connectionColumns+`
		from integration_connections
		where organization_id = $1
		order by provider
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []integrations.Connection{}
	for rows.Next() {
		var c integrations.Connection
		if err := scanConnection(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertConnection replaces the token of an existing connection and leaves its
// sync state alone.
func (s *Store) UpsertConnection(ctx context.Context, c *integrations.Connection) error {
	if s.db == nil {
		return errNoDB
	}
	status := c.Status
	if status == "" {
		status = integrations.StatusIdle
	}
	row := s.db.QueryRowContext(ctx, `
		insert into integration_connections (id, organization_id, provider, status, sealed_token, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (organization_id, provider) do update
		set sealed_token = excluded.sealed_token,
		    updated_at = excluded.updated_at
		returning `+connectionColumns,
		c.ID, c.OrganizationID, c.Provider, status, c.SealedToken, c.CreatedAt, c.UpdatedAt)
	if err := scanConnection(row, c); err != nil {
		return mapError(err, "organization "+c.OrganizationID)
	}
	return nil
}

// ClaimSync is a single conditional update so two callers can never both win.
func (s *Store) ClaimSync(ctx context.Context, orgID string, provider integrations.Provider, now, staleBefore time.Time) (integrations.Connection, bool, error) {
	if s.db == nil {
		return integrations.Connection{}, false, errNoDB
	}
	var c integrations.Connection
	row := s.db.QueryRowContext(ctx, `
		update integration_connections
		set status = 'syncing', last_error = '', updated_at = $3
		where organization_id = $1 and provider = $2
		  and (status <> 'syncing' or updated_at < $4)
		returning `+connectionColumns,
		orgID, provider, now, staleBefore)
	err := scanConnection(row, &c)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return integrations.Connection{}, false, err
	}
	current, err := s.GetConnection(ctx, orgID, provider)
	if err != nil {
		return integrations.Connection{}, false, err
	}
	return current, false, nil
}

func (s *Store) FinishSync(ctx context.Context, orgID string, provider integrations.Provider, res integrations.Result) error {
	if s.db == nil {
		return errNoDB
	}
	var lastSynced sql.NullTime
	if res.Status == integrations.StatusCompleted {
		lastSynced = sql.NullTime{Time: res.FinishedAt, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		update integration_connections
		set status = $3, items_synced = $4, last_error = $5, updated_at = $6,
		    last_synced_at = coalesce($7, last_synced_at)
		where organization_id = $1 and provider = $2
	`, orgID, provider, res.Status, res.ItemsSynced, res.Error, res.FinishedAt, lastSynced)
	if err != nil {
		return err
	}
	return expectAffected(result, connectionName(orgID, provider))
}
