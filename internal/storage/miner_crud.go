package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveMiner inserts the address or updates its family and enabled flag.
func (p *PostgresClient) SaveMiner(ctx context.Context, host string, port int, family string, enabled bool) (uuid.UUID, error) {
	var minerID uuid.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO miners (host, port, family, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (host, port)
		DO UPDATE SET
			family = EXCLUDED.family,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id
	`, host, port, family, enabled).Scan(&minerID)

	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save miner: %w", err)
	}

	return minerID, nil
}

// LoadEnabledMiners returns every enabled inventory entry ordered by address.
func (p *PostgresClient) LoadEnabledMiners(ctx context.Context) ([]MinerRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, host, port, family, enabled, created_at, updated_at
		FROM miners
		WHERE enabled = true
		ORDER BY host, port
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query miners: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[MinerRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan miners: %w", err)
	}

	return records, nil
}

// GetMiner returns one inventory entry.
func (p *PostgresClient) GetMiner(ctx context.Context, host string, port int) (*MinerRecord, error) {
	var record MinerRecord
	err := p.pool.QueryRow(ctx, `
		SELECT id, host, port, family, enabled, created_at, updated_at
		FROM miners
		WHERE host = $1 AND port = $2
	`, host, port).Scan(
		&record.ID, &record.Host, &record.Port, &record.Family,
		&record.Enabled, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get miner: %w", err)
	}
	return &record, nil
}

// DeleteMiner removes an address from the inventory.
func (p *PostgresClient) DeleteMiner(ctx context.Context, host string, port int) error {
	result, err := p.pool.Exec(ctx, `
		DELETE FROM miners
		WHERE host = $1 AND port = $2
	`, host, port)

	if err != nil {
		return fmt.Errorf("failed to delete miner: %w", err)
	}

	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return nil
}
