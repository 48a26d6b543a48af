package storage

import (
	"context"
	"fmt"
)

// Auth Event Logging
func (p *PostgresClient) LogAuthEvent(ctx context.Context, eventType, subject, ipAddress, userAgent string, success bool, reason string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO auth_events (event_type, subject, ip_address, user_agent, success, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, eventType, subject, ipAddress, userAgent, success, reason)
	if err != nil {
		return fmt.Errorf("failed to log auth event: %w", err)
	}
	return nil
}

// CountAuthEvents returns how many events of a type were recorded.
func (p *PostgresClient) CountAuthEvents(ctx context.Context, eventType string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM auth_events WHERE event_type = $1
	`, eventType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count auth events: %w", err)
	}
	return n, nil
}
