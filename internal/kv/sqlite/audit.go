package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

const defaultAuditLimit = 50

// Log appends a market event to audit_log.
func (s *Store) Log(ctx context.Context, event, marketID string, detail map[string]any) error {
	var raw sql.NullString
	if len(detail) > 0 {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("sqlite: marshal audit detail: %w", err)
		}
		raw = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(event, market_id, detail, created_at) VALUES (?, ?, ?, ?)`,
		event, marketID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, market_id, detail, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var raw sql.NullString
		if err := rows.Scan(&e.ID, &e.Event, &e.MarketID, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries rows: %w", err)
	}
	return out, nil
}

var _ domain.AuditLog = (*Store)(nil)
