package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bionixus/leadpilot-sub000/internal/agent"
)

// GetConfig returns the org's agent config, or nil when none exists.
func (s *Store) GetConfig(ctx context.Context, orgID string) (*agent.Config, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, org_id, enabled, status, model, temperature,
		       schedule, rate_limits, autonomy, require_approval_for,
		       created_at, updated_at
		FROM agent_configs WHERE org_id = $1`, orgID)

	var c agent.Config
	var status string
	var scheduleJSON, limitsJSON, autonomyJSON, approvalJSON []byte
	err := row.Scan(
		&c.ID, &c.OrgID, &c.Enabled, &status, &c.Model, &c.Temperature,
		&scheduleJSON, &limitsJSON, &autonomyJSON, &approvalJSON,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s: %w", orgID, err)
	}
	c.Status = agent.Status(status)

	if err := json.Unmarshal(scheduleJSON, &c.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule for %s: %w", orgID, err)
	}
	if err := json.Unmarshal(limitsJSON, &c.RateLimits); err != nil {
		return nil, fmt.Errorf("decode rate_limits for %s: %w", orgID, err)
	}
	if err := json.Unmarshal(autonomyJSON, &c.Autonomy); err != nil {
		return nil, fmt.Errorf("decode autonomy for %s: %w", orgID, err)
	}
	if err := json.Unmarshal(approvalJSON, &c.RequireApprovalFor); err != nil {
		return nil, fmt.Errorf("decode require_approval_for for %s: %w", orgID, err)
	}
	return &c, nil
}

// SaveConfig upserts the org's agent config. There is at most one
// config per org.
func (s *Store) SaveConfig(ctx context.Context, c *agent.Config) error {
	scheduleJSON, _ := json.Marshal(c.Schedule)
	limitsJSON, _ := json.Marshal(c.RateLimits)
	autonomyJSON, _ := json.Marshal(c.Autonomy)
	approvalJSON, _ := json.Marshal(c.RequireApprovalFor)

	err := s.db.QueryRow(ctx, `
		INSERT INTO agent_configs (id, org_id, enabled, status, model, temperature,
			schedule, rate_limits, autonomy, require_approval_for)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			status = EXCLUDED.status,
			model = EXCLUDED.model,
			temperature = EXCLUDED.temperature,
			schedule = EXCLUDED.schedule,
			rate_limits = EXCLUDED.rate_limits,
			autonomy = EXCLUDED.autonomy,
			require_approval_for = EXCLUDED.require_approval_for,
			updated_at = NOW()
		RETURNING id`,
		c.OrgID, c.Enabled, string(c.Status), c.Model, c.Temperature,
		scheduleJSON, limitsJSON, autonomyJSON, approvalJSON,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("save config %s: %w", c.OrgID, err)
	}
	return nil
}

// SetAgentStatus updates only the lifecycle status of an org's agent.
func (s *Store) SetAgentStatus(ctx context.Context, orgID string, status agent.Status) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_configs SET status = $2, updated_at = NOW() WHERE org_id = $1`,
		orgID, string(status))
	if err != nil {
		return fmt.Errorf("set agent status %s: %w", orgID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set agent status %s: no config", orgID)
	}
	return nil
}

// ListEnabledOrgs returns the org IDs whose agent is enabled.
func (s *Store) ListEnabledOrgs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT org_id FROM agent_configs WHERE enabled ORDER BY org_id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled orgs: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
