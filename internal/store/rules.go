package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bionixus/leadpilot-sub000/internal/rules"
)

// SaveRule upserts a rule.
func (s *Store) SaveRule(ctx context.Context, r *rules.Rule) error {
	var condJSON []byte
	if r.Condition != nil {
		var err error
		condJSON, err = json.Marshal(r.Condition)
		if err != nil {
			return fmt.Errorf("marshal condition: %w", err)
		}
	}

	if r.ID == "" {
		err := s.db.QueryRow(ctx, `
			INSERT INTO agent_rules (id, org_id, agent_id, name, description, kind,
				condition, condition_text, action, priority, enabled)
			VALUES (gen_random_uuid(), $1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			r.OrgID, r.AgentID, r.Name, r.Description, string(r.Kind),
			condJSON, r.ConditionText, r.Action, r.Priority, r.Enabled,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec(ctx, `
		UPDATE agent_rules SET name = $2, description = $3, kind = $4,
			condition = $5, condition_text = $6, action = $7,
			priority = $8, enabled = $9, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Name, r.Description, string(r.Kind),
		condJSON, r.ConditionText, r.Action, r.Priority, r.Enabled,
	)
	if err != nil {
		return fmt.Errorf("update rule %s: %w", r.ID, err)
	}
	return nil
}

// ListRules returns all of an org's rules, highest priority first.
func (s *Store) ListRules(ctx context.Context, orgID string) ([]*rules.Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, COALESCE(agent_id,''), name, COALESCE(description,''),
		       kind, condition, COALESCE(condition_text,''), COALESCE(action,''),
		       priority, enabled, times_triggered, last_triggered_at,
		       created_at, updated_at
		FROM agent_rules WHERE org_id = $1
		ORDER BY priority DESC, created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var r rules.Rule
		var kind string
		var condJSON []byte
		if err := rows.Scan(
			&r.ID, &r.OrgID, &r.AgentID, &r.Name, &r.Description,
			&kind, &condJSON, &r.ConditionText, &r.Action,
			&r.Priority, &r.Enabled, &r.TimesTriggered, &r.LastTriggeredAt,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Kind = rules.Kind(kind)
		if len(condJSON) > 0 {
			if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
				return nil, fmt.Errorf("decode condition for %s: %w", r.ID, err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM agent_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return nil
}

// RecordTrigger persists one rule firing: the counter, the timestamp
// and an audit row with the situation that matched.
func (s *Store) RecordTrigger(ctx context.Context, r *rules.Rule, situation map[string]any) error {
	_, err := s.db.Exec(ctx, `
		UPDATE agent_rules SET times_triggered = times_triggered + 1,
			last_triggered_at = NOW()
		WHERE id = $1`, r.ID)
	if err != nil {
		return fmt.Errorf("record trigger %s: %w", r.ID, err)
	}

	details, _ := json.Marshal(situation)
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_logs (id, org_id, kind, message, details, rule_id)
		VALUES (gen_random_uuid(), $1, 'rule_triggered', $2, $3, $4)`,
		r.OrgID, fmt.Sprintf("rule %q fired", r.Name), details, r.ID)
	if err != nil {
		return fmt.Errorf("log trigger %s: %w", r.ID, err)
	}
	return nil
}
