package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Store persists memories in Neo4j. Memories are nodes keyed by org;
// leads and campaigns are nodes too, linked with ABOUT/WITHIN edges so
// a recall for one lead can walk to its campaign context later.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore connects to Neo4j with basic auth.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Save writes one memory node and links it to its lead and campaign
// nodes when scoped. Fills ID and CreatedAt when absent.
func (s *Store) Save(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var expires any
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC()
	}

	_, err := session.Run(ctx,
		`CREATE (m:Memory {
			id: $id, org_id: $orgId, kind: $kind,
			key: $key, value: $value,
			importance: $importance,
			lead_id: $leadId, campaign_id: $campaignId,
			expires_at: $expiresAt, created_at: datetime($createdAt)
		})`,
		map[string]any{
			"id":         m.ID,
			"orgId":      m.OrgID,
			"kind":       string(m.Kind),
			"key":        m.Key,
			"value":      m.Value,
			"importance": m.Importance,
			"leadId":     m.LeadID,
			"campaignId": m.CampaignID,
			"expiresAt":  expires,
			"createdAt":  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}

	if m.LeadID != "" {
		_, err = session.Run(ctx,
			`MATCH (m:Memory {id: $memId})
			 MERGE (l:Lead {id: $leadId, org_id: $orgId})
			 MERGE (m)-[:ABOUT]->(l)`,
			map[string]any{"memId": m.ID, "leadId": m.LeadID, "orgId": m.OrgID})
		if err != nil {
			return fmt.Errorf("link memory to lead: %w", err)
		}
	}
	if m.CampaignID != "" {
		_, err = session.Run(ctx,
			`MATCH (m:Memory {id: $memId})
			 MERGE (c:Campaign {id: $campaignId, org_id: $orgId})
			 MERGE (m)-[:WITHIN]->(c)`,
			map[string]any{"memId": m.ID, "campaignId": m.CampaignID, "orgId": m.OrgID})
		if err != nil {
			return fmt.Errorf("link memory to campaign: %w", err)
		}
	}
	return nil
}

// Recall returns up to limit live memories for the org, most important
// first. A scoped recall matches the lead or campaign; keywords match
// against key and value, any keyword suffices. Expired memories never
// come back.
func (s *Store) Recall(ctx context.Context, orgID string, scope Scope, keywords []string, limit int) ([]*Memory, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	var conds []string
	params := map[string]any{"orgId": orgID, "limit": limit}

	if scope.LeadID != "" {
		conds = append(conds, "(m.lead_id = $leadId OR m.lead_id = '')")
		params["leadId"] = scope.LeadID
	}
	if scope.CampaignID != "" {
		conds = append(conds, "(m.campaign_id = $campaignId OR m.campaign_id = '')")
		params["campaignId"] = scope.CampaignID
	}
	if len(keywords) > 0 {
		var kw []string
		for i, k := range keywords {
			p := fmt.Sprintf("kw%d", i)
			params[p] = strings.ToLower(k)
			kw = append(kw, fmt.Sprintf("toLower(m.key) CONTAINS $%s OR toLower(m.value) CONTAINS $%s", p, p))
		}
		conds = append(conds, "("+strings.Join(kw, " OR ")+")")
	}
	conds = append(conds, "(m.expires_at IS NULL OR m.expires_at > datetime())")

	query := `MATCH (m:Memory {org_id: $orgId}) WHERE ` + strings.Join(conds, " AND ") + `
		RETURN m.id, m.kind, m.key, m.value, m.importance, m.lead_id, m.campaign_id
		ORDER BY m.importance DESC, m.created_at DESC LIMIT $limit`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("recall memories: %w", err)
	}

	var memories []*Memory
	for result.Next(ctx) {
		rec := result.Record()
		m := &Memory{OrgID: orgID}
		if v, ok := rec.Get("m.id"); ok && v != nil {
			m.ID = v.(string)
		}
		if v, ok := rec.Get("m.kind"); ok && v != nil {
			m.Kind = Kind(v.(string))
		}
		if v, ok := rec.Get("m.key"); ok && v != nil {
			m.Key = v.(string)
		}
		if v, ok := rec.Get("m.value"); ok && v != nil {
			m.Value = v.(string)
		}
		if v, ok := rec.Get("m.importance"); ok && v != nil {
			m.Importance = v.(float64)
		}
		if v, ok := rec.Get("m.lead_id"); ok && v != nil {
			m.LeadID = v.(string)
		}
		if v, ok := rec.Get("m.campaign_id"); ok && v != nil {
			m.CampaignID = v.(string)
		}
		memories = append(memories, m)
	}
	return memories, result.Err()
}

// PruneExpired deletes memories whose expiry has passed and returns how
// many were removed.
func (s *Store) PruneExpired(ctx context.Context, orgID string) (int, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {org_id: $orgId})
		 WHERE m.expires_at IS NOT NULL AND m.expires_at < datetime()
		 DETACH DELETE m
		 RETURN count(m) AS pruned`,
		map[string]any{"orgId": orgID})
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("pruned"); ok && v != nil {
			return int(v.(int64)), nil
		}
	}
	return 0, result.Err()
}
