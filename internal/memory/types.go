package memory

import (
	"context"
	"time"
)

// Kind categorizes what a memory records.
type Kind string

const (
	KindLeadContext  Kind = "lead_context"
	KindConversation Kind = "conversation"
	KindLearning     Kind = "learning"
	KindPreference   Kind = "preference"
	KindFact         Kind = "fact"
	KindStrategy     Kind = "strategy"
)

// Memory is one keyed, typed fact scoped to an organization and
// optionally to a lead or campaign. Append-mostly; importance and expiry
// exist so a pruning pass can thin the store.
type Memory struct {
	ID         string            `json:"id"`
	OrgID      string            `json:"org_id"`
	Kind       Kind              `json:"kind"`
	Key        string            `json:"key"`
	Value      string            `json:"value"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Importance float64           `json:"importance"` // 0..1
	LeadID     string            `json:"lead_id,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Expired reports whether the memory has an elapsed expiry.
func (m *Memory) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Scope narrows a recall to a lead and/or campaign. Zero value means
// org-wide.
type Scope struct {
	LeadID     string
	CampaignID string
}

// Recaller fetches memories relevant to a situation. The orchestrator
// and decision engine depend on this interface so tests can substitute
// a deterministic stub for the graph/vector-backed store.
type Recaller interface {
	Recall(ctx context.Context, orgID string, scope Scope, keywords []string, limit int) ([]*Memory, error)
}

// Writer persists new memories (the learning step after successful actions).
type Writer interface {
	Save(ctx context.Context, m *Memory) error
}
