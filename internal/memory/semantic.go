package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/embedding"
	"github.com/bionixus/leadpilot-sub000/internal/vectorstore"
)

const collection = "agent_memories"

// SemanticIndex mirrors memories into Qdrant so recall can match on
// meaning instead of exact keywords. Indexing is best-effort: the graph
// store is the source of truth and a failed upsert only costs recall
// quality.
type SemanticIndex struct {
	embed   embedding.Provider
	vectors *vectorstore.Client
	logger  *zap.Logger
}

// NewSemanticIndex creates the collection if needed and returns the index.
func NewSemanticIndex(ctx context.Context, embed embedding.Provider, vectors *vectorstore.Client, logger *zap.Logger) (*SemanticIndex, error) {
	dim := embed.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be configured, got %d", dim)
	}
	if err := vectors.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
		return nil, fmt.Errorf("ensure memory collection: %w", err)
	}
	return &SemanticIndex{embed: embed, vectors: vectors, logger: logger}, nil
}

// Index embeds the memory's key and value and upserts the point.
func (s *SemanticIndex) Index(ctx context.Context, m *Memory) error {
	vecs, err := s.embed.Embed(ctx, []string{m.Key + ": " + m.Value})
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", m.ID, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed memory %s: empty result", m.ID)
	}
	payload := map[string]string{
		"kind":        string(m.Kind),
		"key":         m.Key,
		"value":       m.Value,
		"lead_id":     m.LeadID,
		"campaign_id": m.CampaignID,
	}
	return s.vectors.Upsert(ctx, collection, m.OrgID, m.ID, vecs[0], payload)
}

// Similar embeds the query and returns the closest memories for the
// org, best match first. Results are reconstructed from the point
// payload so no graph round-trip is needed.
func (s *SemanticIndex) Similar(ctx context.Context, orgID, query string, limit int) ([]*Memory, error) {
	vecs, err := s.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty result")
	}

	hits, err := s.vectors.Search(ctx, collection, orgID, vecs[0], uint64(limit))
	if err != nil {
		return nil, err
	}

	memories := make([]*Memory, 0, len(hits))
	for _, h := range hits {
		memories = append(memories, &Memory{
			ID:         h.ID,
			OrgID:      orgID,
			Kind:       Kind(h.Payload["kind"]),
			Key:        h.Payload["key"],
			Value:      h.Payload["value"],
			LeadID:     h.Payload["lead_id"],
			CampaignID: h.Payload["campaign_id"],
			Importance: float64(h.Score),
		})
	}
	return memories, nil
}
