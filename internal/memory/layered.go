package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// semanticIndex is the slice of the vector index Layered uses.
type semanticIndex interface {
	Index(ctx context.Context, m *Memory) error
	Similar(ctx context.Context, orgID, query string, limit int) ([]*Memory, error)
}

// graphStore is the slice of the graph store Layered uses.
type graphStore interface {
	Recaller
	Writer
}

// Layered combines the graph store with the semantic index. The graph
// is the source of truth; the index is a best-effort mirror that fills
// recall gaps when keyword matching comes up short.
type Layered struct {
	graph  graphStore
	index  semanticIndex
	logger *zap.Logger
}

// NewLayered builds the combined memory. index may be nil, in which
// case recall is keyword-only.
func NewLayered(graph graphStore, index semanticIndex, logger *zap.Logger) *Layered {
	return &Layered{graph: graph, index: index, logger: logger}
}

// Save writes to the graph, then mirrors into the index. An index
// failure is logged and swallowed: the memory is already durable.
func (l *Layered) Save(ctx context.Context, m *Memory) error {
	if err := l.graph.Save(ctx, m); err != nil {
		return err
	}
	if l.index != nil {
		if err := l.index.Index(ctx, m); err != nil {
			l.logger.Warn("semantic index failed",
				zap.String("memory_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

// Recall asks the graph first, then tops up from the semantic index
// until the limit is reached. Duplicates are dropped by memory ID.
func (l *Layered) Recall(ctx context.Context, orgID string, scope Scope, keywords []string, limit int) ([]*Memory, error) {
	out, err := l.graph.Recall(ctx, orgID, scope, keywords, limit)
	if err != nil {
		return nil, err
	}
	if l.index == nil || len(out) >= limit || len(keywords) == 0 {
		return out, nil
	}

	similar, err := l.index.Similar(ctx, orgID, strings.Join(keywords, " "), limit)
	if err != nil {
		l.logger.Warn("semantic recall failed", zap.Error(err))
		return out, nil
	}

	seen := make(map[string]bool, len(out))
	for _, m := range out {
		seen[m.ID] = true
	}
	for _, m := range similar {
		if len(out) >= limit {
			break
		}
		if m.ID == "" || seen[m.ID] {
			continue
		}
		// The index is org-filtered but not scope-filtered.
		if scope.LeadID != "" && m.LeadID != "" && m.LeadID != scope.LeadID {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out, nil
}

// PruneExpired drops expired memories from the graph, when the graph
// supports it. Index entries for pruned memories linger until the next
// overwrite of the same ID.
func (l *Layered) PruneExpired(ctx context.Context, orgID string) (int, error) {
	p, ok := l.graph.(interface {
		PruneExpired(ctx context.Context, orgID string) (int, error)
	})
	if !ok {
		return 0, nil
	}
	return p.PruneExpired(ctx, orgID)
}
