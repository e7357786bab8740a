//go:build e2e

package memory

import (
	"context"
	"testing"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}

	store, err := NewStore(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return store
}

func TestStoreSaveRecall(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	seed := []*Memory{
		{OrgID: "org1", Kind: KindLeadContext, Key: "industry", Value: "fintech startup", LeadID: "l1", Importance: 0.8},
		{OrgID: "org1", Kind: KindLearning, Key: "timing", Value: "replies come on tuesdays", Importance: 0.6},
		{OrgID: "org1", Kind: KindFact, Key: "competitor", Value: "uses a rival tool", LeadID: "l2", Importance: 0.9},
		{OrgID: "org2", Kind: KindFact, Key: "industry", Value: "other org fact", Importance: 1.0},
	}
	for _, m := range seed {
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
		if m.ID == "" {
			t.Fatal("save did not assign an ID")
		}
	}

	// Lead-scoped recall sees the lead's memories plus org-wide ones,
	// never another lead's or another org's.
	got, err := store.Recall(ctx, "org1", Scope{LeadID: "l1"}, nil, 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d memories, want 2: %+v", len(got), got)
	}
	if got[0].Importance < got[1].Importance {
		t.Error("recall not ordered by importance desc")
	}
	for _, m := range got {
		if m.OrgID != "org1" || m.LeadID == "l2" {
			t.Errorf("recall leaked %+v", m)
		}
	}

	// Keyword recall matches value text case-insensitively.
	got, err = store.Recall(ctx, "org1", Scope{}, []string{"TUESDAYS"}, 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(got) != 1 || got[0].Key != "timing" {
		t.Errorf("keyword recall got %+v", got)
	}
}

func TestStorePruneExpired(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	if err := store.Save(ctx, &Memory{OrgID: "org1", Kind: KindFact, Key: "stale", Value: "old", ExpiresAt: &past}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, &Memory{OrgID: "org1", Kind: KindFact, Key: "fresh", Value: "new", ExpiresAt: &future}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Expired memories never surface in a recall.
	got, err := store.Recall(ctx, "org1", Scope{}, nil, 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	for _, m := range got {
		if m.Key == "stale" {
			t.Error("recall returned an expired memory")
		}
	}

	pruned, err := store.PruneExpired(ctx, "org1")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("got %d pruned, want 1", pruned)
	}
}
