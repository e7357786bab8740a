package memory

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeGraph struct {
	saved    []*Memory
	recalled []*Memory
}

func (f *fakeGraph) Save(_ context.Context, m *Memory) error {
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeGraph) Recall(context.Context, string, Scope, []string, int) ([]*Memory, error) {
	return f.recalled, nil
}

type fakeIndex struct {
	indexed  []*Memory
	similar  []*Memory
	indexErr error
}

func (f *fakeIndex) Index(_ context.Context, m *Memory) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, m)
	return nil
}

func (f *fakeIndex) Similar(context.Context, string, string, int) ([]*Memory, error) {
	return f.similar, nil
}

func TestLayeredSaveMirrorsIndex(t *testing.T) {
	graph := &fakeGraph{}
	idx := &fakeIndex{}
	l := NewLayered(graph, idx, zap.NewNop())

	m := &Memory{ID: "m1", OrgID: "org1", Kind: KindFact, Key: "k", Value: "v"}
	if err := l.Save(context.Background(), m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(graph.saved) != 1 || len(idx.indexed) != 1 {
		t.Errorf("got %d graph saves, %d index upserts", len(graph.saved), len(idx.indexed))
	}
}

func TestLayeredSaveSurvivesIndexFailure(t *testing.T) {
	graph := &fakeGraph{}
	idx := &fakeIndex{indexErr: errors.New("qdrant down")}
	l := NewLayered(graph, idx, zap.NewNop())

	if err := l.Save(context.Background(), &Memory{ID: "m1"}); err != nil {
		t.Fatalf("index failure must not fail the save: %v", err)
	}
	if len(graph.saved) != 1 {
		t.Error("graph save missing")
	}
}

func TestLayeredRecallTopsUp(t *testing.T) {
	graph := &fakeGraph{recalled: []*Memory{{ID: "g1", LeadID: "l1"}}}
	idx := &fakeIndex{similar: []*Memory{
		{ID: "g1", LeadID: "l1"},  // duplicate, dropped
		{ID: "s1", LeadID: "l1"},  // fills the gap
		{ID: "s2", LeadID: "l99"}, // other lead, filtered by scope
	}}
	l := NewLayered(graph, idx, zap.NewNop())

	out, err := l.Recall(context.Background(), "org1", Scope{LeadID: "l1"}, []string{"pricing"}, 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d memories, want 2", len(out))
	}
	if out[0].ID != "g1" || out[1].ID != "s1" {
		t.Errorf("got %s, %s", out[0].ID, out[1].ID)
	}
}

func TestLayeredRecallNoIndex(t *testing.T) {
	graph := &fakeGraph{recalled: []*Memory{{ID: "g1"}}}
	l := NewLayered(graph, nil, zap.NewNop())

	out, err := l.Recall(context.Background(), "org1", Scope{}, []string{"x"}, 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("got %d memories, want 1", len(out))
	}
}
