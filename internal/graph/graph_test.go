package graph

import "testing"

func TestLevelsLinearChain(t *testing.T) {
	g := Build(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	want := map[string]int{"a": 0, "b": 1, "c": 2}
	for id, lvl := range want {
		if levels[id] != lvl {
			t.Errorf("levels[%s] = %d, want %d", id, levels[id], lvl)
		}
	}
}

func TestLevelsDiamond(t *testing.T) {
	g := Build(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if levels["d"] != 2 {
		t.Errorf("levels[d] = %d, want 2", levels["d"])
	}
}

func TestLevelsCycleDetected(t *testing.T) {
	g := Build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	if _, err := g.Levels(); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if !g.HasCycle() {
		t.Error("HasCycle() = false, want true")
	}
}

func TestLevelsUnknownDependencyIgnored(t *testing.T) {
	g := Build(map[string][]string{
		"a": {"ghost"},
	})

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if levels["a"] != 0 {
		t.Errorf("levels[a] = %d, want 0 (unknown dep ignored)", levels["a"])
	}
}
