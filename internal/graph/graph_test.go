package graph

import (
	"reflect"
	"sort"
	"testing"
)

func TestAddEdgeDeduplicates(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	if g.NumNodes() != 2 {
		t.Errorf("nodes = %d, want 2", g.NumNodes())
	}
	if g.NumEdges() != 2 {
		t.Errorf("edges = %d, want 2 (duplicate collapsed)", g.NumEdges())
	}
	if got := g.OutNeighbors("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("OutNeighbors(a) = %v", got)
	}
	if got := g.InNeighbors("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("InNeighbors(a) = %v", got)
	}
}

func TestWeakComponents(t *testing.T) {
	g := New()
	// Component 1: a -> b -> c (direction must not matter).
	g.AddEdge("a", "b")
	g.AddEdge("c", "b")
	// Component 2: d <-> e.
	g.AddEdge("d", "e")
	g.AddEdge("e", "d")
	// Isolated node.
	g.AddNode("f")

	comps := g.WeakComponents()
	if len(comps) != 3 {
		t.Fatalf("components = %d, want 3", len(comps))
	}

	sizes := make([]int, len(comps))
	for i, c := range comps {
		sizes[i] = len(c)
	}
	sort.Ints(sizes)
	if !reflect.DeepEqual(sizes, []int{1, 2, 3}) {
		t.Errorf("component sizes = %v", sizes)
	}
}

func TestSCC(t *testing.T) {
	g := New()
	// Cycle a -> b -> c -> a, plus a tail c -> d.
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")
	g.AddEdge("c", "d")

	comps := g.SCC()
	if len(comps) != 2 {
		t.Fatalf("scc count = %d, want 2", len(comps))
	}

	var cycle, tail []string
	for _, c := range comps {
		if len(c) == 3 {
			cycle = c
		} else {
			tail = c
		}
	}
	if !reflect.DeepEqual(cycle, []string{"a", "b", "c"}) {
		t.Errorf("cycle component = %v", cycle)
	}
	if !reflect.DeepEqual(tail, []string{"d"}) {
		t.Errorf("tail component = %v", tail)
	}
}

func TestSCCReverseTopological(t *testing.T) {
	g := New()
	g.AddEdge("caller", "callee")

	comps := g.SCC()
	if len(comps) != 2 {
		t.Fatalf("scc count = %d", len(comps))
	}
	// Tarjan emits callees before callers.
	if comps[0][0] != "callee" || comps[1][0] != "caller" {
		t.Errorf("expected reverse topological emission, got %v", comps)
	}
}

func TestHasCycle(t *testing.T) {
	acyclic := New()
	acyclic.AddEdge("a", "b")
	acyclic.AddEdge("b", "c")
	acyclic.AddEdge("a", "c")
	if acyclic.HasCycle() {
		t.Error("DAG reported as cyclic")
	}

	cyclic := New()
	cyclic.AddEdge("a", "b")
	cyclic.AddEdge("b", "a")
	if !cyclic.HasCycle() {
		t.Error("two-cycle not detected")
	}

	selfLoop := New()
	selfLoop.AddEdge("a", "a")
	if !selfLoop.HasCycle() {
		t.Error("self-loop not detected")
	}
}

func TestTopoOrder(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("a", "c")

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder on DAG: %v", err)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Errorf("order violates edges: %v", order)
	}
}

func TestTopoOrderRejectsCycle(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	if _, err := g.TopoOrder(); err == nil {
		t.Error("expected error for cyclic graph")
	}
}

func TestFindCycle(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "b")

	cycle := g.FindCycle()
	if len(cycle) != 2 {
		t.Fatalf("cycle = %v, want the b-c loop", cycle)
	}
	members := map[string]bool{}
	for _, id := range cycle {
		members[id] = true
	}
	if !members["b"] || !members["c"] {
		t.Errorf("cycle members = %v", cycle)
	}

	dag := New()
	dag.AddEdge("x", "y")
	if cycle := dag.FindCycle(); cycle != nil {
		t.Errorf("DAG returned cycle %v", cycle)
	}
}
