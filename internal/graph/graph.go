// Package graph provides the directed-graph algorithms behind split
// planning and impact traversal: connected components, strongly-connected
// components, cycle detection, and topological ordering.
package graph

import (
	"fmt"
	"sort"
)

// Graph is a sparse directed graph over string node ids.
type Graph struct {
	nodes   []string
	nodeIdx map[string]int

	// Adjacency lists by node index. in mirrors out for reverse walks.
	out [][]int
	in  [][]int

	edgeSet map[[2]int]struct{}
	edges   int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodeIdx: make(map[string]int),
		edgeSet: make(map[[2]int]struct{}),
	}
}

// AddNode adds a node if it doesn't exist, returns its index.
func (g *Graph) AddNode(id string) int {
	if idx, ok := g.nodeIdx[id]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.nodeIdx[id] = idx
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return idx
}

// AddEdge adds a directed edge, creating missing nodes. Duplicate edges
// collapse to one.
func (g *Graph) AddEdge(from, to string) {
	srcIdx := g.AddNode(from)
	dstIdx := g.AddNode(to)

	key := [2]int{srcIdx, dstIdx}
	if _, ok := g.edgeSet[key]; ok {
		return
	}
	g.edgeSet[key] = struct{}{}
	g.out[srcIdx] = append(g.out[srcIdx], dstIdx)
	g.in[dstIdx] = append(g.in[dstIdx], srcIdx)
	g.edges++
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of distinct edges.
func (g *Graph) NumEdges() int { return g.edges }

// HasNode reports whether a node exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodeIdx[id]
	return ok
}

// Nodes returns node ids in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// OutNeighbors returns the targets of a node's outgoing edges.
func (g *Graph) OutNeighbors(id string) []string {
	idx, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.out[idx])
}

// InNeighbors returns the sources of a node's incoming edges.
func (g *Graph) InNeighbors(id string) []string {
	idx, ok := g.nodeIdx[id]
	if !ok {
		return nil
	}
	return g.idsOf(g.in[idx])
}

func (g *Graph) idsOf(idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = g.nodes[idx]
	}
	return out
}

// WeakComponents partitions nodes into weakly-connected components,
// treating every edge as undirected. Components and their members follow
// node insertion order, so output is deterministic.
func (g *Graph) WeakComponents() [][]string {
	seen := make([]bool, len(g.nodes))
	var components [][]string

	for start := range g.nodes {
		if seen[start] {
			continue
		}
		var comp []string
		queue := []int{start}
		seen[start] = true
		for len(queue) > 0 {
			n := queue[0]
			queue = queue[1:]
			comp = append(comp, g.nodes[n])
			for _, m := range g.out[n] {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
			for _, m := range g.in[n] {
				if !seen[m] {
					seen[m] = true
					queue = append(queue, m)
				}
			}
		}
		sort.Strings(comp)
		components = append(components, comp)
	}
	return components
}

// SCC computes strongly-connected components with Tarjan's algorithm.
// Members within a component are sorted; components appear in reverse
// topological order of the condensation (callees before callers).
func (g *Graph) SCC() [][]string {
	n := len(g.nodes)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	var counter int
	var components [][]string

	var strongconnect func(v int)
	strongconnect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.out[v] {
			if index[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, g.nodes[w])
				if w == v {
					break
				}
			}
			sort.Strings(comp)
			components = append(components, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == -1 {
			strongconnect(v)
		}
	}
	return components
}

// HasCycle reports whether the graph contains a directed cycle.
func (g *Graph) HasCycle() bool {
	for idx := range g.nodes {
		if _, ok := g.edgeSet[[2]int{idx, idx}]; ok {
			return true
		}
	}
	for _, comp := range g.SCC() {
		if len(comp) > 1 {
			return true
		}
	}
	return false
}

// TopoOrder returns a topological order via Kahn's algorithm, stable with
// respect to insertion order. Fails if the graph is cyclic.
func (g *Graph) TopoOrder() ([]string, error) {
	n := len(g.nodes)
	indegree := make([]int, n)
	for _, targets := range g.out {
		for _, t := range targets {
			indegree[t]++
		}
	}

	var queue []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, n)
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		order = append(order, g.nodes[v])
		for _, w := range g.out[v] {
			indegree[w]--
			if indegree[w] == 0 {
				queue = append(queue, w)
			}
		}
	}

	if len(order) != n {
		return nil, fmt.Errorf("graph contains a cycle (%d of %d nodes ordered)", len(order), n)
	}
	return order, nil
}

// FindCycle returns one directed cycle as a node sequence, or nil if the
// graph is acyclic. Used to name offenders in validation errors.
func (g *Graph) FindCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []string
	var dfs func(v int) bool
	dfs = func(v int) bool {
		color[v] = gray
		for _, w := range g.out[v] {
			if color[w] == gray {
				// Unwind v back to w.
				cycle = append(cycle, g.nodes[w])
				for x := v; x != w && x != -1; x = parent[x] {
					cycle = append(cycle, g.nodes[x])
				}
				// Reverse into walk order.
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			}
			if color[w] == white {
				parent[w] = v
				if dfs(w) {
					return true
				}
			}
		}
		color[v] = black
		return false
	}

	for v := range g.nodes {
		if color[v] == white && dfs(v) {
			return cycle
		}
	}
	return nil
}
