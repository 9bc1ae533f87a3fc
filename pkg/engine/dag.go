package engine

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// Dependency states that the operation TargetID must run first.
type Dependency struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

// GraphNode is one operation in the execution graph.
type GraphNode struct {
	ID           string   `json:"id"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge orders From before To.
type GraphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ExecutionGraph is the ordered dependency graph of a plan.
type ExecutionGraph struct {
	Nodes map[string]*GraphNode `json:"nodes"`
	Edges []GraphEdge           `json:"edges"`
	Roots []string              `json:"roots"`
	Depth int                   `json:"depth"`

	// Order is the linearisation used for execution.
	Order []string `json:"order"`
}

// DAGBuilder builds a directed acyclic graph from operations and linearises
// it. Operations that are ready at the same time run in change-set order.
type DAGBuilder struct {
	// ops maps operation IDs to their operations
	ops map[string]Operation

	// deps maps operation IDs to what they depend on
	deps map[string][]Dependency

	// adjacencyList maps operation IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps operation IDs to their dependencies
	reverseAdjacencyList map[string][]string

	// inDegree tracks the number of incoming edges for each node
	inDegree map[string]int

	// levels groups operations by longest distance from a root
	levels [][]string

	// order is the linearised execution order
	order []string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		ops:                  make(map[string]Operation),
		deps:                 make(map[string][]Dependency),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph constructs an execution graph. deps maps an operation ID to
// the operations that must precede it. A cycle yields a dependency error
// naming the cycle.
func (b *DAGBuilder) BuildGraph(ops []Operation, deps map[string][]Dependency) (*ExecutionGraph, error) {
	if len(ops) == 0 {
		return &ExecutionGraph{
			Nodes: make(map[string]*GraphNode),
			Edges: make([]GraphEdge, 0),
			Roots: make([]string, 0),
		}, nil
	}

	if err := b.initialize(ops, deps); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.linearize(); err != nil {
		return nil, err
	}

	return b.buildExecutionGraph(), nil
}

// initialize sets up the internal data structures.
func (b *DAGBuilder) initialize(ops []Operation, deps map[string][]Dependency) error {
	for _, op := range ops {
		id := op.ID()
		if _, exists := b.ops[id]; exists {
			return NewInternalError(fmt.Sprintf("duplicate operation: %s", id), nil)
		}
		b.ops[id] = op
		b.adjacencyList[id] = make([]string, 0)
		b.reverseAdjacencyList[id] = make([]string, 0)
		b.inDegree[id] = 0
	}

	for _, id := range b.sortedIDs() {
		seen := make(map[string]bool)
		for _, dep := range deps[id] {
			if _, exists := b.ops[dep.TargetID]; !exists {
				return NewInternalError(
					fmt.Sprintf("operation %s depends on unknown operation %s", id, dep.TargetID), nil,
				).WithResource(id)
			}
			if dep.TargetID == id || seen[dep.TargetID] {
				continue
			}
			seen[dep.TargetID] = true

			b.deps[id] = append(b.deps[id], dep)
			b.adjacencyList[dep.TargetID] = append(b.adjacencyList[dep.TargetID], id)
			b.reverseAdjacencyList[id] = append(b.reverseAdjacencyList[id], dep.TargetID)
			b.inDegree[id]++
		}
	}

	return nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.ops))
	for id := range b.ops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lessOperation(b.ops[ids[i]], b.ops[ids[j]])
	})
	return ids
}

// detectCycles uses depth-first search to detect circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewDependencyError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil,
			).WithDetail("cycle", cycle)
		}
	}

	return nil
}

// detectCyclesUtil performs DFS and returns the cycle path if one is found.
func (b *DAGBuilder) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// readyQueue pops ready operations in change-set order.
type readyQueue struct {
	ids []string
	ops map[string]Operation
}

func (q *readyQueue) Len() int { return len(q.ids) }
func (q *readyQueue) Less(i, j int) bool {
	return lessOperation(q.ops[q.ids[i]], q.ops[q.ids[j]])
}
func (q *readyQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *readyQueue) Push(x interface{}) { q.ids = append(q.ids, x.(string)) }
func (q *readyQueue) Pop() interface{} {
	n := len(q.ids)
	id := q.ids[n-1]
	q.ids = q.ids[:n-1]
	return id
}

// linearize runs Kahn's algorithm, breaking ties by entity rank, key and
// action, and assigns each node the length of its longest dependency chain
// as its level.
func (b *DAGBuilder) linearize() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	q := &readyQueue{ops: b.ops}
	for id, degree := range inDegree {
		if degree == 0 {
			q.ids = append(q.ids, id)
		}
	}
	heap.Init(q)

	level := make(map[string]int, len(b.ops))
	for q.Len() > 0 {
		id := heap.Pop(q).(string)
		b.order = append(b.order, id)

		for len(b.levels) <= level[id] {
			b.levels = append(b.levels, nil)
		}
		b.levels[level[id]] = append(b.levels[level[id]], id)

		for _, dependent := range b.adjacencyList[id] {
			if level[id]+1 > level[dependent] {
				level[dependent] = level[id] + 1
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				heap.Push(q, dependent)
			}
		}
	}

	if len(b.order) != len(b.ops) {
		return NewInternalError("failed to order all operations - possible cycle", nil)
	}
	return nil
}

// buildExecutionGraph creates the final ExecutionGraph structure.
func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes: make(map[string]*GraphNode),
		Edges: make([]GraphEdge, 0),
		Roots: make([]string, 0),
		Depth: len(b.levels),
		Order: append([]string(nil), b.order...),
	}

	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}

	for _, id := range b.order {
		for _, dep := range b.deps[id] {
			graph.Edges = append(graph.Edges, GraphEdge{From: dep.TargetID, To: id, Reason: dep.Reason})
		}
	}

	return graph
}

// GetLevels returns the computed levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// ValidateGraph performs additional validation on the built graph.
func ValidateGraph(graph *ExecutionGraph) error {
	if len(graph.Order) != len(graph.Nodes) {
		return NewInternalError("graph node count mismatch", nil)
	}

	position := make(map[string]int, len(graph.Order))
	for i, id := range graph.Order {
		position[id] = i
	}

	for _, edge := range graph.Edges {
		from, ok := position[edge.From]
		if !ok {
			return NewInternalError(fmt.Sprintf("edge references non-existent node: %s", edge.From), nil)
		}
		to, ok := position[edge.To]
		if !ok {
			return NewInternalError(fmt.Sprintf("edge references non-existent node: %s", edge.To), nil)
		}
		if from >= to {
			return NewInternalError(fmt.Sprintf("edge %s -> %s violates execution order", edge.From, edge.To), nil)
		}
	}

	for _, rootID := range graph.Roots {
		if len(graph.Nodes[rootID].Dependencies) > 0 {
			return NewInternalError(fmt.Sprintf("root node %s has dependencies", rootID), nil)
		}
	}

	return nil
}
