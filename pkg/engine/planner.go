package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justindthomas/imp/pkg/config"
)

// Plan is an ordered, dependency-checked set of operations.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Operations are the operations in execution order.
	Operations []Operation `json:"operations"`

	// Graph is the dependency graph the order was derived from.
	Graph *ExecutionGraph `json:"graph"`
}

// DependsOn returns the IDs of the operations that must precede id.
func (p *Plan) DependsOn(id string) []string {
	if p.Graph == nil {
		return nil
	}
	if n, ok := p.Graph.Nodes[id]; ok {
		return n.Dependencies
	}
	return nil
}

// Len returns the number of operations.
func (p *Plan) Len() int { return len(p.Operations) }

// Planner orders a change set.
type Planner struct{}

// NewPlanner creates a new planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan derives dependencies between the operations of a change set and
// linearises them:
//
//   - containers are added before what references them
//   - references are removed before their containers
//   - protocol instances are enabled before and disabled after their peers and areas
//   - module changes run before CPU and memif reallocation
//   - a dataplane name is released before another entity claims it
func (p *Planner) Plan(changes ChangeSet) (*Plan, error) {
	deps := Dependencies(changes)

	builder := NewDAGBuilder()
	graph, err := builder.BuildGraph(changes, deps)
	if err != nil {
		return nil, err
	}
	if err := ValidateGraph(graph); err != nil {
		return nil, err
	}

	byID := make(map[string]Operation, len(changes))
	for _, op := range changes {
		byID[op.ID()] = op
	}
	ordered := make([]Operation, 0, len(changes))
	for _, id := range graph.Order {
		ordered = append(ordered, byID[id])
	}

	return &Plan{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now(),
		Operations: ordered,
		Graph:      graph,
	}, nil
}

// ref names a container an operation refers to.
type ref struct {
	entity EntityType
	key    string

	// dataplane matches any interface-creating entity with this name.
	dataplane string
}

// Dependencies computes the ordering constraints of a change set.
func Dependencies(changes ChangeSet) map[string][]Dependency {
	byKey := make(map[EntityType]map[string]Operation)
	byName := make(map[string][]Operation)
	for _, op := range changes {
		if byKey[op.Entity] == nil {
			byKey[op.Entity] = make(map[string]Operation)
		}
		byKey[op.Entity][op.Key] = op
		if name := vppNameOf(op.Value()); name != "" {
			byName[name] = append(byName[name], op)
		}
	}

	deps := make(map[string][]Dependency)
	before := func(first, then Operation, reason string) {
		deps[then.ID()] = append(deps[then.ID()], Dependency{TargetID: first.ID(), Reason: reason})
	}

	for _, op := range changes {
		for _, r := range references(op) {
			var containers []Operation
			if r.dataplane != "" {
				containers = byName[r.dataplane]
			} else if c, ok := byKey[r.entity][r.key]; ok {
				containers = []Operation{c}
			}

			for _, c := range containers {
				if c.ID() == op.ID() {
					continue
				}
				ck, k := c.Action.Kind(), op.Action.Kind()
				switch {
				case k == ActionRemove && ck != ActionAdd:
					before(op, c, fmt.Sprintf("%s references %s", op.Key, c.Key))
				case k != ActionRemove && ck != ActionRemove:
					before(c, op, fmt.Sprintf("%s references %s", op.Key, c.Key))
				}
			}
		}
	}

	// Released dataplane names before claims of the same name.
	released := make(map[string][]Operation)
	for _, op := range changes {
		if rm, ok := op.Action.(Remove); ok {
			for _, name := range dataplaneNames(rm.Old) {
				released[name] = append(released[name], op)
			}
		}
	}
	for _, op := range changes {
		add, ok := op.Action.(Add)
		if !ok {
			continue
		}
		for _, name := range dataplaneNames(add.New) {
			for _, rm := range released[name] {
				if rm.ID() != op.ID() {
					before(rm, op, fmt.Sprintf("%s is released before it is recreated", name))
				}
			}
		}
	}

	// Module set changes before reallocation.
	for _, op := range changes {
		if op.Entity != EntityModule {
			continue
		}
		for _, realloc := range []EntityType{EntityCPU, EntityMemif} {
			for _, r := range byKey[realloc] {
				before(op, r, "allocation follows the module set")
			}
		}
	}

	return deps
}

// references lists the containers an operation's entity lives in.
func references(op Operation) []ref {
	switch v := op.Value().(type) {
	case SubInterfaceEntity:
		return []ref{{entity: EntityInterface, key: v.Parent}}
	case BridgeMemberEntity:
		return []ref{
			{entity: EntityBVI, key: bviKey(v.BridgeID)},
			{entity: EntityInterface, key: v.Interface},
		}
	case config.VLANPassthrough:
		return []ref{
			{entity: EntityInterface, key: v.FromInterface},
			{entity: EntityInterface, key: v.ToInterface},
		}
	case config.Route:
		if v.Interface != "" {
			return []ref{{dataplane: v.Interface}}
		}
	case BGPPeerEntity:
		return []ref{{entity: EntityBGP, key: "bgp"}}
	case AreaEntity:
		proto := EntityOSPF
		if op.Entity == EntityOSPF6Area {
			proto = EntityOSPF6
		}
		return []ref{{entity: proto, key: string(proto)}, {dataplane: v.Interface}}
	case RAEntity:
		return []ref{{dataplane: v.Interface}}
	case ModuleEntryEntity:
		return []ref{{entity: EntityModule, key: v.Module}}
	}
	return nil
}

// ToDOT generates a DOT representation of the plan for Graphviz. Restart
// steps are drawn dashed.
func (p *Plan) ToDOT(steps []PlannedStep) string {
	var sb strings.Builder

	mode := make(map[string]ApplyMode, len(steps))
	for _, s := range steps {
		mode[s.Operation.ID()] = s.Classification.Mode
	}

	sb.WriteString("digraph Plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	levels := make(map[int][]Operation)
	depth := 0
	for _, op := range p.Operations {
		lvl := 0
		if p.Graph != nil {
			if n, ok := p.Graph.Nodes[op.ID()]; ok {
				lvl = n.Level
			}
		}
		levels[lvl] = append(levels[lvl], op)
		if lvl+1 > depth {
			depth = lvl + 1
		}
	}

	for level := 0; level < depth; level++ {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, op := range levels[level] {
			style := "filled,rounded"
			if mode[op.ID()] == ModeRestart {
				style = "filled,rounded,dashed"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\", fillcolor=%q, style=%q];\n",
				op.ID(), op.Entity, dotEscape(op.Key), getActionColor(op.Action.Kind()), style))
		}

		sb.WriteString("  }\n\n")
	}

	if p.Graph != nil {
		for _, e := range p.Graph.Edges {
			sb.WriteString(fmt.Sprintf("  %q -> %q [tooltip=%q];\n", e.From, e.To, e.Reason))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// getActionColor returns a color for visualizing actions.
func getActionColor(kind ActionKind) string {
	switch kind {
	case ActionAdd:
		return "lightgreen"
	case ActionModify:
		return "lightblue"
	case ActionRemove:
		return "lightcoral"
	default:
		return "white"
	}
}
