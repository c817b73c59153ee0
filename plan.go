package resourcesaga

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/fortressi/resourcesaga/dag"
	"github.com/fortressi/resourcesaga/set"
)

// StepName identifies a side effect inside a Plan.
type StepName string

// StepFunc applies one local side effect for a freshly created resource.
type StepFunc func(ctx context.Context, h Handle, actorID uuid.UUID) error

// Step is one side effect of a plan. After lists the steps that must have
// succeeded for the same handle before this one runs.
type Step struct {
	Name  StepName
	After []StepName
	Apply StepFunc
}

// Plan is an ordered set of side effects applied to every handle a saga
// creates. Any step failing counts as an audit failure and triggers
// compensation of all created resources.
type Plan struct {
	graph *dag.Graph
	order []Step
}

// NewPlan orders steps by their dependencies. Steps without a dependency
// between them keep the order in which they were declared.
func NewPlan(steps ...Step) (*Plan, error) {
	if len(steps) == 0 {
		return nil, errors.New("plan has no steps")
	}

	g := dag.New()
	names := &set.Set[StepName]{}
	nodes := make(map[StepName]*dag.Node, len(steps))
	byID := make(map[int64]Step, len(steps))

	for _, s := range steps {
		if s.Name == "" {
			return nil, errors.New("plan step has no name")
		}
		if s.Apply == nil {
			return nil, fmt.Errorf("plan step %q has no apply func", s.Name)
		}
		if names.Contains(s.Name) {
			return nil, fmt.Errorf("plan step %q declared twice", s.Name)
		}
		names.Insert(s.Name)

		n := g.AddNamedNode(string(s.Name))
		nodes[s.Name] = n
		byID[n.ID()] = s
	}

	for _, s := range steps {
		for _, dep := range s.After {
			from, ok := nodes[dep]
			if !ok {
				return nil, fmt.Errorf("plan step %q depends on unknown step %q", s.Name, dep)
			}
			if err := g.Connect(from, nodes[s.Name]); err != nil {
				return nil, fmt.Errorf("plan step %q: %w", s.Name, err)
			}
		}
	}

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("plan has a dependency cycle: %w", err)
	}

	order := make([]Step, len(sorted))
	for i, n := range sorted {
		order[i] = byID[n.ID()]
	}

	return &Plan{graph: g, order: order}, nil
}

// MustPlan is like NewPlan but panics on a malformed plan. It is meant for
// plans assembled from constants at start-up.
func MustPlan(steps ...Step) *Plan {
	p, err := NewPlan(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// Steps returns the step names in execution order.
func (p *Plan) Steps() []StepName {
	if p == nil {
		return nil
	}
	names := make([]StepName, len(p.order))
	for i, s := range p.order {
		names[i] = s.Name
	}
	return names
}

// Apply runs every step for h in order and stops at the first failure.
// A nil plan has no steps.
func (p *Plan) Apply(ctx context.Context, h Handle, actorID uuid.UUID) error {
	if p == nil {
		return nil
	}
	for _, s := range p.order {
		if err := s.Apply(ctx, h, actorID); err != nil {
			return &StepError{Step: s.Name, Handle: h, Err: err}
		}
	}
	return nil
}

// Dot renders the plan as a Graphviz digraph.
func (p *Plan) Dot(name string) (string, error) {
	return p.graph.ExportToDot(name)
}

// StepError reports which side effect failed for which resource.
type StepError struct {
	Step   StepName
	Handle Handle
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("side effect %s for %s: %v", e.Step, e.Handle, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
