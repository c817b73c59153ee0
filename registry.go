package resourcesaga

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Runner runs the saga of one resource kind with an untyped payload.
type Runner interface {
	Kind() Kind
	Run(ctx context.Context, actorID uuid.UUID, payload any) (SagaOutcome, error)
}

type boundAction[In any] struct {
	e      *Executor
	action *ResourceAction[In]
}

// Bind turns a typed action into a Runner executed by e. The payload passed
// to Run must be an In or a *In.
func Bind[In any](e *Executor, action *ResourceAction[In]) Runner {
	return &boundAction[In]{e: e, action: action}
}

func (b *boundAction[In]) Kind() Kind {
	return b.action.Kind
}

func (b *boundAction[In]) Run(ctx context.Context, actorID uuid.UUID, payload any) (SagaOutcome, error) {
	var input In
	switch p := payload.(type) {
	case In:
		input = p
	case *In:
		if p == nil {
			return SagaOutcome{Kind: b.action.Kind}, fmt.Errorf("%w: nil %T", ErrPayloadType, payload)
		}
		input = *p
	default:
		return SagaOutcome{Kind: b.action.Kind}, fmt.Errorf("%w: %s saga got %T", ErrPayloadType, b.action.Kind, payload)
	}
	return Run(ctx, b.e, actorID, input, b.action)
}

// Registry maps resource kinds to their saga.
//
// Callers such as HTTP handlers or queue consumers only know the kind name
// of what they are asked to create. They look the saga up here instead of
// holding a reference to every typed action.
type Registry struct {
	runners *xsync.MapOf[Kind, Runner]
}

func NewRegistry() *Registry {
	return &Registry{runners: xsync.NewMapOf[Kind, Runner]()}
}

// Register adds a runner. A kind can only be registered once.
func (r *Registry) Register(runner Runner) error {
	if _, loaded := r.runners.LoadOrStore(runner.Kind(), runner); loaded {
		return fmt.Errorf("%w: %s", ErrKindRegistered, runner.Kind())
	}
	return nil
}

// Get retrieves the runner of a kind.
func (r *Registry) Get(kind Kind) (Runner, error) {
	runner, ok := r.runners.Load(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return runner, nil
}

// Kinds returns the registered kinds in no particular order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, r.runners.Size())
	r.runners.Range(func(k Kind, _ Runner) bool {
		kinds = append(kinds, k)
		return true
	})
	return kinds
}

// RunSaga dispatches payload to the saga registered for kind.
func (r *Registry) RunSaga(ctx context.Context, kind Kind, actorID uuid.UUID, payload any) (SagaOutcome, error) {
	runner, err := r.Get(kind)
	if err != nil {
		return SagaOutcome{Kind: kind}, err
	}
	return runner.Run(ctx, actorID, payload)
}
