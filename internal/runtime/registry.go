package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	"github.com/drblury/busworker/internal/runtime/naming"
)

// HandlerKind tells which registration API produced a binding.
type HandlerKind int

const (
	KindConsumer HandlerKind = iota + 1
	KindSaga
	KindActivity
)

func (k HandlerKind) String() string {
	switch k {
	case KindConsumer:
		return "consumer"
	case KindSaga:
		return "saga"
	case KindActivity:
		return "activity"
	default:
		return "unknown"
	}
}

// ActivityEndpointSuffix is appended to activity endpoints, which carry the
// execute half of a routing-slip activity.
const ActivityEndpointSuffix = "_execute"

// invokeFunc runs one unit of work for a decoded delivery.
type invokeFunc func(ctx context.Context, d *delivery) error

// HandlerBinding maps one message type to the unit of work that handles it.
type HandlerBinding struct {
	Kind HandlerKind
	// Name identifies the handler, e.g. "RuleEngineCommandConsumer".
	Name string
	// EndpointBase is the handler name without its role suffix. The bus's
	// endpoint formatter turns it into the endpoint name.
	EndpointBase string
	MessageType  reflect.Type
	// WireType is the message URN carried in envelopes.
	WireType string
	// Topic is the qualified name the message type is published to.
	Topic string

	invoke invokeFunc
}

// Module contributes handlers to a registry. A module is typically one
// package of consumers and sagas.
type Module interface {
	Register(r *HandlerRegistry) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(r *HandlerRegistry) error

func (f ModuleFunc) Register(r *HandlerRegistry) error { return f(r) }

// HandlerRegistry collects bindings from modules. A message type may be bound
// once; a second binding is rejected with ErrDuplicateHandler.
type HandlerRegistry struct {
	mu       sync.RWMutex
	bindings []HandlerBinding
	byType   map[reflect.Type]string
}

// NewHandlerRegistry runs every module against a fresh registry. It stops at
// the first module that fails.
func NewHandlerRegistry(modules ...Module) (*HandlerRegistry, error) {
	r := &HandlerRegistry{byType: make(map[reflect.Type]string)}
	for i, m := range modules {
		if m == nil {
			return nil, fmt.Errorf("module %d: %w", i, errspkg.ErrModuleRequired)
		}
		if err := m.Register(r); err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
	}
	return r, nil
}

// Bindings returns a snapshot of the bindings in registration order.
func (r *HandlerRegistry) Bindings() []HandlerBinding {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HandlerBinding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Len reports the number of bindings.
func (r *HandlerRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

func (r *HandlerRegistry) add(b HandlerBinding) error {
	if r == nil {
		return errspkg.ErrRegistryRequired
	}
	if b.MessageType == nil || b.WireType == "" {
		return errspkg.ErrMessageTypeRequired
	}
	if b.invoke == nil {
		return errspkg.ErrHandlerRequired
	}
	if b.EndpointBase == "" {
		return errspkg.ErrEndpointNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byType == nil {
		r.byType = make(map[reflect.Type]string)
	}
	if owner, taken := r.byType[b.MessageType]; taken {
		return fmt.Errorf("%w: %s is handled by %s, cannot bind %s", errspkg.ErrDuplicateHandler, b.WireType, owner, b.Name)
	}
	r.byType[b.MessageType] = b.Name
	r.bindings = append(r.bindings, b)
	return nil
}

// Handler is a unit of work for messages of type T.
type Handler[T any] func(ctx context.Context, cc *ConsumeContext[T]) error

// Consumer is implemented by types that consume messages of type T. The
// type name decides the handler and endpoint name.
type Consumer[T any] interface {
	Consume(ctx context.Context, cc *ConsumeContext[T]) error
}

// AddConsumer binds handler to messages of type T. An empty name defaults to
// "<MessageName>Consumer", so the endpoint is the kebab-cased message name.
func AddConsumer[T any](r *HandlerRegistry, name string, handler Handler[T]) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	msgType := reflect.TypeFor[T]()
	if name == "" {
		name = naming.MessageName(msgType) + "Consumer"
	}
	return r.add(HandlerBinding{
		Kind:         KindConsumer,
		Name:         name,
		EndpointBase: naming.TrimRoleSuffix(name),
		MessageType:  msgType,
		WireType:     naming.MessageURN(msgType),
		Topic:        naming.QualifiedName(msgType),
		invoke: func(ctx context.Context, d *delivery) error {
			cc, err := newConsumeContext[T](d)
			if err != nil {
				return err
			}
			return handler(ctx, cc)
		},
	})
}

// RegisterConsumer binds a Consumer implementation, named after its type.
func RegisterConsumer[T any](r *HandlerRegistry, c Consumer[T]) error {
	if c == nil {
		return errspkg.ErrHandlerRequired
	}
	return AddConsumer[T](r, typeName(c), c.Consume)
}

// Activity is the execute step of a routing-slip activity taking arguments A.
type Activity[A any] func(ctx context.Context, cc *ConsumeContext[A]) error

// AddActivity binds an activity to its argument type. The endpoint is the
// formatted activity name with an "_execute" suffix.
func AddActivity[A any](r *HandlerRegistry, name string, activity Activity[A]) error {
	if activity == nil {
		return errspkg.ErrHandlerRequired
	}
	argType := reflect.TypeFor[A]()
	if name == "" {
		name = naming.MessageName(argType) + "Activity"
	}
	return r.add(HandlerBinding{
		Kind:         KindActivity,
		Name:         name,
		EndpointBase: naming.TrimRoleSuffix(name),
		MessageType:  argType,
		WireType:     naming.MessageURN(argType),
		Topic:        naming.QualifiedName(argType),
		invoke: func(ctx context.Context, d *delivery) error {
			cc, err := newConsumeContext[A](d)
			if err != nil {
				return err
			}
			return activity(ctx, cc)
		},
	})
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
