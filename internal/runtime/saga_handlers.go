package runtime

import (
	"context"
	"errors"
	"reflect"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	"github.com/drblury/busworker/internal/runtime/jsoncodec"
	"github.com/drblury/busworker/internal/runtime/naming"
	"github.com/drblury/busworker/internal/runtime/saga"
)

// Well-known saga states.
const (
	InitialState = "Initial"
	FinalState   = "Final"
)

// SagaInstance is the state of one saga as its handlers see it.
type SagaInstance[S any] struct {
	CorrelationID string
	CurrentState  string
	Data          S
	// New is true when no instance existed before this message.
	New bool

	finalized bool
}

// TransitionTo moves the instance to state.
func (i *SagaInstance[S]) TransitionTo(state string) {
	i.CurrentState = state
}

// Finalize ends the saga; the instance is removed once the handler returns.
func (i *SagaInstance[S]) Finalize() {
	i.CurrentState = FinalState
	i.finalized = true
}

func (i *SagaInstance[S]) Finalized() bool { return i.finalized }

// SagaHandler handles message T for a saga holding state S.
type SagaHandler[T, S any] func(ctx context.Context, cc *ConsumeContext[T], inst *SagaInstance[S]) error

// AddSagaHandler binds message T to the saga named sagaName. correlate picks
// the instance the message belongs to; an empty result falls back to the
// envelope's correlation id. Every message type of one saga shares the
// saga's endpoint.
func AddSagaHandler[T, S any](r *HandlerRegistry, sagaName string, correlate func(T) string, handler SagaHandler[T, S]) error {
	if sagaName == "" {
		return errspkg.ErrSagaNameRequired
	}
	if correlate == nil {
		return errspkg.ErrCorrelationRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	msgType := reflect.TypeFor[T]()
	return r.add(HandlerBinding{
		Kind:         KindSaga,
		Name:         sagaName,
		EndpointBase: naming.TrimRoleSuffix(sagaName),
		MessageType:  msgType,
		WireType:     naming.MessageURN(msgType),
		Topic:        naming.QualifiedName(msgType),
		invoke: func(ctx context.Context, d *delivery) error {
			cc, err := newConsumeContext[T](d)
			if err != nil {
				return err
			}
			return runSagaStep(ctx, d.sagas, sagaName, correlate(cc.Message), cc, handler)
		},
	})
}

func runSagaStep[T, S any](ctx context.Context, repo saga.Repository, sagaName, correlationID string, cc *ConsumeContext[T], handler SagaHandler[T, S]) error {
	if correlationID == "" {
		correlationID = cc.CorrelationID
	}
	if correlationID == "" {
		return &UnprocessableMessageError{MessageID: cc.MessageID, Err: errspkg.ErrCorrelationRequired}
	}

	inst := &SagaInstance[S]{CorrelationID: correlationID, CurrentState: InitialState}
	stored, err := repo.Load(ctx, sagaName, correlationID)
	switch {
	case errors.Is(err, saga.ErrNotFound):
		inst.New = true
	case err != nil:
		return err
	default:
		inst.CurrentState = stored.CurrentState
		if len(stored.Data) > 0 {
			if err := jsoncodec.Unmarshal(stored.Data, &inst.Data); err != nil {
				return err
			}
		}
	}

	if err := handler(ctx, cc, inst); err != nil {
		return err
	}

	if inst.finalized {
		if inst.New {
			return nil
		}
		return repo.Delete(ctx, sagaName, correlationID)
	}

	data, err := jsoncodec.Marshal(inst.Data)
	if err != nil {
		return err
	}
	_, err = repo.Save(ctx, saga.Instance{
		SagaName:      sagaName,
		CorrelationID: correlationID,
		CurrentState:  inst.CurrentState,
		Data:          data,
		Version:       stored.Version,
	})
	return err
}
