// Package saga stores state-machine instances between message deliveries.
//
// The default repository keeps instances in process memory: they are lost
// when the worker stops. Durable storage plugs in through Repository.
package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
)

// ErrNotFound is returned when no instance exists for a correlation id.
var ErrNotFound = errors.New("saga: instance not found")

// Instance is the persisted state of one saga.
type Instance struct {
	SagaName      string
	CorrelationID string
	CurrentState  string
	// Data is the serialized saga state.
	Data      []byte
	Version   int
	Finalized bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository loads and saves saga instances. Save must reject an instance
// whose Version does not match the stored one with ErrSagaVersionConflict.
type Repository interface {
	Load(ctx context.Context, sagaName, correlationID string) (Instance, error)
	Save(ctx context.Context, inst Instance) (Instance, error)
	Delete(ctx context.Context, sagaName, correlationID string) error
}

type key struct {
	saga        string
	correlation string
}

// InMemoryRepository is a Repository backed by a map.
type InMemoryRepository struct {
	mu        sync.RWMutex
	instances map[key]Instance
	now       func() time.Time
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		instances: make(map[key]Instance),
		now:       time.Now,
	}
}

func (r *InMemoryRepository) Load(_ context.Context, sagaName, correlationID string) (Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[key{sagaName, correlationID}]
	if !ok {
		return Instance{}, ErrNotFound
	}
	inst.Data = append([]byte(nil), inst.Data...)
	return inst, nil
}

// Save stores inst and returns it with the incremented version. A new
// instance is saved with Version 0.
func (r *InMemoryRepository) Save(_ context.Context, inst Instance) (Instance, error) {
	if inst.SagaName == "" {
		return Instance{}, errspkg.ErrSagaNameRequired
	}
	if inst.CorrelationID == "" {
		return Instance{}, errspkg.ErrCorrelationRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{inst.SagaName, inst.CorrelationID}
	stored, exists := r.instances[k]
	if exists && stored.Version != inst.Version {
		return Instance{}, errspkg.ErrSagaVersionConflict
	}
	if !exists && inst.Version != 0 {
		return Instance{}, errspkg.ErrSagaVersionConflict
	}

	now := r.now()
	if exists {
		inst.CreatedAt = stored.CreatedAt
	} else {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	inst.Version++
	inst.Data = append([]byte(nil), inst.Data...)
	r.instances[k] = inst
	return inst, nil
}

func (r *InMemoryRepository) Delete(_ context.Context, sagaName, correlationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, key{sagaName, correlationID})
	return nil
}

// Len reports how many instances are stored.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
