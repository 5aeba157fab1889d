package walkin

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"table-allocation-backend/internal/apperr"
)

// Registry keeps in-progress flows in memory. A flow untouched for the idle
// TTL is dropped, which is the same as aborting it.
type Registry struct {
	o     *Orchestrator
	flows *cache.Cache
}

// NewRegistry creates a registry whose flows expire after ttl of inactivity.
func NewRegistry(o *Orchestrator, ttl time.Duration) *Registry {
	return &Registry{o: o, flows: cache.New(ttl, 2*ttl)}
}

// Start opens a new flow for actor.
func (r *Registry) Start(actor string) *Flow {
	f := r.o.NewFlow(uuid.NewString(), actor)
	r.flows.SetDefault(f.ID(), f)
	return f
}

// Get returns the flow and extends its lifetime.
func (r *Registry) Get(id string) (*Flow, error) {
	v, found := r.flows.Get(id)
	if !found {
		return nil, apperr.NotFound("walkin.Registry", "walk-in flow %s", id)
	}
	f := v.(*Flow)
	r.flows.SetDefault(id, f)
	return f, nil
}

// Remove forgets a flow.
func (r *Registry) Remove(id string) {
	r.flows.Delete(id)
}

// Len is the number of live flows.
func (r *Registry) Len() int {
	return r.flows.ItemCount()
}
