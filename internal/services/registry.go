// Package services wires retrieverd's service instances together.
package services

import (
	"github.com/fyrsmithlabs/retrieverd/internal/authz"
	"github.com/fyrsmithlabs/retrieverd/internal/embeddings"
	"github.com/fyrsmithlabs/retrieverd/internal/importance"
	"github.com/fyrsmithlabs/retrieverd/internal/retrieval"
	"github.com/fyrsmithlabs/retrieverd/internal/store"
)

// Registry provides access to all retrieverd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Store() *store.DB
	Embedder() embeddings.Provider
	Gate() *authz.Gate
	Ledger() *importance.Ledger
	Scheduler() *importance.DecayScheduler
	Engine() *retrieval.Engine
}

// Options configures the registry with service instances.
type Options struct {
	Store     *store.DB
	Embedder  embeddings.Provider
	Gate      *authz.Gate
	Ledger    *importance.Ledger
	Scheduler *importance.DecayScheduler
	Engine    *retrieval.Engine
}

// registry is the concrete implementation of Registry.
type registry struct {
	store     *store.DB
	embedder  embeddings.Provider
	gate      *authz.Gate
	ledger    *importance.Ledger
	scheduler *importance.DecayScheduler
	engine    *retrieval.Engine
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		store:     opts.Store,
		embedder:  opts.Embedder,
		gate:      opts.Gate,
		ledger:    opts.Ledger,
		scheduler: opts.Scheduler,
		engine:    opts.Engine,
	}
}

func (r *registry) Store() *store.DB                      { return r.store }
func (r *registry) Embedder() embeddings.Provider         { return r.embedder }
func (r *registry) Gate() *authz.Gate                     { return r.gate }
func (r *registry) Ledger() *importance.Ledger            { return r.ledger }
func (r *registry) Scheduler() *importance.DecayScheduler { return r.scheduler }
func (r *registry) Engine() *retrieval.Engine             { return r.engine }
