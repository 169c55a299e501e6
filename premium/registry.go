package premium

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/code-payments/premium-server/billing"
	"github.com/code-payments/premium-server/event"
	"github.com/code-payments/premium-server/loop"
)

// ServiceFunc returns the billing service of owner. Ownership reported by the
// service must be owner's alone.
type ServiceFunc func(owner string) billing.Service

// Registry holds one Premiumer per owner. All of them deliver notifications
// on a single shared loop and publish them to the event bus.
type Registry struct {
	log  *zap.Logger
	svc  ServiceFunc
	sku  string
	bus  *event.Bus[string, *event.Event]
	opts []Option
	loop *loop.Loop

	mu         sync.Mutex
	listeners  []func(owner string) Listener
	premiumers map[string]*Premiumer
}

func NewRegistry(log *zap.Logger, svc ServiceFunc, sku string, bus *event.Bus[string, *event.Event], opts ...Option) *Registry {
	return &Registry{
		log:        log,
		svc:        svc,
		sku:        sku,
		bus:        bus,
		opts:       opts,
		loop:       loop.New(log, loop.DefaultSize),
		premiumers: make(map[string]*Premiumer),
	}
}

// AddListener adds a listener to every Premiumer created from now on.
func (r *Registry) AddListener(factory func(owner string) Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, factory)
}

// Get returns the Premiumer of owner, creating it on first use.
func (r *Registry) Get(owner string) *Premiumer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.premiumers[owner]; ok {
		return p
	}

	listener := MultiListener{event.NewEmitter(owner, r.bus)}
	for _, factory := range r.listeners {
		listener = append(listener, factory(owner))
	}

	opts := append([]Option{}, r.opts...)
	opts = append(opts, WithOwner(owner), WithLoop(r.loop))

	p := New(r.log, r.svc(owner), listener, r.sku, opts...)
	r.premiumers[owner] = p
	return p
}

// Sync blocks until every notification posted so far has been delivered.
func (r *Registry) Sync(ctx context.Context) error {
	return r.loop.Sync(ctx)
}

// Close unbinds every Premiumer and stops the loop once it is drained.
func (r *Registry) Close() {
	r.mu.Lock()
	premiumers := make([]*Premiumer, 0, len(r.premiumers))
	for _, p := range r.premiumers {
		premiumers = append(premiumers, p)
	}
	r.premiumers = make(map[string]*Premiumer)
	r.mu.Unlock()

	for _, p := range premiumers {
		p.Unbind()
	}
	r.loop.Stop()
}
