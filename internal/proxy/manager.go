package proxy

import (
	"fmt"
	"sync"

	"github.com/vyrodovalexey/avmedgw/internal/backend"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// Manager owns the set of registered proxy services and their circuit
// state. Registration happens during configuration load; lookups dominate
// afterwards. Circuit-state mutation is scoped per service, so calls to
// unrelated services never contend.
type Manager struct {
	endpoint backend.Endpoint
	sink     metrics.Sink
	logger   observability.Logger

	mu       sync.RWMutex
	services map[string]*Service
	order    []*Service
}

// ManagerOption is a functional option for the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerSink sets the metric event sink.
func WithManagerSink(sink metrics.Sink) ManagerOption {
	return func(m *Manager) {
		m.sink = sink
	}
}

// NewManager creates a Manager dispatching through the given endpoint.
func NewManager(endpoint backend.Endpoint, opts ...ManagerOption) *Manager {
	m := &Manager{
		endpoint: endpoint,
		sink:     metrics.NopSink(),
		logger:   observability.NopLogger(),
		services: make(map[string]*Service),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a proxy service. The service's circuit starts closed.
// Registration fails on duplicate names or invalid configuration; a service
// that fails registration never becomes routable.
func (m *Manager) Register(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[cfg.Name]; exists {
		return fmt.Errorf("register %q: %w", cfg.Name, ErrDuplicateService)
	}

	svc := newService(cfg, m.endpoint, m.sink, m.logger)
	m.services[cfg.Name] = svc
	m.order = append(m.order, svc)

	m.logger.Info("registered proxy service",
		observability.String("name", cfg.Name),
		observability.String("target", cfg.Target),
		observability.Bool("routable", cfg.Predicate != nil),
	)
	return nil
}

// Resolve selects the target service for a message. A requested name is
// looked up directly; otherwise the routing predicates of all registered
// services are evaluated in registration order and the first match wins.
// Exactly one service is selected per message.
func (m *Manager) Resolve(msg *message.Message, requestedName string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if requestedName != "" {
		svc, ok := m.services[requestedName]
		if !ok {
			return nil, fmt.Errorf("resolve %q: %w", requestedName, ErrServiceNotFound)
		}
		return svc, nil
	}

	for _, svc := range m.order {
		if svc.matches(msg) {
			return svc, nil
		}
	}
	return nil, ErrNoRoute
}

// Health returns a read-only snapshot of a service's circuit state and
// recent success rate.
func (m *Manager) Health(name string) (Health, error) {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()

	if !ok {
		return Health{}, fmt.Errorf("health %q: %w", name, ErrServiceNotFound)
	}
	return svc.health(), nil
}

// Names returns registered service names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	for i, svc := range m.order {
		names[i] = svc.Name()
	}
	return names
}

// Len returns the number of registered services.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.services)
}
