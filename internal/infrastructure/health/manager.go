// Package health aggregates component health checks for the /health
// endpoints
package health

import (
	"errors"
	"sort"
	"sync"

	"trade_engine/internal/core"
	"trade_engine/pkg/logging"
)

// ErrUnhealthy is reported for components that expose only a boolean
var ErrUnhealthy = errors.New("unhealthy")

// Manager aggregates health status from different components
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	last   map[string]bool
}

// NewManager creates a health manager. A nil logger discards output.
func NewManager(logger core.ILogger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
		last:   make(map[string]bool),
	}
}

// Register adds a health check for a component, replacing any earlier one
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// RegisterReporter adds a component that only reports healthy or not
func (m *Manager) RegisterReporter(component string, r core.IHealthReporter) {
	m.Register(component, func() error {
		if r.IsHealthy() {
			return nil
		}
		return ErrUnhealthy
	})
}

// Components lists the registered component names, sorted
func (m *Manager) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus runs every check and returns a readable status per component
func (m *Manager) GetStatus() map[string]string {
	results := m.run()
	status := make(map[string]string, len(results))
	for component, err := range results {
		if err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if all registered components are healthy
func (m *Manager) IsHealthy() bool {
	for _, err := range m.run() {
		if err != nil {
			return false
		}
	}
	return true
}

// run evaluates the checks outside the lock and logs state changes
func (m *Manager) run() map[string]error {
	m.mu.RLock()
	checks := make(map[string]func() error, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for component, check := range checks {
		results[component] = check()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for component, err := range results {
		healthy := err == nil
		prev, seen := m.last[component]
		m.last[component] = healthy
		switch {
		case seen && prev && !healthy:
			m.logger.Warn("Component became unhealthy", "component", component, "error", err)
		case seen && !prev && healthy:
			m.logger.Info("Component recovered", "component", component)
		}
	}
	return results
}
