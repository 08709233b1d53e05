package connector

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"syncgate/internal/errs"
)

// Factory resolves connector type ids to constructors.
type Factory struct {
	mu     sync.RWMutex
	ctors  map[string]Constructor
	deps   Deps
	logger *zap.Logger
}

// NewFactory returns an empty registry whose constructors receive deps.
func NewFactory(deps Deps) *Factory {
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Factory{
		ctors:  map[string]Constructor{},
		deps:   deps,
		logger: l.With(zap.String("component", "connector_factory")),
	}
}

// Register adds a constructor and refuses to replace an existing type.
func (f *Factory) Register(connectorType string, ctor Constructor) error {
	connectorType = strings.TrimSpace(connectorType)
	if connectorType == "" || ctor == nil {
		return errs.Configuration("connector type and constructor are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.ctors[connectorType]; exists {
		return errs.Configuration("connector %s already registered", connectorType)
	}
	f.ctors[connectorType] = ctor
	f.logger.Info("connector registered", zap.String("type", connectorType))
	return nil
}

// RegisterCustomConnector adds or replaces a constructor at runtime.
func (f *Factory) RegisterCustomConnector(connectorType string, ctor Constructor) error {
	connectorType = strings.TrimSpace(connectorType)
	if connectorType == "" || ctor == nil {
		return errs.Configuration("connector type and constructor are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.ctors[connectorType]; exists {
		f.logger.Warn("replacing registered connector", zap.String("type", connectorType))
	}
	f.ctors[connectorType] = ctor
	return nil
}

// CreateConnector builds a fresh, unconnected connector. Unknown types yield an
// UnsupportedConnector error and a nil connector.
func (f *Factory) CreateConnector(connectorType string) (Connector, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[connectorType]
	f.mu.RUnlock()
	if !ok {
		return nil, errs.UnsupportedConnector(connectorType)
	}
	c := ctor(f.deps)
	if c == nil {
		return nil, errs.Newf(errs.KindInternal, "constructor for %s returned nil", connectorType)
	}
	return c, nil
}

func (f *Factory) Supports(connectorType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[connectorType]
	return ok
}

// AvailableConnectors describes every registered type by constructing and discarding an instance.
func (f *Factory) AvailableConnectors() []Info {
	f.mu.RLock()
	types := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		types = append(types, t)
	}
	f.mu.RUnlock()
	sort.Strings(types)

	out := make([]Info, 0, len(types))
	for _, t := range types {
		c, err := f.CreateConnector(t)
		if err != nil {
			continue
		}
		info := c.Info()
		if info.ID == "" {
			info.ID = t
		}
		if _, ok := c.(WebhookCapable); ok {
			info.Webhooks = true
		}
		out = append(out, info)
	}
	return out
}
