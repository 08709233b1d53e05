// Package connectortest provides scriptable connectors for tests.
package connectortest

import (
	"context"
	"sync"

	"syncgate/internal/connector"
	"syncgate/internal/model"
)

// Fake records calls and returns scripted results per sync type.
type Fake struct {
	mu sync.Mutex

	ID         string
	ConnectErr error
	Refuse     bool // Connect reports false without an error
	TestOK     bool
	TestErr    error
	Results    map[model.SyncType]*model.SyncResult
	Errs       map[model.SyncType]error

	Calls       []string
	Connected   bool
	Disconnects int
	Config      model.IntegrationConfig
	Mappings    map[model.SyncType][]model.DataMapping
}

func (f *Fake) Info() connector.Info {
	id := f.ID
	if id == "" {
		id = "fake"
	}
	return connector.Info{ID: id, Name: "Fake", Version: "0.0.1", SupportedOperations: []string{
		connector.OpTestConnection, connector.OpSyncProducts, connector.OpSyncInventory,
		connector.OpSyncPricing, connector.OpSyncOrders,
	}}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *Fake) Connect(_ context.Context, cfg model.IntegrationConfig) (bool, error) {
	f.record("connect")
	if f.ConnectErr != nil {
		return false, f.ConnectErr
	}
	if f.Refuse {
		return false, nil
	}
	f.mu.Lock()
	f.Connected = true
	f.Config = cfg
	f.mu.Unlock()
	return true, nil
}

func (f *Fake) Disconnect(context.Context) error {
	f.record("disconnect")
	f.mu.Lock()
	f.Connected = false
	f.Disconnects++
	f.mu.Unlock()
	return nil
}

func (f *Fake) TestConnection(context.Context) (bool, error) {
	f.record("test")
	return f.TestOK, f.TestErr
}

func (f *Fake) sync(t model.SyncType, mappings []model.DataMapping) (*model.SyncResult, error) {
	f.record(string(t))
	f.mu.Lock()
	if f.Mappings == nil {
		f.Mappings = map[model.SyncType][]model.DataMapping{}
	}
	f.Mappings[t] = mappings
	f.mu.Unlock()
	if err := f.Errs[t]; err != nil {
		return nil, err
	}
	if r, ok := f.Results[t]; ok {
		cp := *r
		return &cp, nil
	}
	return model.NewSyncResult(), nil
}

func (f *Fake) SyncProducts(_ context.Context, m []model.DataMapping) (*model.SyncResult, error) {
	return f.sync(model.SyncProducts, m)
}

func (f *Fake) SyncInventory(_ context.Context, m []model.DataMapping) (*model.SyncResult, error) {
	return f.sync(model.SyncInventory, m)
}

func (f *Fake) SyncPricing(_ context.Context, m []model.DataMapping) (*model.SyncResult, error) {
	return f.sync(model.SyncPricing, m)
}

func (f *Fake) SyncOrders(_ context.Context, m []model.DataMapping) (*model.SyncResult, error) {
	return f.sync(model.SyncOrders, m)
}

// WebhookFake adds the webhook capability to Fake.
type WebhookFake struct {
	*Fake
	SetupOK  bool
	SetupErr error
	EventErr error
	Setups   []model.WebhookConfig
	Events   []model.WebhookEvent
}

func (w *WebhookFake) SetupWebhook(_ context.Context, cfg model.WebhookConfig) (bool, error) {
	w.record("setupWebhook")
	w.mu.Lock()
	w.Setups = append(w.Setups, cfg)
	w.mu.Unlock()
	return w.SetupOK, w.SetupErr
}

func (w *WebhookFake) ProcessWebhookEvent(_ context.Context, ev model.WebhookEvent, _ []model.DataMapping) (*model.SyncResult, error) {
	w.record("webhook:" + ev.EventType)
	w.mu.Lock()
	w.Events = append(w.Events, ev)
	w.mu.Unlock()
	if w.EventErr != nil {
		return nil, w.EventErr
	}
	r := model.NewSyncResult()
	r.RecordUpdated()
	return r, nil
}

// Constructor returns a connector.Constructor that always hands out c.
func Constructor(c connector.Connector) connector.Constructor {
	return func(connector.Deps) connector.Connector { return c }
}
