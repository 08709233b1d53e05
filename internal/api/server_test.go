package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncgate/internal/audit"
	"syncgate/internal/auth"
	"syncgate/internal/connector"
	"syncgate/internal/connector/connectortest"
	"syncgate/internal/errs"
	"syncgate/internal/events"
	"syncgate/internal/integration"
	"syncgate/internal/model"
	"syncgate/internal/queue"
	"syncgate/internal/store"
	"syncgate/internal/webhooks"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	handler http.Handler
	mem     *store.Memory
	jobs    *queue.Service
	fake    *connectortest.WebhookFake
	broker  *events.Memory
	ready   map[string]Pinger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	fake := &connectortest.WebhookFake{Fake: &connectortest.Fake{TestOK: true}, SetupOK: true}
	factory := connector.NewFactory(connector.Deps{Catalog: mem})
	require.NoError(t, factory.Register("hooks", connectortest.Constructor(fake)))
	log := audit.NewMemoryLog(0)
	ints := integration.NewService(integration.Deps{Store: mem, Connectors: factory, Audit: log})
	hooks := webhooks.NewService(ints, factory, log, nil)
	broker := events.NewMemory()
	jobs := queue.New(mem, nil, queue.Options{Broker: broker})
	require.NoError(t, jobs.Handle(model.QueueWebhook, hooks.Handler()))
	require.NoError(t, jobs.Handle(model.QueueSync, ints.SyncHandler()))
	verifier, err := auth.NewVerifier(auth.Config{Mode: auth.ModeDev})
	require.NoError(t, err)
	ready := map[string]Pinger{"store": mem}
	srv := NewServer(Deps{
		Integrations:   ints,
		Webhooks:       hooks,
		Jobs:           jobs,
		Audit:          log,
		Broker:         broker,
		Auth:           verifier,
		Ready:          ready,
		MaxWebhookBody: 1024,
	})
	return &fixture{handler: srv.Routes(), mem: mem, jobs: jobs, fake: fake, broker: broker, ready: ready}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) createIntegration(t *testing.T, settings map[string]any) string {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/integrations", "ops:operator", map[string]any{
		"merchantId": "m-1", "connectorType": "hooks", "name": "Shop",
		"credentials": map[string]string{"token": "t0p"}, "settings": settings,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var cfg model.IntegrationConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "***", cfg.Credentials["token"])
	return cfg.ID
}

func TestHealthReady(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/version", "", nil).Code)

	f.ready["redis"] = pingFunc(func(context.Context) error { return errors.New("down") })
	rr := f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "redis")
}

func TestAuthAndRoles(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/integrations", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/integrations", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/integrations", "ro:viewer", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/integrations", "ro:viewer", map[string]any{}).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/queues/sync/pause", "ops:operator", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/queues/sync/pause", "root:admin", nil).Code)
}

func TestIntegrationLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)

	rr := f.do(t, http.MethodGet, "/v1/integrations/"+id, "ro:viewer", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPatch, "/v1/integrations/"+id, "ops:operator", map[string]any{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "Renamed")

	rr = f.do(t, http.MethodPost, "/v1/integrations/"+id+"/test", "ops:operator", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok":true`)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/integrations/"+id, "root:admin", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/integrations/"+id, "ro:viewer", nil).Code)
}

func TestCreateIntegrationValidation(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodPost, "/v1/integrations", "ops:operator", map[string]any{"merchantId": "m-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodPost, "/v1/integrations", "ops:operator", map[string]any{"merchantId": "m-1", "connectorType": "sap"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = f.do(t, http.MethodPost, "/v1/integrations", "ops:operator", []byte(`{`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueSyncDedupes(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)

	var first, second enqueueResponse
	rr := f.do(t, http.MethodPost, "/v1/integrations/"+id+"/sync", "ops:operator", map[string]any{"syncType": "products"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	rr = f.do(t, http.MethodPost, "/v1/integrations/"+id+"/sync", "ops:operator", map[string]any{"syncType": "products"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	rr = f.do(t, http.MethodPost, "/v1/integrations/"+id+"/sync", "ops:operator", map[string]any{"syncType": "everything"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	n, err := f.jobs.ProcessNext(context.Background(), model.QueueSync, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rr = f.do(t, http.MethodGet, "/v1/jobs/"+first.Job.ID, "ro:viewer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"completed"`)
}

func TestMappingsRoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)
	rr := f.do(t, http.MethodPut, "/v1/integrations/"+id+"/mappings", "ops:operator", map[string]any{
		"syncType": "products",
		"mappings": []map[string]any{{"sourceField": "title", "targetField": "name", "transformation": "trim"}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/integrations/"+id+"/mappings?syncType=products", "ro:viewer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct{ Items []model.DataMapping }
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "name", out.Items[0].TargetField)

	rr = f.do(t, http.MethodPut, "/v1/integrations/"+id+"/mappings", "ops:operator", map[string]any{
		"syncType": "products",
		"mappings": []map[string]any{{"sourceField": "title", "targetField": "name", "transformation": "rot13"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRegisterWebhookReturnsSecret(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)
	rr := f.do(t, http.MethodPost, "/v1/integrations/"+id+"/webhook", "ops:operator", map[string]any{"url": "https://gw.example/webhooks/" + id})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var wc model.WebhookConfig
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &wc))
	assert.NotEmpty(t, wc.Secret)

	rr = f.do(t, http.MethodGet, "/v1/integrations/"+id, "ro:viewer", nil)
	assert.NotContains(t, rr.Body.String(), wc.Secret)

	rr = f.do(t, http.MethodPost, "/v1/integrations/"+id+"/webhook", "ops:operator", map[string]any{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func signedEnvelope(t *testing.T, secret string, ts time.Time) []byte {
	t.Helper()
	payload := map[string]any{"id": 7, "title": "Mug"}
	sig, err := webhooks.Sign(payload, secret)
	require.NoError(t, err)
	b, err := json.Marshal(map[string]any{
		"id": "evt-1", "eventType": "products/update", "payload": payload, "signature": sig, "timestamp": ts,
	})
	require.NoError(t, err)
	return b
}

func TestReceiveWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, map[string]any{model.SettingWebhook: map[string]any{"secret": "whsec"}})

	rr := f.do(t, http.MethodPost, "/webhooks/"+id, "", signedEnvelope(t, "whsec", time.Now()))
	require.Equal(t, http.StatusAccepted, rr.Code)
	// A redelivery maps to the same job.
	rr = f.do(t, http.MethodPost, "/webhooks/"+id, "", signedEnvelope(t, "whsec", time.Now()))
	require.Equal(t, http.StatusAccepted, rr.Code)

	n, err := f.jobs.ProcessNext(ctx, model.QueueWebhook, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.fake.Events, 1)
	assert.Equal(t, "products/update", f.fake.Events[0].EventType)
}

func TestReceiveWebhookForgeryDoesNotClaimEventID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, map[string]any{model.SettingWebhook: map[string]any{"secret": "whsec"}})

	rr := f.do(t, http.MethodPost, "/webhooks/"+id, "", signedEnvelope(t, "forged", time.Now()))
	require.Equal(t, http.StatusAccepted, rr.Code)
	stats, err := f.jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[model.QueueWebhook].Waiting)

	rr = f.do(t, http.MethodPost, "/webhooks/"+id, "", signedEnvelope(t, "whsec", time.Now()))
	require.Equal(t, http.StatusAccepted, rr.Code)
	n, err := f.jobs.ProcessNext(ctx, model.QueueWebhook, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.fake.Events, 1)
	assert.Equal(t, "evt-1", f.fake.Events[0].ID)
}

func TestReceiveWebhookUnsignedDroppedWhenSecretSet(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, map[string]any{model.SettingWebhook: map[string]any{"secret": "whsec"}})
	rr := f.do(t, http.MethodPost, "/webhooks/"+id, "", []byte(`{"id":"e2","eventType":"orders/create","payload":{"id":1}}`))
	require.Equal(t, http.StatusAccepted, rr.Code)
	stats, err := f.jobs.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats[model.QueueWebhook].Waiting)
}

func TestReceiveWebhookVerifiesSenderEncoding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, map[string]any{model.SettingWebhook: map[string]any{"secret": "whsec"}})

	body := `{"id":"evt-2","eventType":"products/update","payload":{"title":"Salt & Pepper <L>","id":9007199254740993}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+id, strings.NewReader(body))
	req.Header.Set(HeaderSignature, webhooks.SignHMAC("whsec", []byte(`{"id":9007199254740993,"title":"Salt & Pepper <L>"}`)))
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	n, err := f.jobs.ProcessNext(ctx, model.QueueWebhook, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.fake.Events, 1)
	assert.Equal(t, json.Number("9007199254740993"), f.fake.Events[0].Payload["id"])
}

func TestReceiveWebhookDropsStaleAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, nil)

	rr := f.do(t, http.MethodPost, "/webhooks/"+id, "", signedEnvelope(t, "x", time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = f.do(t, http.MethodPost, "/webhooks/nope", "", []byte(`{"id":1}`))
	assert.Equal(t, http.StatusAccepted, rr.Code)

	stats, err := f.jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[model.QueueWebhook].Waiting)
}

func TestReceiveWebhookMalformed(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/webhooks/"+id, "", []byte(`not json`)).Code)
	big := []byte(`{"pad":"` + strings.Repeat("x", 2048) + `"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(t, http.MethodPost, "/webhooks/"+id, "", big).Code)
}

func TestReceiveWebhookHeaders(t *testing.T) {
	f := newFixture(t)
	id := f.createIntegration(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+id, strings.NewReader(`{"id":99,"inventory_item_id":5}`))
	req.Header.Set("X-Shopify-Topic", "inventory_levels/update")
	req.Header.Set("X-Shopify-Webhook-Id", "wh-1")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	jobs, err := f.jobs.ListJobs(context.Background(), model.QueueWebhook, model.JobWaiting, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	var p model.WebhookJob
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &p))
	assert.Equal(t, "wh-1", p.Event.ID)
	assert.Equal(t, "inventory_levels/update", p.Event.EventType)
	assert.EqualValues(t, 99, p.Event.Payload["id"])
}

func TestQueueAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, nil)

	_, _, err := f.jobs.AddJob(ctx, model.QueueWebhook, model.WebhookJob{IntegrationID: id, Event: model.WebhookEvent{ID: "e1", EventType: "x"}}, queue.JobOptions{})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/v1/queues", "ro:viewer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"webhook"`)

	rr = f.do(t, http.MethodGet, "/v1/queues/bogus/jobs", "ro:viewer", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/queues/webhook/jobs", "root:admin", nil).Code)
	stats, err := f.jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[model.QueueWebhook].Waiting)
}

func TestRetryFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntegration(t, nil)
	f.fake.EventErr = errs.Validation("unknown topic")
	_, _, err := f.jobs.AddJob(ctx, model.QueueWebhook, model.WebhookJob{IntegrationID: id, Event: model.WebhookEvent{ID: "e1", EventType: "x"}}, queue.JobOptions{})
	require.NoError(t, err)
	_, err = f.jobs.ProcessNext(ctx, model.QueueWebhook, 1)
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/v1/queues/webhook/jobs", "ro:viewer", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct{ Items []model.Job }
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)

	rr = f.do(t, http.MethodPost, "/v1/jobs/"+out.Items[0].ID+"/retry", "ops:operator", nil)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"state":"waiting"`)
}

func TestJobStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()
	id := f.createIntegration(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/stream?queue=sync&access_token=ro:viewer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	ack, err := DecodeStreamMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "connection_ack", ack.Type)

	job, _, err := f.jobs.AddJob(context.Background(), model.QueueSync, model.SyncJob{IntegrationID: id, SyncType: model.SyncProducts}, queue.JobOptions{})
	require.NoError(t, err)
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	msg, err := DecodeStreamMessage(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Event)
	assert.Equal(t, events.JobAdded, msg.Event.Type)
	assert.Equal(t, job.ID, msg.Event.JobID)
}

func TestJobStreamUnknownQueue(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/v1/jobs/stream?queue=nope", "ro:viewer", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
