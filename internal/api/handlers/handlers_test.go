package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flockbridge.io/flockbridge/internal/api/middleware"
	"flockbridge.io/flockbridge/internal/jobs"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type delivery struct {
	org, webhookID string
	body           []byte
}

type fakeEnqueuer struct {
	deliveries []delivery
	syncs      []string
	reconciles []string
	err        error
}

func (f *fakeEnqueuer) StartPullSync(_ context.Context, org string) (jobs.Enqueued, error) {
	if f.err != nil {
		return jobs.Enqueued{}, f.err
	}
	f.syncs = append(f.syncs, org)
	return jobs.Enqueued{JobID: 1, Key: jobs.PullSyncKey(org)}, nil
}

func (f *fakeEnqueuer) DeliverWebhook(_ context.Context, org, webhookID string, _ http.Header, body []byte) (jobs.Enqueued, error) {
	if f.err != nil {
		return jobs.Enqueued{}, f.err
	}
	f.deliveries = append(f.deliveries, delivery{org, webhookID, body})
	return jobs.Enqueued{JobID: 2, Key: jobs.WebhookKey(webhookID, org, body)}, nil
}

func (f *fakeEnqueuer) StartReconcile(_ context.Context, org string) (jobs.Enqueued, error) {
	f.reconciles = append(f.reconciles, org)
	return jobs.Enqueued{JobID: 3, Key: jobs.ReconcileKey(org)}, nil
}

type fakeHealth []provider.OrgHealth

func (f fakeHealth) Snapshot() []provider.OrgHealth { return f }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.ErrorHandler())
	r.POST("/webhooks/pco", s.ReceiveWebhook)
	r.POST("/api/v1/orgs/:org/sync", s.StartSync)
	r.POST("/api/v1/orgs/:org/subscriptions/reconcile", s.StartReconcile)
	r.GET("/healthz", s.GetHealth)
	return r
}

func newServer(enq *fakeEnqueuer) *Server {
	return NewServer(ServerDeps{
		Enqueuer: enq,
		Secrets:  webhook.NewSecrets(map[string][]string{"org1": {"s1"}, "org2": {"s2"}}, nil),
		OrgIDs:   []string{"org1", "org2"},
	})
}

const batchBody = `{"data":[{"id":"delivery-1","type":"EventDelivery","attributes":{"name":"people.v2.events.person.created","payload":"{}"}}]}`

func postWebhook(r http.Handler, body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pco", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(webhook.SignatureHeader, webhook.SignHex(secret, []byte(body)))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveWebhook(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(newServer(enq))

	w := postWebhook(r, batchBody, "s2")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, enq.deliveries, 1)
	assert.Equal(t, "org2", enq.deliveries[0].org)
	assert.Equal(t, "delivery-1", enq.deliveries[0].webhookID)
	assert.Equal(t, []byte(batchBody), enq.deliveries[0].body)

	var res jobs.Enqueued
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(2), res.JobID)
}

func TestReceiveWebhook_Rejects(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(newServer(enq))

	assert.Equal(t, http.StatusUnauthorized, postWebhook(r, batchBody, "").Code)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(r, batchBody, "unknown").Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(r, `{"data":[{"id":1}]}`, "s1").Code)
	assert.Empty(t, enq.deliveries)
}

func TestReceiveWebhook_BodyLimit(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewServer(ServerDeps{
		Enqueuer:     enq,
		Secrets:      webhook.NewSecrets(map[string][]string{"org1": {"s1"}}, nil),
		MaxBodyBytes: 16,
	})
	w := postWebhook(newRouter(s), batchBody, "s1")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, enq.deliveries)
}

func TestReceiveWebhook_EnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: apperrors.Wrap(errors.New("down"), apperrors.CodeWorkflowEnqueueFailure, "failed to enqueue workflow", http.StatusServiceUnavailable).AsRetryable()}
	w := postWebhook(newRouter(newServer(enq)), batchBody, "s1")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeWorkflowEnqueueFailure)
}

func TestTriggers(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := newRouter(newServer(enq))

	post := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(nil)))
		return w
	}

	assert.Equal(t, http.StatusAccepted, post("/api/v1/orgs/org1/sync").Code)
	assert.Equal(t, http.StatusAccepted, post("/api/v1/orgs/org2/subscriptions/reconcile").Code)
	assert.Equal(t, []string{"org1"}, enq.syncs)
	assert.Equal(t, []string{"org2"}, enq.reconciles)

	w := post("/api/v1/orgs/nope/sync")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apperrors.CodeOrgNotFound)
	assert.Equal(t, []string{"org1"}, enq.syncs)
}

func TestGetHealth(t *testing.T) {
	s := NewServer(ServerDeps{
		Enqueuer: &fakeEnqueuer{},
		Secrets:  webhook.NewSecrets(nil, nil),
		DB:       fakePinger{},
		Health: fakeHealth{
			{OrgID: "b", Status: provider.StatusHealthy},
			{OrgID: "a", Status: provider.StatusUnreachable},
		},
	})
	w := httptest.NewRecorder()
	newRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "degraded", body.Checks["provider"])
	require.Len(t, body.Provider, 2)
	assert.Equal(t, "a", body.Provider[0].OrgID)

	s.db = fakePinger{err: errors.New("refused")}
	w = httptest.NewRecorder()
	newRouter(s).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
