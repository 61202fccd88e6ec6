package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow-go/internal/job"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
	"mailflow-go/internal/service"
)

var handlerMetrics = metrics.NewMetrics()

type stubResolver struct {
	ws *model.Workspace
}

func (r *stubResolver) GetByProviderAccountID(ctx context.Context, accountID string) (*model.Workspace, error) {
	if r.ws != nil && r.ws.ProviderAccountID == accountID {
		return r.ws, nil
	}
	return nil, nil
}

type stubConversations struct {
	messages []*model.Message
}

func (s *stubConversations) UpsertCustomer(ctx context.Context, workspaceID, email, name string) (*model.Customer, error) {
	return &model.Customer{ID: "cust-1", WorkspaceID: workspaceID, Email: email, Name: name}, nil
}

func (s *stubConversations) UpsertConversation(ctx context.Context, workspaceID, threadID, customerID, subject string) (*model.Conversation, error) {
	return &model.Conversation{ID: "conv-1", WorkspaceID: workspaceID, ExternalThreadID: threadID, CustomerID: customerID}, nil
}

func (s *stubConversations) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	s.messages = append(s.messages, msg)
	return true, nil
}

type captureQueue struct {
	payloads [][]byte
}

func (q *captureQueue) Send(ctx context.Context, queue string, payload []byte, delay time.Duration) error {
	q.payloads = append(q.payloads, payload)
	return nil
}

func newWebhookRouter(t *testing.T, secret string) (*gin.Engine, *stubConversations, *captureQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	convs := &stubConversations{}
	queue := &captureQueue{}
	resolver := &stubResolver{ws: &model.Workspace{
		ID:                "ws-1",
		ProviderAccountID: "acct-1",
		OwnerEmail:        "owner@example.com",
	}}
	webhook := service.NewWebhookService(secret, resolver, convs, nil, queue, handlerMetrics)

	h := &Handlers{webhook: webhook}
	router := gin.New()
	router.GET("/webhooks/mailbox", h.WebhookValidation)
	router.POST("/webhooks/mailbox", h.WebhookReceive)
	return router, convs, queue
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func inlineEventBody(accountID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"payloads": []map[string]interface{}{
			{
				"accountId": accountID,
				"id":        "msg-ext-1",
				"threadId":  "thread-1",
				"message": map[string]interface{}{
					"id":       "msg-ext-1",
					"threadId": "thread-1",
					"from":     "Carol <carol@example.net>",
					"to":       "owner@example.com",
					"subject":  "Where is my order?",
					"body":     "It has been a week.",
				},
			},
		},
	})
	return body
}

func TestWebhookValidationEchoesToken(t *testing.T) {
	router, _, _ := newWebhookRouter(t, "hush")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhooks/mailbox?validationToken=abc123", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", w.Body.String())
}

func TestWebhookValidationWithoutTokenIsRejected(t *testing.T) {
	router, _, _ := newWebhookRouter(t, "hush")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhooks/mailbox", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookReceiveIngestsSignedEvent(t *testing.T) {
	router, convs, queue := newWebhookRouter(t, "hush")

	body := inlineEventBody("acct-1")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewReader(body))
	req.Header.Set("X-Mailbox-Signature", sign("hush", body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	require.Len(t, convs.messages, 1)
	assert.Equal(t, model.DirectionInbound, convs.messages[0].Direction)

	require.Len(t, queue.payloads, 1)
	env, err := job.Decode(queue.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, job.KindTriage, env.Kind)
	assert.Equal(t, "ws-1", env.WorkspaceID)
}

func TestWebhookReceiveBadSignatureReturnsUniform200(t *testing.T) {
	router, convs, queue := newWebhookRouter(t, "hush")

	body := inlineEventBody("acct-1")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewReader(body))
	req.Header.Set("X-Mailbox-Signature", sign("wrong-secret", body))
	router.ServeHTTP(w, req)

	// Same status and body as the success path.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Empty(t, convs.messages)
	assert.Empty(t, queue.payloads)
}

func TestWebhookReceiveMalformedBodyReturnsUniform200(t *testing.T) {
	router, convs, _ := newWebhookRouter(t, "hush")

	body := []byte("not json at all")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewReader(body))
	req.Header.Set("X-Mailbox-Signature", sign("hush", body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Empty(t, convs.messages)
}

func TestWebhookReceiveUnknownAccountIsSwallowed(t *testing.T) {
	router, convs, queue := newWebhookRouter(t, "hush")

	body := inlineEventBody("acct-nobody")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailbox", bytes.NewReader(body))
	req.Header.Set("X-Mailbox-Signature", sign("hush", body))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, convs.messages)
	assert.Empty(t, queue.payloads)
}
