package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow-go/internal/job"
	"mailflow-go/internal/mailbox"
	"mailflow-go/internal/model"
)

type fakeResolver struct {
	byAccount map[string]*model.Workspace
}

func (r *fakeResolver) GetByProviderAccountID(ctx context.Context, accountID string) (*model.Workspace, error) {
	return r.byAccount[accountID], nil
}

type fakeConversations struct {
	mu        sync.Mutex
	customers map[string]*model.Customer
	convs     map[string]*model.Conversation
	messages  map[string]*model.Message // keyed by workspace/external id
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		customers: make(map[string]*model.Customer),
		convs:     make(map[string]*model.Conversation),
		messages:  make(map[string]*model.Message),
	}
}

func (f *fakeConversations) UpsertCustomer(ctx context.Context, workspaceID, email, name string) (*model.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := workspaceID + "/" + email
	if c, ok := f.customers[key]; ok {
		return c, nil
	}
	c := &model.Customer{ID: "cust-" + email, WorkspaceID: workspaceID, Email: email, Name: name}
	f.customers[key] = c
	return c, nil
}

func (f *fakeConversations) UpsertConversation(ctx context.Context, workspaceID, threadID, customerID, subject string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := workspaceID + "/" + threadID
	if c, ok := f.convs[key]; ok {
		return c, nil
	}
	c := &model.Conversation{ID: "conv-" + threadID, WorkspaceID: workspaceID, ExternalThreadID: threadID, CustomerID: customerID, Subject: subject}
	f.convs[key] = c
	return c, nil
}

func (f *fakeConversations) InsertMessage(ctx context.Context, msg *model.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := msg.WorkspaceID + "/" + msg.ExternalID
	if _, ok := f.messages[key]; ok {
		return false, nil
	}
	cp := *msg
	f.messages[key] = &cp
	return true, nil
}

func signedBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	svc := NewWebhookService("topsecret", &fakeResolver{}, newFakeConversations(), newFakeMailbox(), &fakeQueue{}, testMetrics)

	body := []byte(`{"accountId":"acc-1","messageId":"m-1"}`)
	assert.True(t, svc.VerifySignature(body, signedBody("topsecret", body)))
	assert.True(t, svc.VerifySignature(body, "sha256="+signedBody("topsecret", body)))
	assert.False(t, svc.VerifySignature(body, signedBody("wrong", body)))
	assert.False(t, svc.VerifySignature(body, ""))
	assert.False(t, svc.VerifySignature([]byte(`tampered`), signedBody("topsecret", body)))
}

func TestParseEventsShapes(t *testing.T) {
	legacy, err := ParseEvents([]byte(`{"accountId":"acc-1","messageId":"m-1","threadId":"t-1"}`))
	require.NoError(t, err)
	require.Len(t, legacy, 1)
	assert.Equal(t, "acc-1", legacy[0].AccountID)
	assert.Equal(t, "m-1", legacy[0].MessageID)
	assert.Nil(t, legacy[0].Inline)

	batch, err := ParseEvents([]byte(`{"payloads":[
		{"accountId":"acc-1","id":"m-1","message":{"id":"m-1","from":"a@b.c","subject":"hi","body":"text"}},
		{"accountId":"acc-1","id":"m-2"},
		{"id":"orphan-without-account"}
	]}`))
	require.NoError(t, err)
	require.Len(t, batch, 2, "events without an account id are dropped")
	require.NotNil(t, batch[0].Inline)
	assert.Equal(t, "a@b.c", batch[0].Inline.From)
	assert.Nil(t, batch[1].Inline)

	_, err = ParseEvents([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvents([]byte(`{"payloads":[]}`))
	assert.Error(t, err)
}

func TestIngestInboundMessageQueuesTriage(t *testing.T) {
	resolver := &fakeResolver{byAccount: map[string]*model.Workspace{
		"acc-1": {ID: "ws-1", OwnerEmail: "owner@biz.example"},
	}}
	convs := newFakeConversations()
	q := &fakeQueue{}
	svc := NewWebhookService("s", resolver, convs, newFakeMailbox(), q, testMetrics)

	err := svc.Ingest(context.Background(), WebhookEvent{
		AccountID: "acc-1",
		MessageID: "ext-1",
		Inline: &mailbox.Message{
			ID:       "ext-1",
			ThreadID: "thread-1",
			From:     "Carol <carol@customer.example>",
			To:       "owner@biz.example",
			Subject:  "help please",
			Body:     "my order is late",
		},
	})
	require.NoError(t, err)

	stored := convs.messages["ws-1/ext-1"]
	require.NotNil(t, stored)
	assert.Equal(t, model.DirectionInbound, stored.Direction)
	assert.Equal(t, "conv-thread-1", stored.ConversationID)

	triages := q.sentTo(job.KindTriage.Queue())
	require.Len(t, triages, 1)
	env, err := job.Decode(triages[0].payload)
	require.NoError(t, err)
	var p job.TriagePayload
	require.NoError(t, env.DecodeData(&p))
	assert.Equal(t, stored.ID, p.MessageID)
	assert.Equal(t, "conv-thread-1", p.ConversationID)

	// Customer identity comes from the counterparty, not the owner.
	cust := convs.customers["ws-1/carol@customer.example"]
	require.NotNil(t, cust)
	assert.Equal(t, "Carol", cust.Name)
}

func TestIngestOutboundMessageUsesRecipientAsCustomer(t *testing.T) {
	resolver := &fakeResolver{byAccount: map[string]*model.Workspace{
		"acc-1": {ID: "ws-1", OwnerEmail: "owner@biz.example"},
	}}
	convs := newFakeConversations()
	svc := NewWebhookService("s", resolver, convs, newFakeMailbox(), &fakeQueue{}, testMetrics)

	err := svc.Ingest(context.Background(), WebhookEvent{
		AccountID: "acc-1",
		MessageID: "ext-2",
		Inline: &mailbox.Message{
			ID:      "ext-2",
			From:    "owner@biz.example",
			To:      "carol@customer.example",
			Subject: "re: help",
		},
	})
	require.NoError(t, err)

	stored := convs.messages["ws-1/ext-2"]
	require.NotNil(t, stored)
	assert.Equal(t, model.DirectionOutbound, stored.Direction)
	require.NotNil(t, convs.customers["ws-1/carol@customer.example"])
}

func TestIngestUnknownAccountIsSilentlyDropped(t *testing.T) {
	convs := newFakeConversations()
	q := &fakeQueue{}
	svc := NewWebhookService("s", &fakeResolver{}, convs, newFakeMailbox(), q, testMetrics)

	err := svc.Ingest(context.Background(), WebhookEvent{AccountID: "nobody", MessageID: "m"})
	require.NoError(t, err, "unknown accounts must not surface as errors")
	assert.Empty(t, convs.messages)
	assert.Empty(t, q.sent)
}

func TestIngestDuplicateDeliverySkipsTriage(t *testing.T) {
	resolver := &fakeResolver{byAccount: map[string]*model.Workspace{
		"acc-1": {ID: "ws-1", OwnerEmail: "owner@biz.example"},
	}}
	convs := newFakeConversations()
	q := &fakeQueue{}
	svc := NewWebhookService("s", resolver, convs, newFakeMailbox(), q, testMetrics)

	ev := WebhookEvent{
		AccountID: "acc-1",
		MessageID: "ext-1",
		Inline: &mailbox.Message{
			ID:   "ext-1",
			From: "carol@customer.example",
			To:   "owner@biz.example",
		},
	}
	require.NoError(t, svc.Ingest(context.Background(), ev))
	require.NoError(t, svc.Ingest(context.Background(), ev))

	assert.Len(t, q.sentTo(job.KindTriage.Queue()), 1, "redelivery must not triage twice")
}
