package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/job"
	"mailflow-go/internal/mailbox"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

// WebhookEvent is one message notification after shape normalization
type WebhookEvent struct {
	AccountID string
	MessageID string
	ThreadID  string
	// Inline is the full message when the provider pushed it with the
	// notification; nil means fetch by id.
	Inline *mailbox.Message
}

// webhookEnvelope accepts both notification shapes the provider sends:
// a single legacy event at the top level, or a payloads array
type webhookEnvelope struct {
	AccountID string           `json:"accountId"`
	MessageID string           `json:"messageId"`
	ThreadID  string           `json:"threadId"`
	Payloads  []webhookPayload `json:"payloads"`
}

type webhookPayload struct {
	AccountID string          `json:"accountId"`
	ID        string          `json:"id"`
	ThreadID  string          `json:"threadId"`
	Message   json.RawMessage `json:"message"`
}

type inlineMessage struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Snippet  string    `json:"snippet"`
	Body     string    `json:"body"`
	SentAt   time.Time `json:"sentAt"`
}

// WorkspaceResolver maps a provider account id to a workspace
type WorkspaceResolver interface {
	GetByProviderAccountID(ctx context.Context, accountID string) (*model.Workspace, error)
}

// ConversationWriter persists delivered mail
type ConversationWriter interface {
	UpsertCustomer(ctx context.Context, workspaceID, email, name string) (*model.Customer, error)
	UpsertConversation(ctx context.Context, workspaceID, threadID, customerID, subject string) (*model.Conversation, error)
	InsertMessage(ctx context.Context, msg *model.Message) (inserted bool, err error)
}

// WebhookService turns provider push notifications into stored
// conversation messages and triage work
type WebhookService struct {
	secret        string
	workspaces    WorkspaceResolver
	conversations ConversationWriter
	mb            mailbox.Client
	queue         Enqueuer
	metrics       *metrics.Metrics
}

// NewWebhookService creates the webhook ingest service
func NewWebhookService(secret string, workspaces WorkspaceResolver, conversations ConversationWriter, mb mailbox.Client, queue Enqueuer, m *metrics.Metrics) *WebhookService {
	return &WebhookService{
		secret:        secret,
		workspaces:    workspaces,
		conversations: conversations,
		mb:            mb,
		queue:         queue,
		metrics:       m,
	}
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw
// request body in constant time
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

// ParseEvents normalizes a verified request body into events. Both the
// legacy single-event shape and the payloads array are accepted.
func ParseEvents(body []byte) ([]WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("undecodable webhook body: %w", err)
	}

	if len(env.Payloads) == 0 {
		if env.AccountID == "" || env.MessageID == "" {
			return nil, fmt.Errorf("webhook event missing accountId or messageId")
		}
		return []WebhookEvent{{
			AccountID: env.AccountID,
			MessageID: env.MessageID,
			ThreadID:  env.ThreadID,
		}}, nil
	}

	events := make([]WebhookEvent, 0, len(env.Payloads))
	for _, p := range env.Payloads {
		if p.AccountID == "" || p.ID == "" {
			continue
		}
		ev := WebhookEvent{AccountID: p.AccountID, MessageID: p.ID, ThreadID: p.ThreadID}
		if len(p.Message) > 0 {
			var im inlineMessage
			if err := json.Unmarshal(p.Message, &im); err == nil && im.ID != "" {
				ev.Inline = &mailbox.Message{
					ID:       im.ID,
					ThreadID: im.ThreadID,
					From:     im.From,
					To:       im.To,
					Subject:  im.Subject,
					Snippet:  im.Snippet,
					Body:     im.Body,
					SentAt:   im.SentAt,
				}
			}
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("webhook payloads contained no usable events")
	}
	return events, nil
}

// Ingest stores one event's message and queues triage. Unknown accounts
// and duplicate messages are dropped without error so the provider
// never sees a failure it can probe.
func (s *WebhookService) Ingest(ctx context.Context, ev WebhookEvent) error {
	s.metrics.WebhookEvents.Inc()

	ws, err := s.workspaces.GetByProviderAccountID(ctx, ev.AccountID)
	if err != nil {
		return err
	}
	if ws == nil {
		logrus.Warnf("Webhook for unknown account, dropping")
		return nil
	}

	msg := ev.Inline
	if msg == nil {
		msg, err = s.mb.GetMessage(ctx, ev.MessageID)
		if err != nil {
			return fmt.Errorf("failed to fetch webhook message: %w", err)
		}
	}

	direction := model.DirectionInbound
	if strings.EqualFold(extractAddress(msg.From), ws.OwnerEmail) {
		direction = model.DirectionOutbound
	}

	counterparty := msg.From
	if direction == model.DirectionOutbound {
		counterparty = msg.To
	}
	email := strings.ToLower(extractAddress(counterparty))
	if email == "" {
		return fmt.Errorf("webhook message %s has no counterparty address", msg.ID)
	}

	customer, err := s.conversations.UpsertCustomer(ctx, ws.ID, email, displayName(counterparty))
	if err != nil {
		return err
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = ev.ThreadID
	}
	if threadID == "" {
		threadID = msg.ID
	}
	conv, err := s.conversations.UpsertConversation(ctx, ws.ID, threadID, customer.ID, msg.Subject)
	if err != nil {
		return err
	}

	stored := &model.Message{
		ID:             uuid.New().String(),
		WorkspaceID:    ws.ID,
		ConversationID: conv.ID,
		ExternalID:     msg.ID,
		Direction:      direction,
		FromAddress:    msg.From,
		ToAddress:      msg.To,
		Subject:        msg.Subject,
		Body:           msg.Body,
		SentAt:         msg.SentAt,
	}
	inserted, err := s.conversations.InsertMessage(ctx, stored)
	if err != nil {
		return err
	}
	if !inserted {
		// Redelivery of a message already ingested; triage ran the
		// first time.
		return nil
	}

	// Triage is best effort; ingest already succeeded.
	payload, err := job.Encode(job.KindTriage, ws.ID, job.TriagePayload{
		MessageID:      stored.ID,
		ConversationID: conv.ID,
	})
	if err == nil {
		err = s.queue.Send(ctx, job.KindTriage.Queue(), payload, 0)
	}
	if err != nil {
		logrus.Errorf("Failed to enqueue triage for message %s: %v", stored.ID, err)
	}
	return nil
}

// displayName pulls the human name out of "Name <addr>" forms
func displayName(from string) string {
	if idx := strings.LastIndex(from, "<"); idx > 0 {
		return strings.Trim(strings.TrimSpace(from[:idx]), `"`)
	}
	return ""
}
