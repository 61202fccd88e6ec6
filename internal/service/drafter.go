package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/job"
	"mailflow-go/internal/llm"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

// contextWindow is how many recent messages ground a draft
const contextWindow = 10

// Drafter generates reply drafts for conversations flagged as needing
// a reply. Drafts land in pending_review; sending is a separate,
// owner-approved step.
type Drafter struct {
	llm           Completer
	conversations ConversationStore
	drafts        DraftStore
	workspaces    WorkspaceStore
	sender        ReplySender
	metrics       *metrics.Metrics
}

// NewDrafter creates the draft generator. sender may be nil when no
// outbound transport is configured; SendDraft then returns an error.
func NewDrafter(llm Completer, conversations ConversationStore, drafts DraftStore, workspaces WorkspaceStore, sender ReplySender, m *metrics.Metrics) *Drafter {
	return &Drafter{
		llm:           llm,
		conversations: conversations,
		drafts:        drafts,
		workspaces:    workspaces,
		sender:        sender,
		metrics:       m,
	}
}

// Process generates one draft for the conversation in the payload
func (s *Drafter) Process(ctx context.Context, workspaceID string, p job.DraftPayload) error {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return err
	}
	if !ws.AutoDraft {
		logrus.Infof("Auto-draft disabled for workspace %s, skipping", workspaceID)
		return nil
	}

	conv, err := s.conversations.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	history, err := s.conversations.RecentMessages(ctx, conv.ID, contextWindow)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		logrus.Warnf("Conversation %s has no messages, nothing to draft", conv.ID)
		return nil
	}

	last := history[len(history)-1]
	if last.Direction == model.DirectionOutbound {
		// Owner already replied since the triage decision.
		return nil
	}

	body, err := s.generate(ctx, ws, conv, history)
	if err != nil {
		return err
	}

	draft := &model.Draft{
		ID:             uuid.New().String(),
		WorkspaceID:    workspaceID,
		ConversationID: conv.ID,
		Body:           body,
		Status:         model.DraftPendingReview,
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		return err
	}
	logrus.Infof("Drafted reply %s for conversation %s", draft.ID, conv.ID)
	return nil
}

func (s *Drafter) generate(ctx context.Context, ws *model.Workspace, conv *model.Conversation, history []model.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Write a reply to the latest customer email in this thread, on behalf of the business owner. ")
	if ws.VoiceProfile != nil && *ws.VoiceProfile != "" {
		fmt.Fprintf(&b, "Match this writing style: %s ", *ws.VoiceProfile)
	}
	if ws.BusinessType != "" {
		fmt.Fprintf(&b, "The business: %s. ", ws.BusinessType)
	}
	b.WriteString(`Respond with only a JSON object {"body":"..."}.` + "\n\nThread:\n")
	for _, m := range history {
		role := "Customer"
		if m.Direction == model.DirectionOutbound {
			role = "Owner"
		}
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", role, m.Subject, truncateBody(m.Body, 1500))
	}

	s.metrics.LLMCalls.Inc()
	content, err := s.llm.Complete(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("draft generation call failed: %w", err)
	}

	var out struct {
		Body string `json:"body"`
	}
	res, err := llm.ExtractObject(content, &out)
	if res == llm.ParsedSalvaged && err == nil {
		s.metrics.LLMParseSalvages.Inc()
	}
	if err != nil || out.Body == "" {
		s.metrics.LLMParseFailures.Inc()
		fallback := strings.TrimSpace(content)
		if fallback == "" {
			return "", fmt.Errorf("draft generation produced no usable body")
		}
		return fallback, nil
	}
	return out.Body, nil
}

// SendDraft delivers an approved draft as a threaded reply and marks it
// sent
func (s *Drafter) SendDraft(ctx context.Context, draftID string) error {
	if s.sender == nil {
		return fmt.Errorf("no outbound transport configured")
	}

	draft, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		return err
	}
	if draft.Status == model.DraftSent {
		return fmt.Errorf("draft %s already sent", draftID)
	}

	ws, err := s.workspaces.GetByID(ctx, draft.WorkspaceID)
	if err != nil {
		return err
	}
	conv, err := s.conversations.GetConversation(ctx, draft.ConversationID)
	if err != nil {
		return err
	}
	history, err := s.conversations.RecentMessages(ctx, conv.ID, contextWindow)
	if err != nil {
		return err
	}

	to := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Direction == model.DirectionInbound {
			to = history[i].FromAddress
			break
		}
	}
	if to == "" {
		return fmt.Errorf("conversation %s has no inbound sender to reply to", conv.ID)
	}

	subject := conv.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	if err := s.sender.SendReply(ctx, ws.OwnerEmail, to, subject, draft.Body, conv.ExternalThreadID); err != nil {
		return fmt.Errorf("failed to send draft %s: %w", draftID, err)
	}
	return s.drafts.MarkSent(ctx, draftID)
}
