package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow-go/internal/job"
	"mailflow-go/internal/model"
)

type fakeConversationReader struct {
	*fakeConversations
	convByID map[string]*model.Conversation
	history  map[string][]model.Message
}

func newFakeConversationReader() *fakeConversationReader {
	return &fakeConversationReader{
		fakeConversations: newFakeConversations(),
		convByID:          make(map[string]*model.Conversation),
		history:           make(map[string][]model.Message),
	}
}

func (f *fakeConversationReader) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, ok := f.convByID[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return c, nil
}

func (f *fakeConversationReader) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return f.history[conversationID], nil
}

func (f *fakeConversationReader) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return nil, fmt.Errorf("message %s not found", id)
}

type fakeDraftStore struct {
	mu     sync.Mutex
	drafts map[string]*model.Draft
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{drafts: make(map[string]*model.Draft)}
}

func (s *fakeDraftStore) Create(ctx context.Context, draft *model.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *draft
	s.drafts[draft.ID] = &cp
	return nil
}

func (s *fakeDraftStore) GetByID(ctx context.Context, id string) (*model.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *fakeDraftStore) MarkSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[id]; ok {
		d.Status = model.DraftSent
	}
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	to    []string
	fail  error
	calls int
}

func (s *fakeSender) SendReply(ctx context.Context, from, to, subject, body, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, body)
	s.to = append(s.to, to)
	return nil
}

func draftFixture(t *testing.T) (*fakeConversationReader, *fakeWorkspaceStore) {
	t.Helper()
	convs := newFakeConversationReader()
	convs.convByID["conv-1"] = &model.Conversation{
		ID:               "conv-1",
		WorkspaceID:      "ws-1",
		ExternalThreadID: "thread-1",
		Subject:          "Order status",
	}
	convs.history["conv-1"] = []model.Message{
		{Direction: model.DirectionInbound, FromAddress: "carol@customer.example", Subject: "Order status", Body: "Where is my order?", SentAt: time.Now()},
	}

	workspaces := newFakeWorkspaceStore()
	profile := "Warm and concise."
	workspaces.workspaces["ws-1"] = &model.Workspace{
		ID:           "ws-1",
		OwnerEmail:   "owner@biz.example",
		AutoDraft:    true,
		VoiceProfile: &profile,
	}
	return convs, workspaces
}

func TestDrafterCreatesPendingDraft(t *testing.T) {
	convs, workspaces := draftFixture(t)
	drafts := newFakeDraftStore()
	llm := &fakeCompleter{responses: []string{`{"body":"Hi Carol, your order ships tomorrow."}`}}

	d := NewDrafter(llm, convs, drafts, workspaces, nil, testMetrics)
	require.NoError(t, d.Process(context.Background(), "ws-1", job.DraftPayload{ConversationID: "conv-1"}))

	require.Len(t, drafts.drafts, 1)
	for _, draft := range drafts.drafts {
		assert.Equal(t, model.DraftPendingReview, draft.Status)
		assert.Equal(t, "Hi Carol, your order ships tomorrow.", draft.Body)
		assert.Equal(t, "conv-1", draft.ConversationID)
	}

	// The voice profile must reach the prompt.
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Warm and concise.")
}

func TestDrafterSkipsWhenAutoDraftDisabled(t *testing.T) {
	convs, workspaces := draftFixture(t)
	workspaces.workspaces["ws-1"].AutoDraft = false
	drafts := newFakeDraftStore()

	d := NewDrafter(&fakeCompleter{}, convs, drafts, workspaces, nil, testMetrics)
	require.NoError(t, d.Process(context.Background(), "ws-1", job.DraftPayload{ConversationID: "conv-1"}))
	assert.Empty(t, drafts.drafts)
}

func TestDrafterSkipsWhenOwnerAlreadyReplied(t *testing.T) {
	convs, workspaces := draftFixture(t)
	convs.history["conv-1"] = append(convs.history["conv-1"], model.Message{
		Direction: model.DirectionOutbound, FromAddress: "owner@biz.example", Body: "On its way!",
	})
	drafts := newFakeDraftStore()

	d := NewDrafter(&fakeCompleter{}, convs, drafts, workspaces, nil, testMetrics)
	require.NoError(t, d.Process(context.Background(), "ws-1", job.DraftPayload{ConversationID: "conv-1"}))
	assert.Empty(t, drafts.drafts)
}

func TestSendDraftDeliversThreadedReply(t *testing.T) {
	convs, workspaces := draftFixture(t)
	drafts := newFakeDraftStore()
	require.NoError(t, drafts.Create(context.Background(), &model.Draft{
		ID:             "draft-1",
		WorkspaceID:    "ws-1",
		ConversationID: "conv-1",
		Body:           "Your order ships tomorrow.",
		Status:         model.DraftPendingReview,
	}))

	sender := &fakeSender{}
	d := NewDrafter(&fakeCompleter{}, convs, drafts, workspaces, sender, testMetrics)
	require.NoError(t, d.SendDraft(context.Background(), "draft-1"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "carol@customer.example", sender.to[0])

	final, err := drafts.GetByID(context.Background(), "draft-1")
	require.NoError(t, err)
	assert.Equal(t, model.DraftSent, final.Status)

	// Second send is rejected.
	assert.Error(t, d.SendDraft(context.Background(), "draft-1"))
	assert.Equal(t, 1, sender.calls)
}

func TestSendDraftWithoutTransportFails(t *testing.T) {
	convs, workspaces := draftFixture(t)
	d := NewDrafter(&fakeCompleter{}, convs, newFakeDraftStore(), workspaces, nil, testMetrics)
	assert.Error(t, d.SendDraft(context.Background(), "any"))
}
