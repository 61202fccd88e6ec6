package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailflow-go/internal/mailbox"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

// Counters register globally, so all tests in this package share one
// instance.
var testMetrics = metrics.NewMetrics()

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	busy     bool
	acquires int
	releases int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(ctx context.Context, workspaceID, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false, nil
	}
	l.acquires++
	l.held[workspaceID+"/"+name] = true
	return true, nil
}

func (l *fakeLocker) Release(ctx context.Context, workspaceID, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	delete(l.held, workspaceID+"/"+name)
	return nil
}

type sentMessage struct {
	queue   string
	payload []byte
	delay   time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []sentMessage
	fail error
}

func (q *fakeQueue) Send(ctx context.Context, queue string, payload []byte, delay time.Duration) error {
	if q.fail != nil {
		return q.fail
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, sentMessage{queue: queue, payload: payload, delay: delay})
	return nil
}

func (q *fakeQueue) sentTo(queue string) []sentMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []sentMessage
	for _, m := range q.sent {
		if m.queue == queue {
			out = append(out, m)
		}
	}
	return out
}

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.ImportJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.ImportJob)}
}

func (s *fakeJobStore) GetByID(ctx context.Context, id string) (*model.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	imp, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("import job %s not found", id)
	}
	cp := *imp
	return &cp, nil
}

func (s *fakeJobStore) GetActive(ctx context.Context, workspaceID string) (*model.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, imp := range s.jobs {
		if imp.WorkspaceID == workspaceID && !imp.Status.Terminal() {
			cp := *imp
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) Create(ctx context.Context, imp *model.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *imp
	s.jobs[imp.ID] = &cp
	return nil
}

func (s *fakeJobStore) Update(ctx context.Context, imp *model.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *imp
	s.jobs[imp.ID] = &cp
	return nil
}

type fakeStaging struct {
	mu   sync.Mutex
	rows map[string]*model.StagingMessage // keyed by workspace/external id
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{rows: make(map[string]*model.StagingMessage)}
}

func stagingKey(workspaceID, externalID string) string {
	return workspaceID + "/" + externalID
}

func (s *fakeStaging) UpsertBatch(ctx context.Context, rows []model.StagingMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for i := range rows {
		key := stagingKey(rows[i].WorkspaceID, rows[i].ExternalID)
		if _, exists := s.rows[key]; exists {
			continue
		}
		cp := rows[i]
		s.rows[key] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *fakeStaging) CountByDirection(ctx context.Context, workspaceID string, since time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inbound, outbound int64
	for _, row := range s.rows {
		if row.WorkspaceID != workspaceID {
			continue
		}
		if !since.IsZero() && row.CreatedAt.Before(since) {
			continue
		}
		if row.Direction == model.DirectionInbound {
			inbound++
		} else {
			outbound++
		}
	}
	return inbound, outbound, nil
}

func (s *fakeStaging) FetchUnclassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StagingMessage
	for _, row := range s.rows {
		if row.WorkspaceID == workspaceID && row.ProcessingStatus == model.ProcessingPending {
			out = append(out, *row)
		}
	}
	// Stable order so chunk indices are predictable in tests.
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStaging) CountUnclassified(ctx context.Context, workspaceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.WorkspaceID == workspaceID && row.ProcessingStatus == model.ProcessingPending {
			n++
		}
	}
	return n, nil
}

func (s *fakeStaging) UpdateClassification(ctx context.Context, row *model.StagingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.rows[stagingKey(row.WorkspaceID, row.ExternalID)] = &cp
	return nil
}

func (s *fakeStaging) FetchOutboundClassified(ctx context.Context, workspaceID string, limit int) ([]model.StagingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.StagingMessage
	for _, row := range s.rows {
		if row.WorkspaceID == workspaceID &&
			row.Direction == model.DirectionOutbound &&
			row.ProcessingStatus == model.ProcessingClassified {
			out = append(out, *row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// fakeMailbox serves pre-built pages keyed by folder and page token
type fakeMailbox struct {
	mu    sync.Mutex
	pages map[string]*mailbox.Page // keyed by folder/token
	errs  map[string]error
	calls []string
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		pages: make(map[string]*mailbox.Page),
		errs:  make(map[string]error),
	}
}

func pageKey(folder model.Folder, token string) string {
	return string(folder) + "/" + token
}

func (m *fakeMailbox) addPage(folder model.Folder, token string, page *mailbox.Page) {
	m.pages[pageKey(folder, token)] = page
}

func (m *fakeMailbox) failPage(folder model.Folder, token string, err error) {
	m.errs[pageKey(folder, token)] = err
}

func (m *fakeMailbox) ListMessages(ctx context.Context, folder model.Folder, limit int, pageToken string) (*mailbox.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pageKey(folder, pageToken)
	m.calls = append(m.calls, key)
	if err, ok := m.errs[key]; ok {
		return nil, err
	}
	page, ok := m.pages[key]
	if !ok {
		return &mailbox.Page{}, nil
	}
	return page, nil
}

func (m *fakeMailbox) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	return nil, fmt.Errorf("message %s not found", id)
}

func (m *fakeMailbox) Close() error { return nil }

// fakeCompleter replays canned responses in order, then repeats the
// last one
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", fmt.Errorf("no canned response")
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

type fakeRuleStore struct {
	rules []model.SenderRule
}

func (s *fakeRuleStore) ListEnabled(ctx context.Context, workspaceID string) ([]model.SenderRule, error) {
	return s.rules, nil
}

type fakeWorkspaceStore struct {
	mu         sync.Mutex
	workspaces map[string]*model.Workspace
	profiles   map[string]string
}

func newFakeWorkspaceStore() *fakeWorkspaceStore {
	return &fakeWorkspaceStore{
		workspaces: make(map[string]*model.Workspace),
		profiles:   make(map[string]string),
	}
}

func (s *fakeWorkspaceStore) GetByID(ctx context.Context, id string) (*model.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s not found", id)
	}
	cp := *ws
	return &cp, nil
}

func (s *fakeWorkspaceStore) SetVoiceProfile(ctx context.Context, id, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = profile
	return nil
}
