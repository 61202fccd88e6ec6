package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/job"
	"mailflow-go/internal/llm"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

const LockNameConsolidate = "faq-consolidate"

// Hard cap on relay hops for one consolidation run. Every hop makes
// chunk progress, so a run that exceeds this is looping, not working.
const maxConsolidationRelays = 1000

// Consolidator runs the three-pass FAQ pipeline: filter competitor FAQs
// down to relevant ones, deduplicate by topic, then rewrite the
// survivors in the owner's voice. Each pass works in bounded chunks and
// carries its accumulator in a durable checkpoint row, continuing via
// the consolidate queue.
type Consolidator struct {
	cfg     *config.PipelineConfig
	llm     Completer
	faqs    FAQStore
	lock    Locker
	queue   Enqueuer
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewConsolidator creates the FAQ consolidator
func NewConsolidator(cfg *config.PipelineConfig, llm Completer, faqs FAQStore, lock Locker, queue Enqueuer, m *metrics.Metrics) *Consolidator {
	return &Consolidator{
		cfg:     cfg,
		llm:     llm,
		faqs:    faqs,
		lock:    lock,
		queue:   queue,
		metrics: m,
		now:     time.Now,
	}
}

// filterCarry accumulates competitor FAQ ids that survive the
// relevance filter
type filterCarry struct {
	KeptIDs []uint `json:"kept_ids"`
}

// adaptCarry accumulates ids still to adapt plus finished rewrites
type adaptCarry struct {
	SurvivorIDs []uint        `json:"survivor_ids"`
	Adapted     []adaptedItem `json:"adapted"`
}

type adaptedItem struct {
	SourceID uint   `json:"source_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Start creates a consolidation run and enqueues its first unit. The
// job id comes back to the caller for status polling.
func (s *Consolidator) Start(ctx context.Context, workspaceID string) (*model.ConsolidationJob, error) {
	run := &model.ConsolidationJob{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Status:      model.ConsolidationRunning,
		Phase:       model.PhaseFilter,
	}
	if err := s.faqs.CreateConsolidationJob(ctx, run); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, workspaceID, run, 0); err != nil {
		return nil, err
	}
	return run, nil
}

// Process executes bounded consolidation work under the workspace lock,
// then either relays or finishes
func (s *Consolidator) Process(ctx context.Context, workspaceID string, p job.ConsolidatePayload) error {
	acquired, err := s.lock.Acquire(ctx, workspaceID, LockNameConsolidate, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire consolidation lock: %w", err)
	}
	if !acquired {
		s.metrics.LockContention.Inc()
		logrus.Infof("Consolidation lock busy for workspace %s, dropping unit", workspaceID)
		return nil
	}
	defer func() {
		if err := s.lock.Release(ctx, workspaceID, LockNameConsolidate); err != nil {
			logrus.Errorf("Failed to release consolidation lock for workspace %s: %v", workspaceID, err)
		}
	}()

	run, err := s.faqs.GetConsolidationJob(ctx, p.JobID)
	if err != nil {
		return err
	}
	if run.Status != model.ConsolidationRunning {
		logrus.Infof("Consolidation job %s already %s, dropping unit", run.ID, run.Status)
		return nil
	}

	// The checkpoint is written before the job row, so after a crash
	// between the two writes it is the newer of the pair. Its position
	// wins: the carry already contains the output of any chunk the job
	// row has not caught up to, and re-running that chunk would append
	// its results twice.
	cp, err := s.faqs.LoadCheckpoint(ctx, run.ID)
	if err != nil {
		return err
	}
	if cp != nil {
		run.Phase = cp.Phase
		run.ChunkIndex = cp.ChunkIndex
	}

	if run.RelayDepth >= maxConsolidationRelays {
		return s.fail(ctx, run, fmt.Errorf("relay depth %d exceeded", run.RelayDepth))
	}

	started := s.now()
	for {
		done, err := s.runUnit(ctx, run)
		if err != nil {
			return s.fail(ctx, run, err)
		}
		if done {
			return s.finish(ctx, run)
		}
		if s.now().Sub(started) >= s.cfg.TimeBudget {
			return s.relay(ctx, run)
		}
	}
}

// runUnit advances the run by one chunk of the current phase. It
// returns done=true once the adapt phase has written its output.
func (s *Consolidator) runUnit(ctx context.Context, run *model.ConsolidationJob) (bool, error) {
	switch run.Phase {
	case model.PhaseFilter:
		return false, s.filterChunk(ctx, run)
	case model.PhaseDedup:
		return false, s.dedup(ctx, run)
	case model.PhaseAdapt:
		return s.adaptChunk(ctx, run)
	default:
		return false, fmt.Errorf("unknown consolidation phase %q", run.Phase)
	}
}

// filterChunk asks the model which FAQs in one chunk are relevant to
// the workspace's business. A failed call or unparseable answer keeps
// the whole chunk; filtering is an optimization, not a gate.
func (s *Consolidator) filterChunk(ctx context.Context, run *model.ConsolidationJob) error {
	rows, err := s.faqs.FetchCompetitorChunk(ctx, run.WorkspaceID, run.ChunkIndex, s.cfg.ChunkSize)
	if err != nil {
		return err
	}

	var carry filterCarry
	if err := s.loadCarry(ctx, run.ID, &carry); err != nil {
		return err
	}

	if len(rows) == 0 {
		// Input exhausted; hand the kept set to dedup.
		return s.advancePhase(ctx, run, model.PhaseDedup, carry)
	}

	kept := s.filterWithModel(ctx, rows)
	for _, r := range kept {
		carry.KeptIDs = append(carry.KeptIDs, r.ID)
	}

	run.ChunkIndex++
	return s.saveProgress(ctx, run, carry)
}

func (s *Consolidator) filterWithModel(ctx context.Context, rows []model.CompetitorFAQ) []model.CompetitorFAQ {
	var b strings.Builder
	b.WriteString("Below are FAQ entries scraped from competitor sites. ")
	b.WriteString("Identify which are generally useful customer-facing questions, dropping promotional or site-specific ones. ")
	b.WriteString(`Respond with only a JSON array of the indices to keep, e.g. [0,2,5].`)
	b.WriteString("\n\nEntries:\n")
	for i, r := range rows {
		fmt.Fprintf(&b, "%d|%s\n", i, sanitizeField(r.Question))
	}

	s.metrics.LLMCalls.Inc()
	content, err := s.llm.Complete(ctx, b.String())
	if err != nil {
		logrus.Warnf("FAQ filter call failed, keeping full chunk: %v", err)
		return rows
	}

	var indices []int
	res, err := llm.ExtractArray(content, &indices)
	if res == llm.ParsedSalvaged {
		s.metrics.LLMParseSalvages.Inc()
	}
	if err != nil {
		s.metrics.LLMParseFailures.Inc()
		logrus.Warnf("Unparseable FAQ filter response, keeping full chunk")
		return rows
	}

	var kept []model.CompetitorFAQ
	for _, idx := range indices {
		if idx >= 0 && idx < len(rows) {
			kept = append(kept, rows[idx])
		}
	}
	return kept
}

// dedup collapses the kept set by normalized question topic, keeping
// the entry with the longest answer. Deterministic, one unit, no LLM.
func (s *Consolidator) dedup(ctx context.Context, run *model.ConsolidationJob) error {
	var carry filterCarry
	if err := s.loadCarry(ctx, run.ID, &carry); err != nil {
		return err
	}

	rows, err := s.faqs.FetchCompetitorByIDs(ctx, run.WorkspaceID, carry.KeptIDs)
	if err != nil {
		return err
	}

	survivors := DedupFAQs(rows)

	next := adaptCarry{}
	for _, r := range survivors {
		next.SurvivorIDs = append(next.SurvivorIDs, r.ID)
	}

	logrus.Infof("Consolidation %s: %d kept, %d after dedup", run.ID, len(rows), len(survivors))
	return s.advancePhase(ctx, run, model.PhaseAdapt, next)
}

// DedupFAQs keeps one FAQ per normalized topic, preferring the longest
// answer. Input order breaks ties, so the result is stable.
func DedupFAQs(rows []model.CompetitorFAQ) []model.CompetitorFAQ {
	best := make(map[string]int)
	var order []string
	for i, r := range rows {
		topic := NormalizeTopic(r.Question)
		if topic == "" {
			continue
		}
		prev, seen := best[topic]
		if !seen {
			best[topic] = i
			order = append(order, topic)
			continue
		}
		if len(r.Answer) > len(rows[prev].Answer) {
			best[topic] = i
		}
	}

	out := make([]model.CompetitorFAQ, 0, len(order))
	for _, topic := range order {
		out = append(out, rows[best[topic]])
	}
	return out
}

// NormalizeTopic reduces a question to a comparable topic key:
// lowercase, punctuation stripped, filler words removed, words sorted
// is deliberately avoided so word order still distinguishes questions.
func NormalizeTopic(q string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(q) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	filler := map[string]bool{
		"a": true, "an": true, "the": true, "is": true, "are": true,
		"do": true, "does": true, "can": true, "i": true, "you": true,
		"my": true, "your": true, "to": true, "of": true, "for": true,
		"what": true, "how": true, "where": true, "when": true, "why": true,
	}

	var words []string
	for _, w := range strings.Fields(b.String()) {
		if !filler[w] {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

// adaptChunk rewrites one chunk of survivors in the owner's voice,
// skipping topics the owner already answers. The final chunk writes the
// accumulated output in one replace.
func (s *Consolidator) adaptChunk(ctx context.Context, run *model.ConsolidationJob) (bool, error) {
	var carry adaptCarry
	if err := s.loadCarry(ctx, run.ID, &carry); err != nil {
		return false, err
	}

	start := run.ChunkIndex * s.cfg.ChunkSize
	if start >= len(carry.SurvivorIDs) {
		// All chunks adapted; materialize the run's output.
		rows := make([]model.AdaptedFAQ, 0, len(carry.Adapted))
		for _, a := range carry.Adapted {
			rows = append(rows, model.AdaptedFAQ{
				WorkspaceID: run.WorkspaceID,
				Question:    a.Question,
				Answer:      a.Answer,
				SourceFAQID: a.SourceID,
			})
		}
		if err := s.faqs.ReplaceAdapted(ctx, run.WorkspaceID, rows); err != nil {
			return false, err
		}
		return true, nil
	}

	end := start + s.cfg.ChunkSize
	if end > len(carry.SurvivorIDs) {
		end = len(carry.SurvivorIDs)
	}

	rows, err := s.faqs.FetchCompetitorByIDs(ctx, run.WorkspaceID, carry.SurvivorIDs[start:end])
	if err != nil {
		return false, err
	}

	owned, err := s.ownerTopics(ctx, run.WorkspaceID)
	if err != nil {
		return false, err
	}

	for _, r := range rows {
		if owned[NormalizeTopic(r.Question)] {
			continue
		}
		item, err := s.adaptOne(ctx, r)
		if err != nil {
			logrus.Warnf("Failed to adapt FAQ %d, keeping original text: %v", r.ID, err)
			item = adaptedItem{SourceID: r.ID, Question: r.Question, Answer: r.Answer}
		}
		carry.Adapted = append(carry.Adapted, item)
	}

	run.ChunkIndex++
	return false, s.saveProgress(ctx, run, carry)
}

func (s *Consolidator) ownerTopics(ctx context.Context, workspaceID string) (map[string]bool, error) {
	owner, err := s.faqs.ListOwnerFAQs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	topics := make(map[string]bool, len(owner))
	for _, o := range owner {
		topics[NormalizeTopic(o.Question)] = true
	}
	return topics, nil
}

func (s *Consolidator) adaptOne(ctx context.Context, faq model.CompetitorFAQ) (adaptedItem, error) {
	prompt := fmt.Sprintf(
		"Rewrite this FAQ as if the business owner wrote it, in a friendly first-person voice. "+
			"Respond with only a JSON object {\"question\":\"...\",\"answer\":\"...\"}.\n\nQ: %s\nA: %s",
		faq.Question, faq.Answer)

	s.metrics.LLMCalls.Inc()
	content, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return adaptedItem{}, err
	}

	var out struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	res, err := llm.ExtractObject(content, &out)
	if res == llm.ParsedSalvaged && err == nil {
		s.metrics.LLMParseSalvages.Inc()
	}
	if err != nil {
		s.metrics.LLMParseFailures.Inc()
		return adaptedItem{}, err
	}
	if out.Question == "" || out.Answer == "" {
		return adaptedItem{}, fmt.Errorf("adapted FAQ missing question or answer")
	}
	return adaptedItem{SourceID: faq.ID, Question: out.Question, Answer: out.Answer}, nil
}

// loadCarry decodes the durable accumulator, leaving the zero value
// when no checkpoint exists yet
func (s *Consolidator) loadCarry(ctx context.Context, jobID string, out interface{}) error {
	cp, err := s.faqs.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return err
	}
	if cp == nil || len(cp.Carried) == 0 {
		return nil
	}
	if err := json.Unmarshal(cp.Carried, out); err != nil {
		return fmt.Errorf("corrupt consolidation checkpoint for job %s: %w", jobID, err)
	}
	return nil
}

// saveProgress persists the accumulator and job row together. The
// checkpoint write comes first and carries its own phase and chunk
// index; Process treats that position as authoritative on resume, so a
// crash between the two writes neither loses a chunk nor repeats one.
func (s *Consolidator) saveProgress(ctx context.Context, run *model.ConsolidationJob, carry interface{}) error {
	data, err := json.Marshal(carry)
	if err != nil {
		return fmt.Errorf("failed to encode consolidation carry: %w", err)
	}
	if err := s.faqs.SaveCheckpoint(ctx, &model.ConsolidationCheckpoint{
		JobID:      run.ID,
		Phase:      run.Phase,
		ChunkIndex: run.ChunkIndex,
		Carried:    data,
	}); err != nil {
		return err
	}
	return s.faqs.UpdateConsolidationJob(ctx, run)
}

func (s *Consolidator) advancePhase(ctx context.Context, run *model.ConsolidationJob, next model.ConsolidationPhase, carry interface{}) error {
	run.Phase = next
	run.ChunkIndex = 0
	return s.saveProgress(ctx, run, carry)
}

func (s *Consolidator) relay(ctx context.Context, run *model.ConsolidationJob) error {
	run.RelayDepth++
	if err := s.faqs.UpdateConsolidationJob(ctx, run); err != nil {
		return err
	}
	if err := s.enqueue(ctx, run.WorkspaceID, run, 0); err != nil {
		return err
	}
	s.metrics.RelayHops.Inc()
	logrus.Infof("Consolidation %s relayed at phase %s chunk %d", run.ID, run.Phase, run.ChunkIndex)
	return nil
}

func (s *Consolidator) enqueue(ctx context.Context, workspaceID string, run *model.ConsolidationJob, delay time.Duration) error {
	payload, err := job.Encode(job.KindConsolidate, workspaceID, job.ConsolidatePayload{
		JobID:      run.ID,
		Phase:      run.Phase,
		ChunkIndex: run.ChunkIndex,
	})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, job.KindConsolidate.Queue(), payload, delay); err != nil {
		return fmt.Errorf("failed to enqueue consolidation unit: %w", err)
	}
	return nil
}

func (s *Consolidator) finish(ctx context.Context, run *model.ConsolidationJob) error {
	run.Status = model.ConsolidationCompleted
	if err := s.faqs.UpdateConsolidationJob(ctx, run); err != nil {
		return err
	}
	if err := s.faqs.DeleteCheckpoint(ctx, run.ID); err != nil {
		logrus.Errorf("Failed to delete checkpoint for finished job %s: %v", run.ID, err)
	}
	logrus.Infof("Consolidation %s completed for workspace %s", run.ID, run.WorkspaceID)
	return nil
}

func (s *Consolidator) fail(ctx context.Context, run *model.ConsolidationJob, cause error) error {
	msg := cause.Error()
	run.Status = model.ConsolidationError
	run.LastError = &msg
	if err := s.faqs.UpdateConsolidationJob(ctx, run); err != nil {
		logrus.Errorf("Failed to mark consolidation job %s as errored: %v", run.ID, err)
	}
	logrus.Errorf("Consolidation %s failed: %v", run.ID, cause)
	return nil
}
