package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/job"
	"mailflow-go/internal/llm"
	"mailflow-go/internal/metrics"
	"mailflow-go/internal/model"
)

// Categories the classifier recognizes. The LLM may produce others;
// policy only keys off the ones below.
const (
	CategoryCustomerInquiry = "customer_inquiry"
	CategoryNotification    = "notification"
	CategorySpam            = "spam"
	CategoryUnknown         = "unknown"
)

// Confidence below this threshold flags a row for human review instead
// of being silently trusted
const reviewThreshold = 0.6

// updateGroupSize bounds the parallel classification writebacks per
// chunk
const updateGroupSize = 50

// Classifier drains unclassified staging rows chunk by chunk. Known
// senders are classified deterministically by rule; the rest go through
// one batched LLM call per chunk. The chunk re-enqueues itself while
// rows remain.
type Classifier struct {
	cfg     *config.PipelineConfig
	llm     Completer
	staging StagingStore
	rules   SenderRuleStore
	jobs    ImportJobStore
	queue   Enqueuer
	metrics *metrics.Metrics
}

// NewClassifier creates the bulk classifier
func NewClassifier(cfg *config.PipelineConfig, llm Completer, staging StagingStore, rules SenderRuleStore, jobs ImportJobStore, queue Enqueuer, m *metrics.Metrics) *Classifier {
	return &Classifier{
		cfg:     cfg,
		llm:     llm,
		staging: staging,
		rules:   rules,
		jobs:    jobs,
		queue:   queue,
		metrics: m,
	}
}

// Classification is one email's parsed LLM verdict, mapped back to its
// chunk row by Index
type Classification struct {
	Index         int                    `json:"index"`
	Category      string                 `json:"category"`
	RequiresReply bool                   `json:"requires_reply"`
	Confidence    float64                `json:"confidence"`
	Entities      map[string]interface{} `json:"entities,omitempty"`
}

// ParseClassifications decodes a classification array from raw model
// output, tolerating fences and surrounding prose
func ParseClassifications(content string) ([]Classification, bool, error) {
	var results []Classification
	res, err := llm.ExtractArray(content, &results)
	return results, res == llm.ParsedSalvaged, err
}

// Process classifies one chunk and relays until the staging table is
// drained
func (s *Classifier) Process(ctx context.Context, workspaceID string, p job.ClassifyPayload) error {
	rows, err := s.staging.FetchUnclassified(ctx, workspaceID, s.cfg.ChunkSize)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		return s.completeStage(ctx, workspaceID, p)
	}

	rules, err := s.rules.ListEnabled(ctx, workspaceID)
	if err != nil {
		return err
	}

	// Deterministic fast path first: rule-matched rows never touch the
	// LLM.
	var needModel []model.StagingMessage
	for i := range rows {
		if rule := MatchSenderRule(rules, rows[i].FromAddress); rule != nil {
			s.metrics.RuleMatches.Inc()
			applyRule(&rows[i], rule)
			continue
		}
		needModel = append(needModel, rows[i])
	}

	if len(needModel) > 0 {
		s.classifyWithModel(ctx, workspaceID, needModel)
		// merge model results back; needModel holds copies
		byID := make(map[string]*model.StagingMessage, len(needModel))
		for i := range needModel {
			byID[needModel[i].ID] = &needModel[i]
		}
		for i := range rows {
			if updated, ok := byID[rows[i].ID]; ok {
				rows[i] = *updated
			}
		}
	}

	s.writeBack(ctx, rows)

	remaining, err := s.staging.CountUnclassified(ctx, workspaceID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		payload, err := job.Encode(job.KindClassify, workspaceID, p)
		if err != nil {
			return err
		}
		if err := s.queue.Send(ctx, job.KindClassify.Queue(), payload, 0); err != nil {
			return fmt.Errorf("failed to enqueue classify continuation: %w", err)
		}
		s.metrics.RelayHops.Inc()
		logrus.Infof("Classified chunk of %d for workspace %s, %d remaining", len(rows), workspaceID, remaining)
		return nil
	}

	return s.completeStage(ctx, workspaceID, p)
}

// classifyWithModel runs the batched LLM call for a chunk, mutating the
// rows in place. A total parse failure degrades the chunk to unknown
// rather than aborting the run.
func (s *Classifier) classifyWithModel(ctx context.Context, workspaceID string, rows []model.StagingMessage) {
	prompt := buildClassifyPrompt(rows)

	s.metrics.LLMCalls.Inc()
	content, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		logrus.Errorf("LLM classification failed for workspace %s: %v", workspaceID, err)
		markChunkUnknown(rows)
		return
	}

	results, salvaged, err := ParseClassifications(content)
	if salvaged {
		s.metrics.LLMParseSalvages.Inc()
	}
	if err != nil {
		s.metrics.LLMParseFailures.Inc()
		logrus.Errorf("Unparseable classification response for workspace %s: %v", workspaceID, err)
		markChunkUnknown(rows)
		return
	}

	byIndex := make(map[int]Classification, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}

	for i := range rows {
		r, ok := byIndex[i]
		if !ok {
			setClassification(&rows[i], CategoryUnknown, false, 0, nil, model.ProcessingNeedsReview)
			continue
		}
		applyModelResult(&rows[i], r)
	}
}

// writeBack persists classifications in bounded parallel groups
func (s *Classifier) writeBack(ctx context.Context, rows []model.StagingMessage) {
	for start := 0; start < len(rows); start += updateGroupSize {
		end := start + updateGroupSize
		if end > len(rows) {
			end = len(rows)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(row *model.StagingMessage) {
				defer wg.Done()
				if err := s.staging.UpdateClassification(ctx, row); err != nil {
					// Row stays pending and is retried on the next chunk.
					logrus.Errorf("Failed to persist classification for %s: %v", row.ID, err)
				}
			}(&rows[i])
		}
		wg.Wait()
	}
}

// completeStage marks the import job done and triggers voice learning
func (s *Classifier) completeStage(ctx context.Context, workspaceID string, p job.ClassifyPayload) error {
	if p.JobID != "" {
		imp, err := s.jobs.GetByID(ctx, p.JobID)
		if err != nil {
			return err
		}
		if imp.Status == model.ImportStatusClassifying {
			imp.Status = model.ImportStatusCompleted
			if err := s.jobs.Update(ctx, imp); err != nil {
				return err
			}
		}
	}

	logrus.Infof("Classification stage complete for workspace %s", workspaceID)

	payload, err := job.Encode(job.KindVoiceLearn, workspaceID, job.VoiceLearnPayload{})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, job.KindVoiceLearn.Queue(), payload, 0); err != nil {
		logrus.Errorf("Failed to enqueue voice learning for workspace %s: %v", workspaceID, err)
	}
	return nil
}

// Triage classifies a single webhook-ingested message and, when it
// requires a reply, queues draft generation. Single-event fast path;
// no relay involved.
func (s *Classifier) Triage(ctx context.Context, workspaceID string, p job.TriagePayload, msg *model.Message) error {
	rules, err := s.rules.ListEnabled(ctx, workspaceID)
	if err != nil {
		return err
	}

	requiresReply := false
	if rule := MatchSenderRule(rules, msg.FromAddress); rule != nil {
		s.metrics.RuleMatches.Inc()
		requiresReply = rule.RequiresReply
	} else {
		row := model.StagingMessage{
			Direction:   msg.Direction,
			FromAddress: msg.FromAddress,
			Subject:     msg.Subject,
			Snippet:     snippetOf(msg.Body),
		}
		s.metrics.LLMCalls.Inc()
		content, err := s.llm.Complete(ctx, buildClassifyPrompt([]model.StagingMessage{row}))
		if err != nil {
			logrus.Errorf("Triage LLM call failed for message %s: %v", msg.ID, err)
			return nil
		}
		results, salvaged, err := ParseClassifications(content)
		if salvaged {
			s.metrics.LLMParseSalvages.Inc()
		}
		if err != nil || len(results) == 0 {
			logrus.Warnf("Unparseable triage response for message %s", msg.ID)
			return nil
		}
		applyModelResult(&row, results[0])
		requiresReply = row.RequiresReply != nil && *row.RequiresReply
	}

	if msg.Direction == model.DirectionOutbound {
		requiresReply = false
	}

	if !requiresReply {
		return nil
	}

	payload, err := job.Encode(job.KindDraft, workspaceID, job.DraftPayload{ConversationID: p.ConversationID})
	if err != nil {
		return err
	}
	if err := s.queue.Send(ctx, job.KindDraft.Queue(), payload, 0); err != nil {
		return fmt.Errorf("failed to enqueue draft job: %w", err)
	}
	return nil
}

// MatchSenderRule returns the first enabled rule matching the sender
// address, or nil. Exact beats domain beats wildcard when several
// match.
func MatchSenderRule(rules []model.SenderRule, from string) *model.SenderRule {
	addr := strings.ToLower(strings.TrimSpace(extractAddress(from)))
	if addr == "" {
		return nil
	}

	var domainHit, wildcardHit *model.SenderRule
	for i := range rules {
		rule := &rules[i]
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		switch rule.MatchType {
		case model.MatchExact:
			if addr == pattern {
				return rule
			}
		case model.MatchDomain:
			if strings.HasSuffix(addr, "@"+strings.TrimPrefix(pattern, "@")) && domainHit == nil {
				domainHit = rule
			}
		case model.MatchWildcard:
			if wildcardMatch(pattern, addr) && wildcardHit == nil {
				wildcardHit = rule
			}
		}
	}
	if domainHit != nil {
		return domainHit
	}
	return wildcardHit
}

// extractAddress pulls the bare address out of "Name <addr>" forms
func extractAddress(from string) string {
	if start := strings.LastIndex(from, "<"); start >= 0 {
		if end := strings.LastIndex(from, ">"); end > start {
			return from[start+1 : end]
		}
	}
	return from
}

// wildcardMatch supports a single leading or trailing star
func wildcardMatch(pattern, addr string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(addr, strings.Trim(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(addr, strings.TrimPrefix(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(addr, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == addr
	}
}

// buildClassifyPrompt renders one compact line per email plus the
// response contract
func buildClassifyPrompt(rows []model.StagingMessage) string {
	var b strings.Builder
	b.WriteString("Classify each email below. Respond with only a JSON array, one object per email: ")
	b.WriteString(`{"index":<n>,"category":"customer_inquiry|notification|spam|other","requires_reply":<bool>,"confidence":<0..1>,"entities":{}}`)
	b.WriteString("\n\nEmails (index|direction|from|subject|snippet):\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "%d|%s|%s|%s|%s\n",
			i, row.Direction, sanitizeField(row.FromAddress), sanitizeField(row.Subject), sanitizeField(row.Snippet))
	}
	return b.String()
}

func sanitizeField(s string) string {
	s = strings.ReplaceAll(s, "|", " ")
	s = strings.Join(strings.Fields(s), " ")
	return truncateUTF8(s, 160)
}

func snippetOf(body string) string {
	return truncateUTF8(strings.Join(strings.Fields(body), " "), 200)
}

// truncateUTF8 caps s at max bytes, backing up to a rune boundary so a
// multi-byte character is never split
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func applyRule(row *model.StagingMessage, rule *model.SenderRule) {
	setClassification(row, rule.Category, rule.RequiresReply, 1.0, nil, model.ProcessingClassified)
	// Policy still overrides the rule for self-sent mail
	if row.Direction == model.DirectionOutbound {
		f := false
		row.RequiresReply = &f
	}
}

// applyModelResult applies the edge-case policy on top of the model's
// verdict: outbound and notification/spam mail never requires a reply,
// and low-confidence verdicts are flagged for review
func applyModelResult(row *model.StagingMessage, r Classification) {
	category := r.Category
	if category == "" {
		category = CategoryUnknown
	}

	requiresReply := r.RequiresReply
	if row.Direction == model.DirectionOutbound {
		requiresReply = false
	}
	if category == CategoryNotification || category == CategorySpam {
		requiresReply = false
	}

	status := model.ProcessingClassified
	if r.Confidence < reviewThreshold || category == CategoryUnknown {
		status = model.ProcessingNeedsReview
	}

	var entities []byte
	if len(r.Entities) > 0 {
		if b, err := json.Marshal(r.Entities); err == nil {
			entities = b
		}
	}

	setClassification(row, category, requiresReply, r.Confidence, entities, status)
}

func setClassification(row *model.StagingMessage, category string, requiresReply bool, confidence float64, entities []byte, status string) {
	row.Category = &category
	row.RequiresReply = &requiresReply
	row.Confidence = &confidence
	row.Entities = entities
	row.ProcessingStatus = status
	row.UpdatedAt = time.Now()
}

func markChunkUnknown(rows []model.StagingMessage) {
	for i := range rows {
		setClassification(&rows[i], CategoryUnknown, false, 0, nil, model.ProcessingUnknown)
	}
}
