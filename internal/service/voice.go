package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mailflow-go/internal/config"
	"mailflow-go/internal/llm"
	"mailflow-go/internal/metrics"
)

// VoiceService distills a writing-style profile from the owner's sent
// mail. The profile feeds draft generation so replies sound like the
// owner, not like a bot.
type VoiceService struct {
	cfg        *config.PipelineConfig
	llm        Completer
	staging    StagingStore
	workspaces WorkspaceStore
	metrics    *metrics.Metrics
}

// NewVoiceService creates the voice-profile learner
func NewVoiceService(cfg *config.PipelineConfig, llm Completer, staging StagingStore, workspaces WorkspaceStore, m *metrics.Metrics) *VoiceService {
	return &VoiceService{
		cfg:        cfg,
		llm:        llm,
		staging:    staging,
		workspaces: workspaces,
		metrics:    m,
	}
}

// Process learns the voice profile from classified outbound mail. With
// nothing to learn from it exits quietly; drafting falls back to a
// neutral tone.
func (s *VoiceService) Process(ctx context.Context, workspaceID string) error {
	rows, err := s.staging.FetchOutboundClassified(ctx, workspaceID, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		logrus.Infof("No outbound mail to learn voice from for workspace %s", workspaceID)
		return nil
	}

	var b strings.Builder
	b.WriteString("Below are emails a business owner wrote to customers. ")
	b.WriteString("Describe their writing style so another writer could imitate it: tone, greeting and sign-off habits, typical length, formality. ")
	b.WriteString(`Respond with only a JSON object {"profile":"..."}.` + "\n\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "--- Email %d ---\nSubject: %s\n%s\n\n", i+1, row.Subject, truncateBody(row.RawBody, 1200))
	}

	s.metrics.LLMCalls.Inc()
	content, err := s.llm.Complete(ctx, b.String())
	if err != nil {
		return fmt.Errorf("voice learning call failed: %w", err)
	}

	var out struct {
		Profile string `json:"profile"`
	}
	res, err := llm.ExtractObject(content, &out)
	if res == llm.ParsedSalvaged && err == nil {
		s.metrics.LLMParseSalvages.Inc()
	}
	if err != nil || out.Profile == "" {
		s.metrics.LLMParseFailures.Inc()
		// Unstructured but non-empty output is still a usable profile.
		fallback := strings.TrimSpace(content)
		if fallback == "" {
			return fmt.Errorf("voice learning produced no usable profile")
		}
		out.Profile = fallback
	}

	if err := s.workspaces.SetVoiceProfile(ctx, workspaceID, out.Profile); err != nil {
		return err
	}
	logrus.Infof("Learned voice profile for workspace %s from %d emails", workspaceID, len(rows))
	return nil
}

func truncateBody(body string, max int) string {
	return truncateUTF8(strings.TrimSpace(body), max)
}
