package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow-go/internal/model"
)

func TestVoiceLearningStoresProfile(t *testing.T) {
	staging := newFakeStaging()
	_, err := staging.UpsertBatch(context.Background(), []model.StagingMessage{
		{ID: "1", WorkspaceID: "ws-1", ExternalID: "s1", Direction: model.DirectionOutbound,
			ProcessingStatus: model.ProcessingClassified, Subject: "re: order", RawBody: "Hi! Thanks for reaching out. Best, Sam"},
	})
	require.NoError(t, err)

	workspaces := newFakeWorkspaceStore()
	llm := &fakeCompleter{responses: []string{`{"profile":"Friendly, brief, signs off as Sam."}`}}

	svc := NewVoiceService(importerConfig(), llm, staging, workspaces, testMetrics)
	require.NoError(t, svc.Process(context.Background(), "ws-1"))

	assert.Equal(t, "Friendly, brief, signs off as Sam.", workspaces.profiles["ws-1"])
}

func TestVoiceLearningNoOutboundMailIsNoop(t *testing.T) {
	workspaces := newFakeWorkspaceStore()
	llm := &fakeCompleter{}

	svc := NewVoiceService(importerConfig(), llm, newFakeStaging(), workspaces, testMetrics)
	require.NoError(t, svc.Process(context.Background(), "ws-1"))

	assert.Empty(t, workspaces.profiles)
	assert.Empty(t, llm.prompts)
}

func TestVoiceLearningUnstructuredResponseStillUsable(t *testing.T) {
	staging := newFakeStaging()
	_, err := staging.UpsertBatch(context.Background(), []model.StagingMessage{
		{ID: "1", WorkspaceID: "ws-1", ExternalID: "s1", Direction: model.DirectionOutbound,
			ProcessingStatus: model.ProcessingClassified, RawBody: "Cheers, Sam"},
	})
	require.NoError(t, err)

	workspaces := newFakeWorkspaceStore()
	llm := &fakeCompleter{responses: []string{"The owner writes casually and signs off with Cheers."}}

	svc := NewVoiceService(importerConfig(), llm, staging, workspaces, testMetrics)
	require.NoError(t, svc.Process(context.Background(), "ws-1"))

	assert.Contains(t, workspaces.profiles["ws-1"], "casually")
}
