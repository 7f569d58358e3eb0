package kb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/cache"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
)

const refundsDoc = "Refunds are issued to the original payment method within five business days. " +
	"Store credit is available immediately when you choose it at checkout. " +
	"Items returned after the 30 day return window are not eligible for a refund. " +
	"Gift purchases can be exchanged for store credit with a receipt."

func TestCreateKnowledgeBaseEnsuresCollection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	kb, err := env.svc.CreateKnowledgeBase(ctx, CreateParams{Name: "  Support Docs  ", Description: "faqs"})
	require.NoError(t, err)

	assert.NotEmpty(t, kb.ID)
	assert.Equal(t, "Support Docs", kb.Name)
	assert.Equal(t, "hybrid", kb.RAGType)
	assert.Equal(t, env.cfg.ChunkSize, kb.ChunkSize)
	assert.Equal(t, env.cfg.ChunkOverlap, kb.ChunkOverlap)
	assert.True(t, kb.IsActive)

	dim, ok := env.index.ensuredDim("kb-" + kb.ID)
	require.True(t, ok, "collection was not created")
	assert.Equal(t, 4, dim)

	stored, err := env.svc.GetKnowledgeBase(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.Name, stored.Name)
}

func TestCreateKnowledgeBaseRejectsUnknownStrategy(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreateKnowledgeBase(context.Background(), CreateParams{Name: "X", RAGType: "quantum"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rag type")

	bases, err := env.svc.ListKnowledgeBases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bases)
}

func TestCreateKnowledgeBaseRollsBackWhenCollectionFails(t *testing.T) {
	env := newTestEnv(t)
	env.index.failEnsure = true

	_, err := env.svc.CreateKnowledgeBase(context.Background(), CreateParams{Name: "Support"})
	require.Error(t, err)

	bases, err := env.svc.ListKnowledgeBases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bases, "row should be rolled back when the collection cannot be created")
}

func TestUploadDocumentPersistsNormalizedText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")

	doc, err := env.svc.UploadDocument(ctx, UploadParams{
		KnowledgeBaseID: kb.ID,
		Filename:        "Refund Policy.txt",
		Data:            []byte("﻿Refunds take 5 days.\r\nContact support."),
		Metadata:        map[string]interface{}{"team": "billing"},
	})
	require.NoError(t, err)

	assert.Equal(t, store.StatusUploaded, doc.Status)
	assert.Equal(t, "Refunds take 5 days.\nContact support.", doc.Content)
	assert.Equal(t, "Refund_Policy.txt", doc.Source)
	assert.Equal(t, ".txt", doc.Extension)
	assert.Equal(t, "Refund_Policy", doc.Title)

	stored, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUploaded, stored.Status)
	assert.Equal(t, "billing", stored.Metadata["team"])
}

func TestUploadDocumentKeepsExplicitTitle(t *testing.T) {
	env := newTestEnv(t)
	kb := env.createKB(t, "Support")

	doc, err := env.svc.UploadDocument(context.Background(), UploadParams{
		KnowledgeBaseID: kb.ID,
		Filename:        "notes.txt",
		Title:           "Escalation Runbook",
		Data:            []byte("page ops before retrying"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Escalation Runbook", doc.Title)
}

func TestUploadDocumentRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")

	_, err := env.svc.UploadDocument(ctx, UploadParams{
		KnowledgeBaseID: kb.ID,
		Filename:        "tool.exe",
		Data:            []byte("MZ fake binary"),
	})
	assert.ErrorIs(t, err, ErrUploadRejected)

	_, err = env.svc.UploadDocument(ctx, UploadParams{
		KnowledgeBaseID: kb.ID,
		Filename:        "notes.txt",
		Data:            []byte{0xff, 0xfe, 0x00},
	})
	assert.ErrorIs(t, err, ErrUploadRejected)

	_, err = env.svc.UploadDocument(ctx, UploadParams{
		KnowledgeBaseID: "ghost",
		Filename:        "notes.txt",
		Data:            []byte("hello"),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)

	processed, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, processed.Status)

	chunks, err := env.svc.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2, "document should split into multiple chunks")
	for i, ch := range chunks {
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Content)
	}

	assert.Equal(t, len(chunks), env.index.count("kb-"+kb.ID), "every chunk should be in the vector index")
	assert.Equal(t, uint64(len(chunks)), env.keyword.Count(), "every chunk should be in the keyword index")
}

func TestProcessDocumentMarkdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Guides")
	doc := env.uploadText(t, kb.ID, "setup.md", "# Setup\n\nInstall the agent first.\n\n## Configure\n\nSet the endpoint in config.yaml before starting.\n")

	processed, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessed, processed.Status)

	chunks, err := env.svc.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestProcessDocumentEmbedFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc+" The poisonberry clause voids everything.")

	env.embedder.failContains = "poisonberry"

	_, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.Error(t, err)

	stored, gerr := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, store.StatusFailed, stored.Status, "terminal status must be persisted on failure")

	chunks, cerr := env.svc.GetChunks(ctx, doc.ID)
	require.NoError(t, cerr)
	assert.Empty(t, chunks, "chunk rows are only written after a full pipeline pass")
}

func TestProcessDocumentMissing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ProcessDocument(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteDocumentRemovesEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)
	_, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteDocument(ctx, doc.ID))

	_, err = env.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, env.index.count("kb-"+kb.ID))
	assert.Zero(t, env.keyword.Count())
	assert.Contains(t, env.index.deletes, doc.ID)
}

func TestDeleteDocumentSurvivesIndexFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)
	_, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	env.index.failDelete = true

	require.NoError(t, env.svc.DeleteDocument(ctx, doc.ID), "row delete must proceed past index failures")
	_, err = env.store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryAnswersFromCorpus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)
	_, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	env.llm.responses = []string{"Returns are accepted within 30 days of purchase."}

	res, err := env.svc.Query(ctx, kb.ID, "How long is the return window?", 2)
	require.NoError(t, err)

	assert.Equal(t, "Support", res.KnowledgeBase)
	assert.Equal(t, "How long is the return window?", res.Query)
	assert.Equal(t, "Returns are accepted within 30 days of purchase.", res.Response)

	prompts := env.llm.seenPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "not eligible for a refund",
		"the chunk matching the query terms should be in the synthesis context")
}

func TestQueryContextBoundedByLimitAndBase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	support := env.createKB(t, "Support")
	legal := env.createKB(t, "Legal")

	// Three sentences sized so the 160/16 chunker yields one chunk per
	// sentence, each carrying a marker word outside the overlap tails.
	tiers := "The cobalt tier includes a thirty day refund window which begins on the original purchase date and needs no approval. " +
		"The marigold tier extends the refund window to sixty days but requires a short review by the support desk first. " +
		"The juniper tier is final sale and offers store credit only, issued within five business days of the request."
	doc := env.uploadText(t, support.ID, "tiers.txt", tiers)
	_, err := env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, 3, env.index.count("kb-"+support.ID))

	decoy := env.uploadText(t, legal.ID, "filings.txt",
		"Trademark filings are renewed every ten years through the velvet registry portal.")
	_, err = env.svc.ProcessDocument(ctx, decoy.ID)
	require.NoError(t, err)

	env.llm.responses = []string{"It depends on the tier."}

	res, err := env.svc.Query(ctx, support.ID, "How long is the refund window?", 2)
	require.NoError(t, err)
	assert.Equal(t, "It depends on the tier.", res.Response)

	prompts := env.llm.seenPrompts()
	require.Len(t, prompts, 1)

	seen := 0
	for _, marker := range []string{"cobalt", "marigold", "juniper"} {
		if strings.Contains(prompts[0], marker) {
			seen++
		}
	}
	assert.Equal(t, 2, seen, "the context must hold exactly the top two passages")
	assert.NotContains(t, prompts[0], "velvet", "passages must come from the queried base only")
}

func TestQueryValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Query(ctx, "ghost", "hello", 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	kb := env.createKB(t, "Support")
	_, err = env.svc.Query(ctx, kb.ID, "   ", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}

func TestQueryCachesAnswers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	answers, err := cache.New(1<<20, time.Minute, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = answers.Close() })

	env := newTestEnv(t, func(d *Deps) { d.Answers = answers })
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	doc := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)
	_, err = env.svc.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	env.llm.responses = []string{"Five business days."}

	first, err := env.svc.Query(ctx, kb.ID, "How fast are refunds?", 3)
	require.NoError(t, err)
	answers.Wait()

	second, err := env.svc.Query(ctx, kb.ID, "How fast are refunds?", 3)
	require.NoError(t, err)

	assert.Equal(t, first.Response, second.Response)
	assert.Len(t, env.llm.seenPrompts(), 1, "repeat query should be served from cache")

	_, err = env.svc.Query(ctx, kb.ID, "How fast are refunds?", 4)
	require.NoError(t, err)
	assert.Len(t, env.llm.seenPrompts(), 2, "a different limit is a different cache entry")
}

func TestUpdateKnowledgeBase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")

	name := "Customer Support"
	ragType := "fusion"
	updated, err := env.svc.UpdateKnowledgeBase(ctx, kb.ID, UpdateParams{Name: &name, RAGType: &ragType})
	require.NoError(t, err)
	assert.Equal(t, "Customer Support", updated.Name)
	assert.Equal(t, "fusion", updated.RAGType)

	bad := "quantum"
	_, err = env.svc.UpdateKnowledgeBase(ctx, kb.ID, UpdateParams{RAGType: &bad})
	require.Error(t, err)

	_, err = env.svc.UpdateKnowledgeBase(ctx, "ghost", UpdateParams{Name: &name})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteKnowledgeBaseCleansDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	kb := env.createKB(t, "Support")
	first := env.uploadText(t, kb.ID, "refunds.txt", refundsDoc)
	second := env.uploadText(t, kb.ID, "shipping.txt", "Orders ship within two business days. Expedited shipping is available for a fee at checkout.")
	_, err := env.svc.ProcessDocument(ctx, first.ID)
	require.NoError(t, err)
	_, err = env.svc.ProcessDocument(ctx, second.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.DeleteKnowledgeBase(ctx, kb.ID))

	_, err = env.svc.GetKnowledgeBase(ctx, kb.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	docs, err := env.svc.ListDocuments(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Zero(t, env.index.count("kb-"+kb.ID))
	assert.Zero(t, env.keyword.Count())
}

func TestRetrievalToolsBuildsPerActiveKB(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	billing := env.createKB(t, "Billing Docs")
	legacy := env.createKB(t, "Legacy Docs")

	inactive := false
	_, err := env.svc.UpdateKnowledgeBase(ctx, legacy.ID, UpdateParams{IsActive: &inactive})
	require.NoError(t, err)

	active, err := env.svc.RetrievalTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, active, 1, "inactive bases are excluded from the default roster")
	assert.Equal(t, tools.RetrievalToolName(billing.Name), active[0].Name)
	assert.Contains(t, active[0].Description, "Billing Docs")

	explicit, err := env.svc.RetrievalTools(ctx, []string{legacy.ID, "ghost"})
	require.NoError(t, err)
	require.Len(t, explicit, 1, "unknown ids are skipped")
	assert.Equal(t, tools.RetrievalToolName(legacy.Name), explicit[0].Name)
}
