// Package kb owns knowledge bases end to end: one vector collection per
// base, document ingestion with persisted status transitions, and
// retrieval-augmented queries over the indexed corpus.
package kb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/cache"
	"github.com/knowledge-agent-core/internal/chunking"
	"github.com/knowledge-agent-core/internal/config"
	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/rag"
	"github.com/knowledge-agent-core/internal/store"
	"github.com/knowledge-agent-core/internal/tools"
	"github.com/knowledge-agent-core/internal/validation"
	"github.com/knowledge-agent-core/internal/vectorindex"
)

const defaultQueryLimit = 5

// ErrUploadRejected marks validation failures on incoming files so the
// transport layer can answer with a client error instead of a 500.
var ErrUploadRejected = errors.New("upload rejected")

// ErrInvalid marks malformed requests the service refuses outright.
var ErrInvalid = errors.New("invalid request")

// Deps bundles the collaborators the service needs. Answers, Keyword,
// Events and Uploads are optional; a nil Uploads validator is built
// from the configured size limit.
type Deps struct {
	KBs      store.KnowledgeBaseStore
	Docs     store.DocumentStore
	Index    vectorindex.Index
	Embedder embedding.Embedder
	Engines  *tools.Engines
	Answers  *cache.TwoTier
	Keyword  *tools.ChunkIndex
	Events   *Events
	Uploads  *validation.Upload
	Logger   *zap.Logger
}

// Service coordinates stores, the vector index and retrieval engines
// behind the knowledge base API.
type Service struct {
	kbs      store.KnowledgeBaseStore
	docs     store.DocumentStore
	index    vectorindex.Index
	embedder embedding.Embedder
	engines  *tools.Engines
	answers  *cache.TwoTier
	keyword  *tools.ChunkIndex
	events   *Events
	uploads  *validation.Upload
	cfg      *config.Config
	logger   *zap.Logger
}

// NewService wires the knowledge base service. cfg supplies chunking
// and upload defaults; nil falls back to config.Default().
func NewService(deps Deps, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploads := deps.Uploads
	if uploads == nil {
		uploads = validation.NewUpload(cfg.MaxUploadBytes)
	}
	return &Service{
		kbs:      deps.KBs,
		docs:     deps.Docs,
		index:    deps.Index,
		embedder: deps.Embedder,
		engines:  deps.Engines,
		answers:  deps.Answers,
		keyword:  deps.Keyword,
		events:   deps.Events,
		uploads:  uploads,
		cfg:      cfg,
		logger:   logger.Named("kb"),
	}
}

// CreateParams describes a new knowledge base. Zero values fall back to
// the service configuration.
type CreateParams struct {
	Name         string
	Description  string
	RAGType      string
	ChunkSize    int
	ChunkOverlap int
}

// CreateKnowledgeBase persists the base and creates its vector
// collection, named kb-<id>. When the collection cannot be created the
// row is rolled back so the store never references a missing
// collection.
func (s *Service) CreateKnowledgeBase(ctx context.Context, p CreateParams) (*store.KnowledgeBase, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: knowledge base name is required", ErrInvalid)
	}
	ragType, err := normalizeRAGType(p.RAGType)
	if err != nil {
		return nil, err
	}
	if ragType == "" {
		ragType = rag.RAGType(s.cfg.RAGType)
	}

	kb := &store.KnowledgeBase{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  p.Description,
		RAGType:      string(ragType),
		ChunkSize:    p.ChunkSize,
		ChunkOverlap: p.ChunkOverlap,
		IsActive:     true,
	}
	if kb.ChunkSize <= 0 {
		kb.ChunkSize = s.cfg.ChunkSize
	}
	if kb.ChunkOverlap <= 0 {
		kb.ChunkOverlap = s.cfg.ChunkOverlap
	}

	if err := s.kbs.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, fmt.Errorf("failed to persist knowledge base: %w", err)
	}
	if err := s.index.EnsureCollection(ctx, kb.Collection(), s.embedder.Dimension()); err != nil {
		if delErr := s.kbs.DeleteKnowledgeBase(ctx, kb.ID); delErr != nil {
			s.logger.Error("Failed to roll back knowledge base after collection error",
				zap.String("kb_id", kb.ID),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to create collection %s: %w", kb.Collection(), err)
	}

	s.logger.Info("Knowledge base created",
		zap.String("kb_id", kb.ID),
		zap.String("name", kb.Name),
		zap.String("rag_type", kb.RAGType))
	return kb, nil
}

// GetKnowledgeBase returns one base by id.
func (s *Service) GetKnowledgeBase(ctx context.Context, id string) (*store.KnowledgeBase, error) {
	return s.kbs.GetKnowledgeBase(ctx, id)
}

// ListKnowledgeBases returns every base in creation order.
func (s *Service) ListKnowledgeBases(ctx context.Context) ([]store.KnowledgeBase, error) {
	return s.kbs.ListKnowledgeBases(ctx)
}

// UpdateParams carries the mutable knowledge base fields; nil members
// are left unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	RAGType     *string
	IsActive    *bool
}

// UpdateKnowledgeBase applies a partial update and returns the new
// state. Chunking parameters are immutable after creation since
// re-chunking already indexed documents would desynchronize them.
func (s *Service) UpdateKnowledgeBase(ctx context.Context, id string, p UpdateParams) (*store.KnowledgeBase, error) {
	kb, err := s.kbs.GetKnowledgeBase(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: knowledge base name is required", ErrInvalid)
		}
		kb.Name = name
	}
	if p.Description != nil {
		kb.Description = *p.Description
	}
	if p.RAGType != nil && strings.TrimSpace(*p.RAGType) != "" {
		ragType, err := normalizeRAGType(*p.RAGType)
		if err != nil {
			return nil, err
		}
		kb.RAGType = string(ragType)
	}
	if p.IsActive != nil {
		kb.IsActive = *p.IsActive
	}
	if err := s.kbs.UpdateKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

// DeleteKnowledgeBase removes the base, its documents and their index
// entries. Vector cleanup runs per document; a failing entry is logged
// and the row cascade still proceeds.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, id string) error {
	kb, err := s.kbs.GetKnowledgeBase(ctx, id)
	if err != nil {
		return err
	}
	docs, err := s.docs.ListDocuments(ctx, kb.ID)
	if err != nil {
		return fmt.Errorf("failed to list documents for %s: %w", kb.ID, err)
	}
	for i := range docs {
		s.dropFromIndexes(ctx, kb, docs[i].ID)
	}
	if err := s.kbs.DeleteKnowledgeBase(ctx, kb.ID); err != nil {
		return err
	}
	s.logger.Info("Knowledge base deleted",
		zap.String("kb_id", kb.ID),
		zap.Int("documents", len(docs)))
	return nil
}

// UploadParams describes an incoming document file.
type UploadParams struct {
	KnowledgeBaseID string
	Filename        string
	Title           string
	Data            []byte
	Metadata        map[string]interface{}
}

// UploadDocument validates and stores an uploaded file. The document
// stays in UPLOADED until processing is triggered; its text is
// normalized once here so every later stage sees identical content.
func (s *Service) UploadDocument(ctx context.Context, p UploadParams) (*store.Document, error) {
	kb, err := s.kbs.GetKnowledgeBase(ctx, p.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	res := s.uploads.Check(p.Filename, p.Data)
	if !res.Valid {
		return nil, fmt.Errorf("%w: %s", ErrUploadRejected, res.Reason)
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = strings.TrimSuffix(res.SafeName, res.Extension)
	}

	doc := &store.Document{
		ID:              uuid.New().String(),
		KnowledgeBaseID: kb.ID,
		Title:           title,
		Source:          res.SafeName,
		Extension:       res.Extension,
		Status:          store.StatusUploaded,
		Content:         normalizeText(p.Data),
		Metadata:        p.Metadata,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}
	s.events.PublishStatus(doc.ID, kb.ID, store.StatusUploaded)

	s.logger.Info("Document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("kb_id", kb.ID),
		zap.String("source", doc.Source),
		zap.Int64("bytes", res.Size))
	return doc, nil
}

// GetDocument returns one document by id.
func (s *Service) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	return s.docs.GetDocument(ctx, id)
}

// ListDocuments returns a base's documents in creation order.
func (s *Service) ListDocuments(ctx context.Context, kbID string) ([]store.Document, error) {
	return s.docs.ListDocuments(ctx, kbID)
}

// GetChunks returns the persisted chunk records for one document.
func (s *Service) GetChunks(ctx context.Context, documentID string) ([]store.Chunk, error) {
	return s.docs.GetChunks(ctx, documentID)
}

// ProcessDocument runs the full ingestion lifecycle for one uploaded
// document and returns its final state. The terminal status is always
// persisted: PROCESSED on success, FAILED when any pipeline stage
// errors.
func (s *Service) ProcessDocument(ctx context.Context, documentID string) (*store.Document, error) {
	if _, err := s.markPending(ctx, documentID); err != nil {
		return nil, err
	}
	if _, err := s.indexDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.docs.GetDocument(ctx, documentID)
}

// markPending is the first workflow step: the document leaves UPLOADED
// and is queued for indexing.
func (s *Service) markPending(ctx context.Context, documentID string) (*store.Document, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, doc, store.StatusPending); err != nil {
		return nil, err
	}
	return doc, nil
}

// indexDocument is the second workflow step: chunk, embed and index the
// document, persisting PROCESSING first and a terminal status last.
// The chunk count is returned for the workflow step output.
func (s *Service) indexDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	kb, err := s.kbs.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return 0, fmt.Errorf("failed to load knowledge base %s: %w", doc.KnowledgeBaseID, err)
	}
	if err := s.transition(ctx, doc, store.StatusProcessing); err != nil {
		return 0, err
	}

	count, err := s.ingest(ctx, kb, doc)
	if err != nil {
		s.logger.Error("Document processing failed",
			zap.String("document_id", doc.ID),
			zap.String("kb_id", kb.ID),
			zap.Error(err))
		if ferr := s.transition(ctx, doc, store.StatusFailed); ferr != nil {
			s.logger.Error("Failed to record FAILED status",
				zap.String("document_id", doc.ID),
				zap.Error(ferr))
		}
		return 0, err
	}

	if err := s.transition(ctx, doc, store.StatusProcessed); err != nil {
		return count, err
	}
	s.logger.Info("Document processed",
		zap.String("document_id", doc.ID),
		zap.String("kb_id", kb.ID),
		zap.Int("chunks", count))
	return count, nil
}

// ingest runs the indexing pipeline and persists its outputs: vector
// points via the pipeline, chunk rows in the store, and keyword entries
// when the sidecar index is configured.
func (s *Service) ingest(ctx context.Context, kb *store.KnowledgeBase, doc *store.Document) (int, error) {
	pipeline := rag.NewPipeline(s.chunkerFor(kb, doc.Extension), s.embedder, s.index,
		rag.PipelineConfig{Concurrency: s.cfg.EmbedConcurrency}, s.logger)

	chunks, err := pipeline.Index(ctx, doc.Content, kb.Collection(), doc.ID, doc.Metadata)
	if err != nil {
		return 0, err
	}

	rows := make([]store.Chunk, len(chunks))
	entries := make([]tools.ChunkEntry, len(chunks))
	for i, ch := range chunks {
		rows[i] = store.Chunk{
			ID:         ch.ID,
			DocumentID: ch.DocumentID,
			Content:    ch.Content,
			Index:      ch.Index,
			Metadata:   ch.Metadata,
		}
		entries[i] = tools.ChunkEntry{ChunkID: ch.ID, DocumentID: ch.DocumentID, Text: ch.Content}
	}
	if err := s.docs.ReplaceChunks(ctx, doc.ID, rows); err != nil {
		return 0, fmt.Errorf("failed to persist chunk rows: %w", err)
	}
	if s.keyword != nil && len(entries) > 0 {
		if err := s.keyword.IndexChunks(ctx, entries); err != nil {
			s.logger.Warn("Keyword indexing failed",
				zap.String("document_id", doc.ID),
				zap.Error(err))
		}
	}
	return len(chunks), nil
}

// DeleteDocument removes a document everywhere: vector entries and
// keyword entries first, then the row (chunks cascade). Index failures
// are logged and do not block the row delete, so a degraded index never
// strands the record.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	kb, err := s.kbs.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		s.logger.Warn("Knowledge base lookup failed during delete",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	} else {
		s.dropFromIndexes(ctx, kb, doc.ID)
	}
	if err := s.docs.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	s.logger.Info("Document deleted",
		zap.String("document_id", doc.ID),
		zap.String("kb_id", doc.KnowledgeBaseID))
	return nil
}

// dropFromIndexes best-effort removes a document's vector and keyword
// entries.
func (s *Service) dropFromIndexes(ctx context.Context, kb *store.KnowledgeBase, documentID string) {
	if err := s.index.DeleteByDocument(ctx, kb.Collection(), documentID); err != nil {
		s.logger.Warn("Vector delete failed, removing rows anyway",
			zap.String("document_id", documentID),
			zap.String("collection", kb.Collection()),
			zap.Error(err))
	}
	if s.keyword != nil {
		if err := s.keyword.DeleteDocument(ctx, documentID); err != nil {
			s.logger.Warn("Keyword delete failed",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}
}

// QueryResult is the answer for one retrieval-augmented query.
type QueryResult struct {
	KnowledgeBase string `json:"knowledge_base"`
	Query         string `json:"query"`
	Response      string `json:"response"`
}

// Query answers a question against one knowledge base using its
// configured retrieval strategy. Answers are cached best-effort, keyed
// by base, limit and query; staleness after a corpus change is bounded
// by the cache TTL.
func (s *Service) Query(ctx context.Context, kbID, query string, limit int) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalid)
	}
	kb, err := s.kbs.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	engine := s.engines.Get(rag.RAGType(kb.RAGType), kb.Collection())
	answer, err := s.cachedAnswer(ctx, kb, engine, query, limit)
	if err != nil {
		return nil, err
	}
	return &QueryResult{KnowledgeBase: kb.Name, Query: query, Response: answer}, nil
}

func (s *Service) cachedAnswer(ctx context.Context, kb *store.KnowledgeBase, engine *tools.Engine, query string, limit int) (string, error) {
	if s.answers == nil {
		return engine.Search(ctx, query, limit, 0)
	}
	key := cache.Key("kb:answer", kb.ID, strconv.Itoa(limit), query)
	raw, err := s.answers.GetOrCompute(ctx, key, func() ([]byte, error) {
		answer, err := engine.Search(ctx, query, limit, 0)
		if err != nil {
			return nil, err
		}
		return []byte(answer), nil
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// RetrievalTools builds one search tool per requested knowledge base so
// agents can ground answers in the right corpus. Unknown ids are
// skipped with a warning; an empty kbIDs selects every active base.
func (s *Service) RetrievalTools(ctx context.Context, kbIDs []string) ([]tools.Tool, error) {
	var bases []store.KnowledgeBase
	if len(kbIDs) == 0 {
		all, err := s.kbs.ListKnowledgeBases(ctx)
		if err != nil {
			return nil, err
		}
		for _, kb := range all {
			if kb.IsActive {
				bases = append(bases, kb)
			}
		}
	} else {
		for _, id := range kbIDs {
			kb, err := s.kbs.GetKnowledgeBase(ctx, id)
			if err != nil {
				s.logger.Warn("Skipping unknown knowledge base",
					zap.String("kb_id", id),
					zap.Error(err))
				continue
			}
			bases = append(bases, *kb)
		}
	}

	out := make([]tools.Tool, 0, len(bases))
	for _, kb := range bases {
		out = append(out, tools.NewRetrievalTool(s.engines, tools.RetrievalSource{
			Name:        kb.Name,
			Description: kb.Description,
			Collection:  kb.Collection(),
			RAGType:     rag.RAGType(kb.RAGType),
			Limit:       defaultQueryLimit,
		}))
	}
	return out, nil
}

// transition persists a status change and publishes the matching
// lifecycle event.
func (s *Service) transition(ctx context.Context, doc *store.Document, status store.DocumentStatus) error {
	if err := s.docs.UpdateDocumentStatus(ctx, doc.ID, status); err != nil {
		return fmt.Errorf("failed to mark document %s %s: %w", doc.ID, status, err)
	}
	doc.Status = status
	s.events.PublishStatus(doc.ID, doc.KnowledgeBaseID, status)
	return nil
}

// chunkerFor picks the splitter for a document: Markdown-aware for .md
// sources, delimiter-based otherwise, both sized from the base.
func (s *Service) chunkerFor(kb *store.KnowledgeBase, ext string) *chunking.Chunker {
	size, overlap := kb.ChunkSize, kb.ChunkOverlap
	if size <= 0 {
		size = s.cfg.ChunkSize
	}
	if overlap < 0 {
		overlap = s.cfg.ChunkOverlap
	}
	if ext == ".md" || ext == ".markdown" {
		return chunking.NewMarkdown(size, overlap)
	}
	cfg := chunking.DefaultConfig()
	cfg.ChunkSize = size
	cfg.Overlap = overlap
	return chunking.New(cfg)
}

// normalizeRAGType lower-cases and checks a strategy name. Empty input
// is returned as-is so callers can apply their default.
func normalizeRAGType(raw string) (rag.RAGType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", nil
	}
	ragType := rag.RAGType(trimmed)
	switch ragType {
	case rag.TypeNaive, rag.TypeHybrid, rag.TypeFusion, rag.TypeHyDE:
		return ragType, nil
	default:
		return "", fmt.Errorf("%w: unknown rag type %q", ErrInvalid, raw)
	}
}

// normalizeText strips a UTF-8 BOM and unifies line endings so chunk
// offsets are stable across upload sources.
func normalizeText(data []byte) string {
	text := strings.TrimPrefix(string(data), "﻿")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
