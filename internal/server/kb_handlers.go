package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/kb"
	"github.com/knowledge-agent-core/internal/store"
)

// maxMultipartMemory bounds how much of an upload stays in RAM before
// spilling to temp files.
const maxMultipartMemory = 32 << 20

// CreateKBRequest describes a new knowledge base. Zero values fall
// back to the service defaults.
type CreateKBRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	RAGType      string `json:"rag_type,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// UpdateKBRequest carries a partial update; absent fields keep their
// current values.
type UpdateKBRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	RAGType     *string `json:"rag_type"`
	IsActive    *bool   `json:"is_active"`
}

// QueryRequest asks a question against one knowledge base.
type QueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req CreateKBRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	base, err := s.kb.CreateKnowledgeBase(r.Context(), kb.CreateParams{
		Name:         req.Name,
		Description:  req.Description,
		RAGType:      req.RAGType,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, base)
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	bases, err := s.kb.ListKnowledgeBases(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bases)
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	base, err := s.kb.GetKnowledgeBase(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleUpdateKB(w http.ResponseWriter, r *http.Request) {
	var req UpdateKBRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	base, err := s.kb.UpdateKnowledgeBase(r.Context(), mux.Vars(r)["id"], kb.UpdateParams{
		Name:        req.Name,
		Description: req.Description,
		RAGType:     req.RAGType,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, base)
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	if err := s.kb.DeleteKnowledgeBase(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryKB(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := jsonx.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	result, err := s.kb.Query(r.Context(), mux.Vars(r)["id"], req.Query, req.Limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required: %w", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	var metadata map[string]interface{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := jsonx.UnmarshalFromString(raw, &metadata); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid metadata: %w", err))
			return
		}
	}

	doc, err := s.kb.UploadDocument(r.Context(), kb.UploadParams{
		KnowledgeBaseID: mux.Vars(r)["id"],
		Filename:        header.Filename,
		Title:           r.FormValue("title"),
		Data:            data,
		Metadata:        metadata,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := mux.Vars(r)["id"]
	if _, err := s.kb.GetKnowledgeBase(r.Context(), kbID); err != nil {
		s.respondError(w, err)
		return
	}
	docs, err := s.kb.ListDocuments(r.Context(), kbID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.kb.DeleteDocument(r.Context(), doc.ID); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProcessDocument starts ingestion for an uploaded document.
// With a workflow wired the document is queued and 202 returned;
// otherwise processing runs inline and the terminal state comes back.
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if s.workflow != nil {
		if err := s.workflow.TriggerUpload(r.Context(), doc.ID); err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"document_id": doc.ID,
			"status":      string(store.StatusPending),
		})
		return
	}
	processed, err := s.kb.ProcessDocument(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, processed)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ownedDocument(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	chunks, err := s.kb.GetChunks(r.Context(), doc.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

// ownedDocument loads the document from the path and checks it belongs
// to the base in the path, so documents are not reachable through
// another base's URL.
func (s *Server) ownedDocument(r *http.Request) (*store.Document, error) {
	vars := mux.Vars(r)
	doc, err := s.kb.GetDocument(r.Context(), vars["docID"])
	if err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseID != vars["id"] {
		return nil, fmt.Errorf("%w: document %s", store.ErrNotFound, vars["docID"])
	}
	return doc, nil
}
