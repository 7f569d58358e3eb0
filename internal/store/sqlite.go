package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/knowledge-agent-core/internal/jsonx"
)

// migrations are applied in slice order; schema_migrations records the
// highest applied version so restarts skip what already ran.
var migrations = []string{
	`
	CREATE TABLE knowledge_bases (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		rag_type      TEXT NOT NULL,
		chunk_size    INTEGER NOT NULL,
		chunk_overlap INTEGER NOT NULL,
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	);

	CREATE TABLE documents (
		id                TEXT PRIMARY KEY,
		knowledge_base_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
		title             TEXT NOT NULL,
		source            TEXT NOT NULL DEFAULT '',
		extension         TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		content           TEXT NOT NULL DEFAULT '',
		metadata          TEXT NOT NULL DEFAULT '{}',
		created_at        DATETIME NOT NULL,
		updated_at        DATETIME NOT NULL
	);
	CREATE INDEX idx_documents_kb ON documents(knowledge_base_id);

	CREATE TABLE chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX idx_chunks_document ON chunks(document_id);

	CREATE TABLE conversations (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		agent_ids  TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		agent_id        TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX idx_messages_conversation ON messages(conversation_id);

	CREATE TABLE agent_configs (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		agent_type    TEXT NOT NULL,
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		kb_ids        TEXT NOT NULL DEFAULT '[]',
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	);
	`,
	`
	CREATE TABLE agent_groups (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		agent_ids   TEXT NOT NULL DEFAULT '[]',
		is_active   INTEGER NOT NULL DEFAULT 1,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);
	`,
}

// SQLite is the concrete store. One instance satisfies every store
// contract in this package.
type SQLite struct {
	db   *sql.DB
	path string
}

var (
	_ KnowledgeBaseStore = (*SQLite)(nil)
	_ DocumentStore      = (*SQLite)(nil)
	_ ConversationStore  = (*SQLite)(nil)
	_ AgentConfigStore   = (*SQLite)(nil)
	_ AgentGroupStore    = (*SQLite)(nil)
)

// Open creates or opens the metadata database under dataDir. The
// pragmas ride on the DSN so every pooled connection gets WAL, a busy
// timeout, and foreign key enforcement.
func Open(dataDir string) (*SQLite, error) {
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "core.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
	}
	return nil
}

// ==================== Knowledge bases ====================

func (s *SQLite) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	if kb.ID == "" {
		return errors.New("store: knowledge base id is required")
	}
	now := time.Now().UTC()
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = now
	}
	kb.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_bases (id, name, description, rag_type, chunk_size, chunk_overlap, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, kb.ID, kb.Name, kb.Description, kb.RAGType, kb.ChunkSize, kb.ChunkOverlap, kb.IsActive, kb.CreatedAt, kb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return nil
}

func (s *SQLite) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rag_type, chunk_size, chunk_overlap, is_active, created_at, updated_at
		FROM knowledge_bases WHERE id = ?
	`, id)

	var kb KnowledgeBase
	err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.RAGType,
		&kb.ChunkSize, &kb.ChunkOverlap, &kb.IsActive, &kb.CreatedAt, &kb.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
	}
	return &kb, nil
}

func (s *SQLite) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, rag_type, chunk_size, chunk_overlap, is_active, created_at, updated_at
		FROM knowledge_bases ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.RAGType,
			&kb.ChunkSize, &kb.ChunkOverlap, &kb.IsActive, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate knowledge bases: %w", err)
	}
	return kbs, nil
}

func (s *SQLite) UpdateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	kb.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_bases
		SET name = ?, description = ?, rag_type = ?, chunk_size = ?, chunk_overlap = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, kb.Name, kb.Description, kb.RAGType, kb.ChunkSize, kb.ChunkOverlap, kb.IsActive, kb.UpdatedAt, kb.ID)
	if err != nil {
		return fmt.Errorf("failed to update knowledge base: %w", err)
	}
	return requireRows(res)
}

func (s *SQLite) DeleteKnowledgeBase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_bases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	return requireRows(res)
}

// ==================== Documents ====================

func (s *SQLite) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return errors.New("store: document id is required")
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	metadata, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode document metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, knowledge_base_id, title, source, extension, status, content, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.KnowledgeBaseID, doc.Title, doc.Source, doc.Extension,
		string(doc.Status), doc.Content, metadata, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *SQLite) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, knowledge_base_id, title, source, extension, status, content, metadata, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *SQLite) ListDocuments(ctx context.Context, knowledgeBaseID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, knowledge_base_id, title, source, extension, status, content, metadata, created_at, updated_at
		FROM documents WHERE knowledge_base_id = ? ORDER BY rowid
	`, knowledgeBaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *SQLite) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return requireRows(res)
}

func (s *SQLite) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireRows(res)
}

// ReplaceChunks swaps the document's chunk rows for the given set in
// one transaction, so a re-indexed document never keeps stale chunks.
func (s *SQLite) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, content, chunk_index, metadata)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metadata, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Content, c.Index, metadata); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func (s *SQLite) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, chunk_index, metadata
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var metadata string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Index, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Metadata, err = decodeMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// ==================== Conversations ====================

func (s *SQLite) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		return errors.New("store: conversation id is required")
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	agentIDs, err := encodeStrings(c.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode agent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, agent_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Title, agentIDs, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *SQLite) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, agent_ids, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)

	var c Conversation
	var agentIDs string
	err := row.Scan(&c.ID, &c.Title, &agentIDs, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	c.AgentIDs, err = decodeStrings(agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent ids: %w", err)
	}
	return &c, nil
}

func (s *SQLite) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, agent_ids, created_at, updated_at
		FROM conversations ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var agentIDs string
		if err := rows.Scan(&c.ID, &c.Title, &agentIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.AgentIDs, err = decodeStrings(agentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to decode agent ids: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireRows(res)
}

// AppendMessage inserts the message and touches the conversation's
// updated_at in one transaction. A missing conversation is ErrNotFound.
func (s *SQLite) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		return errors.New("store: message id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), m.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if err := requireRows(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.Role, m.Content, m.AgentID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

func (s *SQLite) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, agent_id, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.AgentID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

// ==================== Agent configs ====================

// SaveAgentConfig inserts or updates an agent definition.
func (s *SQLite) SaveAgentConfig(ctx context.Context, a *AgentConfig) error {
	if a.ID == "" {
		return errors.New("store: agent config id is required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	kbIDs, err := encodeStrings(a.KBIDs)
	if err != nil {
		return fmt.Errorf("failed to encode kb ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_configs (id, name, description, agent_type, provider, model, system_prompt, kb_ids, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			agent_type = excluded.agent_type,
			provider = excluded.provider,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			kb_ids = excluded.kb_ids,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, a.Description, a.AgentType, a.Provider, a.Model,
		a.SystemPrompt, kbIDs, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save agent config: %w", err)
	}
	return nil
}

func (s *SQLite) GetAgentConfig(ctx context.Context, id string) (*AgentConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, agent_type, provider, model, system_prompt, kb_ids, is_active, created_at, updated_at
		FROM agent_configs WHERE id = ?
	`, id)

	var a AgentConfig
	var kbIDs string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.AgentType, &a.Provider,
		&a.Model, &a.SystemPrompt, &kbIDs, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent config: %w", err)
	}
	a.KBIDs, err = decodeStrings(kbIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode kb ids: %w", err)
	}
	return &a, nil
}

func (s *SQLite) ListAgentConfigs(ctx context.Context) ([]AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, agent_type, provider, model, system_prompt, kb_ids, is_active, created_at, updated_at
		FROM agent_configs ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent configs: %w", err)
	}
	defer rows.Close()

	var configs []AgentConfig
	for rows.Next() {
		var a AgentConfig
		var kbIDs string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.AgentType, &a.Provider,
			&a.Model, &a.SystemPrompt, &kbIDs, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent config: %w", err)
		}
		a.KBIDs, err = decodeStrings(kbIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to decode kb ids: %w", err)
		}
		configs = append(configs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent configs: %w", err)
	}
	return configs, nil
}

func (s *SQLite) DeleteAgentConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent config: %w", err)
	}
	return requireRows(res)
}

// ==================== Agent groups ====================

func (s *SQLite) CreateAgentGroup(ctx context.Context, g *AgentGroup) error {
	if g.ID == "" {
		return errors.New("store: agent group id is required")
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	agentIDs, err := encodeStrings(g.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode agent ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_groups (id, name, description, agent_ids, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.Name, g.Description, agentIDs, g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent group: %w", err)
	}
	return nil
}

func (s *SQLite) GetAgentGroup(ctx context.Context, id string) (*AgentGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, agent_ids, is_active, created_at, updated_at
		FROM agent_groups WHERE id = ?
	`, id)

	var g AgentGroup
	var agentIDs string
	err := row.Scan(&g.ID, &g.Name, &g.Description, &agentIDs, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan agent group: %w", err)
	}
	g.AgentIDs, err = decodeStrings(agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode agent ids: %w", err)
	}
	return &g, nil
}

func (s *SQLite) ListAgentGroups(ctx context.Context) ([]AgentGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, agent_ids, is_active, created_at, updated_at
		FROM agent_groups ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent groups: %w", err)
	}
	defer rows.Close()

	var groups []AgentGroup
	for rows.Next() {
		var g AgentGroup
		var agentIDs string
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &agentIDs, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent group: %w", err)
		}
		g.AgentIDs, err = decodeStrings(agentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to decode agent ids: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent groups: %w", err)
	}
	return groups, nil
}

func (s *SQLite) UpdateAgentGroup(ctx context.Context, g *AgentGroup) error {
	g.UpdatedAt = time.Now().UTC()

	agentIDs, err := encodeStrings(g.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode agent ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_groups
		SET name = ?, description = ?, agent_ids = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, g.Name, g.Description, agentIDs, g.IsActive, g.UpdatedAt, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent group: %w", err)
	}
	return requireRows(res)
}

func (s *SQLite) DeleteAgentGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agent_groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent group: %w", err)
	}
	return requireRows(res)
}

// ==================== Helpers ====================

// requireRows maps a zero-row write to ErrNotFound.
func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(sc scanner) (*Document, error) {
	var doc Document
	var status, metadata string
	err := sc.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Title, &doc.Source, &doc.Extension,
		&status, &doc.Content, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	doc.Status = DocumentStatus(status)
	doc.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document metadata: %w", err)
	}
	return &doc, nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	return jsonx.MarshalToString(m)
}

func decodeMetadata(s string) (map[string]interface{}, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := jsonx.UnmarshalFromString(s, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeStrings(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	return jsonx.MarshalToString(v)
}

func decodeStrings(s string) ([]string, error) {
	if s == "" || s == "[]" || s == "null" {
		return nil, nil
	}
	var v []string
	if err := jsonx.UnmarshalFromString(s, &v); err != nil {
		return nil, err
	}
	return v, nil
}
