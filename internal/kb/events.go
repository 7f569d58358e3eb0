package kb

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
	"github.com/knowledge-agent-core/internal/store"
)

const (
	eventStream        = "DOCUMENTS"
	eventSubjectPrefix = "documents."
)

// Events publishes document lifecycle notifications to NATS JetStream
// on documents.<status> subjects. Every method is nil-receiver safe so
// the service runs unchanged when no broker is configured.
type Events struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// StatusEvent is the payload published on each lifecycle transition.
type StatusEvent struct {
	DocumentID      string    `json:"document_id"`
	KnowledgeBaseID string    `json:"knowledge_base_id"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewEvents connects to NATS and ensures the document stream exists.
// The connection retries in the background, so a broker that is still
// starting up does not fail boot.
func NewEvents(url string, logger *zap.Logger) (*Events, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kb.events")

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     eventStream,
		Subjects: []string{eventSubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		logger.Warn("Could not ensure document stream", zap.Error(err))
	}

	logger.Info("Document event stream ready", zap.String("stream", eventStream))
	return &Events{conn: conn, js: js, logger: logger}, nil
}

// PublishStatus emits a lifecycle event best-effort: a nil receiver is
// a no-op and publish failures only log.
func (e *Events) PublishStatus(documentID, kbID string, status store.DocumentStatus) {
	if e == nil || e.js == nil {
		return
	}

	payload, err := jsonx.Marshal(StatusEvent{
		DocumentID:      documentID,
		KnowledgeBaseID: kbID,
		Status:          string(status),
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		e.logger.Warn("Failed to encode status event", zap.Error(err))
		return
	}

	subject := eventSubjectPrefix + strings.ToLower(string(status))
	if _, err := e.js.Publish(subject, payload); err != nil {
		e.logger.Warn("Failed to publish status event",
			zap.String("subject", subject),
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}

// Close releases the broker connection.
func (e *Events) Close() {
	if e == nil || e.conn == nil {
		return
	}
	e.conn.Close()
}
