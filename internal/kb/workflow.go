package kb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"go.uber.org/zap"
)

const uploadedEventName = "api/document.uploaded"

// ProcessingInput is the event data the workflow consumes.
type ProcessingInput struct {
	DocumentID string `json:"document_id"`
}

// ProcessingOutput summarizes one workflow run.
type ProcessingOutput struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// Workflow runs document processing as a durable Inngest function so a
// transient embedding or index failure retries the failing step instead
// of re-running the whole pipeline.
type Workflow struct {
	client inngestgo.Client
	logger *zap.Logger
}

// NewWorkflow registers the document-processing function on a new
// Inngest client. Registration failures are logged, not fatal; the
// synchronous ProcessDocument path works without the worker.
func NewWorkflow(appID string, svc *Service, logger *zap.Logger) (*Workflow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("kb.workflow")

	client, err := inngestgo.NewClient(inngestgo.ClientOpts{
		AppID: appID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create inngest client: %w", err)
	}

	w := &Workflow{client: client, logger: logger}

	_, err = inngestgo.CreateFunction(client,
		inngestgo.FunctionOpts{
			ID:   "document-processing",
			Name: "Document Processing",
		},
		inngestgo.EventTrigger(uploadedEventName, nil),
		processDocumentWorkflow(svc, logger),
	)
	if err != nil {
		logger.Error("Failed to register document processing workflow", zap.Error(err))
	} else {
		logger.Info("Registered document processing workflow")
	}

	return w, nil
}

// processDocumentWorkflow implements the durable ingestion steps:
// queue the document, then chunk/embed/index it. Each step is
// checkpointed by Inngest and retried independently.
func processDocumentWorkflow(svc *Service, logger *zap.Logger) func(ctx context.Context, input inngestgo.Input[ProcessingInput]) (any, error) {
	return func(ctx context.Context, input inngestgo.Input[ProcessingInput]) (any, error) {
		documentID := input.Event.Data.DocumentID
		log := logger.With(zap.String("document_id", documentID))

		log.Info("Starting document processing workflow")

		_, pendErr := step.Run(ctx, "mark-pending", func(ctx context.Context) (struct{ Status string }, error) {
			doc, err := svc.markPending(ctx, documentID)
			if err != nil {
				return struct{ Status string }{}, err
			}
			return struct{ Status string }{Status: string(doc.Status)}, nil
		})
		if pendErr != nil {
			return ProcessingOutput{
				DocumentID: documentID,
				Error:      fmt.Sprintf("mark pending failed: %v", pendErr),
			}, pendErr
		}

		indexRes, indexErr := step.Run(ctx, "index-document", func(ctx context.Context) (struct{ Chunks int }, error) {
			count, err := svc.indexDocument(ctx, documentID)
			if err != nil {
				return struct{ Chunks int }{}, err
			}
			return struct{ Chunks int }{Chunks: count}, nil
		})
		if indexErr != nil {
			return ProcessingOutput{
				DocumentID: documentID,
				Error:      fmt.Sprintf("indexing failed: %v", indexErr),
			}, indexErr
		}

		log.Info("Document processing workflow completed",
			zap.Int("chunk_count", indexRes.Chunks))

		return ProcessingOutput{
			Success:    true,
			DocumentID: documentID,
			ChunkCount: indexRes.Chunks,
		}, nil
	}
}

// TriggerUpload emits the event that starts the durable workflow for
// one document. A nil receiver is a no-op so callers do not special
// case deployments without a workflow worker.
func (w *Workflow) TriggerUpload(ctx context.Context, documentID string) error {
	if w == nil {
		return nil
	}
	_, err := w.client.Send(ctx, inngestgo.Event{
		Name: uploadedEventName,
		Data: map[string]any{"document_id": documentID},
	})
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", uploadedEventName, err)
	}
	return nil
}

// Handler exposes the Inngest serve endpoint for mounting under the
// API server.
func (w *Workflow) Handler() http.Handler {
	if w == nil {
		return nil
	}
	return w.client.Serve()
}
