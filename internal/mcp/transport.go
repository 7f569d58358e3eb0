package mcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knowledge-agent-core/internal/jsonx"
)

// StdioTransport serves MCP over stdin/stdout for desktop clients.
// Frames are newline-delimited JSON. All logging must go to stderr;
// stdout carries protocol frames only.
type StdioTransport struct {
	reader *bufio.Reader
	writer io.Writer
	logger *zap.Logger
	mu     sync.Mutex
}

// NewStdioTransport builds a transport on the process stdio streams.
func NewStdioTransport(logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: bufio.NewReader(os.Stdin),
		writer: os.Stdout,
		logger: logger.Named("mcp.stdio"),
	}
}

// Serve reads requests until EOF or context cancellation, answering
// each through the server.
func (t *StdioTransport) Serve(ctx context.Context, srv *Server) error {
	t.logger.Info("Stdio transport starting")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Stdio transport shutting down")
			return ctx.Err()
		default:
		}

		line, err := t.reader.ReadBytes('\n')
		if len(line) > 0 && strings.TrimSpace(string(line)) != "" {
			var req Request
			if uerr := jsonx.Unmarshal(line, &req); uerr != nil {
				t.logger.Debug("Skipping malformed request", zap.Error(uerr))
			} else if werr := t.write(srv.HandleRequest(ctx, req)); werr != nil {
				t.logger.Error("Failed to write response", zap.Error(werr))
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.logger.Info("EOF received, shutting down")
				return nil
			}
			return err
		}
	}
}

func (t *StdioTransport) write(resp Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return jsonx.NewEncoder(t.writer).Encode(resp)
}
