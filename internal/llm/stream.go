package llm

import (
	"context"
	"time"
)

// Chunk sizes for simulated streams. Summaries stream in larger chunks,
// intermediate agent output in smaller ones.
const (
	DefaultStreamChunkSize = 15
	FineStreamChunkSize    = 5

	streamChunkDelay = 10 * time.Millisecond
)

// SimulateStream chunks a fully-computed response into a stream channel.
// Strategies without a native token stream use this so streaming callers
// observe the same incremental delivery contract.
func SimulateStream(ctx context.Context, content string, chunkSize int) <-chan StreamChunk {
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		runes := []rune(content)
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case out <- StreamChunk{Content: string(runes[i:end])}:
			case <-ctx.Done():
				return
			}
			time.Sleep(streamChunkDelay)
		}
		select {
		case out <- StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out
}
