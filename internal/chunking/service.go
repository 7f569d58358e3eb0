// Package chunking splits document text into overlap-bounded passages
// for embedding and indexing. Splits prefer sentence/line delimiters
// near the window boundary; consecutive chunks share a configured
// overlap so no answer-bearing span is cut in half.
package chunking

import "strings"

// ChunkResult is one passage with its position in the source.
type ChunkResult struct {
	Text       string `json:"text"`
	StartPos   int    `json:"start_pos"`
	EndPos     int    `json:"end_pos"`
	Index      int    `json:"index"`
	IsComplete bool   `json:"is_complete"`
	CharCount  int    `json:"char_count"`
}

// Config configures the chunker behavior.
type Config struct {
	ChunkSize       int    `json:"chunk_size"`
	Delimiters      []byte `json:"delimiters"`
	PrefixMode      bool   `json:"prefix_mode"`
	Consecutive     bool   `json:"consecutive"`
	ForwardFallback bool   `json:"forward_fallback"`
	Overlap         int    `json:"overlap,omitempty"`
	MinChunkSize    int    `json:"min_chunk_size"`
}

// DefaultConfig returns the standard document chunking configuration.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:       512,
		Delimiters:      []byte{'\n', '.', '?', '!'},
		PrefixMode:      false,
		Consecutive:     false,
		ForwardFallback: true,
		Overlap:         64,
		MinChunkSize:    100,
	}
}

// MarkdownConfig returns configuration tuned for Markdown documents:
// structural markers start the next chunk rather than ending the
// previous one.
func MarkdownConfig(chunkSize, overlap int) *Config {
	return &Config{
		ChunkSize:       chunkSize,
		Delimiters:      []byte{'\n', '#', '`', '-', '*', '>', '\t'},
		PrefixMode:      true,
		Consecutive:     true,
		ForwardFallback: true,
		Overlap:         overlap,
		MinChunkSize:    100,
	}
}

// Chunker performs delimiter-aware text chunking.
type Chunker struct {
	config *Config
}

// New creates a chunker with the given configuration.
func New(config *Config) *Chunker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Chunker{config: config}
}

// NewMarkdown creates a chunker tuned for Markdown.
func NewMarkdown(chunkSize, overlap int) *Chunker {
	return New(MarkdownConfig(chunkSize, overlap))
}

// Chunk splits text into passages. Passages carry 0-based sequential
// indexes; the next window starts overlap bytes before the previous
// end so adjacent passages share context.
func (c *Chunker) Chunk(text string) []ChunkResult {
	if text == "" {
		return nil
	}

	results := make([]ChunkResult, 0)
	position := 0
	textLen := len(text)
	overlap := c.config.Overlap

	for position < textLen {
		remaining := textLen - position

		if remaining <= c.config.ChunkSize {
			results = append(results, c.result(text, position, textLen, len(results), true))
			break
		}

		targetEnd := position + c.config.ChunkSize
		splitPos := c.findLastDelimiter(text[position:targetEnd])

		var actualPos int
		complete := true
		switch {
		case splitPos >= 0:
			actualPos = position + splitPos
			if !c.config.PrefixMode {
				actualPos++
			}
			if actualPos-position < c.config.MinChunkSize && targetEnd < textLen {
				actualPos = targetEnd
			}
		case c.config.ForwardFallback:
			forwardPos := c.findFirstDelimiter(text[targetEnd:])
			if forwardPos < 0 {
				results = append(results, c.result(text, position, textLen, len(results), false))
				return results
			}
			actualPos = targetEnd + forwardPos
			if !c.config.PrefixMode {
				actualPos++
			}
		default:
			actualPos = targetEnd
			complete = false
		}

		results = append(results, c.result(text, position, actualPos, len(results), complete))

		// The window must always advance even when the overlap would
		// swallow the whole previous chunk.
		next := actualPos - overlap
		if next <= position {
			next = actualPos
		}
		position = next
	}

	return results
}

func (c *Chunker) result(text string, start, end, index int, complete bool) ChunkResult {
	return ChunkResult{
		Text:       text[start:end],
		StartPos:   start,
		EndPos:     end,
		Index:      index,
		IsComplete: complete,
		CharCount:  end - start,
	}
}

// findLastDelimiter returns the offset of the last delimiter in s, or
// -1 when none occurs.
func (c *Chunker) findLastDelimiter(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if c.isDelimiter(s[i]) {
			if c.config.Consecutive {
				for i > 0 && c.isDelimiter(s[i-1]) {
					i--
				}
			}
			return i
		}
	}
	return -1
}

// findFirstDelimiter returns the offset of the first delimiter in s,
// or -1 when none occurs.
func (c *Chunker) findFirstDelimiter(s string) int {
	for i := 0; i < len(s); i++ {
		if c.isDelimiter(s[i]) {
			if c.config.Consecutive {
				for j := i + 1; j < len(s); j++ {
					if !c.isDelimiter(s[j]) {
						return j
					}
				}
				return len(s)
			}
			return i
		}
	}
	return -1
}

func (c *Chunker) isDelimiter(b byte) bool {
	for _, d := range c.config.Delimiters {
		if b == d {
			return true
		}
	}
	return false
}

// ChunkStats summarizes a chunking run for logging.
type ChunkStats struct {
	TotalChunks   int     `json:"total_chunks"`
	TotalChars    int     `json:"total_chars"`
	AvgCharCount  float64 `json:"avg_char_count"`
	CompleteCount int     `json:"complete_count"`
}

// GetStats computes summary statistics over chunks.
func GetStats(chunks []ChunkResult) ChunkStats {
	totalChars := 0
	completeCount := 0
	for _, c := range chunks {
		totalChars += c.CharCount
		if c.IsComplete {
			completeCount++
		}
	}

	avgSize := 0.0
	if len(chunks) > 0 {
		avgSize = float64(totalChars) / float64(len(chunks))
	}

	return ChunkStats{
		TotalChunks:   len(chunks),
		TotalChars:    totalChars,
		AvgCharCount:  avgSize,
		CompleteCount: completeCount,
	}
}

// Preview returns the first n bytes of text on a word boundary, for
// log lines and document summaries.
func Preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
