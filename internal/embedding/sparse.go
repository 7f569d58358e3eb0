package embedding

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// BM25 term-weight parameters. Document length is normalized against a
// fixed reference length since chunks are encoded one at a time,
// without corpus statistics. Collection-level IDF is applied by the
// index at query time.
const (
	bm25K1     = 1.5
	bm25B      = 0.75
	bm25AvgLen = 256.0
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "he": {}, "her": {}, "his": {}, "if": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "its": {}, "no": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "she": {}, "so": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// SparseEncoder produces BM25-weighted sparse vectors. Encoding is a
// pure function of the input text, so the same chunk always maps to
// the same vector.
type SparseEncoder struct{}

// NewSparseEncoder creates a sparse encoder.
func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode tokenizes text and returns hashed term indices with BM25
// term-frequency weights. Indices are sorted ascending; hash
// collisions merge their counts.
func (e *SparseEncoder) Encode(text string) SparseVector {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return SparseVector{}
	}

	counts := make(map[uint32]int, len(tokens))
	for _, tok := range tokens {
		counts[hashTerm(tok)]++
	}

	docLen := float64(len(tokens))
	norm := bm25K1 * (1 - bm25B + bm25B*docLen/bm25AvgLen)

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := float64(counts[idx])
		values[i] = float32(tf * (bm25K1 + 1) / (tf + norm))
	}

	return SparseVector{Indices: indices, Values: values}
}

// tokenize lowercases, splits on non-alphanumerics and drops stopwords
// and single-rune fragments.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(term))
	return h.Sum32()
}
