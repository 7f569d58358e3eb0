package embedding

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseEncodeDeterministic(t *testing.T) {
	enc := NewSparseEncoder()
	text := "Retrieval augments generation with indexed document chunks."

	first := enc.Encode(text)
	second := enc.Encode(text)

	assert.Equal(t, first.Indices, second.Indices)
	assert.Equal(t, first.Values, second.Values)
	assert.NotEmpty(t, first.Indices)
}

func TestSparseEncodeSortedAligned(t *testing.T) {
	enc := NewSparseEncoder()
	vec := enc.Encode("vector databases store dense and sparse vectors for hybrid search")

	require.Equal(t, len(vec.Indices), len(vec.Values))
	assert.True(t, sort.SliceIsSorted(vec.Indices, func(i, j int) bool {
		return vec.Indices[i] < vec.Indices[j]
	}))
	for _, v := range vec.Values {
		assert.Greater(t, v, float32(0))
	}
}

func TestSparseEncodeDropsStopwordsAndCase(t *testing.T) {
	enc := NewSparseEncoder()

	// Stopwords and punctuation contribute nothing.
	assert.Empty(t, enc.Encode("the and of to a is").Indices)
	assert.Empty(t, enc.Encode("... !!! ???").Indices)
	assert.Empty(t, enc.Encode("").Indices)

	// Case folds before hashing.
	assert.Equal(t, enc.Encode("Kubernetes Cluster"), enc.Encode("kubernetes cluster"))
}

func TestSparseEncodeTermFrequencySaturates(t *testing.T) {
	enc := NewSparseEncoder()

	single := enc.Encode("database")
	repeated := enc.Encode("database database database database")

	require.Len(t, single.Indices, 1)
	require.Len(t, repeated.Indices, 1)
	assert.Equal(t, single.Indices[0], repeated.Indices[0])

	// Higher term frequency raises the weight, but sublinearly: four
	// occurrences score less than four times one occurrence.
	assert.Greater(t, repeated.Values[0], single.Values[0])
	assert.Less(t, repeated.Values[0], 4*single.Values[0])
}

func TestSparseEncodeDistinctTermsDistinctIndices(t *testing.T) {
	enc := NewSparseEncoder()
	vec := enc.Encode("alpha beta gamma delta")
	assert.Len(t, vec.Indices, 4)

	seen := make(map[uint32]bool)
	for _, idx := range vec.Indices {
		assert.False(t, seen[idx])
		seen[idx] = true
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"splits on punctuation", "hybrid-search, rrf/fusion", []string{"hybrid", "search", "rrf", "fusion"}},
		{"drops single runes", "a b c chunk", []string{"chunk"}},
		{"keeps digits", "top 50 results", []string{"top", "50", "results"}},
		{"empty", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.in)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
