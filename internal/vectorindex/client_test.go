package vectorindex

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/knowledge-agent-core/internal/embedding"
	"github.com/knowledge-agent-core/internal/jsonx"
)

// newTestClient starts a fake Qdrant server that accepts the connect
// ping and delegates everything else to handler.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/collections" {
			w.Write([]byte(`{"result": {"collections": []}}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := New(context.Background(), Config{BaseURL: server.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, server
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, jsonx.Unmarshal(data, &body))
	return body
}

func TestNewVerifiesConnectivity(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, client)
}

func TestNewRetriesConnectionFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	start := time.Now()
	_, err := New(context.Background(), Config{
		BaseURL:         url,
		ConnectAttempts: 3,
		ConnectDelay:    time.Millisecond,
	}, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewDoesNotRetryBadStatus(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := New(context.Background(), Config{
		BaseURL:         server.URL,
		ConnectAttempts: 5,
		ConnectDelay:    time.Millisecond,
	}, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), requests.Load(), "non-connection failures must not be retried")
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	var creates atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/kb-1":
			w.Write([]byte(`{"result": {"status": "green"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/kb-1":
			creates.Add(1)
			w.Write([]byte(`{"result": true}`))
		}
	})

	require.NoError(t, client.EnsureCollection(context.Background(), "kb-1", 768))
	assert.Equal(t, int32(0), creates.Load())
}

func TestEnsureCollectionCreatesMissing(t *testing.T) {
	var created map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/kb-1":
			http.Error(w, "not found", http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/kb-1":
			created = decodeBody(t, r)
			w.Write([]byte(`{"result": true}`))
		}
	})

	require.NoError(t, client.EnsureCollection(context.Background(), "kb-1", 768))
	require.NotNil(t, created)

	vectors := created["vectors"].(map[string]interface{})
	dense := vectors["dense"].(map[string]interface{})
	assert.Equal(t, float64(768), dense["size"])
	assert.Equal(t, "Cosine", dense["distance"])

	sparse := created["sparse_vectors"].(map[string]interface{})
	assert.Contains(t, sparse, "sparse")
}

func TestEnsureCollectionToleratesCreateRace(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/kb-1":
			http.Error(w, "not found", http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/kb-1":
			http.Error(w, "already exists", http.StatusConflict)
		}
	})

	assert.NoError(t, client.EnsureCollection(context.Background(), "kb-1", 768))
}

func TestUpsertWireFormat(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/collections/kb-1/points", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("wait"))
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"status": "completed"}}`))
	})

	points := []Point{
		{
			ID:    "chunk-1",
			Dense: []float32{0.1, 0.2},
			Sparse: embedding.SparseVector{
				Indices: []uint32{7, 42},
				Values:  []float32{1.5, 0.8},
			},
			Payload: Payload{DocumentID: "doc-1", Text: "first chunk"},
		},
	}
	require.NoError(t, client.Upsert(context.Background(), "kb-1", points))

	wirePoints := body["points"].([]interface{})
	require.Len(t, wirePoints, 1)
	p := wirePoints[0].(map[string]interface{})
	assert.Equal(t, "chunk-1", p["id"])

	vector := p["vector"].(map[string]interface{})
	assert.Len(t, vector["dense"].([]interface{}), 2)
	sparse := vector["sparse"].(map[string]interface{})
	assert.Len(t, sparse["indices"].([]interface{}), 2)

	payload := p["payload"].(map[string]interface{})
	assert.Equal(t, "doc-1", payload["document_id"])
	assert.Equal(t, "first chunk", payload["text"])
	assert.Equal(t, "chunk-1", payload["vector_id"])
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	})

	require.NoError(t, client.Upsert(context.Background(), "kb-1", nil))
	assert.Equal(t, int32(0), requests.Load())
}

func TestDeleteByDocumentFilter(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/collections/kb-1/points/delete", r.URL.Path)
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"status": "completed"}}`))
	})

	require.NoError(t, client.DeleteByDocument(context.Background(), "kb-1", "doc-9"))

	filter := body["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	cond := must[0].(map[string]interface{})
	assert.Equal(t, "document_id", cond["key"])
	assert.Equal(t, "doc-9", cond["match"].(map[string]interface{})["value"])
}

func TestQueryParsesResults(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/kb-1/points/query", r.URL.Path)
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"points": [
			{"id": "c-1", "score": 0.92, "payload": {"document_id": "doc-1", "text": "alpha"}},
			{"id": "c-2", "score": 0.71, "payload": {"document_id": "doc-1", "text": "beta"}}
		]}}`))
	})

	points, err := client.Query(context.Background(), "kb-1", []float32{0.5, 0.5}, 2, 0.6)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "c-1", points[0].ID)
	assert.InDelta(t, 0.92, float64(points[0].Score), 1e-6)
	assert.Equal(t, "doc-1", points[0].Payload.DocumentID)
	assert.Equal(t, "alpha", points[0].Payload.Text)

	assert.Equal(t, "dense", body["using"])
	assert.Equal(t, float64(2), body["limit"])
	assert.InDelta(t, 0.6, body["score_threshold"].(float64), 1e-6)
	assert.Equal(t, true, body["with_payload"])
}

func TestQueryOmitsZeroThreshold(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"points": []}}`))
	})

	_, err := client.Query(context.Background(), "kb-1", []float32{1}, 5, 0)
	require.NoError(t, err)
	assert.NotContains(t, body, "score_threshold")
}

func TestQueryFusedPrefetch(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"points": []}}`))
	})

	sparse := embedding.SparseVector{Indices: []uint32{3}, Values: []float32{1.2}}
	_, err := client.QueryFused(context.Background(), "kb-1", []float32{0.1}, sparse, 4, 0)
	require.NoError(t, err)

	prefetch := body["prefetch"].([]interface{})
	require.Len(t, prefetch, 2)

	densePrefetch := prefetch[0].(map[string]interface{})
	assert.Equal(t, "dense", densePrefetch["using"])
	assert.Equal(t, float64(8), densePrefetch["limit"])

	sparsePrefetch := prefetch[1].(map[string]interface{})
	assert.Equal(t, "sparse", sparsePrefetch["using"])

	fusion := body["query"].(map[string]interface{})
	assert.Equal(t, "rrf", fusion["fusion"])
	assert.Equal(t, float64(4), body["limit"])
}

func TestQueryFusedWithoutSparseFallsBackToDenseOnly(t *testing.T) {
	var body map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body = decodeBody(t, r)
		w.Write([]byte(`{"result": {"points": []}}`))
	})

	_, err := client.QueryFused(context.Background(), "kb-1", []float32{0.1}, embedding.SparseVector{}, 4, 0)
	require.NoError(t, err)

	prefetch := body["prefetch"].([]interface{})
	assert.Len(t, prefetch, 1)
}

func TestQueryMissingCollection(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status": {"error": "collection not found"}}`, http.StatusNotFound)
	})

	_, err := client.Query(context.Background(), "absent", []float32{1}, 5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
