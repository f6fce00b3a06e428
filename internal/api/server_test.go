package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsense/docsense/internal/assemble"
	"github.com/docsense/docsense/internal/chunk"
	"github.com/docsense/docsense/internal/embed"
	"github.com/docsense/docsense/internal/generate"
	"github.com/docsense/docsense/internal/ingest"
	"github.com/docsense/docsense/internal/search"
	"github.com/docsense/docsense/internal/store"
)

const sampleDoc = `# Annual Report

## Revenue

Revenue grew twelve percent year over year on strong subscription
renewals and enterprise demand in every region we operate.

## Risks

Currency movements remain the main risk to reported growth figures.
`

// fakeClient is a canned model backend.
type fakeClient struct {
	answer string
	block  chan struct{}
}

func (f *fakeClient) Complete(ctx context.Context, req generate.Request) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, nil
}

func (f *fakeClient) Stream(ctx context.Context, req generate.Request, onToken func(string)) (string, error) {
	for _, word := range strings.SplitAfter(f.answer, " ") {
		onToken(word)
	}
	return f.answer, nil
}

type apiEnv struct {
	server  *Server
	tracker *ingest.Tracker
	client  *fakeClient
}

func newAPIEnv(t *testing.T, capacity int64) *apiEnv {
	t.Helper()

	sparse, err := store.NewBleveSparseIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { sparse.Close() })

	dense, err := store.NewHNSWDenseIndex(embed.StaticDimensions)
	require.NoError(t, err)

	docs, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	embedder := embed.NewStaticEmbedder(0)
	tracker := ingest.NewTracker()
	pipeline := ingest.NewPipeline(chunk.NewChunker(chunk.Options{}), embedder,
		sparse, dense, docs, tracker, nil)

	searcher := search.NewSearcher(sparse, dense, docs, embedder, search.Options{TopK: 5}, nil)

	assembler, err := assemble.NewAssembler(docs, 3000, nil)
	require.NoError(t, err)
	pipeline.SetOnDelete(assembler.InvalidateDoc)

	client := &fakeClient{answer: "Revenue grew twelve percent (p. 1)."}
	gateway := generate.NewGateway(client, generate.GatewayOptions{
		PrimaryModel:  "primary/model",
		FallbackModel: "fallback/model",
		Capacity:      capacity,
	}, nil)
	summarizer := generate.NewSummarizer(gateway, docs, 0)

	server := NewServer(Deps{
		Pipeline:   pipeline,
		Tracker:    tracker,
		Searcher:   searcher,
		Assembler:  assembler,
		Gateway:    gateway,
		Summarizer: summarizer,
		Docs:       docs,
		Sparse:     sparse,
	})
	return &apiEnv{server: server, tracker: tracker, client: client}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *apiEnv) upload(t *testing.T, fileName, content string) (jobID, docID string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		JobID string `json:"job_id"`
		DocID string `json:"doc_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.JobID, resp.DocID
}

func (e *apiEnv) waitIngested(t *testing.T, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := e.tracker.Get(jobID)
		require.NoError(t, err)
		return job.State == ingest.JobCompleted
	}, 10*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, 2)
	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["index_ok"])
	assert.Equal(t, true, resp["models_loaded"])
}

func TestIngestStatusAndQuery(t *testing.T) {
	env := newAPIEnv(t, 2)

	jobID, docID := env.upload(t, "report.md", sampleDoc)
	assert.NotEmpty(t, docID)

	w := env.do(t, http.MethodGet, "/ingest/status/"+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.waitIngested(t, jobID)

	w = env.do(t, http.MethodPost, "/query", map[string]any{
		"question": "how did revenue develop",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Answer         string              `json:"answer"`
		ModelUsed      string              `json:"model_used"`
		Citations      []assemble.Citation `json:"citations"`
		RetrievalStats map[string]any      `json:"retrieval_stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Answer, "Revenue grew")
	assert.Equal(t, "primary/model", resp.ModelUsed)
	require.NotEmpty(t, resp.Citations)
	assert.NotEmpty(t, resp.Citations[0].Preview)
	assert.Positive(t, resp.Citations[0].PageNumber)
	assert.Equal(t, false, resp.RetrievalStats["degraded"])
	assert.Contains(t, resp.RetrievalStats, "fused_candidates")
	assert.Contains(t, resp.RetrievalStats, "reranked_from")
	assert.Contains(t, resp.RetrievalStats, "final_count")
}

func TestQuery_ExplicitFieldsAccepted(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, docID := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	w := env.do(t, http.MethodPost, "/query", map[string]any{
		"question": "how did revenue develop",
		"doc_ids":  []string{docID},
		"top_k":    1,
		"filters":  map[string]any{"section_title": "Revenue"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Citations      []assemble.Citation `json:"citations"`
		RetrievalStats map[string]any      `json:"retrieval_stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, float64(1), resp.RetrievalStats["final_count"])

	// Restricting to an unknown document leaves nothing to cite.
	w = env.do(t, http.MethodPost, "/query", map[string]any{
		"question": "how did revenue develop",
		"doc_ids":  []string{"ghost"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), notFoundAnswer)
}

func TestQuery_StreamingProtocol(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, _ := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	w := env.do(t, http.MethodPost, "/query", map[string]any{
		"question": "how did revenue develop",
		"stream":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	newline := strings.Index(body, "\n")
	require.Positive(t, newline, "first line is metadata JSON")

	var meta struct {
		Citations []assemble.Citation `json:"citations"`
	}
	require.NoError(t, json.Unmarshal([]byte(body[:newline]), &meta))
	assert.NotEmpty(t, meta.Citations)

	assert.Contains(t, body[newline+1:], "Revenue grew twelve percent")
}

func TestQuery_NoRelevantContent(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, _ := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	// A page filter outside the document excludes every candidate, which
	// must short-circuit to the canned answer without a model call.
	w := env.do(t, http.MethodPost, "/query", map[string]any{
		"question": "revenue figures on page 99",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Answer    string              `json:"answer"`
		Citations []assemble.Citation `json:"citations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, notFoundAnswer, resp.Answer)
	assert.Empty(t, resp.Citations)
}

func TestQuery_EmptyQuestionRejected(t *testing.T) {
	env := newAPIEnv(t, 2)
	w := env.do(t, http.MethodPost, "/query", map[string]any{"question": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummarize(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, docID := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	w := env.do(t, http.MethodPost, "/summarize", map[string]any{"doc_id": docID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Mode       string `json:"mode"`
		Output     string `json:"output"`
		ModelUsed  string `json:"model_used"`
		ChunkCount int    `json:"chunk_count_used"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "summary", resp.Mode)
	assert.NotEmpty(t, resp.Output)
	assert.Equal(t, "primary/model", resp.ModelUsed)
	assert.Positive(t, resp.ChunkCount)
	assert.Equal(t, "success", resp.Status)
}

func TestSummarize_UnknownModeRejected(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, docID := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	w := env.do(t, http.MethodPost, "/summarize", map[string]any{
		"doc_id": docID,
		"mode":   "haiku",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummarize_BusyUnderLoad(t *testing.T) {
	env := newAPIEnv(t, 1)
	jobID, docID := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	// Occupy the only generation slot.
	env.client.block = make(chan struct{})
	defer close(env.client.block)
	go func() {
		_, _ = env.server.deps.Gateway.Chat(context.Background(), "sys", "user", nil)
	}()
	time.Sleep(50 * time.Millisecond)

	w := env.do(t, http.MethodPost, "/summarize", map[string]any{"doc_id": docID})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "busy")
}

func TestSummarize_UnknownDocument(t *testing.T) {
	env := newAPIEnv(t, 2)
	w := env.do(t, http.MethodPost, "/summarize", map[string]any{"doc_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentsListAndDelete(t *testing.T) {
	env := newAPIEnv(t, 2)
	jobID, docID := env.upload(t, "report.md", sampleDoc)
	env.waitIngested(t, jobID)

	w := env.do(t, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), docID)
	assert.Contains(t, w.Body.String(), "report.md")

	w = env.do(t, http.MethodDelete, "/documents/"+docID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), docID)

	w = env.do(t, http.MethodDelete, "/documents/"+docID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobStatus_Unknown(t *testing.T) {
	env := newAPIEnv(t, 2)
	w := env.do(t, http.MethodGet, "/ingest/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
