package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsense/docsense/internal/assemble"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/generate"
	"github.com/docsense/docsense/internal/search"
)

// notFoundAnswer is returned when retrieval yields no usable context.
const notFoundAnswer = "The requested information was not found in the document."

func (s *Server) handleHealth(c *gin.Context) {
	indexOK := true
	if _, err := s.deps.Sparse.Count(); err != nil {
		indexOK = false
	}

	status := "ok"
	if !indexOK {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"index_ok":      indexOK,
		"models_loaded": s.deps.Gateway != nil,
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, docerrors.Validation("multipart field 'file' is required"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		writeError(c, docerrors.Internal("open upload", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		writeError(c, docerrors.Internal("read upload", err))
		return
	}

	job, err := s.deps.Pipeline.Submit(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.JobID,
		"doc_id":  job.DocID,
		"state":   job.State,
		"message": "ingestion started",
	})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.deps.Tracker.Get(c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.deps.Docs.ListDocuments(c.Request.Context())
	if err != nil {
		writeError(c, docerrors.Internal("list documents", err))
		return
	}

	out := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		out = append(out, gin.H{
			"doc_id":      d.DocID,
			"file_name":   d.FileName,
			"file_type":   d.FileType,
			"size_bytes":  d.SizeBytes,
			"page_count":  d.PageCount,
			"chunk_count": d.ChunkCount,
			"status":      d.Status,
			"created_at":  d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	err := s.deps.Pipeline.Delete(c.Request.Context(), c.Param("doc_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(c, docerrors.NotFound("document not found"))
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("doc_id")})
}

type queryFilters struct {
	PageRange    []int  `json:"page_range"`
	SectionTitle string `json:"section_title"`
	BlockType    string `json:"block_type"`
}

type queryRequest struct {
	Question string        `json:"question"`
	DocIDs   []string      `json:"doc_ids"`
	TopK     int           `json:"top_k"`
	Filters  *queryFilters `json:"filters"`
	Stream   bool          `json:"stream"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, docerrors.Validation("invalid request body"))
		return
	}

	ctx := c.Request.Context()

	// Explicit filters take precedence over what the analyser reads out
	// of the question text.
	cleaned, filters := search.Analyse(req.Question)
	filters.DocIDs = req.DocIDs
	if f := req.Filters; f != nil {
		if len(f.PageRange) == 2 && f.PageRange[0] > 0 && f.PageRange[1] >= f.PageRange[0] {
			filters.PageStart, filters.PageEnd = f.PageRange[0], f.PageRange[1]
		}
		if f.SectionTitle != "" {
			filters.Section = f.SectionTitle
		}
		if f.BlockType != "" {
			filters.BlockType = f.BlockType
		}
	}

	result, err := s.deps.Searcher.Search(ctx, cleaned, filters, req.TopK)
	if err != nil {
		writeError(c, err)
		return
	}

	assembled, err := s.deps.Assembler.Assemble(ctx, result.Candidates)
	if err != nil {
		if docerrors.CodeOf(err) == docerrors.CodeEmptyContext {
			s.respondNoContext(c, req.Stream, result.Stats)
			return
		}
		writeError(c, err)
		return
	}

	system, user := generate.BuildAnswerPrompt(req.Question, assembled)

	if req.Stream {
		s.streamAnswer(c, assembled.Citations, result.Stats, func(onToken func(string)) (*generate.Answer, error) {
			return s.deps.Gateway.Chat(ctx, system, user, onToken)
		})
		return
	}

	answer, err := s.deps.Gateway.Chat(ctx, system, user, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"question":        req.Question,
		"answer":          answer.Text,
		"model_used":      answer.ModelUsed,
		"fallback_used":   answer.FallbackUsed,
		"citations":       assembled.Citations,
		"retrieval_stats": retrievalJSON(result.Stats),
	})
}

type summarizeRequest struct {
	DocID string `json:"doc_id"`
	Mode  string `json:"mode"`
}

func (s *Server) handleSummarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DocID == "" {
		writeError(c, docerrors.Validation("doc_id is required"))
		return
	}

	summary, err := s.deps.Summarizer.Summarize(c.Request.Context(),
		req.DocID, generate.SummaryMode(req.Mode), nil)
	if err != nil {
		if docerrors.CodeOf(err) == docerrors.CodeCapacityExceeded {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"doc_id":  req.DocID,
				"mode":    req.Mode,
				"status":  "busy",
				"message": "all generation slots are in use, retry shortly",
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id":           req.DocID,
		"mode":             summary.Mode,
		"output":           summary.Text,
		"model_used":       summary.ModelUsed,
		"fallback_used":    summary.FallbackUsed,
		"chunk_count_used": summary.SectionsUsed,
		"status":           "success",
	})
}

// respondNoContext answers the no-relevant-content case without calling
// the model.
func (s *Server) respondNoContext(c *gin.Context, stream bool, stats search.Stats) {
	if stream {
		s.writeStreamMetadata(c, nil, stats)
		c.Writer.WriteString(notFoundAnswer)
		c.Writer.Flush()
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"answer":          notFoundAnswer,
		"citations":       []assemble.Citation{},
		"retrieval_stats": retrievalJSON(stats),
	})
}

// streamAnswer writes one metadata JSON line, then raw answer tokens.
func (s *Server) streamAnswer(c *gin.Context, citations []assemble.Citation,
	stats search.Stats, run func(onToken func(string)) (*generate.Answer, error)) {

	s.writeStreamMetadata(c, citations, stats)

	_, err := run(func(token string) {
		c.Writer.WriteString(token)
		c.Writer.Flush()
	})
	if err != nil {
		// Headers are gone; append the error as a marked trailer line.
		trailer, _ := json.Marshal(gin.H{"error": docerrors.CodeOf(err)})
		c.Writer.WriteString("\n")
		c.Writer.Write(trailer)
		c.Writer.Flush()
	}
}

func (s *Server) writeStreamMetadata(c *gin.Context, citations []assemble.Citation, stats search.Stats) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if citations == nil {
		citations = []assemble.Citation{}
	}
	meta, _ := json.Marshal(gin.H{
		"citations":       citations,
		"retrieval_stats": retrievalJSON(stats),
	})
	c.Writer.Write(meta)
	c.Writer.WriteString("\n")
	c.Writer.Flush()
}

func retrievalJSON(stats search.Stats) gin.H {
	return gin.H{
		"sparse_hits":      stats.SparseHits,
		"dense_hits":       stats.DenseHits,
		"fused_candidates": stats.FusedCandidates,
		"reranked_from":    stats.RerankedFrom,
		"final_count":      stats.FinalCount,
		"degraded":         stats.Degraded,
		"elapsed_ms":       stats.Elapsed.Milliseconds(),
	}
}
