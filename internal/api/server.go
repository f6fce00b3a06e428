// Package api exposes DocSense over HTTP: ingestion, job status,
// document management, question answering, and summarization.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docsense/docsense/internal/assemble"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/generate"
	"github.com/docsense/docsense/internal/ingest"
	"github.com/docsense/docsense/internal/search"
	"github.com/docsense/docsense/internal/store"
)

// Deps are the server's collaborators.
type Deps struct {
	Pipeline   *ingest.Pipeline
	Tracker    *ingest.Tracker
	Searcher   *search.Searcher
	Assembler  *assemble.Assembler
	Gateway    *generate.Gateway
	Summarizer *generate.Summarizer
	Docs       store.DocumentStore
	Sparse     store.SparseIndex
	Logger     *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	router *gin.Engine
	deps   Deps
	logger *slog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		deps:   deps,
		logger: deps.Logger,
	}
	s.router.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/ingest", s.handleIngest)
	s.router.GET("/ingest/status/:job_id", s.handleJobStatus)

	s.router.GET("/documents", s.handleListDocuments)
	s.router.DELETE("/documents/:doc_id", s.handleDeleteDocument)

	s.router.POST("/query", s.handleQuery)
	s.router.POST("/summarize", s.handleSummarize)
}

// Handler returns the router for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(started)))
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch docerrors.CodeOf(err) {
	case docerrors.CodeValidation:
		status = http.StatusBadRequest
	case docerrors.CodeNotFound:
		status = http.StatusNotFound
	case docerrors.CodeCapacityExceeded:
		status = http.StatusServiceUnavailable
	case docerrors.CodeGenerationTransient, docerrors.CodeGenerationPermanent:
		status = http.StatusBadGateway
	}

	var de *docerrors.DocError
	message := err.Error()
	code := docerrors.CodeOf(err)
	if errors.As(err, &de) {
		message = de.Message
	}
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
