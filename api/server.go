// Package api exposes the research assistant over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fabfab/paper-agent/assistant"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/metrics"
)

// Assistant is the workflow surface the handlers delegate to.
type Assistant interface {
	SubmitURL(ctx context.Context, sessionID, url string) (assistant.SubmitResult, error)
	UploadPDF(ctx context.Context, sessionID, filename string, r io.Reader) (assistant.UploadResult, error)
	ListPDFs(ctx context.Context, sessionID string) ([]assistant.PDFInfo, error)
	SelectPDF(ctx context.Context, sessionID, filename string) error
	Query(ctx context.Context, sessionID, question string) string
	ClearSession(ctx context.Context, sessionID string) (string, error)
	Cleanup(ctx context.Context) (string, error)
	Status(ctx context.Context) assistant.Status
}

type Options struct {
	MaxUploadBytes int64
	AllowOrigins   []string
}

// Server routes HTTP requests to the assistant.
type Server struct {
	svc  Assistant
	log  *logger.Logger
	echo *echo.Echo
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type urlRequest struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

type urlResponse struct {
	Status          string `json:"status"`
	SessionID       string `json:"session_id"`
	VectorConnected bool   `json:"vector_connected"`
	Extraction      string `json:"extraction"`
	Indexed         bool   `json:"indexed"`
}

type uploadResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type listResponse struct {
	Status string              `json:"status"`
	PDFs   []assistant.PDFInfo `json:"pdfs"`
}

type selectRequest struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

const statusSuccess = "success"

// multipart framing on top of the file itself
const bodySlack = 1 << 20

func NewServer(svc Assistant, opts Options, log *logger.Logger) *Server {
	s := &Server{
		svc: svc,
		log: logger.OrNop(log).With("component", "api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	if opts.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", (opts.MaxUploadBytes+bodySlack)/1024)))
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/urls", s.handleSubmitURL)
	v1.POST("/pdfs", s.handleUpload)
	v1.POST("/pdfs/list", s.handleListPDFs)
	v1.POST("/pdfs/select", s.handleSelectPDF)
	v1.POST("/query", s.handleQuery)
	v1.POST("/sessions/clear", s.handleClear)
	v1.POST("/cleanup", s.handleCleanup)

	s.echo = e
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Status(c.Request().Context()))
}

func (s *Server) handleSubmitURL(c echo.Context) error {
	var req urlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no URL provided")
	}

	res, err := s.svc.SubmitURL(c.Request().Context(), req.SessionID, req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, urlResponse{
		Status:          statusSuccess,
		SessionID:       res.SessionID,
		VectorConnected: res.VectorConnected,
		Extraction:      res.Status.String(),
		Indexed:         res.Indexed,
	})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("pdf")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file part")
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no selected file")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read uploaded file")
	}
	defer f.Close()

	res, err := s.svc.UploadPDF(c.Request().Context(), c.FormValue("session_id"), fh.Filename, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uploadResponse{
		Status:   statusSuccess,
		Message:  "PDF uploaded successfully",
		Filename: res.Filename,
	})
}

func (s *Server) handleListPDFs(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	pdfs, err := s.svc.ListPDFs(c.Request().Context(), req.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Status: statusSuccess, PDFs: pdfs})
}

func (s *Server) handleSelectPDF(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if err := s.svc.SelectPDF(c.Request().Context(), req.SessionID, req.Filename); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Status: statusSuccess, Message: "PDF selected successfully"})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "no question provided")
	}
	answer := s.svc.Query(c.Request().Context(), req.SessionID, req.Question)
	return c.JSON(http.StatusOK, queryResponse{Answer: answer})
}

func (s *Server) handleClear(c echo.Context) error {
	var req sessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	msg, err := s.svc.ClearSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Status: statusSuccess, Message: msg})
}

func (s *Server) handleCleanup(c echo.Context) error {
	msg, err := s.svc.Cleanup(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Status: statusSuccess, Message: msg})
}

// handleError renders every failure as {"error": ...}. Assistant errors map
// to 400 and 404; anything else is a 500 with a generic message.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	case errors.Is(err, assistant.ErrInvalidInput):
		code, msg = http.StatusBadRequest, reason(err, assistant.ErrInvalidInput)
	case errors.Is(err, assistant.ErrNotFound):
		code, msg = http.StatusNotFound, reason(err, assistant.ErrNotFound)
	}

	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if werr := c.JSON(code, errorResponse{Error: msg}); werr != nil {
		s.log.Warn("write error response", "error", werr)
	}
}

// reason drops the sentinel prefix so clients see only the detail.
func reason(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.log.Debug("request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
