// Package server exposes the conversion pipeline over HTTP: a health probe,
// convert-by-description and convert-by-upload endpoints, artifact download
// and cleanup, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/vc"
)

// Multipart field names.
const (
	formFieldSource    = "source_audio"
	formFieldReference = "target_audio"
)

const readyProbeTimeout = 5 * time.Second

// ErrMissingUpload indicates a multipart request without a required file.
var ErrMissingUpload = fmt.Errorf("%w: missing uploaded audio file", core.ErrInput)

// ConvertRequest is the JSON request schema. Optional parameters default to
// the documented values when omitted.
type ConvertRequest struct {
	SourceAudioPath   string `json:"source_audio_path"`
	SourceAudioBase64 string `json:"source_audio_base64"`
	TargetAudioPath   string `json:"target_audio_path"`
	TargetAudioBase64 string `json:"target_audio_base64"`

	DiffusionSteps     *int     `json:"diffusion_steps"`
	LengthAdjust       *float64 `json:"length_adjust"`
	IntelligibilityCFG *float64 `json:"intelligibility_cfg_rate"`
	SimilarityCFG      *float64 `json:"similarity_cfg_rate"`
	TopP               *float64 `json:"top_p"`
	Temperature        *float64 `json:"temperature"`
	RepetitionPenalty  *float64 `json:"repetition_penalty"`
	ConvertStyle       *bool    `json:"convert_style"`
	AnonymizationOnly  *bool    `json:"anonymization_only"`
	OutputFormat       *string  `json:"output_format"`
	ReturnBase64       *bool    `json:"return_base64"`
	CleanupTempFiles   *bool    `json:"cleanup_temp_files"`
}

// ConvertResponse is the structured response for both convert endpoints.
// Failures carry the error kind and a human-readable message, never a raw
// internal fault.
type ConvertResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	StreamingOutputPath   string `json:"streaming_output_path,omitempty"`
	FullOutputPath        string `json:"full_output_path,omitempty"`
	StreamingOutputBase64 string `json:"streaming_output_base64,omitempty"`
	FullOutputBase64      string `json:"full_output_base64,omitempty"`

	ProcessingTime float64       `json:"processing_time"`
	OutputFormat   string        `json:"output_format"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	InputInfo      *vc.InputInfo `json:"input_info,omitempty"`
}

// HealthResponse reports service and model-load state.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
	Detail       string `json:"detail,omitempty"`
}

// Server binds the conversion service to HTTP routes.
type Server struct {
	svc *vc.Service
	met *metrics.Metrics
	log *logger.Logger
}

// New creates an HTTP server facade over the conversion service.
func New(svc *vc.Service, met *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{
		svc: svc,
		met: met,
		log: log,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), s.countRequests())

	router.GET("/health", s.handleHealth)
	router.POST("/convert", s.handleConvert)
	router.POST("/convert/files", s.handleConvertFiles)
	router.GET("/download/*path", s.handleDownload)
	router.DELETE("/cleanup/*path", s.handleCleanup)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if s.met != nil {
			s.met.HTTPRequests.WithLabelValues(
				c.Request.Method,
				c.FullPath(),
				strconv.Itoa(c.Writer.Status()),
			).Inc()
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyProbeTimeout)
	defer cancel()

	readyErr := s.svc.Ready(ctx)
	if readyErr != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:       "degraded",
			ModelsLoaded: false,
			Detail:       readyErr.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		ModelsLoaded: true,
		Detail:       "",
	})
}

func (s *Server) handleConvert(c *gin.Context) {
	var req ConvertRequest

	bindErr := c.ShouldBindJSON(&req)
	if bindErr != nil {
		s.respondError(c, fmt.Errorf("%w: malformed request body: %w", core.ErrValidation, bindErr), "")

		return
	}

	request := vc.Request{
		Source: audio.Source{
			Path:   req.SourceAudioPath,
			Upload: nil,
			Inline: req.SourceAudioBase64,
		},
		Reference: audio.Source{
			Path:   req.TargetAudioPath,
			Upload: nil,
			Inline: req.TargetAudioBase64,
		},
		Params: req.params(),
	}

	s.convert(c, request)
}

func (s *Server) handleConvertFiles(c *gin.Context) {
	sourceData, sourceErr := readUpload(c, formFieldSource)
	if sourceErr != nil {
		s.respondError(c, sourceErr, "")

		return
	}

	referenceData, referenceErr := readUpload(c, formFieldReference)
	if referenceErr != nil {
		s.respondError(c, referenceErr, "")

		return
	}

	params, paramsErr := paramsFromForm(c)
	if paramsErr != nil {
		s.respondError(c, paramsErr, "")

		return
	}

	request := vc.Request{
		Source:    audio.Source{Path: "", Upload: sourceData, Inline: ""},
		Reference: audio.Source{Path: "", Upload: referenceData, Inline: ""},
		Params:    params,
	}

	s.convert(c, request)
}

func (s *Server) convert(c *gin.Context, request vc.Request) {
	result, convertErr := s.svc.Convert(c.Request.Context(), request)
	if convertErr != nil {
		s.respondError(c, convertErr, string(request.Params.OutputFormat))

		return
	}

	c.JSON(http.StatusOK, ConvertResponse{
		Success:               true,
		Message:               "Voice conversion completed successfully",
		StreamingOutputPath:   result.StreamingPath,
		FullOutputPath:        result.FullPath,
		StreamingOutputBase64: result.StreamingBase64,
		FullOutputBase64:      result.FullBase64,
		ProcessingTime:        result.ProcessingSeconds,
		OutputFormat:          string(result.OutputFormat),
		ErrorKind:             "",
		InputInfo:             &result.InputInfo,
	})
}

func (s *Server) handleDownload(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"detail": "file not found"})

		return
	}

	c.FileAttachment("/"+path, filepathBase(path))
}

func (s *Server) handleCleanup(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")

	cleanupErr := s.svc.Cleanup("/" + path)
	if cleanupErr != nil {
		s.respondError(c, cleanupErr, "")

		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "artifact released"})
}

// respondError maps a pipeline error onto the taxonomy's HTTP status and a
// structured response body.
func (s *Server) respondError(c *gin.Context, err error, format string) {
	kind := core.ErrorKind(err)

	s.log.Error("Request failed (%s): %v", kind, err)

	c.JSON(statusForKind(kind), ConvertResponse{
		Success:               false,
		Message:               err.Error(),
		StreamingOutputPath:   "",
		FullOutputPath:        "",
		StreamingOutputBase64: "",
		FullOutputBase64:      "",
		ProcessingTime:        0,
		OutputFormat:          format,
		ErrorKind:             kind,
		InputInfo:             nil,
	})
}

func statusForKind(kind string) int {
	switch kind {
	case core.KindValidation, core.KindInput:
		return http.StatusBadRequest
	case core.KindModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// params materializes the request's parameter set, filling omitted fields
// with the documented defaults. Range checking happens in the service.
func (r ConvertRequest) params() core.Params {
	p := core.DefaultParams()

	if r.DiffusionSteps != nil {
		p.DiffusionSteps = *r.DiffusionSteps
	}

	if r.LengthAdjust != nil {
		p.LengthAdjust = *r.LengthAdjust
	}

	if r.IntelligibilityCFG != nil {
		p.IntelligibilityCFG = *r.IntelligibilityCFG
	}

	if r.SimilarityCFG != nil {
		p.SimilarityCFG = *r.SimilarityCFG
	}

	if r.TopP != nil {
		p.TopP = *r.TopP
	}

	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}

	if r.RepetitionPenalty != nil {
		p.RepetitionPenalty = *r.RepetitionPenalty
	}

	if r.ConvertStyle != nil {
		p.ConvertStyle = *r.ConvertStyle
	}

	if r.AnonymizationOnly != nil {
		p.AnonymizationOnly = *r.AnonymizationOnly
	}

	if r.OutputFormat != nil {
		p.OutputFormat = core.Format(*r.OutputFormat)
	}

	if r.ReturnBase64 != nil {
		p.ReturnBase64 = *r.ReturnBase64
	}

	if r.CleanupTempFiles != nil {
		p.CleanupTempFiles = *r.CleanupTempFiles
	}

	return p
}

func readUpload(c *gin.Context, field string) ([]byte, error) {
	fileHeader, formErr := c.FormFile(field)
	if formErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingUpload, field, formErr)
	}

	file, openErr := fileHeader.Open()
	if openErr != nil {
		return nil, fmt.Errorf("%w: failed to open upload %s: %w", core.ErrInput, field, openErr)
	}

	defer func() { _ = file.Close() }()

	data, readErr := io.ReadAll(file)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read upload %s: %w", core.ErrInput, field, readErr)
	}

	return data, nil
}

// paramsFromForm parses the multipart form fields, applying defaults for
// omitted values.
func paramsFromForm(c *gin.Context) (core.Params, error) {
	p := core.DefaultParams()

	var parseErr error

	p.DiffusionSteps, parseErr = formInt(c, "diffusion_steps", p.DiffusionSteps)
	if parseErr != nil {
		return core.Params{}, parseErr
	}

	floatFields := []struct {
		name string
		dst  *float64
	}{
		{"length_adjust", &p.LengthAdjust},
		{"intelligibility_cfg_rate", &p.IntelligibilityCFG},
		{"similarity_cfg_rate", &p.SimilarityCFG},
		{"top_p", &p.TopP},
		{"temperature", &p.Temperature},
		{"repetition_penalty", &p.RepetitionPenalty},
	}

	for _, f := range floatFields {
		*f.dst, parseErr = formFloat(c, f.name, *f.dst)
		if parseErr != nil {
			return core.Params{}, parseErr
		}
	}

	boolFields := []struct {
		name string
		dst  *bool
	}{
		{"convert_style", &p.ConvertStyle},
		{"anonymization_only", &p.AnonymizationOnly},
		{"return_base64", &p.ReturnBase64},
		{"cleanup_temp_files", &p.CleanupTempFiles},
	}

	for _, f := range boolFields {
		*f.dst, parseErr = formBool(c, f.name, *f.dst)
		if parseErr != nil {
			return core.Params{}, parseErr
		}
	}

	if v := c.PostForm("output_format"); v != "" {
		p.OutputFormat = core.Format(v)
	}

	return p, nil
}

func formInt(c *gin.Context, field string, fallback int) (int, error) {
	v := c.PostForm(field)
	if v == "" {
		return fallback, nil
	}

	parsed, parseErr := strconv.Atoi(v)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", core.ErrValidation, field)
	}

	return parsed, nil
}

func formFloat(c *gin.Context, field string, fallback float64) (float64, error) {
	v := c.PostForm(field)
	if v == "" {
		return fallback, nil
	}

	parsed, parseErr := strconv.ParseFloat(v, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: %s must be a number", core.ErrValidation, field)
	}

	return parsed, nil
}

func formBool(c *gin.Context, field string, fallback bool) (bool, error) {
	v := c.PostForm(field)
	if v == "" {
		return fallback, nil
	}

	parsed, parseErr := strconv.ParseBool(v)
	if parseErr != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", core.ErrValidation, field)
	}

	return parsed, nil
}

func filepathBase(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}

// Run starts the HTTP listener and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", shutdownErr)
		}

		return nil
	case listenErr := <-errChan:
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", listenErr)
		}

		return nil
	}
}
