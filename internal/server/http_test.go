// Package server_test tests the HTTP surface with an in-process router and a
// stub engine behind the pipeline.
package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/book-expert/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/metrics"
	"github.com/jgbrblmd/seed-vc/internal/scheduler"
	"github.com/jgbrblmd/seed-vc/internal/server"
	"github.com/jgbrblmd/seed-vc/internal/vc"
)

// stubEngine echoes chunks back; readiness is controllable per test.
type stubEngine struct {
	readyErr error
}

func (e *stubEngine) PrepareReference(
	_ context.Context,
	_ []float64,
) (core.ReferenceConditioning, error) {
	return core.ReferenceConditioning("conditioning"), nil
}

func (e *stubEngine) Convert(
	_ context.Context,
	chunk []float64,
	_ core.ReferenceConditioning,
	_ core.Params,
) ([]float64, error) {
	return chunk, nil
}

func (e *stubEngine) Ready(_ context.Context) error {
	return e.readyErr
}

func newTestRouter(t *testing.T, eng *stubEngine) (*gin.Engine, *metrics.Metrics) {
	t.Helper()

	log, logErr := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, logErr)

	t.Cleanup(func() { _ = log.Close() })

	met := metrics.New(prometheus.NewRegistry())

	sched, schedErr := scheduler.New(eng, 1, met, log)
	require.NoError(t, schedErr)

	service := vc.New(sched, audio.DefaultSegmenterConfig(), t.TempDir(), log)

	return server.New(service, met, log).Router(), met
}

func toneWAVBase64(t *testing.T, seconds float64) string {
	t.Helper()

	samples := make([]float64, int(seconds*core.CanonicalSampleRate))
	for i := range samples {
		samples[i] = 0.4 * math.Sin(2*math.Pi*220*float64(i)/core.CanonicalSampleRate)
	}

	audio.Quantize16(samples)

	data, err := audio.EncodeWAV(samples, core.CanonicalSampleRate)
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(data)
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, marshalErr := json.Marshal(body)
	require.NoError(t, marshalErr)

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &health))

	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.ModelsLoaded)
}

func TestHealthEndpointDegraded(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: errors.New("models still loading")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var health server.HealthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &health))

	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.ModelsLoaded)
}

func TestConvertEndpointBase64(t *testing.T) {
	t.Parallel()

	router, met := newTestRouter(t, &stubEngine{readyErr: nil})

	recorder := performJSON(t, router, http.MethodPost, "/convert", map[string]any{
		"source_audio_base64": toneWAVBase64(t, 1.0),
		"target_audio_base64": toneWAVBase64(t, 0.5),
		"output_format":       "wav",
		"return_base64":       true,
	})

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.True(t, response.Success)
	assert.Equal(t, "wav", response.OutputFormat)
	assert.Empty(t, response.ErrorKind)
	assert.NotEmpty(t, response.FullOutputBase64)
	assert.NotEmpty(t, response.StreamingOutputBase64)
	assert.Positive(t, response.ProcessingTime)
	require.NotNil(t, response.InputInfo)
	assert.InDelta(t, 1.0, response.InputInfo.Source.DurationSeconds, 0.01)

	decoded, decodeErr := base64.StdEncoding.DecodeString(response.FullOutputBase64)
	require.NoError(t, decodeErr)
	assert.Equal(t, "wav", audio.DetectFormat(decoded))

	counted := testutil.ToFloat64(met.HTTPRequests.WithLabelValues("POST", "/convert", "200"))
	assert.InDelta(t, 1.0, counted, 0)
}

func TestConvertEndpointValidationError(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	recorder := performJSON(t, router, http.MethodPost, "/convert", map[string]any{
		"source_audio_base64": toneWAVBase64(t, 0.5),
		"target_audio_base64": toneWAVBase64(t, 0.5),
		"diffusion_steps":     500,
	})

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.False(t, response.Success)
	assert.Equal(t, core.KindValidation, response.ErrorKind)
}

func TestConvertEndpointMissingSource(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	recorder := performJSON(t, router, http.MethodPost, "/convert", map[string]any{
		"target_audio_base64": toneWAVBase64(t, 0.5),
	})

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.Equal(t, core.KindInput, response.ErrorKind)
}

func TestConvertEndpointModelUnavailable(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: errors.New("models not loaded")})

	recorder := performJSON(t, router, http.MethodPost, "/convert", map[string]any{
		"source_audio_base64": toneWAVBase64(t, 0.5),
		"target_audio_base64": toneWAVBase64(t, 0.5),
	})

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.Equal(t, core.KindModelUnavailable, response.ErrorKind)
}

func TestConvertFilesEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	sourceData, sourceErr := base64.StdEncoding.DecodeString(toneWAVBase64(t, 1.0))
	require.NoError(t, sourceErr)

	referenceData, referenceErr := base64.StdEncoding.DecodeString(toneWAVBase64(t, 0.5))
	require.NoError(t, referenceErr)

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, partErr := writer.CreateFormFile("source_audio", "source.wav")
	require.NoError(t, partErr)
	_, _ = part.Write(sourceData)

	part, partErr = writer.CreateFormFile("target_audio", "reference.wav")
	require.NoError(t, partErr)
	_, _ = part.Write(referenceData)

	require.NoError(t, writer.WriteField("output_format", "wav"))
	require.NoError(t, writer.WriteField("return_base64", "true"))
	require.NoError(t, writer.WriteField("diffusion_steps", "25"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))

	assert.True(t, response.Success)
	assert.NotEmpty(t, response.FullOutputBase64)
}

func TestConvertFilesEndpointMissingUpload(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/convert/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestDownloadAndCleanupEndpoints(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	recorder := performJSON(t, router, http.MethodPost, "/convert", map[string]any{
		"source_audio_base64": toneWAVBase64(t, 0.5),
		"target_audio_base64": toneWAVBase64(t, 0.5),
		"cleanup_temp_files":  false,
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var response server.ConvertResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.NotEmpty(t, response.FullOutputPath)

	downloadReq := httptest.NewRequest(http.MethodGet, "/download"+response.FullOutputPath, nil)
	downloadRec := httptest.NewRecorder()
	router.ServeHTTP(downloadRec, downloadReq)

	require.Equal(t, http.StatusOK, downloadRec.Code)
	assert.Equal(t, "wav", audio.DetectFormat(downloadRec.Body.Bytes()))

	cleanupReq := httptest.NewRequest(http.MethodDelete, "/cleanup"+response.FullOutputPath, nil)
	cleanupRec := httptest.NewRecorder()
	router.ServeHTTP(cleanupRec, cleanupReq)

	require.Equal(t, http.StatusOK, cleanupRec.Code)

	_, statErr := os.Stat(response.FullOutputPath)
	require.True(t, os.IsNotExist(statErr))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, &stubEngine{readyErr: nil})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
}
