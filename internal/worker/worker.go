// Package worker provides a NATS worker that processes voice conversion jobs
// submitted through the message bus instead of the HTTP surface.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/jgbrblmd/seed-vc/internal/audio"
	"github.com/jgbrblmd/seed-vc/internal/core"
	"github.com/jgbrblmd/seed-vc/internal/vc"
)

const handleMessageTimeout = 10 * time.Minute

var (
	// ErrSourceKeyEmpty indicates a request event without a source recording key.
	ErrSourceKeyEmpty = errors.New("source key cannot be empty")
	// ErrReferenceKeyEmpty indicates a request event without a reference recording key.
	ErrReferenceKeyEmpty = errors.New("reference key cannot be empty")
)

// Converter runs one conversion request through the pipeline. It is satisfied
// by vc.Service.
type Converter interface {
	Convert(ctx context.Context, req vc.Request) (*vc.Result, error)
}

// NatsWorker listens for conversion jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	converter      Converter
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	converter Converter,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		converter:      converter,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	reply := w.processConversionJob(ctx, event)

	err = w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processConversionJob downloads the input recordings, runs the conversion,
// and uploads the rendered artifacts. Failures are folded into the reply
// event rather than dropped.
func (w *NatsWorker) processConversionJob(
	ctx context.Context,
	event *ConversionRequestedEvent,
) *ConversionCompletedEvent {
	reply := &ConversionCompletedEvent{
		Header:               event.Header,
		Success:              false,
		FullArtifactKey:      "",
		StreamingArtifactKey: "",
		OutputFormat:         string(event.Params.OutputFormat),
		Chunks:               0,
		ProcessingSeconds:    0,
		ErrorKind:            "",
		Message:              "",
	}

	result, convertErr := w.convert(ctx, event)
	if convertErr != nil {
		w.log.Error("Conversion failed for workflow %s: %v", event.Header.WorkflowID, convertErr)

		reply.ErrorKind = core.ErrorKind(convertErr)
		reply.Message = convertErr.Error()

		return reply
	}

	fullKey, streamingKey, uploadErr := w.uploadArtifacts(ctx, result)
	if uploadErr != nil {
		w.log.Error("Artifact upload failed for workflow %s: %v", event.Header.WorkflowID, uploadErr)

		reply.ErrorKind = core.KindIO
		reply.Message = uploadErr.Error()

		return reply
	}

	w.deleteIntake(ctx, event)

	reply.Success = true
	reply.FullArtifactKey = fullKey
	reply.StreamingArtifactKey = streamingKey
	reply.OutputFormat = string(result.OutputFormat)
	reply.Chunks = result.Chunks
	reply.ProcessingSeconds = result.ProcessingSeconds

	return reply
}

func (w *NatsWorker) convert(ctx context.Context, event *ConversionRequestedEvent) (*vc.Result, error) {
	sourceData, sourceErr := w.store.Download(ctx, event.SourceKey)
	if sourceErr != nil {
		return nil, fmt.Errorf("%w: failed to download source '%s': %w", core.ErrIO, event.SourceKey, sourceErr)
	}

	referenceData, referenceErr := w.store.Download(ctx, event.ReferenceKey)
	if referenceErr != nil {
		return nil, fmt.Errorf(
			"%w: failed to download reference '%s': %w",
			core.ErrIO, event.ReferenceKey, referenceErr,
		)
	}

	// Artifacts travel back through the object store, so the pipeline is
	// asked for transport-encoded output and no files on disk.
	params := event.Params
	params.ReturnBase64 = true
	params.CleanupTempFiles = true

	result, convertErr := w.converter.Convert(ctx, vc.Request{
		Source:    audio.Source{Path: "", Upload: sourceData, Inline: ""},
		Reference: audio.Source{Path: "", Upload: referenceData, Inline: ""},
		Params:    params,
	})
	if convertErr != nil {
		return nil, convertErr
	}

	return result, nil
}

func (w *NatsWorker) uploadArtifacts(ctx context.Context, result *vc.Result) (string, string, error) {
	fullData, fullErr := base64.StdEncoding.DecodeString(result.FullBase64)
	if fullErr != nil {
		return "", "", fmt.Errorf("failed to decode full artifact: %w", fullErr)
	}

	streamingData, streamingErr := base64.StdEncoding.DecodeString(result.StreamingBase64)
	if streamingErr != nil {
		return "", "", fmt.Errorf("failed to decode streaming artifact: %w", streamingErr)
	}

	ext := "." + string(result.OutputFormat)
	fullKey := "artifacts/" + uuid.NewString() + "_full" + ext
	streamingKey := "artifacts/" + uuid.NewString() + "_streaming" + ext

	uploadErr := w.store.Upload(ctx, fullKey, fullData)
	if uploadErr != nil {
		return "", "", fmt.Errorf("failed to upload full artifact '%s': %w", fullKey, uploadErr)
	}

	uploadErr = w.store.Upload(ctx, streamingKey, streamingData)
	if uploadErr != nil {
		return "", "", fmt.Errorf("failed to upload streaming artifact '%s': %w", streamingKey, uploadErr)
	}

	return fullKey, streamingKey, nil
}

// deleteIntake removes the consumed input recordings. Failures are logged,
// not fatal: the artifacts already exist.
func (w *NatsWorker) deleteIntake(ctx context.Context, event *ConversionRequestedEvent) {
	deleteErr := w.store.Delete(ctx, event.SourceKey)
	if deleteErr != nil {
		w.log.Warn("Failed to delete intake source '%s': %v", event.SourceKey, deleteErr)
	}

	deleteErr = w.store.Delete(ctx, event.ReferenceKey)
	if deleteErr != nil {
		w.log.Warn("Failed to delete intake reference '%s': %v", event.ReferenceKey, deleteErr)
	}
}

// publishReplyEvent marshals and responds with the ConversionCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *ConversionCompletedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*ConversionRequestedEvent, error) {
	// Producers may omit params entirely or send a partial set; fields
	// absent from the payload keep the documented defaults.
	event := ConversionRequestedEvent{
		Header:       EventHeader{WorkflowID: "", EmittedAt: time.Time{}},
		SourceKey:    "",
		ReferenceKey: "",
		Params:       core.DefaultParams(),
	}

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.SourceKey == "" {
		return nil, ErrSourceKeyEmpty
	}

	if event.ReferenceKey == "" {
		return nil, ErrReferenceKeyEmpty
	}

	return &event, nil
}
