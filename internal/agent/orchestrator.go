// Package agent drives the room message pipeline: validation, persistence,
// attachment extraction, context assembly, the model call, rendering and
// broadcast.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/bus"
	"docchat/internal/channel"
	"docchat/internal/domain"
	"docchat/internal/provider"
	"docchat/internal/render"
)

const (
	defaultModelTimeout   = 30 * time.Second
	defaultMaxAttachments = 10

	aiSenderID     = "ai"
	systemSenderID = "system"
)

// Validation messages returned to the client.
const (
	errUnknownConnection = "Unknown connection"
	errNotJoined         = "You must join the room first"
	errEmptyMessage      = "Message is empty"
)

type Model interface {
	GenerateResponse(ctx context.Context, turns []domain.Turn, format domain.Format, o provider.Overrides) (*provider.Response, error)
}

type Renderer interface {
	GenerateByFlag(ctx context.Context, format domain.Format, content, roomID string) (render.Result, error)
}

type AttachmentProcessor interface {
	ProcessAttachment(ctx context.Context, att domain.Attachment) (string, error)
}

type OrchestratorConfig struct {
	Store       domain.MessageStore
	Registry    *channel.Registry
	Model       Model
	Renderer    Renderer
	Attachments AttachmentProcessor
	Broadcaster domain.Broadcaster
	Events      *bus.EventBus // optional
	Limiter     *RateLimiter  // optional

	HistoryLimit   int
	MaxAttachments int
	ModelTimeout   time.Duration
	Logger         *slog.Logger
}

// Orchestrator handles the realtime operations of one process.
type Orchestrator struct {
	store       domain.MessageStore
	registry    *channel.Registry
	sessions    *RoomSessions
	contexts    *ContextLoader
	model       Model
	renderer    Renderer
	attachments AttachmentProcessor
	broadcaster domain.Broadcaster
	events      *bus.EventBus
	limiter     *RateLimiter

	historyLimit   int
	maxAttachments int
	modelTimeout   time.Duration
	logger         *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = defaultMaxAttachments
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	return &Orchestrator{
		store:          cfg.Store,
		registry:       cfg.Registry,
		sessions:       NewRoomSessions(cfg.Store, cfg.Logger),
		contexts:       NewContextLoader(cfg.Store),
		model:          cfg.Model,
		renderer:       cfg.Renderer,
		attachments:    cfg.Attachments,
		broadcaster:    cfg.Broadcaster,
		events:         cfg.Events,
		limiter:        cfg.Limiter,
		historyLimit:   cfg.HistoryLimit,
		maxAttachments: cfg.MaxAttachments,
		modelTimeout:   cfg.ModelTimeout,
		logger:         cfg.Logger,
	}
}

func (o *Orchestrator) emit(typ, roomID string, payload map[string]any) {
	o.events.Emit(bus.Event{Type: typ, RoomID: roomID, Payload: payload})
}

func reject(msg string) domain.SendResult {
	return domain.SendResult{Success: false, Error: msg, Stage: domain.StageValidation}
}

// SendMessage runs one inbound chat message through the pipeline. Every
// failure is reported in the result; nothing is retried.
func (o *Orchestrator) SendMessage(ctx context.Context, connID string, req domain.SendMessageRequest) domain.SendResult {
	userID, ok := o.registry.UserOf(connID)
	if !ok {
		o.emit(bus.EventMessageRejected, req.RoomID, map[string]any{"reason": errUnknownConnection})
		return reject(errUnknownConnection)
	}
	if req.RoomID == "" || !o.registry.IsMember(userID, req.RoomID) {
		o.emit(bus.EventMessageRejected, req.RoomID, map[string]any{"reason": errNotJoined})
		return reject(errNotJoined)
	}
	format, err := domain.ParseFormat(req.FormatFlag)
	if err != nil {
		msg := "Unsupported format: " + req.FormatFlag
		o.emit(bus.EventMessageRejected, req.RoomID, map[string]any{"reason": msg})
		return reject(msg)
	}
	text := strings.TrimSpace(req.Message)
	if text == "" && len(req.Attachments) == 0 {
		o.emit(bus.EventMessageRejected, req.RoomID, map[string]any{"reason": errEmptyMessage})
		return reject(errEmptyMessage)
	}
	if len(req.Attachments) > o.maxAttachments {
		msg := fmt.Sprintf("Too many attachments (max %d)", o.maxAttachments)
		o.emit(bus.EventMessageRejected, req.RoomID, map[string]any{"reason": msg})
		return reject(msg)
	}

	log := o.logger.With("room", req.RoomID, "user", userID, "format", format)

	// The user's turn is durable before the model sees it.
	inbound := &domain.Message{RoomID: req.RoomID, Text: inboundText(text, req.Attachments), Type: domain.MessageUser}
	o.setSender(ctx, inbound, userID)
	if err := o.store.AddMessage(ctx, inbound); err != nil {
		log.Error("persist inbound message failed", "err", err)
		o.emit(bus.EventPersistFailed, req.RoomID, map[string]any{"message": "inbound"})
		return domain.SendResult{ResponseType: format, Error: "Failed to save message", Stage: domain.StagePersist}
	}
	o.broadcast(req.RoomID, userID, *inbound)
	o.emit(bus.EventMessageReceived, req.RoomID, map[string]any{
		"format":      string(format),
		"attachments": len(req.Attachments),
	})

	pending := o.pendingTurn(ctx, log, req.RoomID, text, req.Attachments)
	turns, err := o.contexts.Load(ctx, ContextQuery{
		RoomID:    req.RoomID,
		Pending:   &pending,
		Limit:     o.historyLimit,
		ExcludeID: inbound.ID,
	})
	if err != nil {
		log.Warn("context load failed, answering without history", "err", err)
		turns = []domain.Turn{{Role: "user", Content: pending}}
	}

	mctx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	start := time.Now()
	resp, err := o.callModel(mctx, req.RoomID, turns, format)
	cancel()
	if err != nil {
		return o.failModel(ctx, log, req.RoomID, format, err)
	}
	log.Info("model answered",
		"turns", len(turns),
		"latency", time.Since(start).Round(time.Millisecond),
		"tokens", resp.Usage.TotalTokens)
	o.emit(bus.EventModelCompleted, req.RoomID, map[string]any{
		"latency": time.Since(start),
		"model":   resp.Model,
		"tokens":  resp.Usage.TotalTokens,
	})

	result, renderErr := o.renderer.GenerateByFlag(ctx, format, resp.Content, req.RoomID)
	if renderErr != nil {
		log.Error("render failed", "err", renderErr)
		o.emit(bus.EventRenderFailed, req.RoomID, map[string]any{"format": string(format), "error": renderErr.Error()})
		result = render.Result{FormattedResponse: resp.Content}
	}

	answer := &domain.Message{
		RoomID:   req.RoomID,
		Text:     result.FormattedResponse,
		FileURL:  result.FileURL,
		FileName: result.FileName,
		Type:     domain.MessageAssistant,
		IsAI:     true,
	}
	if err := o.store.AddMessage(ctx, answer); err != nil {
		log.Error("persist answer failed", "err", err)
		o.emit(bus.EventPersistFailed, req.RoomID, map[string]any{"message": "answer"})
		return domain.SendResult{ResponseType: format, Error: "Failed to save response", Stage: domain.StagePersist}
	}
	o.broadcast(req.RoomID, aiSenderID, *answer)

	if renderErr != nil {
		o.notify(ctx, req.RoomID, fmt.Sprintf("Could not generate the %s file. The answer is shown as text.", format))
		return domain.SendResult{
			ResponseType: format,
			Error:        fmt.Sprintf("Failed to generate %s file", format),
			Stage:        domain.StageRender,
		}
	}

	if answer.FileURL != "" {
		o.emit(bus.EventArtifactPublished, req.RoomID, map[string]any{"format": string(format), "file": answer.FileName})
	}
	o.emit(bus.EventMessageAnswered, req.RoomID, map[string]any{"format": string(format)})
	return domain.SendResult{Success: true, ResponseType: format, FileURL: answer.FileURL}
}

// pendingTurn is the user's text followed by whatever could be extracted
// from the attachments. Failed attachments are announced once. The turn is
// never empty.
func (o *Orchestrator) pendingTurn(ctx context.Context, log *slog.Logger, roomID, text string, atts []domain.Attachment) string {
	parts := make([]string, 0, len(atts)+1)
	if text != "" {
		parts = append(parts, text)
	}
	var failed []string
	for _, att := range atts {
		extracted, err := o.attachments.ProcessAttachment(ctx, att)
		if err != nil {
			log.Warn("attachment extraction failed", "file", att.Filename, "mime", att.MimeType, "err", err)
			o.emit(bus.EventAttachmentFailed, roomID, map[string]any{"file": att.Filename})
			failed = append(failed, att.Filename)
			continue
		}
		if extracted != "" {
			parts = append(parts, extracted)
		}
	}
	if len(failed) > 0 {
		o.notify(ctx, roomID, "Could not read attachment: "+strings.Join(failed, ", "))
	}
	if len(parts) == 0 {
		// Nothing readable: the model gets the same line the room history shows.
		return inboundText(text, atts)
	}
	return strings.Join(parts, "\n\n")
}

func (o *Orchestrator) callModel(ctx context.Context, roomID string, turns []domain.Turn, format domain.Format) (*provider.Response, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, roomID); err != nil {
			return nil, fmt.Errorf("rate limited: %w", err)
		}
	}
	return o.model.GenerateResponse(ctx, turns, format, provider.Overrides{})
}

func (o *Orchestrator) failModel(ctx context.Context, log *slog.Logger, roomID string, format domain.Format, err error) domain.SendResult {
	reason := err.Error()
	var perr *provider.Error
	if errors.As(err, &perr) && perr.Message != "" {
		reason = perr.Message
	}
	log.Error("model call failed", "err", err)
	o.emit(bus.EventModelFailed, roomID, map[string]any{"error": reason})
	msg := "AI service error: " + reason
	o.notify(ctx, roomID, msg)
	return domain.SendResult{ResponseType: format, Error: msg, Stage: domain.StageModel}
}

// notify persists and broadcasts a system message.
func (o *Orchestrator) notify(ctx context.Context, roomID, text string) {
	msg := &domain.Message{RoomID: roomID, Text: text, Type: domain.MessageSystem}
	if err := o.store.AddMessage(ctx, msg); err != nil {
		o.logger.Error("persist system notice failed", "room", roomID, "err", err)
		o.emit(bus.EventPersistFailed, roomID, map[string]any{"message": "notice"})
		return
	}
	o.broadcast(roomID, systemSenderID, *msg)
}

func (o *Orchestrator) broadcast(roomID, senderID string, msg domain.Message) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastToRoom(roomID, domain.EventMessage, domain.MessageEvent{UserID: senderID, Message: msg})
}

// setSender fills the sender reference: temp users are tracked by temp id
// only.
func (o *Orchestrator) setSender(ctx context.Context, msg *domain.Message, userID string) {
	u, err := o.sessions.User(ctx, userID)
	if err != nil {
		o.logger.Warn("sender lookup failed", "user", userID, "err", err)
	}
	if u != nil && u.IsTemp {
		msg.TempID = u.TempID
		return
	}
	msg.UserID = userID
}

func inboundText(text string, atts []domain.Attachment) string {
	if text != "" || len(atts) == 0 {
		return text
	}
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = a.Filename
	}
	return "Attached: " + strings.Join(names, ", ")
}
