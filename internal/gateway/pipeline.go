package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/bridge"
	"wabridge/internal/metrics"
	"wabridge/internal/whatsapp"
)

// Transport is the WhatsApp side of the pipeline. *whatsapp.Session
// implements it; tests substitute a fake.
type Transport interface {
	Self() types.JID
	SelfLID() types.JID
	MarkRead(ctx context.Context, chat, sender types.JID, messageIDs ...string) error
	Composing(ctx context.Context, chat types.JID) error
	Recording(ctx context.Context, chat types.JID) error
	Paused(ctx context.Context, chat types.JID) error
	SendText(ctx context.Context, to types.JID, text string, quote *whatsapp.Quote) (string, error)
	SendReaction(ctx context.Context, chat, sender types.JID, messageID, emoji string) error
	SendVoice(ctx context.Context, to types.JID, audio []byte, mimetype string) (string, error)
	Download(ctx context.Context, msg *whatsapp.Incoming) ([]byte, error)
}

// Bridge is the AI API side of the pipeline. *bridge.Client implements it.
type Bridge interface {
	Submit(ctx context.Context, req bridge.ChatRequest) (*bridge.SubmitResult, error)
	Await(ctx context.Context, jobID string) (*bridge.JobStatus, error)
	Save(ctx context.Context, req bridge.SaveRequest) error
	Preferences(ctx context.Context, jid string) (*bridge.Preferences, error)
	Transcribe(ctx context.Context, req bridge.TranscribeRequest) (*bridge.Transcription, error)
	Synthesize(ctx context.Context, text, jid string) (io.ReadCloser, error)
}

// PipelineConfig configures the message pipeline.
type PipelineConfig struct {
	Transport Transport
	Bridge    Bridge
	Rules     Rules
	Logger    *slog.Logger
}

// Pipeline carries each inbound message from decision to delivery. Handle is
// safe for concurrent use; every message gets its own call.
type Pipeline struct {
	tr     Transport
	bridge Bridge
	rules  Rules
	logger *slog.Logger
}

// NewPipeline creates a message pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		tr:     cfg.Transport,
		bridge: cfg.Bridge,
		rules:  cfg.Rules,
		logger: cfg.Logger,
	}
}

// Handle processes one inbound message to completion.
func (p *Pipeline) Handle(ctx context.Context, msg *whatsapp.Incoming) {
	metrics.ActivePipelines.Inc()
	defer metrics.ActivePipelines.Dec()

	self := Identity{JID: p.tr.Self(), LID: p.tr.SelfLID()}
	decision := Decide(msg, self, p.rules)

	switch decision.Kind {
	case Ignore:
		metrics.IgnoredTotal.Inc()
		p.logger.Debug("message ignored",
			"message_id", msg.MessageID,
			"chat", msg.Chat.String(),
			"reason", string(decision.Reason),
		)
	case Save:
		metrics.SavedTotal.Inc()
		p.save(ctx, msg)
	case Notice:
		p.notice(ctx, msg, decision.Notice)
	case Forward:
		p.forward(ctx, msg, decision)
	}
}

// save records an automated notification so the AI has context later.
// Errors are logged and dropped: history is best effort and never retried.
func (p *Pipeline) save(ctx context.Context, msg *whatsapp.Incoming) {
	req := bridge.SaveRequest{
		JID:              msg.Chat.String(),
		Message:          TextContent(msg),
		ConversationType: conversationType(msg),
		SenderJID:        msg.Sender.String(),
		SenderName:       msg.SenderName,
		MessageID:        msg.MessageID,
	}
	if err := p.bridge.Save(ctx, req); err != nil {
		p.logger.Warn("save history", "message_id", msg.MessageID, "error", err)
	}
}

// notice sends a fixed informational reply. Notices are deliberate answers,
// so a delivery problem is logged but never escalated to the failure signal.
func (p *Pipeline) notice(ctx context.Context, msg *whatsapp.Incoming, text string) {
	if _, err := p.tr.SendText(ctx, msg.Chat, text, p.quoteFor(msg)); err != nil {
		p.logger.Warn("send notice", "message_id", msg.MessageID, "error", err)
	}
}

func (p *Pipeline) forward(ctx context.Context, msg *whatsapp.Incoming, decision Decision) {
	started := time.Now()

	if err := p.tr.MarkRead(ctx, msg.Chat, msg.Sender, msg.MessageID); err != nil {
		p.logger.Debug("mark read", "message_id", msg.MessageID, "error", err)
	}

	// Typing feedback covers the whole round trip. The paused presence must
	// go out no matter how this function exits.
	if err := p.tr.Composing(ctx, msg.Chat); err != nil {
		p.logger.Debug("composing presence", "message_id", msg.MessageID, "error", err)
	}
	defer func() {
		if err := p.tr.Paused(context.WithoutCancel(ctx), msg.Chat); err != nil {
			p.logger.Debug("paused presence", "message_id", msg.MessageID, "error", err)
		}
	}()

	req, err := p.buildRequest(ctx, msg, decision)
	if err != nil {
		p.fail(ctx, msg, err)
		return
	}

	result, err := p.bridge.Submit(ctx, *req)
	if err != nil {
		p.fail(ctx, msg, err)
		return
	}

	var reply string
	if result.IsCommand {
		metrics.CommandsTotal.Inc()
		reply = result.Response
	} else {
		status, err := p.bridge.Await(ctx, result.JobID)
		if err != nil {
			p.fail(ctx, msg, err)
			return
		}
		reply = status.Text()
	}
	metrics.BridgeLatency.Observe(time.Since(started).Seconds())

	if strings.TrimSpace(reply) == "" {
		p.logger.Debug("empty reply, nothing to deliver", "message_id", msg.MessageID)
		return
	}

	p.deliver(ctx, msg, reply)
	metrics.ForwardedTotal.Inc()
}

// buildRequest assembles the enqueue payload, downloading and converting
// attachments as needed.
func (p *Pipeline) buildRequest(ctx context.Context, msg *whatsapp.Incoming, decision Decision) (*bridge.ChatRequest, error) {
	req := &bridge.ChatRequest{
		JID:              msg.Chat.String(),
		ConversationType: conversationType(msg),
		SenderJID:        msg.Sender.String(),
		SenderName:       msg.SenderName,
		MessageID:        msg.MessageID,
		IsAutomated:      decision.Automated,
		AutomatedSource:  decision.AutomatedSource,
	}

	text := TextContent(msg)
	if msg.Media == nil {
		req.Message = text
		return req, nil
	}

	switch msg.Media.Kind {
	case whatsapp.MediaImage:
		payload, err := fetchMedia(ctx, p.tr, msg)
		if err != nil {
			return nil, err
		}
		req.ImageData = payload.Data
		req.ImageMimetype = payload.Mimetype
		if text == "" {
			text = DefaultImagePrompt
		}
		req.Message = text

	case whatsapp.MediaDocument:
		payload, err := fetchMedia(ctx, p.tr, msg)
		if err != nil {
			return nil, err
		}
		req.DocumentData = payload.Data
		req.DocumentMimetype = payload.Mimetype
		req.DocumentFilename = payload.Filename
		if text == "" {
			text = DefaultDocumentPrompt
		}
		req.Message = text

	case whatsapp.MediaAudio:
		payload, err := fetchMedia(ctx, p.tr, msg)
		if err != nil {
			return nil, err
		}
		result, err := p.bridge.Transcribe(ctx, bridge.TranscribeRequest{
			Filename: audioFilename(payload.Mimetype),
			Audio:    payload.Data,
			JID:      msg.Chat.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("transcribe voice note: %w", err)
		}
		if strings.TrimSpace(result.Text) == "" {
			return nil, errors.New("transcription produced no text")
		}
		req.Message = result.Text

	default:
		// Video and sticker bytes are dropped; the caption already passed
		// the content check in Decide.
		req.Message = text
	}

	return req, nil
}

// deliver sends the reply, as a voice note when the chat asks for one and
// synthesis works, as text otherwise.
func (p *Pipeline) deliver(ctx context.Context, msg *whatsapp.Incoming, reply string) {
	if p.voiceReply(ctx, msg, reply) {
		metrics.VoiceRepliesTotal.Inc()
		return
	}
	if _, err := p.tr.SendText(ctx, msg.Chat, reply, p.quoteFor(msg)); err != nil {
		p.fail(ctx, msg, fmt.Errorf("deliver reply: %w", err))
	}
}

// voiceReply attempts text-to-speech delivery. Every problem along the way
// degrades to the text path instead of surfacing a failure.
func (p *Pipeline) voiceReply(ctx context.Context, msg *whatsapp.Incoming, reply string) bool {
	prefs, err := p.bridge.Preferences(ctx, msg.Chat.String())
	if err != nil {
		p.logger.Debug("fetch voice preferences", "chat", msg.Chat.String(), "error", err)
		return false
	}
	if !prefs.TTSEnabled {
		return false
	}

	if err := p.tr.Recording(ctx, msg.Chat); err != nil {
		p.logger.Debug("recording presence", "chat", msg.Chat.String(), "error", err)
	}

	stream, err := p.bridge.Synthesize(ctx, reply, msg.Chat.String())
	if err != nil {
		p.logger.Warn("tts synthesis failed, falling back to text", "chat", msg.Chat.String(), "error", err)
		return false
	}
	defer stream.Close()

	audio, err := io.ReadAll(stream)
	if err != nil || len(audio) == 0 {
		p.logger.Warn("tts produced no audio, falling back to text", "chat", msg.Chat.String(), "error", err)
		return false
	}

	if _, err := p.tr.SendVoice(ctx, msg.Chat, audio, "audio/ogg; codecs=opus"); err != nil {
		p.logger.Warn("send voice note failed, falling back to text", "chat", msg.Chat.String(), "error", err)
		return false
	}
	return true
}

// fail signals a processing failure on the triggering message: first the
// reaction, then the apology text. Both are attempted even if one fails.
func (p *Pipeline) fail(ctx context.Context, msg *whatsapp.Incoming, cause error) {
	metrics.FailuresTotal.Inc()
	p.logger.Error("message processing failed",
		"message_id", msg.MessageID,
		"chat", msg.Chat.String(),
		"error", cause,
	)

	ctx = context.WithoutCancel(ctx)
	if err := p.tr.SendReaction(ctx, msg.Chat, msg.Sender, msg.MessageID, FailureReaction); err != nil {
		p.logger.Warn("failure reaction", "message_id", msg.MessageID, "error", err)
	}
	if _, err := p.tr.SendText(ctx, msg.Chat, FailureText, p.quoteFor(msg)); err != nil {
		p.logger.Warn("failure notice", "message_id", msg.MessageID, "error", err)
	}
}

// quoteFor anchors replies in group chats to the triggering message so the
// thread stays readable. Direct chats get plain messages.
func (p *Pipeline) quoteFor(msg *whatsapp.Incoming) *whatsapp.Quote {
	if !msg.IsGroup {
		return nil
	}
	return &whatsapp.Quote{MessageID: msg.MessageID, Sender: msg.Sender}
}

func conversationType(msg *whatsapp.Incoming) string {
	if msg.IsGroup {
		return bridge.ConversationGroup
	}
	return bridge.ConversationPrivate
}
