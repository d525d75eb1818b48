package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/verbalis/verbalis/internal/observe"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/pkg/provider/llm"
	"github.com/verbalis/verbalis/pkg/provider/tts"
)

// multimodalErrorMarkers classify a stream failure as image-related. The
// match is case-insensitive substring over the error text.
var multimodalErrorMarkers = []string{
	"vision",
	"image",
	"multimodal",
	"unsupported",
	"bad-request",
	"bad request",
	"invalid",
	"not-supported",
	"not supported",
}

// ImageCapturer supplies the optional auxiliary image context for a turn
// (e.g., a screenshot of the user's active window). Best effort: a failure
// never aborts the turn.
type ImageCapturer interface {
	CaptureImage(ctx context.Context) (data []byte, mime string, err error)
}

// Config holds the orchestrator tunables.
type Config struct {
	// SystemPrompt is the primary system instruction, reused verbatim on the
	// multimodal-fallback retry.
	SystemPrompt string

	// SpokenSystemPrompt is the stylistically distinct instruction for the
	// parallel spoken-style generation.
	SpokenSystemPrompt string

	// Temperature is the sampling temperature for both generations.
	Temperature float64

	// MaxTokens caps the primary response. Zero uses the provider default.
	MaxTokens int

	// SpokenMaxTokens caps the spoken-style response. Materially shorter
	// than MaxTokens; defaults to 160 when zero.
	SpokenMaxTokens int
}

func (c Config) withDefaults() Config {
	if c.SpokenSystemPrompt == "" {
		c.SpokenSystemPrompt = "Rewrite your answer as a short, natural spoken reply. " +
			"No lists, no markup, at most three sentences."
	}
	if c.SpokenMaxTokens == 0 {
		c.SpokenMaxTokens = 160
	}
	return c
}

// Orchestrator drives conversation turns.
//
// At most one primary stream is live at any time; submitting a turn cancels
// the previous one (replace-by-cancel). The parallel spoken-style generation
// is the single exception allowed to run alongside the primary, and its
// result is merged only if the orchestrator has not advanced to a newer turn.
type Orchestrator struct {
	provider llm.Provider
	history  store.Store
	sink     Sink
	speaker  tts.Speaker
	imager   ImageCapturer
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics

	sessionID string

	mu      sync.Mutex
	state   State
	phase   TurnPhase
	turnSeq uint64
	cancel  context.CancelFunc
	reason  string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSpeaker attaches the TTS collaborator that receives the spoken-style
// response.
func WithSpeaker(s tts.Speaker) Option {
	return func(o *Orchestrator) { o.speaker = s }
}

// WithImageCapturer attaches the best-effort auxiliary image source.
func WithImageCapturer(ic ImageCapturer) Option {
	return func(o *Orchestrator) { o.imager = ic }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics sets the metrics instance. The process default is used when
// this option is absent.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. provider and history must not be nil; sink may
// be nil for headless use.
func New(provider llm.Provider, history store.Store, sink Sink, sessionID string, cfg Config, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("convo: provider must not be nil")
	}
	if history == nil {
		return nil, errors.New("convo: history store must not be nil")
	}
	if sink == nil {
		sink = nopSink{}
	}
	o := &Orchestrator{
		provider:  provider,
		history:   history,
		sink:      sink,
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// State returns the current state snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Phase returns the current turn phase.
func (o *Orchestrator) Phase() TurnPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// SetListening updates the voice-capture indicator in the broadcast state.
func (o *Orchestrator) SetListening(listening bool) {
	o.mu.Lock()
	o.state.IsListening = listening
	o.publishLocked()
	o.mu.Unlock()
}

// SetTranscription updates the live transcription in the broadcast state.
func (o *Orchestrator) SetTranscription(text string) {
	o.mu.Lock()
	o.state.SttTranscription = text
	o.publishLocked()
	o.mu.Unlock()
}

// Abort cancels the turn in flight, if any, and resets the state to
// defaults. reason is one of the Reason* constants; it affects logging only.
func (o *Orchestrator) Abort(reason string) {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.reason = reason
	o.turnSeq++ // orphan any in-flight token application
	o.phase = PhaseAborted
	o.state = State{IsListening: o.state.IsListening}
	o.publishLocked()
	o.mu.Unlock()

	if cancel != nil {
		o.log.Info("turn aborted", "reason", reason)
		cancel()
	}
	if o.speaker != nil {
		o.speaker.Stop()
	}
}

// SubmitTurn runs one conversation turn to completion: it cancels any active
// stream, persists the user message, streams the primary response with
// per-token state broadcasts, and (in voice mode) races a spoken-style
// generation alongside. Blocks until the primary stream finishes; run it on
// its own goroutine.
//
// A cancelled turn returns nil: cancellation is expected, not a failure.
func (o *Orchestrator) SubmitTurn(ctx context.Context, text string, history []llm.Message, voiceMode bool) error {
	ctx, span := observe.StartSpan(ctx, "convo.turn")
	span.SetAttributes(attribute.Bool("voice_mode", voiceMode))
	defer span.End()

	// The turn context is cancelled by the next SubmitTurn or by Abort, not
	// when this call returns: the spoken-style generation may legitimately
	// outlive the primary stream.
	turn, turnCtx := o.beginTurn(ctx, text)

	o.persist(ctx, "user", text)

	// Best-effort image context. A capture failure is a log line, nothing
	// more.
	var imgData []byte
	var imgMime string
	if o.imager != nil {
		data, mime, err := o.imager.CaptureImage(turnCtx)
		if err != nil {
			o.log.Warn("image capture failed, continuing without image", "error", err)
		} else {
			imgData, imgMime = data, mime
		}
	}

	if voiceMode {
		go o.runSpoken(turnCtx, turn, text, history)
	}

	messages := o.buildMessages(text, history, imgData, imgMime)
	response, err := o.streamPrimary(turnCtx, turn, messages)

	if err != nil && turnCtx.Err() == nil && len(imgData) > 0 && isMultimodalError(err) {
		o.log.Info("retrying without image after multimodal error", "error", err)
		o.metrics.FallbackRetries.Add(turnCtx, 1)
		messages = o.buildMessages(text, history, nil, "")
		response, err = o.streamPrimary(turnCtx, turn, messages)
	}

	if turnCtx.Err() != nil {
		// Aborted or superseded. State was already reset by the canceller.
		return nil
	}
	if err != nil {
		o.failTurn(turn, err)
		return err
	}

	o.persist(ctx, "assistant", response)
	o.completeTurn(turn)
	return nil
}

// beginTurn cancels the previous turn and installs a fresh one.
func (o *Orchestrator) beginTurn(ctx context.Context, text string) (uint64, context.Context) {
	turnCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if prev := o.cancel; prev != nil {
		o.log.Info("turn aborted", "reason", ReasonSuperseded)
		prev()
	}
	o.turnSeq++
	turn := o.turnSeq
	o.cancel = cancel
	o.phase = PhaseSubmitting
	o.state = State{
		IsLoading:       true,
		CurrentQuestion: text,
		IsListening:     o.state.IsListening,
	}
	o.publishLocked()
	o.mu.Unlock()

	return turn, turnCtx
}

// buildMessages assembles the provider message list for the primary call.
func (o *Orchestrator) buildMessages(text string, history []llm.Message, imgData []byte, imgMime string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{
		Role:      llm.RoleUser,
		Content:   text,
		ImageData: imgData,
		ImageMIME: imgMime,
	})
	return messages
}

// streamPrimary opens the token stream and applies each token to the state,
// guarded by the turn sequence so a superseded stream can never write.
func (o *Orchestrator) streamPrimary(ctx context.Context, turn uint64, messages []llm.Message) (string, error) {
	chunks, err := o.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: o.cfg.SystemPrompt,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("convo: open stream: %w", err)
	}

	var response strings.Builder
	for chunk := range chunks {
		if ctx.Err() != nil {
			return response.String(), ctx.Err()
		}
		if chunk.FinishReason == "error" {
			return response.String(), fmt.Errorf("convo: stream: %s", chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}
		response.WriteString(chunk.Text)
		if !o.applyToken(turn, response.String()) {
			return response.String(), context.Canceled
		}
	}
	return response.String(), nil
}

// applyToken publishes the accumulated response if the turn is still
// current. Reports false once the turn has been superseded.
func (o *Orchestrator) applyToken(turn uint64, accumulated string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if turn != o.turnSeq {
		return false
	}
	o.phase = PhaseStreaming
	o.state.IsLoading = false
	o.state.IsStreaming = true
	o.state.CurrentResponse = accumulated
	o.publishLocked()
	return true
}

// runSpoken performs the parallel spoken-style generation. Its result is
// merged only if this turn is still the current one when it completes; an
// orphaned generation finishes quietly and is discarded.
func (o *Orchestrator) runSpoken(ctx context.Context, turn uint64, text string, history []llm.Message) {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		// The spoken prompt never carries images.
		m.ImageData, m.ImageMIME = nil, ""
		messages = append(messages, m)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: o.cfg.SpokenSystemPrompt,
		Temperature:  o.cfg.Temperature,
		MaxTokens:    o.cfg.SpokenMaxTokens,
	})
	if err != nil {
		if ctx.Err() == nil {
			o.log.Warn("spoken-style generation failed", "error", err)
		}
		return
	}

	o.mu.Lock()
	if turn != o.turnSeq {
		o.mu.Unlock()
		return
	}
	o.state.ConversationalResponse = resp.Content
	o.publishLocked()
	o.mu.Unlock()

	o.sink.PublishEvent("conversational-response-ready", resp.Content)
	if o.speaker != nil {
		if err := o.speaker.Speak(ctx, resp.Content); err != nil && ctx.Err() == nil {
			o.log.Warn("speaking response failed", "error", err)
		}
	}
}

// completeTurn finalizes state for a successful turn.
func (o *Orchestrator) completeTurn(turn uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if turn != o.turnSeq {
		return
	}
	// o.cancel stays installed so the next turn (or Abort) releases the
	// turn context once the spoken generation can no longer merge.
	o.phase = PhaseCompleted
	o.state.IsLoading = false
	o.state.IsStreaming = false
	o.publishLocked()
}

// failTurn reports a terminal turn failure.
func (o *Orchestrator) failTurn(turn uint64, err error) {
	o.log.Error("turn failed", "error", err)
	o.sink.PublishEvent("error", err.Error())

	o.mu.Lock()
	defer o.mu.Unlock()
	if turn != o.turnSeq {
		return
	}
	o.phase = PhaseFailed
	o.state.IsLoading = false
	o.state.IsStreaming = false
	o.publishLocked()
}

// persist writes one message, logging failures instead of propagating them.
// A response already streamed to the user must not be lost to a storage
// hiccup.
func (o *Orchestrator) persist(ctx context.Context, role, content string) {
	if content == "" {
		return
	}
	msg := &store.Message{SessionID: o.sessionID, Role: role, Content: content}
	if err := o.history.AddMessage(ctx, msg); err != nil {
		o.log.Error("persisting message failed", "role", role, "error", err)
	}
}

// publishLocked broadcasts the current state. Caller holds o.mu.
func (o *Orchestrator) publishLocked() {
	o.sink.PublishState(o.state)
}

// isMultimodalError reports whether err looks like an image-capability
// rejection rather than a generic failure.
func isMultimodalError(err error) bool {
	text := strings.ToLower(err.Error())
	for _, marker := range multimodalErrorMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
