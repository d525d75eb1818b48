package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/verbalis/verbalis/internal/config"
	"github.com/verbalis/verbalis/internal/convo"
	"github.com/verbalis/verbalis/internal/health"
	"github.com/verbalis/verbalis/internal/observe"
	"github.com/verbalis/verbalis/internal/store"
	"github.com/verbalis/verbalis/internal/voice"
	"github.com/verbalis/verbalis/pkg/audio"
	"github.com/verbalis/verbalis/pkg/provider/llm"
	"github.com/verbalis/verbalis/pkg/provider/stt"
	"github.com/verbalis/verbalis/pkg/provider/tts"
	"github.com/verbalis/verbalis/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured. Populated by main via the config registry.
type Providers struct {
	LLM    llm.Provider
	STT    stt.Provider
	VAD    vad.Engine
	Device audio.Device
}

// App owns all subsystem lifetimes: persistence, the conversation
// orchestrator, and (once StartVoice is called) the capture pipeline and STT
// session.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	sink       EventSink
	visibility VisibilityRequester
	speaker    tts.Speaker
	imager     convo.ImageCapturer
	metrics    *observe.Metrics

	history store.Store
	session store.Session
	orch    *convo.Orchestrator

	mu       sync.Mutex
	voiceSes *voice.Session
	capture  *audio.CapturePipeline
	pumpDone chan struct{}

	// lastDispatch holds the unix-nano timestamp of the most recent segment
	// dispatch, consumed by the final-transcript handler for STT latency.
	lastDispatch atomic.Int64

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject collaborators
// and test doubles.
type Option func(*App)

// WithEventSink injects the presentation collaborator.
func WithEventSink(s EventSink) Option {
	return func(a *App) { a.sink = s }
}

// WithVisibilityRequester injects the surface show/hide collaborator.
func WithVisibilityRequester(v VisibilityRequester) Option {
	return func(a *App) { a.visibility = v }
}

// WithSpeaker injects the TTS playback collaborator.
func WithSpeaker(s tts.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithImageCapturer injects the auxiliary image source.
func WithImageCapturer(ic convo.ImageCapturer) Option {
	return func(a *App) { a.imager = ic }
}

// WithHistoryStore injects a store instead of creating one from config.
func WithHistoryStore(s store.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires the application from config and providers. Voice capture does not
// start until [App.StartVoice].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.sink == nil {
		a.sink = LogSink{Log: a.log}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.history == nil {
		h, err := buildStore(ctx, cfg.Persistence)
		if err != nil {
			return nil, err
		}
		a.history = h
	}

	session, err := a.history.GetOrCreateActiveSession(ctx, "voice")
	if err != nil {
		return nil, fmt.Errorf("app: resolve session: %w", err)
	}
	a.session = session

	orchOpts := []convo.Option{convo.WithLogger(a.log), convo.WithMetrics(a.metrics)}
	if a.speaker != nil {
		orchOpts = append(orchOpts, convo.WithSpeaker(a.speaker))
	}
	if a.imager != nil {
		orchOpts = append(orchOpts, convo.WithImageCapturer(a.imager))
	}
	orch, err := convo.New(providers.LLM, a.history, a.sink, session.ID, convo.Config{
		SystemPrompt:       cfg.Conversation.SystemPrompt,
		SpokenSystemPrompt: cfg.Conversation.SpokenSystemPrompt,
		Temperature:        cfg.Conversation.Temperature,
		MaxTokens:          cfg.Conversation.MaxTokens,
		SpokenMaxTokens:    cfg.Conversation.SpokenMaxTokens,
	}, orchOpts...)
	if err != nil {
		return nil, err
	}
	a.orch = orch

	return a, nil
}

// buildStore creates the history store selected by cfg.
func buildStore(ctx context.Context, cfg config.PersistenceConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.PersistencePostgres:
		s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		return s, nil
	case config.PersistenceMemory, "":
		return store.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("app: unknown persistence backend %q", cfg.Backend)
	}
}

// Orchestrator exposes the conversation orchestrator, e.g. for typed input.
func (a *App) Orchestrator() *convo.Orchestrator { return a.orch }

// SubmitText runs one typed (non-voice) conversation turn.
func (a *App) SubmitText(ctx context.Context, text string) error {
	history, err := a.loadHistory(ctx)
	if err != nil {
		a.log.Warn("loading history failed, submitting without it", "error", err)
	}
	return a.orch.SubmitTurn(ctx, text, history, false)
}

// StartVoice opens the STT session and the capture pipeline. Fails when the
// STT, VAD, or device provider is missing, or when the device cannot be
// acquired; voice never silently no-ops.
func (a *App) StartVoice(ctx context.Context) error {
	if a.providers.STT == nil {
		return errors.New("app: no STT provider configured")
	}
	if a.providers.VAD == nil {
		return errors.New("app: no VAD engine configured")
	}
	if a.providers.Device == nil {
		return errors.New("app: no capture device configured")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capture != nil {
		return errors.New("app: voice already active")
	}

	sttCfg := stt.SessionConfig{
		SampleRate: targetRate(a.cfg.Audio),
		Channels:   1,
		Language:   a.cfg.Providers.STT.Language,
	}
	ses, err := voice.NewSession(ctx, a.providers.STT, sttCfg, a.log)
	if err != nil {
		return err
	}

	pipeline, err := audio.NewCapturePipeline(captureConfig(a.cfg), a.providers.Device, a.providers.VAD, a.meteredSink(ses), a.log)
	if err != nil {
		ses.Close()
		return err
	}
	pipeline.SetOnsetHook(a.onInterruption)
	a.installFrameHook(pipeline)

	if err := pipeline.Start(ctx); err != nil {
		ses.Close()
		return err
	}

	a.voiceSes = ses
	a.capture = pipeline
	a.pumpDone = make(chan struct{})
	a.metrics.ActiveSessions.Add(ctx, 1)
	a.metrics.CaptureActive.Add(ctx, 1)
	a.orch.SetListening(true)

	go a.pumpEvents(ctx, ses)
	return nil
}

// StopVoice finalizes any in-progress segment, closes the STT session, and
// releases the device. Safe to call when voice is not active.
func (a *App) StopVoice() {
	a.mu.Lock()
	capture := a.capture
	ses := a.voiceSes
	pumpDone := a.pumpDone
	a.capture = nil
	a.voiceSes = nil
	a.mu.Unlock()

	if capture == nil {
		return
	}

	capture.Stop()
	ses.Close()
	<-pumpDone

	ctx := context.Background()
	if dropped := capture.Dropped(); dropped > 0 {
		a.metrics.SegmentsDropped.Add(ctx, int64(dropped))
	}
	a.metrics.ActiveSessions.Add(ctx, -1)
	a.metrics.CaptureActive.Add(ctx, -1)
	a.orch.SetListening(false)
}

// meteredSink wraps the STT session sink so every dispatched segment is
// counted and timestamped for latency measurement.
func (a *App) meteredSink(ses *voice.Session) audio.SegmentSink {
	return audio.SegmentSinkFunc(func(ctx context.Context, seg audio.Segment) error {
		a.metrics.RecordSegment(ctx, seg.Duration)
		a.lastDispatch.Store(time.Now().UnixNano())
		return ses.DispatchSegment(ctx, seg)
	})
}

// onInterruption runs synchronously inside the capture hot path when a
// speech onset arrives while the assistant is producing audio. It must stay
// cheap; heavy work is deferred to the event consumers.
func (a *App) onInterruption() {
	a.metrics.Interruptions.Add(context.Background(), 1)
	a.sink.PublishEvent(EventInterruption, nil)
	if a.speaker != nil {
		a.speaker.Stop()
	}
	a.mu.Lock()
	if a.capture != nil {
		a.capture.SetAssistantSpeaking(false)
	}
	a.mu.Unlock()
}

// installFrameHook publishes speech-started/speech-ended transitions derived
// from the segmenter state.
func (a *App) installFrameHook(pipeline *audio.CapturePipeline) {
	var inSpeech bool
	pipeline.SetFrameHook(func(_ audio.FrameStatus) {
		active := pipeline.State() == audio.StateActiveSpeech
		if active && !inSpeech {
			a.sink.PublishEvent(EventSpeechStarted, nil)
		} else if !active && inSpeech {
			a.sink.PublishEvent(EventSpeechEnded, nil)
		}
		inSpeech = active
	})
}

// pumpEvents consumes canonical transcription events and drives the
// orchestrator.
func (a *App) pumpEvents(ctx context.Context, ses *voice.Session) {
	defer close(a.pumpDone)

	for ev := range ses.Events() {
		a.metrics.RecordTranscriptionEvent(ctx, ev.Kind.String())

		switch ev.Kind {
		case voice.EventInterim:
			a.orch.SetTranscription(ev.Text)
			a.sink.PublishEvent(EventTranscriptionUpdate, ev.Text)

		case voice.EventFinal:
			if ts := a.lastDispatch.Swap(0); ts != 0 {
				a.metrics.STTDuration.Record(ctx, time.Since(time.Unix(0, ts)).Seconds())
			}
			a.orch.SetTranscription(ev.Text)
			a.sink.PublishEvent(EventTranscriptionComplete, ev.Text)
			if a.visibility != nil {
				a.visibility.RequestVisibility(true)
			}
			go a.submitVoiceTurn(ctx, ev.Text)

		case voice.EventStatusChanged:
			a.sink.PublishEvent(EventStatusUpdate, ev.Status.String())

		case voice.EventError:
			a.metrics.RecordProviderError(ctx, a.providers.STT.Name(), "stt")
			a.sink.PublishEvent(EventError, ev.Err.Error())
		}
	}
}

// submitVoiceTurn runs one voice-initiated conversation turn.
func (a *App) submitVoiceTurn(ctx context.Context, text string) {
	start := time.Now()

	history, err := a.loadHistory(ctx)
	if err != nil {
		a.log.Warn("loading history failed, submitting without it", "error", err)
	}

	if a.speaker != nil {
		// Suppress echo onsets while the assistant response plays.
		a.mu.Lock()
		if a.capture != nil {
			a.capture.SetAssistantSpeaking(true)
		}
		a.mu.Unlock()
	}

	err = a.orch.SubmitTurn(ctx, text, history, true)
	outcome := "completed"
	switch {
	case err != nil:
		outcome = "failed"
	case a.orch.Phase() == convo.PhaseAborted:
		outcome = "aborted"
	}
	a.metrics.RecordTurn(ctx, outcome, time.Since(start))
}

// loadHistory replays the stored conversation as provider messages.
func (a *App) loadHistory(ctx context.Context) ([]llm.Message, error) {
	msgs, err := a.history.RecentMessages(ctx, a.session.ID, a.cfg.Conversation.HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// Run blocks serving the observability endpoint until ctx is cancelled.
// When no metrics address is configured it simply waits for cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(
			health.Checker{Name: "store", Check: func(ctx context.Context) error {
				_, err := a.history.RecentMessages(ctx, a.session.ID, 1)
				return err
			}},
		).Register(mux)

		srv := &http.Server{Addr: addr, Handler: mux}

		g.Go(func() error {
			a.log.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return gctx.Err()
		})
	}

	return g.Wait()
}

// Shutdown tears the application down in order: capture first so the final
// segment flushes, then the orchestrator, then persistence.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.StopVoice()
		a.orch.Abort(convo.ReasonWindowClosed)
		if a.visibility != nil {
			a.visibility.RequestVisibility(false)
		}
		a.history.Close()
	})
	return ctx.Err()
}

// targetRate returns the sample rate segments are dispatched at.
func targetRate(cfg config.AudioConfig) int {
	if cfg.TargetSampleRate > 0 {
		return cfg.TargetSampleRate
	}
	if cfg.SampleRate > 0 {
		return cfg.SampleRate
	}
	return 16000
}

// captureConfig maps the YAML config onto the capture pipeline tunables.
func captureConfig(cfg *config.Config) audio.CaptureConfig {
	chunk := time.Duration(cfg.Audio.ChunkMs) * time.Millisecond
	sampleRate := cfg.Audio.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	return audio.CaptureConfig{
		Device: audio.DeviceConfig{
			SampleRate:    sampleRate,
			Channels:      cfg.Audio.Channels,
			ChunkDuration: chunk,
			DeviceID:      cfg.Audio.DeviceID,
		},
		Segmenter: audio.SegmenterConfig{
			StartFrames:      cfg.Segmentation.StartFrames,
			EndSilenceFrames: cfg.Segmentation.EndSilenceFrames,
			MinSegment:       time.Duration(cfg.Segmentation.MinSegmentMs) * time.Millisecond,
			MaxSegment:       time.Duration(cfg.Segmentation.MaxSegmentMs) * time.Millisecond,
		},
		Meter: audio.LevelMeterConfig{
			NoiseFloor:  cfg.Meter.NoiseFloor,
			MaxLevel:    cfg.Meter.MaxLevel,
			HistorySize: cfg.Meter.HistorySize,
			Smoothing:   cfg.Meter.Smoothing,
		},
		VAD: vad.Config{
			SampleRate:  sampleRate,
			FrameSizeMs: cfg.Audio.ChunkMs,
		},
		TargetSampleRate: cfg.Audio.TargetSampleRate,
	}
}
