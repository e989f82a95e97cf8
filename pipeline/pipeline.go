// Package pipeline orchestrates one conversational turn end to end: the
// optimistic local append, the single-flight dispatch to the assistant, and
// the merge of the reply into the session that was active at dispatch time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatkit/assistant"
	"chatkit/capture"
	"chatkit/chat"
	"chatkit/config"
	"chatkit/core"
	"chatkit/metrics"
	"chatkit/playback"
)

var (
	// ErrNoActiveSession is the guidance error: the user must select or
	// create a chat before sending anything. No state is mutated.
	ErrNoActiveSession = errors.New("pipeline: select or create a chat first")
	// ErrRequestInFlight makes a second send a no-op while one is pending.
	// In-flight requests are never queued or superseded.
	ErrRequestInFlight = errors.New("pipeline: a request is already in flight")
	// ErrEmptyInput rejects empty or whitespace-only text.
	ErrEmptyInput = errors.New("pipeline: empty input")
)

// Sink receives core state changes so a presentation layer can render them.
// All methods are invoked synchronously from pipeline operations.
type Sink interface {
	MessageAppended(sessionID string, msg chat.Message)
	PipelineError(sessionID string, err error)
}

// Config controls user-visible pipeline text.
type Config struct {
	VoicePlaceholder string `json:"voice_placeholder"` // user-side text for a voice turn, since no transcript exists client-side
	ErrorText        string `json:"error_text"`        // text of the visible error turn appended when a request fails
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		VoicePlaceholder: "Voice input",
		ErrorText:        "Something went wrong. Please try again.",
	}
}

// Pipeline owns the single-flight request flag and wires the session store,
// the assistant collaborator, the recorder, and the playback coordinator
// together. Entry points are safe for concurrent callers; the second caller
// while a request is pending gets ErrRequestInFlight and no state changes.
type Pipeline struct {
	store    *chat.Store
	client   assistant.Client
	recorder *capture.Recorder
	player   *playback.Coordinator
	config   Config
	logger   *core.Logger

	// Sink, when set, observes appends and failures. Optional.
	Sink Sink
	// Metrics, when set, counts pipeline activity. Optional.
	Metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight bool
}

// New creates a pipeline over its collaborators.
func New(store *chat.Store, client assistant.Client, recorder *capture.Recorder, player *playback.Coordinator, cfg Config, logger *core.Logger) *Pipeline {
	if cfg.VoicePlaceholder == "" {
		cfg.VoicePlaceholder = DefaultConfig().VoicePlaceholder
	}
	if cfg.ErrorText == "" {
		cfg.ErrorText = DefaultConfig().ErrorText
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{
		store:    store,
		client:   client,
		recorder: recorder,
		player:   player,
		config:   cfg,
		logger:   logger.With(map[string]interface{}{"component": "pipeline"}),
	}
}

// InFlight reports whether a request is currently pending.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// StartRecording begins a voice capture. A device error leaves the recorder
// idle and nothing else changes.
func (p *Pipeline) StartRecording(ctx context.Context) error {
	return p.recorder.Start(ctx)
}

// Recording reports whether a voice capture is in progress.
func (p *Pipeline) Recording() bool {
	return p.recorder.Recording()
}

// SendText submits one typed turn. The user message is appended to the
// active session before any network work, the request goes out single-flight,
// and the reply is merged into the session captured here even if the user
// switches sessions while the request is pending. Typed replies never
// auto-play.
func (p *Pipeline) SendText(ctx context.Context, rawInput, language string) error {
	if strings.TrimSpace(rawInput) == "" {
		return ErrEmptyInput
	}

	sessionID, err := p.begin()
	if err != nil {
		return err
	}
	defer p.finish() // the flag resets exactly once, success or failure

	userMsg := chat.NewUserMessage(rawInput)
	p.store.AppendMessage(sessionID, userMsg)
	p.notifyAppend(sessionID, userMsg)

	if p.Metrics != nil {
		p.Metrics.TextRequests.Inc()
	}

	reply, err := p.dispatch(ctx, sessionID, func(lang string) (*assistant.Reply, error) {
		return p.client.ProcessText(ctx, rawInput, lang, sessionID)
	}, language)
	if err != nil {
		p.fail(sessionID, err)
		return fmt.Errorf("pipeline: text turn: %w", err)
	}

	botMsg := chat.NewBotMessage(reply.Text, reply.Audio, reply.Mime, false)
	p.store.AppendMessage(sessionID, botMsg)
	p.notifyAppend(sessionID, botMsg)
	return nil
}

// SendAudio finalizes the in-progress recording and submits it as one voice
// turn. No session is mutated until the clip resolves; a device error aborts
// before dispatch. The reply auto-plays exactly once.
func (p *Pipeline) SendAudio(ctx context.Context, language string) error {
	// Guard before touching the device so a doomed turn does not consume
	// the recording.
	if err := p.precheck(); err != nil {
		return err
	}

	clip, err := p.recorder.Stop(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: finalize recording: %w", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordingsFinished.Inc()
		p.Metrics.RecordingDuration.Observe(clip.DurationSeconds())
	}

	sessionID, err := p.begin()
	if err != nil {
		return err
	}
	defer p.finish()

	userMsg := chat.NewUserMessage(p.config.VoicePlaceholder)
	p.store.AppendMessage(sessionID, userMsg)
	p.notifyAppend(sessionID, userMsg)

	if p.Metrics != nil {
		p.Metrics.AudioRequests.Inc()
	}

	reply, err := p.dispatch(ctx, sessionID, func(lang string) (*assistant.Reply, error) {
		return p.client.ProcessAudio(ctx, clip, lang, sessionID)
	}, language)
	if err != nil {
		p.fail(sessionID, err)
		return fmt.Errorf("pipeline: audio turn: %w", err)
	}

	botMsg := chat.NewBotMessage(reply.Text, reply.Audio, reply.Mime, true)
	p.store.AppendMessage(sessionID, botMsg)
	p.notifyAppend(sessionID, botMsg)

	if p.player.AutoPlay(botMsg) && p.Metrics != nil {
		p.Metrics.PlaybacksStarted.Inc()
	}
	return nil
}

// dispatch runs one assistant call with duration accounting.
func (p *Pipeline) dispatch(ctx context.Context, sessionID string, call func(lang string) (*assistant.Reply, error), language string) (*assistant.Reply, error) {
	lang := config.NormalizeLanguage(language)
	start := time.Now()
	reply, err := call(lang)
	if p.Metrics != nil {
		p.Metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, fmt.Errorf("assistant returned no reply")
	}
	return reply, nil
}

// precheck applies the entry guards without claiming the flag.
func (p *Pipeline) precheck() error {
	if p.store.ActiveID() == "" {
		return ErrNoActiveSession
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		if p.Metrics != nil {
			p.Metrics.RejectedBusy.Inc()
		}
		return ErrRequestInFlight
	}
	return nil
}

// begin applies the entry guards, claims the single-flight flag, and captures
// the dispatch-time session id.
func (p *Pipeline) begin() (string, error) {
	sessionID := p.store.ActiveID()
	if sessionID == "" {
		return "", ErrNoActiveSession
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		if p.Metrics != nil {
			p.Metrics.RejectedBusy.Inc()
		}
		return "", ErrRequestInFlight
	}
	p.inFlight = true
	return sessionID, nil
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

// fail records a collaborator failure and appends a visible error turn so
// the user sees that the turn was lost instead of silence.
func (p *Pipeline) fail(sessionID string, err error) {
	if p.Metrics != nil {
		p.Metrics.RequestFailures.Inc()
	}
	p.logger.With(map[string]interface{}{
		"session_id": sessionID,
		"error":      err,
	}).Error("assistant request failed")

	errMsg := chat.NewBotMessage(p.config.ErrorText, "", "", false)
	p.store.AppendMessage(sessionID, errMsg)
	p.notifyAppend(sessionID, errMsg)

	if p.Sink != nil {
		p.Sink.PipelineError(sessionID, err)
	}
}

func (p *Pipeline) notifyAppend(sessionID string, msg chat.Message) {
	if p.Sink != nil {
		p.Sink.MessageAppended(sessionID, msg)
	}
}
