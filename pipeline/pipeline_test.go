package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkit/assistant"
	"chatkit/capture"
	"chatkit/chat"
	"chatkit/core"
	"chatkit/metrics"
	"chatkit/playback"
)

// fakeAssistant scripts the remote collaborator. When gate is set, calls
// block until it is closed, which lets tests hold a request in flight.
type fakeAssistant struct {
	mu          sync.Mutex
	reply       *assistant.Reply
	err         error
	gate        chan struct{}
	started     chan struct{}
	textCalls   []string
	audioCalls  int
	lastLang    string
	lastSession string
}

func (f *fakeAssistant) ProcessText(ctx context.Context, text, language, sessionID string) (*assistant.Reply, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, text)
	f.lastLang = language
	f.lastSession = sessionID
	started := f.started
	gate := f.gate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return f.reply, f.err
}

func (f *fakeAssistant) ProcessAudio(ctx context.Context, clip core.Clip, language, sessionID string) (*assistant.Reply, error) {
	f.mu.Lock()
	f.audioCalls++
	f.lastLang = language
	f.lastSession = sessionID
	f.mu.Unlock()
	return f.reply, f.err
}

type countingPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *countingPlayer) Play(data []byte, mime string) (playback.Handle, error) {
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	return nopHandle{}, nil
}

type nopHandle struct{}

func (nopHandle) Stop() {}

type recordingSink struct {
	mu       sync.Mutex
	appended []chat.Message
	errs     []error
}

func (s *recordingSink) MessageAppended(sessionID string, msg chat.Message) {
	s.mu.Lock()
	s.appended = append(s.appended, msg)
	s.mu.Unlock()
}

func (s *recordingSink) PipelineError(sessionID string, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func newTestPipeline(fa *fakeAssistant) (*Pipeline, *chat.Store, *countingPlayer, *capture.Recorder) {
	store := chat.NewStore(nil)
	player := &countingPlayer{}
	recorder := capture.NewRecorder(&capture.MemorySource{
		ChunkData: [][]byte{make([]byte, 320)},
		Enc:       core.PCM16,
		Rate:      16000,
	}, nil)
	coordinator := playback.NewCoordinator(player, nil)
	pipe := New(store, fa, recorder, coordinator, DefaultConfig(), nil)
	return pipe, store, player, recorder
}

func messageCount(store *chat.Store) int {
	total := 0
	for _, s := range store.Sessions() {
		total += len(s.Messages)
	}
	return total
}

func TestSendTextHappyPath(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, player, _ := newTestPipeline(fa)
	sess := store.CreateSession()

	require.NoError(t, pipe.SendText(context.Background(), "hello", "en"))

	got, _ := store.Session(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chat.SenderUser, got.Messages[0].Sender)
	assert.Equal(t, "hello", got.Messages[0].Text)
	assert.Equal(t, chat.SenderBot, got.Messages[1].Sender)
	assert.Equal(t, "hi", got.Messages[1].Text)
	assert.False(t, got.Messages[1].AutoPlay, "typed replies never auto-play")
	assert.Zero(t, player.plays)
	assert.False(t, pipe.InFlight())
}

func TestSendTextRejectsEmptyInput(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	store.CreateSession()

	assert.ErrorIs(t, pipe.SendText(context.Background(), "", "en"), ErrEmptyInput)
	assert.ErrorIs(t, pipe.SendText(context.Background(), "   ", "en"), ErrEmptyInput)
	assert.Zero(t, messageCount(store))
	assert.Empty(t, fa.textCalls)
}

func TestSendTextWithoutActiveSessionIsGuidanceError(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)

	assert.ErrorIs(t, pipe.SendText(context.Background(), "hello", "en"), ErrNoActiveSession)
	assert.Zero(t, messageCount(store))
}

func TestDeleteActiveSessionThenSendIsGuidanceError(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	sess := store.CreateSession()
	store.DeleteSession(sess.ID)

	assert.ErrorIs(t, pipe.SendText(context.Background(), "hello", "en"), ErrNoActiveSession)
}

func TestSendTextSingleFlight(t *testing.T) {
	fa := &fakeAssistant{
		reply:   &assistant.Reply{Text: "hi"},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	pipe, store, _, _ := newTestPipeline(fa)
	sess := store.CreateSession()

	done := make(chan error, 1)
	go func() {
		done <- pipe.SendText(context.Background(), "first", "en")
	}()
	<-fa.started // the first request is now in flight

	before := messageCount(store)
	assert.ErrorIs(t, pipe.SendText(context.Background(), "second", "en"), ErrRequestInFlight)
	assert.Equal(t, before, messageCount(store), "a rejected send must not change any session")

	close(fa.gate)
	require.NoError(t, <-done)

	got, _ := store.Session(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "first", got.Messages[0].Text)
	assert.Equal(t, []string{"first"}, fa.textCalls)
}

func TestReplyRoutedToDispatchTimeSession(t *testing.T) {
	fa := &fakeAssistant{
		reply:   &assistant.Reply{Text: "hi"},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	pipe, store, _, _ := newTestPipeline(fa)
	s2 := store.CreateSession()
	s1 := store.CreateSession() // active

	done := make(chan error, 1)
	go func() {
		done <- pipe.SendText(context.Background(), "hello", "en")
	}()
	<-fa.started

	// The user switches sessions while the request is pending.
	store.SelectSession(s2.ID)

	close(fa.gate)
	require.NoError(t, <-done)

	got1, _ := store.Session(s1.ID)
	got2, _ := store.Session(s2.ID)
	require.Len(t, got1.Messages, 2, "reply must land in the session captured at dispatch time")
	assert.Empty(t, got2.Messages)
	assert.Equal(t, s1.ID, fa.lastSession)
}

func TestSendTextFailureAppendsErrorTurnAndResetsFlag(t *testing.T) {
	fa := &fakeAssistant{err: errors.New("connection refused")}
	pipe, store, _, _ := newTestPipeline(fa)
	sink := &recordingSink{}
	pipe.Sink = sink
	sess := store.CreateSession()

	err := pipe.SendText(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.False(t, pipe.InFlight(), "the flag resets exactly once regardless of outcome")

	got, _ := store.Session(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chat.SenderBot, got.Messages[1].Sender)
	assert.Equal(t, DefaultConfig().ErrorText, got.Messages[1].Text)
	require.Len(t, sink.errs, 1)

	// The pipeline stays usable after a failure.
	fa.err = nil
	fa.reply = &assistant.Reply{Text: "hi"}
	require.NoError(t, pipe.SendText(context.Background(), "again", "en"))
}

func TestSendAudioSetsAutoPlayAndPlaysOnce(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "spoken", Audio: audio, Mime: "audio/mpeg"}}
	pipe, store, player, _ := newTestPipeline(fa)
	sess := store.CreateSession()

	require.NoError(t, pipe.StartRecording(context.Background()))
	require.NoError(t, pipe.SendAudio(context.Background(), "en"))

	got, _ := store.Session(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, DefaultConfig().VoicePlaceholder, got.Messages[0].Text)
	assert.True(t, got.Messages[1].AutoPlay, "voice replies auto-play")
	assert.Equal(t, 1, player.plays)
	assert.Equal(t, 1, fa.audioCalls)
	assert.False(t, pipe.InFlight())
}

func TestSendAudioWithoutRecordingDoesNotDispatch(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	store.CreateSession()

	err := pipe.SendAudio(context.Background(), "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrNotRecording)
	assert.Zero(t, messageCount(store), "no session mutation before the clip resolves")
	assert.Zero(t, fa.audioCalls)
	assert.False(t, pipe.InFlight())
}

func TestSendAudioWithoutActiveSessionKeepsRecording(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, _, _, recorder := newTestPipeline(fa)

	require.NoError(t, pipe.StartRecording(context.Background()))
	assert.ErrorIs(t, pipe.SendAudio(context.Background(), "en"), ErrNoActiveSession)
	assert.True(t, recorder.Recording(), "the guard runs before the device is touched")
}

func TestLanguageCodePassedThroughNormalized(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	store.CreateSession()

	require.NoError(t, pipe.SendText(context.Background(), "hello", "hi"))
	assert.Equal(t, "hi", fa.lastLang)

	require.NoError(t, pipe.SendText(context.Background(), "hello", "xx"))
	assert.Equal(t, "en", fa.lastLang, "unknown codes fall back to English")
}

func TestSinkObservesAppends(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	sink := &recordingSink{}
	pipe.Sink = sink
	store.CreateSession()

	require.NoError(t, pipe.SendText(context.Background(), "hello", "en"))

	require.Len(t, sink.appended, 2)
	assert.Equal(t, chat.SenderUser, sink.appended[0].Sender)
	assert.Equal(t, chat.SenderBot, sink.appended[1].Sender)
}

func TestMetricsWiring(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	pipe.Metrics = metrics.NewWith(prometheus.NewRegistry())
	store.CreateSession()

	require.NoError(t, pipe.SendText(context.Background(), "hello", "en"))

	require.NoError(t, pipe.StartRecording(context.Background()))
	require.NoError(t, pipe.SendAudio(context.Background(), "en"))
}

func TestConcurrentSendsNeverInterleaveHistories(t *testing.T) {
	fa := &fakeAssistant{reply: &assistant.Reply{Text: "hi"}}
	pipe, store, _, _ := newTestPipeline(fa)
	sess := store.CreateSession()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pipe.SendText(context.Background(), "ping", "en")
		}()
	}
	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent sends deadlocked")
	}

	// Each successful turn contributes a user/bot pair; rejected sends
	// contribute nothing.
	got, _ := store.Session(sess.ID)
	assert.Equal(t, 0, len(got.Messages)%2)
	for i, msg := range got.Messages {
		want := chat.SenderUser
		if i%2 == 1 {
			want = chat.SenderBot
		}
		assert.Equal(t, want, msg.Sender)
	}
}
