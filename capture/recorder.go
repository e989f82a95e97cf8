package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zaf/g711"

	"chatkit/core"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is live.
	ErrAlreadyRecording = errors.New("capture: already recording")
	// ErrNotRecording is returned by Stop when no recording is in progress.
	ErrNotRecording = errors.New("capture: not recording")
)

// Recorder wraps a microphone source behind a two-state lifecycle:
// idle, Start, recording, Stop, idle again. Between Start and Stop it
// accumulates raw chunks off the device stream; Stop finalizes the device,
// drains the last chunk, and concatenates everything into one WAV clip.
//
// Callers gate concurrent use through Recording; calling Stop while idle or
// Start while recording is rejected with an error.
type Recorder struct {
	source Source
	logger *core.Logger

	mu        sync.Mutex
	recording bool
	stream    Stream
	collected chan [][]byte
}

// NewRecorder creates an idle recorder over the given device source.
func NewRecorder(source Source, logger *core.Logger) *Recorder {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Recorder{
		source: source,
		logger: logger.With(map[string]interface{}{"component": "capture.recorder"}),
	}
}

// Recording reports whether a capture is currently in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start acquires the device stream and begins buffering chunks. A device or
// permission error is terminal for this attempt and leaves the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	stream, err := r.source.Open(ctx)
	if err != nil {
		r.logger.With(map[string]interface{}{"error": err}).Error("device open failed")
		return fmt.Errorf("capture: open device: %w", err)
	}

	r.stream = stream
	r.recording = true
	r.collected = make(chan [][]byte, 1)

	go accumulate(stream, r.collected)
	r.logger.Debug("recording started")
	return nil
}

// accumulate drains the stream until its chunk channel closes, then delivers
// the ordered chunk list exactly once.
func accumulate(stream Stream, out chan<- [][]byte) {
	var chunks [][]byte
	for c := range stream.Chunks() {
		chunks = append(chunks, c)
	}
	out <- chunks
}

// Stop signals the device to finalize, waits for the last buffered chunk,
// and returns all captured audio as a single WAV clip. A recording with no
// chunks still yields a valid, empty clip. The recorder is idle afterwards.
func (r *Recorder) Stop(ctx context.Context) (core.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return core.Clip{}, ErrNotRecording
	}

	stream := r.stream
	collected := r.collected

	// The recorder returns to idle regardless of how finalization goes.
	r.recording = false
	r.stream = nil
	r.collected = nil

	if err := stream.Close(); err != nil {
		r.logger.With(map[string]interface{}{"error": err}).Warn("device close reported error")
	}

	var chunks [][]byte
	select {
	case chunks = <-collected:
	case <-ctx.Done():
		return core.Clip{}, fmt.Errorf("capture: waiting for final chunk: %w", ctx.Err())
	}

	samples, err := decodeChunks(chunks, stream.Encoding())
	if err != nil {
		return core.Clip{}, err
	}

	data, err := EncodeWAV(samples, stream.SampleRate())
	if err != nil {
		return core.Clip{}, err
	}

	r.logger.With(map[string]interface{}{
		"chunks":  len(chunks),
		"samples": len(samples),
	}).Debug("recording finalized")

	return core.Clip{
		Data:       data,
		Mime:       MimeWAV,
		SampleRate: stream.SampleRate(),
	}, nil
}

// decodeChunks converts raw device chunks into one PCM-16 sample sequence,
// expanding G.711 encodings through the telephony codec first.
func decodeChunks(chunks [][]byte, enc core.AudioEncoding) ([]int16, error) {
	var pcm []byte
	for _, chunk := range chunks {
		switch enc {
		case core.PCM16:
			pcm = append(pcm, chunk...)
		case core.ULaw:
			pcm = append(pcm, g711.DecodeUlaw(chunk)...)
		case core.ALaw:
			pcm = append(pcm, g711.DecodeAlaw(chunk)...)
		default:
			return nil, fmt.Errorf("capture: unsupported chunk encoding %d", enc)
		}
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("capture: PCM data length must be even, got %d bytes", len(pcm))
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}
