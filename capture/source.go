package capture

import (
	"context"
	"sync"

	"chatkit/core"
)

// Source creates device capture streams. It models the microphone: Open may
// fail with a device or permission error, in which case no stream exists.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is one live capture. Chunks delivers raw audio buffers as the
// device produces them and is closed after the final chunk once Close has
// been called.
type Stream interface {
	Chunks() <-chan []byte
	Encoding() core.AudioEncoding
	SampleRate() int
	Close() error
}

// MemorySource replays a fixed set of chunks. It stands in for a real
// microphone in tests and in the demo binary.
type MemorySource struct {
	ChunkData [][]byte
	Enc       core.AudioEncoding
	Rate      int
	OpenErr   error // returned by Open when set, simulating a device failure
}

func (s *MemorySource) Open(ctx context.Context) (Stream, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	rate := s.Rate
	if rate == 0 {
		rate = 16000
	}
	ms := &memoryStream{
		ch:   make(chan []byte, len(s.ChunkData)+1),
		enc:  s.Enc,
		rate: rate,
	}
	for _, c := range s.ChunkData {
		ms.ch <- c
	}
	return ms, nil
}

type memoryStream struct {
	ch   chan []byte
	enc  core.AudioEncoding
	rate int
	once sync.Once
}

func (m *memoryStream) Chunks() <-chan []byte        { return m.ch }
func (m *memoryStream) Encoding() core.AudioEncoding { return m.enc }
func (m *memoryStream) SampleRate() int              { return m.rate }

func (m *memoryStream) Close() error {
	m.once.Do(func() { close(m.ch) })
	return nil
}
