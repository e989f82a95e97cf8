package core

// AudioEncoding identifies the raw encoding of captured audio chunks.
type AudioEncoding int

const (
	PCM16 AudioEncoding = iota // Signed 16-bit little-endian PCM.
	ULaw                       // G.711 μ-law encoding.
	ALaw                       // G.711 A-law encoding.
)

// Clip is a finished audio recording in a single container format, ready to
// be shipped to the assistant or handed to playback.
type Clip struct {
	Data       []byte // Encoded container bytes (WAV).
	Mime       string // Container MIME type, e.g. "audio/wav".
	SampleRate int    // Sample rate the clip was captured at.
}

// DurationSeconds estimates the clip length assuming 16-bit mono samples
// after the 44-byte WAV header.
func (c Clip) DurationSeconds() float64 {
	if c.SampleRate == 0 || len(c.Data) <= 44 {
		return 0.0
	}
	totalSamples := (len(c.Data) - 44) / 2
	return float64(totalSamples) / float64(c.SampleRate)
}
