package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MimeWAV is the container MIME type produced by the recorder.
const MimeWAV = "audio/wav"

// wavHeader is the RIFF header for a PCM WAV file.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodeWAV packages PCM-16 mono samples into a WAV container. An empty
// sample slice yields a valid header-only clip, which is what a recording
// stopped before any chunk arrived produces.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("capture: write WAV header: %w", err)
	}
	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("capture: write WAV data: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeWAV extracts PCM-16 samples and the sample rate from a WAV container.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 {
		return nil, 0, fmt.Errorf("capture: WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:44]), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("capture: read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("capture: not a RIFF/WAVE container")
	}
	if header.AudioFormat != 1 || header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("capture: unsupported WAV format %d/%d-bit", header.AudioFormat, header.BitsPerSample)
	}

	payload := data[44:]
	if int(header.Subchunk2Size) < len(payload) {
		payload = payload[:header.Subchunk2Size]
	}
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	return samples, int(header.SampleRate), nil
}
