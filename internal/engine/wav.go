package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// wavHeader is a canonical 44-byte PCM WAV header, little-endian.
type wavHeader struct {
	RIFF        [4]byte
	ChunkSize   uint32
	WAVE        [4]byte
	Fmt         [4]byte
	FmtSize     uint32
	AudioFormat uint16
	Channels    uint16
	SampleRate  uint32
	ByteRate    uint32
	BlockAlign  uint16
	Bits        uint16
	Data        [4]byte
	DataSize    uint32
}

// WriteWAV encodes mono float32 samples as 16-bit PCM WAV. Samples are
// clamped to [-1, 1].
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	dataSize := uint32(len(samples) * 2)
	hdr := wavHeader{
		RIFF:        [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:   36 + dataSize,
		WAVE:        [4]byte{'W', 'A', 'V', 'E'},
		Fmt:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: 1, // PCM
		Channels:    1,
		SampleRate:  uint32(sampleRate),
		ByteRate:    uint32(sampleRate * 2),
		BlockAlign:  2,
		Bits:        16,
		Data:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:    dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		pcm[i] = int16(math.Round(float64(s) * 32767))
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	return nil
}
