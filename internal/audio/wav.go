package audio

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

var ErrInvalidWAV = errors.New("invalid wav header")

// EncodeWAV decodes each base64 PCM fragment and wraps the concatenated
// samples in a WAV container described by f.
func EncodeWAV(fragments []string, f Format) ([]byte, error) {
	pcm, err := DecodeFragments(fragments)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAV(&buf, pcm, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFragments base64-decodes each fragment on its own. Fragments carry
// their own padding, so joining the encoded strings first would corrupt them.
func DecodeFragments(fragments []string) ([]byte, error) {
	size := 0
	for _, frag := range fragments {
		size += base64.StdEncoding.DecodedLen(len(frag))
	}
	out := make([]byte, 0, size)
	for i, frag := range fragments {
		b, err := base64.StdEncoding.DecodeString(frag)
		if err != nil {
			return nil, fmt.Errorf("decode pcm fragment %d: %w", i, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// WriteWAV writes raw little-endian PCM to out as a WAV stream.
func WriteWAV(out io.Writer, pcm []byte, f Format) error {
	f = f.withDefaults()
	const audioFormat = 1 // PCM

	dataSize := uint32(len(pcm))

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	fields := []any{
		uint32(16),
		uint16(audioFormat),
		uint16(f.Channels),
		uint32(f.SampleRate),
		uint32(f.ByteRate()),
		uint16(f.BlockAlign()),
		uint16(f.BitsPerSample),
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Header is the decoded canonical 44-byte WAV header.
type Header struct {
	Format     Format
	ByteRate   int
	BlockAlign int
	DataLength int
}

// ParseWAVHeader reads back the header written by WriteWAV.
func ParseWAVHeader(b []byte) (Header, error) {
	if len(b) < wavHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, ErrInvalidWAV
	}
	le := binary.LittleEndian
	if le.Uint16(b[20:22]) != 1 {
		return Header{}, fmt.Errorf("%w: not PCM", ErrInvalidWAV)
	}
	return Header{
		Format: Format{
			Channels:      int(le.Uint16(b[22:24])),
			SampleRate:    int(le.Uint32(b[24:28])),
			BitsPerSample: int(le.Uint16(b[34:36])),
		},
		ByteRate:   int(le.Uint32(b[28:32])),
		BlockAlign: int(le.Uint16(b[32:34])),
		DataLength: int(le.Uint32(b[40:44])),
	}, nil
}
