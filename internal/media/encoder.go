// Package media turns captured camera frames and microphone buffers into the
// base64 chunks streamed to the live model.
package media

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimePCM  = "audio/pcm"

	DefaultJPEGQuality = 80
)

var ErrEmptyChunk = errors.New("empty media chunk")

// Chunk is one base64 payload tagged with its mime type.
type Chunk struct {
	MimeType string
	Data     string
}

func (c Chunk) IsImage() bool { return strings.HasPrefix(c.MimeType, "image/") }

func (c Chunk) IsAudio() bool { return strings.HasPrefix(c.MimeType, "audio/") }

// EncodeJPEG compresses a still frame.
func EncodeJPEG(img image.Image, quality int) (Chunk, error) {
	if img == nil {
		return Chunk{}, ErrEmptyChunk
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Chunk{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Chunk{MimeType: MimeJPEG, Data: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// NormalizeImage accepts a browser frame (raw base64 or data URL) and returns
// it as a JPEG chunk, re-encoding other image formats.
func NormalizeImage(payload, mimeType string) (Chunk, error) {
	raw, dataMime, err := DecodeDataURL(payload)
	if err != nil {
		return Chunk{}, err
	}
	if dataMime != "" {
		mimeType = dataMime
	}
	if len(raw) == 0 {
		return Chunk{}, ErrEmptyChunk
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || mimeType == MimeJPEG || mimeType == "image/jpg" {
		return Chunk{MimeType: MimeJPEG, Data: base64.StdEncoding.EncodeToString(raw)}, nil
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Chunk{}, fmt.Errorf("decode %s frame: %w", mimeType, err)
	}
	return EncodeJPEG(img, DefaultJPEGQuality)
}

// EncodePCM16 packs samples as little-endian PCM16 and base64-encodes them.
func EncodePCM16(samples []int16) Chunk {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return Chunk{MimeType: MimePCM, Data: base64.StdEncoding.EncodeToString(buf)}
}

// Float32ToPCM16 converts [-1,1] float samples (web audio worklet output) to PCM16.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}

// NormalizeAudio validates a base64 PCM chunk from the browser.
func NormalizeAudio(payload, mimeType string) (Chunk, error) {
	raw, dataMime, err := DecodeDataURL(payload)
	if err != nil {
		return Chunk{}, err
	}
	if len(raw) == 0 {
		return Chunk{}, ErrEmptyChunk
	}
	if dataMime != "" {
		mimeType = dataMime
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = MimePCM
	}
	return Chunk{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(raw)}, nil
}

// DecodeDataURL decodes "data:<mime>;base64,<payload>" or a bare base64
// payload. The returned mime is empty for bare payloads.
func DecodeDataURL(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	mimeType := ""
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data url")
		}
		header = strings.TrimPrefix(header, "data:")
		mt, params, _ := strings.Cut(header, ";")
		if !strings.Contains(params, "base64") {
			return nil, "", fmt.Errorf("data url is not base64 encoded")
		}
		mimeType = mt
		payload = body
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 payload: %w", err)
	}
	return raw, mimeType, nil
}

// Extension maps a content type to a file extension (image/png -> png).
func Extension(mimeType, fallback string) string {
	mt, _, _ := strings.Cut(strings.TrimSpace(mimeType), ";")
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" {
		return fallback
	}
	if sub == "jpeg" {
		return "jpg"
	}
	return sub
}
