package audio

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSampleRate    = 24000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

// Format describes raw PCM samples.
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// ParseFormat reads a MIME-like descriptor such as "audio/pcm;rate=24000" or
// "audio/L16;rate=16000;channels=2". Missing fields fall back to mono 16-bit
// 24kHz, which is what the live endpoint emits.
func ParseFormat(descriptor string) Format {
	f := Format{}
	parts := strings.Split(descriptor, ";")
	mediaType := strings.TrimSpace(parts[0])
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		if len(sub) > 1 && (sub[0] == 'L' || sub[0] == 'l') {
			if bits, err := strconv.Atoi(sub[1:]); err == nil && bits > 0 {
				f.BitsPerSample = bits
			}
		}
	}
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rate":
			f.SampleRate = n
		case "channels":
			f.Channels = n
		}
	}
	return f.withDefaults()
}

// IsPCM reports whether the descriptor names raw PCM audio.
func IsPCM(descriptor string) bool {
	mediaType, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(descriptor)), ";")
	return mediaType == "audio/pcm" || strings.HasPrefix(mediaType, "audio/l")
}

func (f Format) withDefaults() Format {
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.BitsPerSample <= 0 {
		f.BitsPerSample = DefaultBitsPerSample
	}
	return f
}

func (f Format) ByteRate() int {
	f = f.withDefaults()
	return f.SampleRate * f.BlockAlign()
}

func (f Format) BlockAlign() int {
	f = f.withDefaults()
	return f.Channels * f.bytesPerSample()
}

// bytesPerSample rounds non byte-aligned depths such as 12-bit up to whole
// container bytes.
func (f Format) bytesPerSample() int {
	return (f.BitsPerSample + 7) / 8
}

// Duration is the playback time of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

func (f Format) String() string {
	f = f.withDefaults()
	s := "audio/pcm;rate=" + strconv.Itoa(f.SampleRate)
	if f.Channels != DefaultChannels {
		s += ";channels=" + strconv.Itoa(f.Channels)
	}
	return s
}

// Level returns a coarse 0..100 loudness of PCM16LE samples: mean absolute
// amplitude scaled by 500 and clamped.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		sum += math.Abs(float64(s) / 32768.0)
	}
	return math.Min(sum/float64(n)*100*5, 100)
}
