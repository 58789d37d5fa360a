package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/keshucs12345/voicematch/internal/domain"
)

// Int16ToBytes encodes samples as little-endian PCM16.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// BytesToInt16 decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return out
}

// DecodePCM16Base64 decodes one streamed audio fragment into samples, trimmed
// to whole samples. Invalid base64 and fragments without a single whole sample
// are decode errors.
func DecodePCM16Base64(fragment string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return nil, domain.DecodeError("decode audio delta", err)
	}
	if len(raw) < 2 {
		return nil, domain.DecodeError("decode audio delta", fmt.Errorf("fragment has %d bytes, need at least one sample", len(raw)))
	}
	return BytesToInt16(raw), nil
}

// EncodePCM16Base64 is the outbound counterpart used for audio_chunk messages.
func EncodePCM16Base64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func floatToInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}

// Float32ToInt16 converts a normalized [-1, 1] sample to PCM16 with clamping.
func Float32ToInt16(v float32) int16 {
	return floatToInt16(float64(v) * 32767.0)
}

var errEmptyAudio = errors.New("no audio samples")
