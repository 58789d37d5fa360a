package audio

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"

	"github.com/keshucs12345/voicematch/internal/domain"
)

// WAVHeaderSize is the size of the RIFF/WAVE header written by EncodeWAV.
const WAVHeaderSize = 44

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, format domain.AudioFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errEmptyAudio
	}
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BitDepth <= 0 {
		return nil, fmt.Errorf("invalid wav format %+v", format)
	}
	blockAlign := format.Channels * format.BytesPerSample()
	if len(pcm)%blockAlign != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of block align %d", len(pcm), blockAlign)
	}

	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))

	w := wav.NewWriter(&buf, uint32(len(pcm)/blockAlign), uint16(format.Channels), uint32(format.SampleRate), uint16(format.BitDepth))
	if _, err := w.Write(pcm); err != nil {
		return nil, fmt.Errorf("failed to write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV extracts PCM16 mono samples and the format from a container.
func DecodeWAV(data []byte) ([]int16, domain.AudioFormat, error) {
	if len(data) < WAVHeaderSize {
		return nil, domain.AudioFormat{}, domain.DecodeError("decode wav", fmt.Errorf("need at least %d bytes, got %d", WAVHeaderSize, len(data)))
	}

	r := wav.NewReader(bytes.NewReader(data))
	format, err := r.Format()
	if err != nil {
		return nil, domain.AudioFormat{}, domain.DecodeError("decode wav", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 || format.NumChannels != 1 {
		return nil, domain.AudioFormat{}, domain.DecodeError("decode wav", fmt.Errorf("unsupported wav format %+v", *format))
	}

	pcm, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.AudioFormat{}, domain.DecodeError("decode wav", err)
	}
	return BytesToInt16(pcm), domain.MonoPCM16(int(format.SampleRate)), nil
}
