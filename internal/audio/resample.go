package audio

import (
	"fmt"

	"github.com/keshucs12345/voicematch/internal/domain"
)

const maxResampleRatio = 8.0

// Converter turns raw interleaved hardware frames into mono PCM16 at a fixed rate.
type Converter interface {
	Convert(frames []float32) []int16
	OutputRate() int
}

// ConverterFactory builds a converter from a hardware format to a target rate.
type ConverterFactory func(srcRate, srcChannels, dstRate int) (Converter, error)

// LinearConverter downmixes to mono and resamples by linear interpolation.
// It keeps interpolation state across calls so frame boundaries stay continuous.
type LinearConverter struct {
	srcRate  int
	channels int
	dstRate  int
	step     float64

	pos  float64
	last float32
}

// NewLinearConverter is the default ConverterFactory.
func NewLinearConverter(srcRate, srcChannels, dstRate int) (Converter, error) {
	if srcRate <= 0 || srcChannels <= 0 || dstRate <= 0 {
		return nil, domain.FormatError("new converter", fmt.Errorf("invalid conversion %d Hz x%d -> %d Hz", srcRate, srcChannels, dstRate))
	}
	ratio := float64(dstRate) / float64(srcRate)
	if ratio > maxResampleRatio || ratio < 1/maxResampleRatio {
		return nil, domain.FormatError("new converter", fmt.Errorf("unsupported ratio %d Hz -> %d Hz", srcRate, dstRate))
	}
	return &LinearConverter{
		srcRate:  srcRate,
		channels: srcChannels,
		dstRate:  dstRate,
		step:     float64(srcRate) / float64(dstRate),
		pos:      1,
	}, nil
}

func (c *LinearConverter) OutputRate() int {
	return c.dstRate
}

func (c *LinearConverter) Convert(frames []float32) []int16 {
	mono := c.downmix(frames)
	if len(mono) == 0 {
		return nil
	}

	// Positions index a virtual buffer where 0 is the previous call's last sample
	// and 1..len(mono) are the new samples.
	at := func(i int) float32 {
		if i == 0 {
			return c.last
		}
		return mono[i-1]
	}

	limit := float64(len(mono))
	out := make([]int16, 0, int(limit/c.step)+1)
	for c.pos < limit {
		i := int(c.pos)
		frac := float32(c.pos - float64(i))
		v := at(i)*(1-frac) + at(i+1)*frac
		out = append(out, Float32ToInt16(v))
		c.pos += c.step
	}
	c.pos -= limit
	c.last = mono[len(mono)-1]
	return out
}

func (c *LinearConverter) downmix(frames []float32) []float32 {
	if c.channels == 1 {
		return frames
	}
	n := len(frames) / c.channels
	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < c.channels; ch++ {
			sum += frames[i*c.channels+ch]
		}
		mono[i] = sum / float32(c.channels)
	}
	return mono
}
