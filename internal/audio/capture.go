package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
)

// HardwareFormat is the native format reported by a capture device.
type HardwareFormat struct {
	SampleRate float64
	Channels   int
}

// InputDevice is a raw microphone. onFrames receives interleaved float32 frames
// on the device's real-time thread and must return quickly.
type InputDevice interface {
	Format() (HardwareFormat, error)
	Start(onFrames func(frames []float32)) error
	Stop() error
}

// CaptureConfig controls format negotiation and chunking.
type CaptureConfig struct {
	PreferredRate int
	FallbackRates []int
	ChunkDuration time.Duration
}

// CaptureConverter reads hardware frames and emits ordered mono PCM16 chunks
// at the negotiated rate.
type CaptureConverter struct {
	dev     InputDevice
	factory ConverterFactory
	cfg     CaptureConfig
	logger  *zap.Logger

	mu      sync.Mutex
	running atomic.Bool
	format  domain.AudioFormat

	frameMu    sync.Mutex
	conv       Converter
	pending    []byte
	chunkBytes int
	seq        uint64
	onChunk    func(domain.AudioChunk)
}

func NewCaptureConverter(dev InputDevice, factory ConverterFactory, cfg CaptureConfig, logger *zap.Logger) *CaptureConverter {
	if factory == nil {
		factory = NewLinearConverter
	}
	if cfg.PreferredRate <= 0 {
		cfg.PreferredRate = 24000
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureConverter{
		dev:     dev,
		factory: factory,
		cfg:     cfg,
		logger:  logger.Named("capture"),
	}
}

// Start negotiates a target format and begins continuous capture. It returns a
// format error when the device reports an unusable format or no converter can
// be built for any candidate rate.
func (c *CaptureConverter) Start(onChunk func(domain.AudioChunk)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}

	hw, err := c.dev.Format()
	if err != nil {
		return domain.FormatError("capture format", err)
	}
	if hw.SampleRate <= 0 || hw.Channels <= 0 {
		return domain.FormatError("capture format", fmt.Errorf("device reports %.0f Hz x%d", hw.SampleRate, hw.Channels))
	}

	conv, err := c.negotiate(hw)
	if err != nil {
		return err
	}

	c.frameMu.Lock()
	c.conv = conv
	c.format = domain.MonoPCM16(conv.OutputRate())
	c.chunkBytes = c.format.BytesFor(c.cfg.ChunkDuration)
	if c.chunkBytes < 2 {
		c.chunkBytes = 2
	}
	c.pending = c.pending[:0]
	c.onChunk = onChunk
	c.frameMu.Unlock()

	c.running.Store(true)
	if err := c.dev.Start(c.handleFrames); err != nil {
		c.running.Store(false)
		return domain.FormatError("capture start", err)
	}

	c.logger.Info("capture started",
		zap.Float64("hardware_rate", hw.SampleRate),
		zap.Int("hardware_channels", hw.Channels),
		zap.Int("target_rate", c.format.SampleRate),
		zap.Int("chunk_bytes", c.chunkBytes))
	return nil
}

func (c *CaptureConverter) negotiate(hw HardwareFormat) (Converter, error) {
	native := int(hw.SampleRate)
	candidates := append([]int{c.cfg.PreferredRate}, c.cfg.FallbackRates...)
	candidates = append(candidates, native)

	var errs []error
	tried := make(map[int]bool, len(candidates))
	for _, rate := range candidates {
		if rate <= 0 || tried[rate] {
			continue
		}
		tried[rate] = true

		conv, err := c.factory(native, hw.Channels, rate)
		if err == nil {
			if rate != c.cfg.PreferredRate {
				c.logger.Warn("preferred capture rate unavailable, using fallback",
					zap.Int("preferred", c.cfg.PreferredRate),
					zap.Int("rate", rate))
			}
			return conv, nil
		}
		errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
	}
	return nil, domain.FormatError("negotiate capture format", errors.Join(errs...))
}

// Stop halts capture. Pending partial chunks are discarded.
func (c *CaptureConverter) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Swap(false) {
		return nil
	}
	err := c.dev.Stop()

	c.frameMu.Lock()
	c.pending = c.pending[:0]
	c.onChunk = nil
	c.frameMu.Unlock()

	c.logger.Info("capture stopped")
	return err
}

func (c *CaptureConverter) Running() bool {
	return c.running.Load()
}

// Format returns the negotiated output format of the last successful Start.
func (c *CaptureConverter) Format() domain.AudioFormat {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	return c.format
}

func (c *CaptureConverter) handleFrames(frames []float32) {
	if !c.running.Load() {
		return
	}

	c.frameMu.Lock()
	if c.conv == nil || c.onChunk == nil {
		c.frameMu.Unlock()
		return
	}
	c.pending = append(c.pending, Int16ToBytes(c.conv.Convert(frames))...)

	var ready []domain.AudioChunk
	for len(c.pending) >= c.chunkBytes {
		data := make([]byte, c.chunkBytes)
		copy(data, c.pending[:c.chunkBytes])
		c.pending = c.pending[c.chunkBytes:]
		ready = append(ready, domain.AudioChunk{Seq: c.seq, Data: data})
		c.seq++
	}
	onChunk := c.onChunk
	c.frameMu.Unlock()

	for _, chunk := range ready {
		onChunk(chunk)
	}
}
