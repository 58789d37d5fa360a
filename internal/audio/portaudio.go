package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/keshucs12345/voicematch/internal/domain"
)

// Init initializes PortAudio. Pair every successful call with Shutdown.
func Init(logger *zap.Logger) error {
	logger.Named("audio").Info("initializing PortAudio", zap.String("version", portaudio.VersionText()))
	return portaudio.Initialize()
}

func Shutdown(logger *zap.Logger) {
	logger.Named("audio").Info("terminating PortAudio")
	if err := portaudio.Terminate(); err != nil {
		logger.Named("audio").Warn("error terminating PortAudio", zap.Error(err))
	}
}

// FindInputDevice returns the first input device whose name contains name,
// or the system default when name is empty.
func FindInputDevice(name string) (*portaudio.DeviceInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

// PortAudioInput is an InputDevice backed by a PortAudio callback stream at
// the device's native rate.
type PortAudioInput struct {
	deviceName      string
	framesPerBuffer int

	mu     sync.Mutex
	stream *portaudio.Stream
}

func NewPortAudioInput(deviceName string, framesPerBuffer int) *PortAudioInput {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &PortAudioInput{deviceName: deviceName, framesPerBuffer: framesPerBuffer}
}

func (p *PortAudioInput) Format() (HardwareFormat, error) {
	dev, err := FindInputDevice(p.deviceName)
	if err != nil {
		return HardwareFormat{}, err
	}
	return HardwareFormat{SampleRate: dev.DefaultSampleRate, Channels: inputChannels(dev)}, nil
}

func (p *PortAudioInput) Start(onFrames func(frames []float32)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil {
		return nil
	}

	dev, err := FindInputDevice(p.deviceName)
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = inputChannels(dev)
	params.Output.Channels = 0
	params.SampleRate = dev.DefaultSampleRate
	params.FramesPerBuffer = p.framesPerBuffer

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onFrames(in)
	})
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}
	p.stream = stream
	return nil
}

func (p *PortAudioInput) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	stopErr := p.stream.Stop()
	closeErr := p.stream.Close()
	p.stream = nil
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

func inputChannels(dev *portaudio.DeviceInfo) int {
	if dev.MaxInputChannels > 2 {
		return 2
	}
	return dev.MaxInputChannels
}

// PortAudioOutput plays finalized items on the default output device, one
// blocking write stream per item.
type PortAudioOutput struct {
	framesPerBuffer int
	logger          *zap.Logger
}

func NewPortAudioOutput(framesPerBuffer int, logger *zap.Logger) *PortAudioOutput {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortAudioOutput{framesPerBuffer: framesPerBuffer, logger: logger.Named("speaker")}
}

// Play starts writing item on its own goroutine and returns a function that
// fades it out early. done is called exactly once, after the stream closes.
func (o *PortAudioOutput) Play(item domain.PlaybackItem, fadeIn time.Duration, done func()) (func(time.Duration), error) {
	samples, format, err := DecodeWAV(item.Container)
	if err != nil {
		return nil, err
	}

	buffer := make([]int16, o.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(format.SampleRate), len(buffer), &buffer)
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start playback stream: %w", err)
	}

	fades := make(chan int, 1)
	var once sync.Once
	fadeOut := func(d time.Duration) {
		once.Do(func() {
			fades <- samplesFor(format, d)
		})
	}

	go func() {
		defer done()
		defer func() {
			_ = stream.Stop()
			_ = stream.Close()
		}()

		ramp := newGainRamp(samplesFor(format, fadeIn))
		end := len(samples)
		offset := 0
		for offset < end {
			select {
			case n := <-fades:
				ramp.fadeOut(n)
				if offset+n < end {
					end = offset + n
				}
			default:
			}

			n := copy(buffer, samples[offset:end])
			for i := 0; i < n; i++ {
				buffer[i] = floatToInt16(float64(buffer[i]) * ramp.next())
			}
			for i := n; i < len(buffer); i++ {
				buffer[i] = 0
			}
			offset += n

			if err := stream.Write(); err != nil {
				o.logger.Warn("playback write failed", zap.String("item", item.ID), zap.Error(err))
				return
			}
		}
	}()

	return fadeOut, nil
}

func samplesFor(format domain.AudioFormat, d time.Duration) int {
	return format.BytesFor(d) / format.BytesPerSample()
}

// gainRamp produces per-sample gain for a linear fade-in followed by an
// optional linear fade-out.
type gainRamp struct {
	in, pos         int
	outTotal, outAt int
}

func newGainRamp(fadeInSamples int) *gainRamp {
	return &gainRamp{in: fadeInSamples, outAt: -1}
}

func (r *gainRamp) fadeOut(n int) {
	if n < 1 {
		n = 1
	}
	r.outTotal = n
	r.outAt = 0
}

func (r *gainRamp) next() float64 {
	g := 1.0
	if r.pos < r.in {
		g = float64(r.pos+1) / float64(r.in)
	}
	r.pos++
	if r.outAt >= 0 {
		remaining := r.outTotal - r.outAt
		if remaining < 0 {
			remaining = 0
		}
		g *= float64(remaining) / float64(r.outTotal)
		r.outAt++
	}
	return g
}
