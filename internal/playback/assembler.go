package playback

import (
	"github.com/google/uuid"

	"github.com/keshucs12345/voicematch/internal/audio"
	"github.com/keshucs12345/voicematch/internal/domain"
)

// AssemblerConfig sets the output format and the seam-smoothing windows.
type AssemblerConfig struct {
	Format           domain.AudioFormat
	CrossfadeSamples int
	AttackSamples    int
}

func (c AssemblerConfig) withDefaults() AssemblerConfig {
	if c.Format.SampleRate <= 0 {
		c.Format = domain.MonoPCM16(24000)
	}
	if c.CrossfadeSamples <= 0 {
		c.CrossfadeSamples = 240
	}
	if c.AttackSamples <= 0 {
		c.AttackSamples = 120
	}
	return c
}

// Assembler accumulates the audio of one utterance. It is not safe for
// concurrent use; the Pipeline confines it to its executor.
type Assembler struct {
	cfg  AssemblerConfig
	buf  []int16
	tail []int16
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{cfg: cfg.withDefaults()}
}

// Begin discards any partial utterance and the crossfade seed.
func (a *Assembler) Begin() {
	a.buf = nil
	a.tail = nil
}

// Append decodes one base64 PCM16 fragment, blends its head against the
// previous fragment's tail and appends it. Malformed fragments return a
// decode error and leave the buffer untouched.
func (a *Assembler) Append(fragment string) error {
	samples, err := audio.DecodePCM16Base64(fragment)
	if err != nil {
		return err
	}
	audio.Crossfade(a.tail, samples, a.cfg.CrossfadeSamples)
	a.buf = append(a.buf, samples...)
	a.tail = audio.Tail(samples, a.cfg.CrossfadeSamples)
	return nil
}

// Buffered returns the number of PCM bytes accumulated so far.
func (a *Assembler) Buffered() int {
	return len(a.buf) * 2
}

// Finish applies the attack ramp, wraps the buffer in a WAV container and
// resets. ok is false when nothing was buffered.
func (a *Assembler) Finish() (item domain.PlaybackItem, ok bool, err error) {
	buf := a.buf
	a.Begin()
	if len(buf) == 0 {
		return domain.PlaybackItem{}, false, nil
	}

	audio.ApplyAttack(buf, a.cfg.AttackSamples)
	pcm := audio.Int16ToBytes(buf)
	container, err := audio.EncodeWAV(pcm, a.cfg.Format)
	if err != nil {
		return domain.PlaybackItem{}, false, err
	}
	return domain.PlaybackItem{
		ID:        uuid.NewString(),
		Format:    a.cfg.Format,
		Container: container,
		PCMBytes:  len(pcm),
	}, true, nil
}
