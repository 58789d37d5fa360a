package audio

import (
	"testing"

	"github.com/keshucs12345/voicematch/internal/domain"
)

func TestNewLinearConverterRejectsInvalid(t *testing.T) {
	t.Parallel()

	cases := [][3]int{
		{0, 1, 24000},
		{48000, 0, 24000},
		{48000, 1, 0},
		{8000, 1, 96000},
	}
	for _, c := range cases {
		_, err := NewLinearConverter(c[0], c[1], c[2])
		if domain.KindOf(err) != domain.ErrorKindFormat {
			t.Fatalf("%v: expected format error, got %v", c, err)
		}
	}
}

func TestLinearConverterDownsamplesStereo(t *testing.T) {
	t.Parallel()

	conv, err := NewLinearConverter(48000, 2, 24000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.OutputRate() != 24000 {
		t.Fatalf("unexpected output rate: %d", conv.OutputRate())
	}

	// 4800 stereo frames at 48 kHz is 100ms.
	frames := make([]float32, 4800*2)
	for i := 0; i < 4800; i++ {
		frames[2*i] = 0.5
		frames[2*i+1] = 0.5
	}

	var total int
	for i := 0; i < 10; i++ {
		total += len(conv.Convert(frames))
	}
	// One second in, one second out, give or take the carried sample.
	if total < 23990 || total > 24010 {
		t.Fatalf("expected about 24000 samples, got %d", total)
	}

	out := conv.Convert(frames)
	for _, s := range out {
		if s != 16384 {
			t.Fatalf("expected steady downmixed level 16384, got %d", s)
		}
	}
}

func TestLinearConverterUpsamples(t *testing.T) {
	t.Parallel()

	conv, err := NewLinearConverter(16000, 1, 24000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var total int
	for i := 0; i < 10; i++ {
		total += len(conv.Convert(make([]float32, 1600)))
	}
	if total < 23990 || total > 24010 {
		t.Fatalf("expected about 24000 samples, got %d", total)
	}
}
