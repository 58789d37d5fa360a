package audio

import (
	"encoding/base64"
	"testing"

	"github.com/keshucs12345/voicematch/internal/domain"
)

func TestInt16BytesRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	out := BytesToInt16(Int16ToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func TestBytesToInt16DropsOddTrailingByte(t *testing.T) {
	t.Parallel()

	out := BytesToInt16([]byte{0x01, 0x00, 0xff})
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("unexpected samples: %v", out)
	}
}

func TestDecodePCM16Base64(t *testing.T) {
	t.Parallel()

	samples, err := DecodePCM16Base64(base64.StdEncoding.EncodeToString([]byte{0x10, 0x00, 0x20, 0x00, 0x30}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 || samples[0] != 16 || samples[1] != 32 {
		t.Fatalf("unexpected samples: %v", samples)
	}
}

func TestDecodePCM16Base64Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid base64": "%%%not-base64",
		"empty":          "",
		"single byte":    base64.StdEncoding.EncodeToString([]byte{0x01}),
	}
	for name, fragment := range cases {
		if _, err := DecodePCM16Base64(fragment); domain.KindOf(err) != domain.ErrorKindDecode {
			t.Fatalf("%s: expected decode error, got %v", name, err)
		}
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	t.Parallel()

	if got := Float32ToInt16(2); got != 32767 {
		t.Fatalf("expected positive clamp, got %d", got)
	}
	if got := Float32ToInt16(-2); got != -32768 {
		t.Fatalf("expected negative clamp, got %d", got)
	}
	if got := Float32ToInt16(0.5); got != 16384 {
		t.Fatalf("expected 16384, got %d", got)
	}
}
