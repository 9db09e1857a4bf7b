package vecbytes

import (
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	in := []float32{0.1, -0.2, 3.14159, 0, -1, 1}
	b := Encode(in)
	if len(b) != len(in)*4 {
		t.Fatalf("expected %d bytes, got %d", len(in)*4, len(b))
	}
	out := Decode(b)
	if len(out) != len(in) {
		t.Fatalf("expected %d floats, got %d", len(in), len(out))
	}
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1e-6 {
			t.Errorf("index %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	if Encode(nil) != nil {
		t.Error("expected nil for empty input")
	}
	if Decode(nil) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestDecodeTrailingBytesIgnored(t *testing.T) {
	b := Encode([]float32{1, 2})
	b = append(b, 0x01, 0x02, 0x03)
	out := Decode(b)
	if len(out) != 2 {
		t.Fatalf("expected 2 floats, got %d", len(out))
	}
}
