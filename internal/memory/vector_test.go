package memory

import (
	"math"
	"testing"
)

func TestFloat32Codec(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159, -2.71828}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestDecodeRejectsCorruptLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("decode of 3-byte blob succeeded, want error")
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("decodeInto of 5-byte blob succeeded, want error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}
	d := []float32{-1, 0, 0}

	if got := cosineSimilarity(a, b, norm(a)); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors similarity = %f, want 1", got)
	}
	if got := cosineSimilarity(a, c, norm(a)); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors similarity = %f, want 0", got)
	}
	if got := cosineSimilarity(a, d, norm(a)); math.Abs(float64(got)+1) > 1e-6 {
		t.Errorf("opposite vectors similarity = %f, want -1", got)
	}
	if got := cosineSimilarity(a, []float32{0, 0, 0}, norm(a)); got != 0 {
		t.Errorf("zero vector similarity = %f, want 0", got)
	}
	if got := cosineSimilarity(a, []float32{1, 0}, norm(a)); got != 0 {
		t.Errorf("mismatched dims similarity = %f, want 0", got)
	}
}
