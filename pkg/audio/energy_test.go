package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmOf(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestRMS_Empty(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := RMS([]byte{0x01}); got != 0 {
		t.Errorf("RMS(single byte) = %v, want 0", got)
	}
}

func TestRMS_ConstantAmplitude(t *testing.T) {
	t.Parallel()

	got := RMS(pcmOf(1000, 1000, 1000, 1000))
	if math.Abs(got-1000) > 1e-9 {
		t.Errorf("RMS = %v, want 1000", got)
	}
}

func TestRMS_SilenceIsZero(t *testing.T) {
	t.Parallel()

	if got := RMS(pcmOf(0, 0, 0, 0)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
}

func TestRMS_SignInsensitive(t *testing.T) {
	t.Parallel()

	got := RMS(pcmOf(-2000, 2000, -2000, 2000))
	if math.Abs(got-2000) > 1e-9 {
		t.Errorf("RMS = %v, want 2000", got)
	}
}

func TestRMS_IgnoresTrailingOddByte(t *testing.T) {
	t.Parallel()

	full := pcmOf(500, 500)
	got := RMS(append(full, 0x7f))
	if math.Abs(got-500) > 1e-9 {
		t.Errorf("RMS = %v, want 500", got)
	}
}
