package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of little-endian 16-bit PCM data.
// Returns zero for empty or truncated input. The result is in raw sample
// units (0–32767); callers compare it against their own thresholds.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
