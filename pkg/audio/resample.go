package audio

import (
	"math"

	"github.com/oov/audio/resampler"
)

// resampleQuality is the speex-derived quality level (0-10) passed to the
// resampler. 4 is the speex default for voice.
const resampleQuality = 4

// Resampler converts a continuous mono int16 stream between two sample rates.
// It keeps filter state between calls, so one Resampler must be used for one
// stream only and is not safe for concurrent use.
type Resampler struct {
	from, to int
	r        *resampler.Resampler

	in  []float32
	out []float32
}

// NewResampler returns a mono resampler from rate from to rate to. When both
// rates are equal Process passes samples through unchanged.
func NewResampler(from, to int) *Resampler {
	rs := &Resampler{from: from, to: to}
	if from != to {
		rs.r = resampler.New(1, from, to, resampleQuality)
	}
	return rs
}

// Process resamples pcm and returns the converted samples. The filter delays
// its output slightly, so the first calls may return fewer samples than the
// rate ratio suggests. The returned slice is newly allocated unless the rates
// match, in which case pcm itself is returned.
func (rs *Resampler) Process(pcm []int16) []int16 {
	if rs.r == nil || len(pcm) == 0 {
		return pcm
	}

	rs.in = growFloat(rs.in, len(pcm))
	for i, s := range pcm {
		rs.in[i] = float32(s) / 32768
	}
	rs.out = growFloat(rs.out, len(pcm)*rs.to/rs.from+64)

	result := make([]int16, 0, len(pcm)*rs.to/rs.from+64)
	in := rs.in
	for len(in) > 0 {
		read, written := rs.r.ProcessFloat32(0, in, rs.out)
		for _, f := range rs.out[:written] {
			result = append(result, floatToInt16(f))
		}
		if read == 0 && written == 0 {
			break
		}
		in = in[read:]
	}
	return result
}

func growFloat(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

func floatToInt16(f float32) int16 {
	v := math.Round(float64(f) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
