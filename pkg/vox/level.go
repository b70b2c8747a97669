package vox

import (
	"math"
	"unsafe"

	"github.com/MrWong99/voxbridge/pkg/audio/ring"
)

// Level returns the RMS level of frame in dB relative to full scale.
//
// Each sample is normalised by the largest magnitude its type can hold, so a
// full-scale square wave measures 0 dB. A frame whose RMS is exactly zero
// (digital silence, or an empty frame) reports thresholdDB instead of -Inf.
func Level[T ring.Sample](frame []T, thresholdDB float64) float64 {
	db, _ := Measure(frame, thresholdDB)
	return db
}

// Measure is [Level] that also reports whether the frame was digital
// silence. A silent frame measures exactly thresholdDB but must never open
// the gate on its own; see [Gate.EvaluateSilent].
func Measure[T ring.Sample](frame []T, thresholdDB float64) (db float64, silent bool) {
	if len(frame) == 0 {
		return thresholdDB, true
	}
	scale := fullScale[T]()
	var sum float64
	for _, s := range frame {
		v := float64(s) / scale
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms > 0 {
		return 20 * math.Log10(rms), false
	}
	return thresholdDB, true
}

// fullScale returns the largest positive value representable by T.
func fullScale[T ring.Sample]() float64 {
	var zero T
	bits := float64(unsafe.Sizeof(zero) * 8)
	if ^zero < zero {
		// Signed: one bit goes to the sign.
		return math.Exp2(bits-1) - 1
	}
	return math.Exp2(bits) - 1
}
