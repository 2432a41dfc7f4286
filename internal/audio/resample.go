// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"encoding/binary"
	"math"
)

// Resample converts 16-bit little-endian mono PCM from one sample rate to
// another using linear interpolation. Equal rates return the input slice
// unchanged. Input must be 2-byte aligned; callers own that guarantee.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return pcm
	}

	inputSamples := len(pcm) / 2
	if inputSamples == 0 {
		return []byte{}
	}

	ratio := float64(toRate) / float64(fromRate)
	outputSamples := int(float64(inputSamples) * ratio)
	out := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcIndex := float64(i) / ratio
		lo := int(srcIndex)
		hi := lo + 1
		if hi > inputSamples-1 {
			hi = inputSamples - 1
		}
		weight := srcIndex - float64(lo)

		s0 := float64(sampleAt(pcm, lo))
		s1 := float64(sampleAt(pcm, hi))
		interpolated := math.Round(s0*(1-weight) + s1*weight)

		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(interpolated)))
	}

	return out
}

// ResampleCubic converts PCM like Resample but interpolates with a Catmull-Rom
// spline over four neighbors. Better high-frequency fidelity on the
// model-output downsampling path at a modest CPU cost.
func ResampleCubic(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return pcm
	}

	inputSamples := len(pcm) / 2
	if inputSamples < 4 {
		// Too short for a 4-point kernel; linear handles the degenerate case.
		return Resample(pcm, fromRate, toRate)
	}

	ratio := float64(toRate) / float64(fromRate)
	outputSamples := int(float64(inputSamples) * ratio)
	out := make([]byte, outputSamples*2)

	for i := 0; i < outputSamples; i++ {
		srcIndex := float64(i) / ratio
		i1 := int(srcIndex)
		t := srcIndex - float64(i1)

		p0 := float64(sampleAt(pcm, clampIndex(i1-1, inputSamples)))
		p1 := float64(sampleAt(pcm, clampIndex(i1, inputSamples)))
		p2 := float64(sampleAt(pcm, clampIndex(i1+1, inputSamples)))
		p3 := float64(sampleAt(pcm, clampIndex(i1+2, inputSamples)))

		// Catmull-Rom spline.
		value := p1 + 0.5*t*(p2-p0+t*(2*p0-5*p1+4*p2-p3+t*(3*(p1-p2)+p3-p0)))

		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(math.Round(value))))
	}

	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
