// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import "encoding/binary"

// Detector classifies fixed-size PCM16 chunks as speech or silence by mean
// absolute amplitude. Stateless; safe for concurrent use.
type Detector struct {
	threshold int
}

// NewDetector builds a Detector with the given mean-amplitude threshold on
// the 16-bit sample scale.
func NewDetector(threshold int) *Detector {
	return &Detector{threshold: threshold}
}

// IsSpeech reports whether the chunk's mean absolute sample magnitude
// exceeds the threshold. Empty chunks are silence.
func (d *Detector) IsSpeech(chunk []byte) bool {
	samples := len(chunk) / 2
	if samples == 0 {
		return false
	}

	var sum int64
	for i := 0; i < samples; i++ {
		sample := int64(int16(binary.LittleEndian.Uint16(chunk[i*2:])))
		if sample < 0 {
			sample = -sample
		}
		sum += sample
	}

	mean := float64(sum) / float64(samples)
	return mean > float64(d.threshold)
}
