// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// Codec converts between the telephony payload encoding and 16-bit linear
// PCM. Asterisk channels commonly carry G.711 μ-law or A-law; slin16
// channels pass audio through untouched.
type Codec string

const (
	CodecSlin16 Codec = "slin16"
	CodecUlaw   Codec = "ulaw"
	CodecAlaw   Codec = "alaw"
)

// ParseCodec validates a configured codec name.
func ParseCodec(name string) (Codec, error) {
	switch Codec(name) {
	case CodecSlin16, CodecUlaw, CodecAlaw:
		return Codec(name), nil
	default:
		return "", fmt.Errorf("unsupported telephony codec %q", name)
	}
}

// Decode converts inbound telephony payload bytes to linear PCM16.
func (c Codec) Decode(payload []byte) []byte {
	switch c {
	case CodecUlaw:
		return g711.DecodeUlaw(payload)
	case CodecAlaw:
		return g711.DecodeAlaw(payload)
	default:
		return payload
	}
}

// Encode converts linear PCM16 to the outbound telephony payload encoding.
func (c Codec) Encode(pcm []byte) []byte {
	switch c {
	case CodecUlaw:
		return g711.EncodeUlaw(pcm)
	case CodecAlaw:
		return g711.EncodeAlaw(pcm)
	default:
		return pcm
	}
}
