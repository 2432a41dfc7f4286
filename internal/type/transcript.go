// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

// Speaker identifies who produced a transcript segment.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// TranscriptSegment is one utterance on the call timeline. OffsetMillis is
// relative to session start.
type TranscriptSegment struct {
	Speaker      Speaker `json:"speaker"`
	Text         string  `json:"text"`
	OffsetMillis int64   `json:"offsetMillis"`
}
