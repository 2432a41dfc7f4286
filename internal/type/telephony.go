// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

// TelephonyStream is the session's handle on the caller's audio leg. The
// bridge listener owns the underlying connection and its write pump.
type TelephonyStream interface {
	// WriteAudio queues PCM16 at the telephony rate for playback to the
	// caller. Writes after the connection closed are dropped silently.
	WriteAudio(pcm []byte) error

	// DiscardPending drops queued not-yet-sent outbound audio. Called on
	// model barge-in.
	DiscardPending()

	// Close hangs up the telephony leg. Idempotent.
	Close() error
}
