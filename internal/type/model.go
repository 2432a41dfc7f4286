// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "context"

// ModelConfig is the per-call setup payload for the speech-to-speech model:
// which voice to synthesize and the full system instruction (agent persona
// concatenated with the agent's knowledge context).
type ModelConfig struct {
	Voice             string
	SystemInstruction string
}

// ModelEvents receives the asynchronous, order-preserving event stream of
// one model connection. Handlers run on the connector's receive loop; nil
// handlers are skipped.
type ModelEvents struct {
	// OnAudio delivers synthesized PCM16 at the model's output rate.
	OnAudio func(pcm []byte)
	// OnTranscript delivers synthesized speech text for the given speaker.
	OnTranscript func(speaker Speaker, text string)
	// OnInterrupted signals barge-in: queued outbound audio must be dropped.
	OnInterrupted func()
	// OnClosed fires once when the connection ends, normally or not.
	OnClosed func()
	// OnError reports a fatal post-setup transport failure.
	OnError func(err error)
}

// ModelConnector owns the network session to the remote conversational
// model for exactly one call.
type ModelConnector interface {
	// Open establishes the connection and completes model setup. No audio
	// may be forwarded before Open returns nil.
	Open(ctx context.Context, config ModelConfig, events ModelEvents) error

	// SendAudioTurn transmits one PCM16 turn fragment at the given sample
	// rate. turnComplete true sends the bare end-of-turn marker; the audio
	// payload is ignored in that case.
	SendAudioTurn(pcm []byte, sampleRate int, turnComplete bool) error

	// Close tears the connection down. Idempotent; safe after remote close.
	Close() error
}
