// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"context"
	"time"

	internal_entity "github.com/rapidaai/voice-bridge/internal/entity"
	internal_lead "github.com/rapidaai/voice-bridge/internal/lead"
)

// Gateway persists call artifacts at session end. Each operation is an
// independent failure domain: one failing write is logged by the caller and
// must not block the others.
type Gateway interface {
	// CreateCall inserts the Call row at session start and returns its id.
	CreateCall(ctx context.Context, call *internal_entity.Call) (string, error)

	// UpdateCallStatus finalizes the Call row.
	UpdateCallStatus(ctx context.Context, callID, status string, endedAt time.Time, durationSeconds int) error

	// SaveRecording stores the concatenated call audio and returns the
	// recording id.
	SaveRecording(ctx context.Context, callID string, audio []byte, mimeType string, durationSeconds int) (string, error)

	// SaveTranscript stores the ordered transcript segments plus the joined
	// full text and returns the transcript id.
	SaveTranscript(ctx context.Context, callID string, segments []TranscriptSegment, fullText string) (string, error)

	// MaybeCreateLead creates a Lead row when the heuristic flags qualify.
	// Returns the lead id, or "" when no lead was warranted.
	MaybeCreateLead(ctx context.Context, ownerID, callID, callerNumber string, flags internal_lead.Flags) (string, error)
}

// AgentResolver looks up the configured agent for an inbound call.
type AgentResolver interface {
	// FindByExtension returns the active agent assigned to the telephony
	// extension, or an error when none exists.
	FindByExtension(ctx context.Context, extension string) (*internal_entity.Agent, error)
}
