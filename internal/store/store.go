// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	internal_entity "github.com/rapidaai/voice-bridge/internal/entity"
	internal_lead "github.com/rapidaai/voice-bridge/internal/lead"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/connectors"
)

// CallStore implements the persistence gateway and agent lookup over the
// database connector. Recording blobs go to the local recording directory;
// the row keeps the storage URL, which is the shape a later GridFS/S3
// backend slots into.
type CallStore struct {
	database      connectors.DatabaseConnector
	logger        commons.Logger
	recordingPath string
}

// NewCallStore creates the gateway. recordingPath is created on demand.
func NewCallStore(database connectors.DatabaseConnector, logger commons.Logger, recordingPath string) *CallStore {
	return &CallStore{
		database:      database,
		logger:        logger,
		recordingPath: recordingPath,
	}
}

var _ internal_type.Gateway = (*CallStore)(nil)
var _ internal_type.AgentResolver = (*CallStore)(nil)

// Migrate creates the bridge's tables.
func (s *CallStore) Migrate(ctx context.Context) error {
	return s.database.DB(ctx).AutoMigrate(
		&internal_entity.Agent{},
		&internal_entity.Call{},
		&internal_entity.CallRecording{},
		&internal_entity.CallTranscript{},
		&internal_entity.Lead{},
	)
}

// FindByExtension resolves the active agent assigned to a telephony
// extension.
func (s *CallStore) FindByExtension(ctx context.Context, extension string) (*internal_entity.Agent, error) {
	db := s.database.DB(ctx)
	var agent internal_entity.Agent
	if err := db.Where("extension = ? AND active = ?", extension, true).First(&agent).Error; err != nil {
		return nil, fmt.Errorf("no active agent for extension %q: %w", extension, err)
	}
	return &agent, nil
}

// CreateCall inserts the Call row at session start.
func (s *CallStore) CreateCall(ctx context.Context, call *internal_entity.Call) (string, error) {
	db := s.database.DB(ctx)
	if err := db.Create(call).Error; err != nil {
		return "", fmt.Errorf("failed to create call record: %w", err)
	}

	s.logger.Infof("created call record: callId=%s, agent=%s, caller=%s",
		call.Id, call.AgentId, call.CallerNumber)
	return call.Id, nil
}

// UpdateCallStatus finalizes the call row with its terminal status and
// duration.
func (s *CallStore) UpdateCallStatus(ctx context.Context, callID, status string, endedAt time.Time, durationSeconds int) error {
	db := s.database.DB(ctx)
	result := db.Model(&internal_entity.Call{}).
		Where("id = ?", callID).
		Updates(map[string]interface{}{
			"status":       status,
			"ended_at":     endedAt,
			"duration":     durationSeconds,
			"updated_date": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update call %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call %s not found", callID)
	}

	s.logger.Debugf("updated call status: callId=%s, status=%s, duration=%ds", callID, status, durationSeconds)
	return nil
}

// SaveRecording writes the audio blob under the recording directory and
// inserts the CallRecording row pointing at it.
func (s *CallStore) SaveRecording(ctx context.Context, callID string, audio []byte, mimeType string, durationSeconds int) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio to persist for call %s", callID)
	}

	if err := os.MkdirAll(s.recordingPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}
	storageURL := filepath.Join(s.recordingPath, callID+".wav")
	if err := os.WriteFile(storageURL, audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write recording blob: %w", err)
	}

	recording := &internal_entity.CallRecording{
		CallId:      callID,
		StorageUrl:  storageURL,
		StorageType: "local",
		MimeType:    mimeType,
		FileSize:    len(audio),
		Duration:    durationSeconds,
	}
	db := s.database.DB(ctx)
	if err := db.Create(recording).Error; err != nil {
		return "", fmt.Errorf("failed to save recording row: %w", err)
	}

	s.logger.Infof("recording saved: callId=%s, recordingId=%s, bytes=%d", callID, recording.Id, len(audio))
	return recording.Id, nil
}

// SaveTranscript stores the segment list (JSON) plus the joined full text.
func (s *CallStore) SaveTranscript(ctx context.Context, callID string, segments []internal_type.TranscriptSegment, fullText string) (string, error) {
	encoded, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript segments: %w", err)
	}

	transcript := &internal_entity.CallTranscript{
		CallId:   callID,
		Segments: string(encoded),
		FullText: fullText,
	}
	db := s.database.DB(ctx)
	if err := db.Create(transcript).Error; err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	s.logger.Infof("transcript saved: callId=%s, transcriptId=%s, segments=%d", callID, transcript.Id, len(segments))
	return transcript.Id, nil
}

// MaybeCreateLead creates a Lead row when the heuristic flags qualify the
// call. Returns "" when no lead is warranted.
func (s *CallStore) MaybeCreateLead(ctx context.Context, ownerID, callID, callerNumber string, flags internal_lead.Flags) (string, error) {
	if !flags.Qualified() {
		return "", nil
	}

	leadRecord := &internal_entity.Lead{
		OwnerId: ownerID,
		CallId:  callID,
		Phone:   callerNumber,
		Status:  "new",
		Score:   flags.Score(),
		Source:  "call",
	}
	db := s.database.DB(ctx)
	if err := db.Create(leadRecord).Error; err != nil {
		return "", fmt.Errorf("failed to create lead: %w", err)
	}

	s.logger.Infof("lead created: leadId=%s, callId=%s, score=%d", leadRecord.Id, callID, leadRecord.Score)
	return leadRecord.Id, nil
}
