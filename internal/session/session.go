// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/voice-bridge/config"
	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_entity "github.com/rapidaai/voice-bridge/internal/entity"
	internal_lead "github.com/rapidaai/voice-bridge/internal/lead"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// State is the session lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateEnding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Options wires one session to its collaborators.
type Options struct {
	ChannelId    string
	CallerNumber string
	Agent        *internal_entity.Agent

	Telephony internal_type.TelephonyStream
	Connector internal_type.ModelConnector
	Gateway   internal_type.Gateway

	Audio  config.AudioConfig
	Logger commons.Logger

	// OnEnded runs once after the session reached ENDED; the listener uses
	// it to drop the registry entry.
	OnEnded func(channelId string)
}

// Session coordinates one phone call: it owns the model connection, drives
// the VAD turn-boundary logic on inbound telephony audio, relays synthesized
// speech back, and flushes the call artifacts at the end.
//
// The inbound-audio path and the model-event callbacks arrive on different
// goroutines; every state mutation happens under mu.
type Session struct {
	mu    sync.Mutex
	state State

	channelId    string
	callId       string
	agent        *internal_entity.Agent
	callerNumber string

	telephony internal_type.TelephonyStream
	connector internal_type.ModelConnector
	gateway   internal_type.Gateway

	audio    config.AudioConfig
	detector *internal_audio.Detector
	logger   commons.Logger

	speaking   bool
	inbound    *internal_audio.ChunkQueue
	recording  [][]byte
	transcript []internal_type.TranscriptSegment
	startedAt  time.Time

	onEnded func(channelId string)

	// clock is injectable for testing; defaults to time.Now.
	clock func() time.Time
}

// NewSession builds a session in CONNECTING state. Call Start to bring it up.
func NewSession(opts Options) *Session {
	return &Session{
		state:        StateConnecting,
		channelId:    opts.ChannelId,
		callerNumber: opts.CallerNumber,
		agent:        opts.Agent,
		telephony:    opts.Telephony,
		connector:    opts.Connector,
		gateway:      opts.Gateway,
		audio:        opts.Audio,
		detector:     internal_audio.NewDetector(opts.Audio.VadThreshold),
		logger:       opts.Logger,
		inbound:      internal_audio.NewChunkQueue(),
		onEnded:      opts.OnEnded,
		clock:        time.Now,
	}
}

// ChannelId returns the telephony channel identifier keying this session.
func (s *Session) ChannelId() string { return s.channelId }

// CallId returns the persisted Call row id, or "" before Start.
func (s *Session) CallId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callId
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start creates the Call record and opens the model connection. Only when
// both succeed does the session accept audio. On failure the session runs
// its termination routine and the error is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.clock()
	s.mu.Unlock()

	call := &internal_entity.Call{
		OwnerId:      s.agent.OwnerId,
		AgentId:      s.agent.Id,
		CallerNumber: s.callerNumber,
		ChannelId:    s.channelId,
		Status:       internal_entity.CallStatusInProgress,
		StartedAt:    s.startedAt,
	}
	callId, err := s.gateway.CreateCall(ctx, call)
	if err != nil {
		s.Terminate(ctx)
		return fmt.Errorf("failed to create call record: %w", err)
	}
	s.mu.Lock()
	s.callId = callId
	s.mu.Unlock()

	modelCfg := internal_type.ModelConfig{
		Voice:             s.agent.Voice,
		SystemInstruction: s.agent.SystemPrompt + "\n\n" + s.agent.KnowledgeContext,
	}
	events := internal_type.ModelEvents{
		OnAudio:       s.handleModelAudio,
		OnTranscript:  s.handleTranscript,
		OnInterrupted: s.handleInterrupted,
		OnClosed:      func() { s.Terminate(context.Background()) },
		OnError: func(err error) {
			s.logger.Errorf("model connection failed: channel=%s: %v", s.channelId, err)
			s.Terminate(context.Background())
		},
	}
	if err := s.connector.Open(ctx, modelCfg, events); err != nil {
		s.Terminate(ctx)
		return fmt.Errorf("failed to open model connection: %w", err)
	}

	s.mu.Lock()
	// Terminate may have raced in via an early OnClosed; only promote a
	// session that is still connecting.
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session %s ended during setup", s.channelId)
	}
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Infow("call session active",
		"channel", s.channelId, "call", callId, "agent", s.agent.Id, "caller", s.callerNumber)
	return nil
}

// HandleInboundAudio ingests PCM16 telephony audio. Bytes accumulate until
// a full chunk is available; each chunk is VAD-classified and either
// forwarded to the model as a turn fragment or, on a speech→silence edge,
// converted into exactly one turn-complete signal.
func (s *Session) HandleInboundAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}

	s.inbound.Append(data)
	for {
		chunk := s.inbound.ExtractChunk(s.audio.ChunkBytes)
		if chunk == nil {
			break
		}

		if s.detector.IsSpeech(chunk) {
			s.speaking = true
			s.recording = append(s.recording, chunk)

			resampled := internal_audio.Resample(chunk, s.audio.TelephonyRate, s.audio.ModelInputRate)
			if err := s.connector.SendAudioTurn(resampled, s.audio.ModelInputRate, false); err != nil {
				s.logger.Errorf("failed to forward audio turn: channel=%s: %v", s.channelId, err)
			}
			continue
		}

		if s.speaking {
			s.speaking = false
			if err := s.connector.SendAudioTurn(nil, s.audio.ModelInputRate, true); err != nil {
				s.logger.Errorf("failed to signal turn complete: channel=%s: %v", s.channelId, err)
			}
		}
		// Steady-state silence is not forwarded.
	}
}

// handleModelAudio relays synthesized speech to the caller and records it.
func (s *Session) handleModelAudio(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}

	resampled := internal_audio.Resample(pcm, s.audio.ModelOutputRate, s.audio.TelephonyRate)
	if err := s.telephony.WriteAudio(resampled); err != nil {
		// Connection already closing; the audio is dropped.
		s.logger.Debugf("dropped outbound audio: channel=%s: %v", s.channelId, err)
	}
	s.recording = append(s.recording, resampled)
}

func (s *Session) handleTranscript(speaker internal_type.Speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateEnding || s.state == StateEnded {
		return
	}
	s.transcript = append(s.transcript, internal_type.TranscriptSegment{
		Speaker:      speaker,
		Text:         text,
		OffsetMillis: s.clock().Sub(s.startedAt).Milliseconds(),
	})
}

// handleInterrupted drops queued outbound audio so the caller stops hearing
// the agent as soon as they barge in.
func (s *Session) handleInterrupted() {
	s.telephony.DiscardPending()
	s.logger.Debugf("barge-in: discarded pending outbound audio: channel=%s", s.channelId)
}

// Terminate drives the session to ENDED exactly once. Telephony close,
// model close and explicit hangup all funnel here; only the first caller
// performs the teardown and the persistence flush.
func (s *Session) Terminate(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateEnding || s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	wasActive := s.state == StateActive
	s.state = StateEnding

	callId := s.callId
	endedAt := s.clock()
	duration := int(endedAt.Sub(s.startedAt).Seconds())
	recording := s.concatRecordingLocked()
	transcript := make([]internal_type.TranscriptSegment, len(s.transcript))
	copy(transcript, s.transcript)
	s.mu.Unlock()

	s.logger.Infof("ending call session: channel=%s, call=%s, duration=%ds", s.channelId, callId, duration)

	if err := s.connector.Close(); err != nil {
		s.logger.Errorf("failed to close model connection: channel=%s: %v", s.channelId, err)
	}
	if err := s.telephony.Close(); err != nil {
		s.logger.Debugf("telephony close: channel=%s: %v", s.channelId, err)
	}

	if callId != "" {
		s.flushArtifacts(ctx, callId, wasActive, endedAt, duration, recording, transcript)
	}

	s.mu.Lock()
	s.state = StateEnded
	s.mu.Unlock()

	if s.onEnded != nil {
		s.onEnded(s.channelId)
	}
}

// flushArtifacts persists status, recording, transcript and the lead
// heuristic. Each write is independent: a failure is logged and the rest
// are still attempted.
func (s *Session) flushArtifacts(
	ctx context.Context,
	callId string,
	wasActive bool,
	endedAt time.Time,
	duration int,
	recording []byte,
	transcript []internal_type.TranscriptSegment,
) {
	status := internal_entity.CallStatusCompleted
	if !wasActive {
		status = internal_entity.CallStatusFailed
	}
	if err := s.gateway.UpdateCallStatus(ctx, callId, status, endedAt, duration); err != nil {
		s.logger.Errorf("failed to update call status: call=%s: %v", callId, err)
	}

	if len(recording) > 0 {
		wav := internal_audio.RenderWAV(recording, s.audio.TelephonyRate)
		if _, err := s.gateway.SaveRecording(ctx, callId, wav, "audio/wav", duration); err != nil {
			s.logger.Errorf("failed to save recording: call=%s: %v", callId, err)
		}
	}

	if _, err := s.gateway.SaveTranscript(ctx, callId, transcript, renderFullText(transcript)); err != nil {
		s.logger.Errorf("failed to save transcript: call=%s: %v", callId, err)
	}

	flags := internal_lead.Qualify(joinTranscriptText(transcript))
	if _, err := s.gateway.MaybeCreateLead(ctx, s.agent.OwnerId, callId, s.callerNumber, flags); err != nil {
		s.logger.Errorf("failed to create lead: call=%s: %v", callId, err)
	}
}

func (s *Session) concatRecordingLocked() []byte {
	total := 0
	for _, chunk := range s.recording {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range s.recording {
		out = append(out, chunk...)
	}
	return out
}

func renderFullText(segments []internal_type.TranscriptSegment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, string(seg.Speaker)+": "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

func joinTranscriptText(segments []internal_type.TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}
