// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/config"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/utils"
)

const (
	handshakeTimeout = 30 * time.Second
	setupTimeout     = 15 * time.Second
	maxMessageSize   = 10 * 1024 * 1024

	// maxConsecutiveDecodeErrors bounds how many malformed frames in a row
	// are dropped before the connection is treated as broken.
	maxConsecutiveDecodeErrors = 10
)

// connector speaks the BidiGenerateContent websocket protocol to the Gemini
// Live endpoint for exactly one call.
type connector struct {
	logger commons.Logger
	appCfg config.GeminiConfig

	connection *websocket.Conn
	writeMu    sync.Mutex // serializes writes; reads happen on one loop only
	events     internal_type.ModelEvents

	done      chan struct{}
	closeOnce sync.Once
	closedCb  sync.Once
}

// NewConnector creates a Model Connector bound to the configured Gemini
// Live endpoint. One connector serves one call; create a fresh one per
// session.
func NewConnector(appCfg config.GeminiConfig, logger commons.Logger) internal_type.ModelConnector {
	return &connector{
		logger: logger,
		appCfg: appCfg,
		done:   make(chan struct{}),
	}
}

// Open dials the endpoint, sends the setup frame and waits for the server's
// setupComplete acknowledgement. The connector emits no events and accepts
// no audio until Open returns nil.
func (c *connector) Open(ctx context.Context, modelCfg internal_type.ModelConfig, events internal_type.ModelEvents) error {
	start := time.Now()
	c.events = events

	wsURL, err := url.Parse(c.appCfg.Url)
	if err != nil {
		return fmt.Errorf("failed to parse model endpoint url: %w", err)
	}
	query := wsURL.Query()
	query.Set("key", c.appCfg.ApiKey)
	wsURL.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to model endpoint: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	c.connection = conn

	voice := modelCfg.Voice
	if voice == "" {
		voice = c.appCfg.Voice
	}

	setup := setupMessage{
		Setup: setupPayload{
			Model: c.appCfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
			SystemInstruction: &content{
				Parts: []part{{Text: modelCfg.SystemInstruction}},
			},
		},
	}
	if err := c.writeJSON(setup); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send setup message: %w", err)
	}

	if err := c.awaitSetupComplete(); err != nil {
		conn.Close()
		return err
	}

	utils.Go(ctx, func() {
		c.receiveLoop()
	})

	c.logger.Benchmark("GeminiConnector.Open", time.Since(start))
	return nil
}

// awaitSetupComplete blocks until the server acknowledges setup. Any other
// frame before the acknowledgement is a protocol violation.
func (c *connector) awaitSetupComplete() error {
	if err := c.connection.SetReadDeadline(time.Now().Add(setupTimeout)); err != nil {
		return fmt.Errorf("failed to set setup deadline: %w", err)
	}
	defer c.connection.SetReadDeadline(time.Time{})

	_, data, err := c.connection.ReadMessage()
	if err != nil {
		return fmt.Errorf("model setup failed: %w", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode setup response: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("model setup not acknowledged")
	}

	c.logger.Debugf("model setup complete")
	return nil
}

// SendAudioTurn transmits one PCM16 turn fragment, or the bare turn-complete
// marker when turnComplete is set.
func (c *connector) SendAudioTurn(pcm []byte, sampleRate int, turnComplete bool) error {
	if turnComplete {
		return c.writeJSON(clientContentMessage{
			ClientContent: clientContent{TurnComplete: true},
		})
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []content{{
				Role: "user",
				Parts: []part{{
					InlineData: &blob{
						MimeType: fmt.Sprintf("audio/pcm;rate=%d", sampleRate),
						Data:     base64.StdEncoding.EncodeToString(pcm),
					},
				}},
			}},
			TurnComplete: false,
		},
	}
	return c.writeJSON(msg)
}

func (c *connector) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.connection == nil {
		return fmt.Errorf("model connection is nil")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.connection.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// receiveLoop reads server frames until the connection ends and dispatches
// them in arrival order.
func (c *connector) receiveLoop() {
	defer c.emitClosed()

	decodeErrors := 0
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.connection.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Local Close already ran; the read error is expected.
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("model connection closed normally")
				return
			}
			c.emitError(fmt.Errorf("model read error: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			decodeErrors++
			c.logger.Errorf("dropping malformed model frame (%d consecutive): %v", decodeErrors, err)
			if decodeErrors >= maxConsecutiveDecodeErrors {
				c.emitError(fmt.Errorf("model stream unreadable after %d malformed frames", decodeErrors))
				return
			}
			continue
		}
		decodeErrors = 0

		c.dispatch(&msg)
	}
}

// dispatch applies one well-formed server frame to the event handlers.
func (c *connector) dispatch(msg *serverMessage) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted && c.events.OnInterrupted != nil {
		c.events.OnInterrupted()
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" && c.events.OnTranscript != nil {
		c.events.OnTranscript(internal_type.SpeakerCaller, sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" && c.events.OnTranscript != nil {
		c.events.OnTranscript(internal_type.SpeakerAgent, sc.OutputTranscription.Text)
	}

	if sc.ModelTurn == nil {
		return
	}
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData != nil && strings.Contains(p.InlineData.MimeType, "audio") {
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				c.logger.Errorf("dropping undecodable audio part: %v", err)
				continue
			}
			if c.events.OnAudio != nil {
				c.events.OnAudio(pcm)
			}
		}
		if p.Text != "" && c.events.OnTranscript != nil {
			c.events.OnTranscript(internal_type.SpeakerAgent, p.Text)
		}
	}
}

func (c *connector) emitError(err error) {
	c.logger.Errorf("model connection error: %v", err)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

func (c *connector) emitClosed() {
	c.closedCb.Do(func() {
		if c.events.OnClosed != nil {
			c.events.OnClosed()
		}
	})
}

// Close tears down the connection. Safe to call multiple times and after
// the remote end already closed.
func (c *connector) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		if c.connection == nil {
			return
		}
		c.writeMu.Lock()
		err := c.connection.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debugf("error sending close message: %v", err)
		}
		if err := c.connection.Close(); err != nil {
			c.logger.Debugf("error closing model connection: %v", err)
		}
	})
	return nil
}
