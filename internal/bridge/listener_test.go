// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/config"
	internal_entity "github.com/rapidaai/voice-bridge/internal/entity"
	internal_lead "github.com/rapidaai/voice-bridge/internal/lead"
	internal_session "github.com/rapidaai/voice-bridge/internal/session"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

func newBridgeLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-bridge"),
		commons.Path(t.TempDir()),
		commons.Level("error"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

// eventually polls until the condition holds or the deadline passes.
func eventually(t *testing.T, condition func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type stubResolver struct {
	agents map[string]*internal_entity.Agent
}

func (r *stubResolver) FindByExtension(ctx context.Context, extension string) (*internal_entity.Agent, error) {
	agent, ok := r.agents[extension]
	if !ok {
		return nil, errors.New("no active agent")
	}
	return agent, nil
}

type stubGateway struct {
	mu          sync.Mutex
	calls       []*internal_entity.Call
	statuses    []string
	transcripts int
}

func (g *stubGateway) CreateCall(ctx context.Context, call *internal_entity.Call) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
	return fmt.Sprintf("call-%d", len(g.calls)), nil
}

func (g *stubGateway) UpdateCallStatus(ctx context.Context, callID, status string, endedAt time.Time, durationSeconds int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses = append(g.statuses, status)
	return nil
}

func (g *stubGateway) SaveRecording(ctx context.Context, callID string, audio []byte, mimeType string, durationSeconds int) (string, error) {
	return "rec-1", nil
}

func (g *stubGateway) SaveTranscript(ctx context.Context, callID string, segments []internal_type.TranscriptSegment, fullText string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transcripts++
	return "tr-1", nil
}

func (g *stubGateway) MaybeCreateLead(ctx context.Context, ownerID, callID, callerNumber string, flags internal_lead.Flags) (string, error) {
	return "", nil
}

func (g *stubGateway) statusCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.statuses)
}

type stubConnector struct {
	mu            sync.Mutex
	events        internal_type.ModelEvents
	fragments     int
	turnCompletes int
}

func (c *stubConnector) Open(ctx context.Context, cfg internal_type.ModelConfig, events internal_type.ModelEvents) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
	return nil
}

func (c *stubConnector) SendAudioTurn(pcm []byte, sampleRate int, turnComplete bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnComplete {
		c.turnCompletes++
	} else {
		c.fragments++
	}
	return nil
}

func (c *stubConnector) Close() error { return nil }

func (c *stubConnector) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fragments, c.turnCompletes
}

func (c *stubConnector) pushAudio(pcm []byte) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	events.OnAudio(pcm)
}

type bridgeFixture struct {
	server     *httptest.Server
	registry   *internal_session.Registry
	gateway    *stubGateway
	connectors []*stubConnector
	mu         sync.Mutex
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := newBridgeLogger(t)

	appCfg := &config.BridgeConfig{
		Name:    "voice-bridge",
		Version: "test",
		AudioConfig: config.AudioConfig{
			TelephonyRate:   8000,
			ModelInputRate:  16000,
			ModelOutputRate: 24000,
			ChunkBytes:      320,
			VadThreshold:    500,
			Codec:           "slin16",
		},
	}

	f := &bridgeFixture{
		registry: internal_session.NewRegistry(logger),
		gateway:  &stubGateway{},
	}
	resolver := &stubResolver{agents: map[string]*internal_entity.Agent{
		"7001": {
			Id:           "agent-1",
			OwnerId:      "owner-1",
			Name:         "receptionist",
			SystemPrompt: "You answer the phone.",
			Voice:        "Puck",
			Extension:    "7001",
			Active:       true,
		},
	}}
	factory := func() internal_type.ModelConnector {
		c := &stubConnector{}
		f.mu.Lock()
		f.connectors = append(f.connectors, c)
		f.mu.Unlock()
		return c
	}

	listener, err := NewListener(appCfg, logger, f.registry, resolver, f.gateway, factory)
	if err != nil {
		t.Fatalf("failed to build listener: %v", err)
	}

	engine := gin.New()
	listener.Routes(engine)
	f.server = httptest.NewServer(engine)
	t.Cleanup(f.server.Close)
	return f
}

func (f *bridgeFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/telephony/ws"
}

func (f *bridgeFixture) dial(t *testing.T, headers http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(), headers)
	if err != nil {
		t.Fatalf("telephony dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *bridgeFixture) connector(t *testing.T) *stubConnector {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connectors) == 0 {
		t.Fatal("no model connector was created")
	}
	return f.connectors[len(f.connectors)-1]
}

func callHeaders() http.Header {
	return http.Header{
		HeaderChannel:        []string{"chan-1"},
		HeaderCallerNumber:   []string{"+15550001111"},
		HeaderAgentExtension: []string{"7001"},
	}
}

func loudFrame(chunks int) []byte {
	buf := make([]byte, chunks*320)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(4000)))
	}
	return buf
}

func TestHealthEndpoint(t *testing.T) {
	f := newBridgeFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["service"] != "voice-bridge" {
		t.Errorf("service: got %v", body["service"])
	}
	if body["activeSessions"] != float64(0) {
		t.Errorf("activeSessions: got %v", body["activeSessions"])
	}
}

func TestRejectsUnknownExtension(t *testing.T) {
	f := newBridgeFixture(t)

	headers := callHeaders()
	headers.Set(HeaderAgentExtension, "9999")
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), headers)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
	if f.registry.Len() != 0 {
		t.Errorf("rejected call left %d sessions registered", f.registry.Len())
	}
}

func TestCallSessionLifecycle(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t, callHeaders())

	eventually(t, func() bool { return f.registry.Len() == 1 }, "session registration")
	connector := f.connector(t)

	// Caller speaks for five chunks, then goes quiet.
	if err := conn.WriteMessage(websocket.BinaryMessage, loudFrame(5)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 5*320)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	eventually(t, func() bool {
		fragments, turnCompletes := connector.counts()
		return fragments == 5 && turnCompletes == 1
	}, "speech forwarding")

	// Model speaks; the caller hears a 20ms telephony frame.
	connector.pushAudio(make([]byte, 960))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no outbound audio arrived: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Errorf("message type: got %d", messageType)
	}
	if len(frame) != 320 {
		t.Errorf("outbound frame: got %d bytes, want 320", len(frame))
	}

	// Hangup drives the session to termination and the artifact flush.
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	eventually(t, func() bool { return f.registry.Len() == 0 }, "session removal")
	eventually(t, func() bool { return f.gateway.statusCount() == 1 }, "artifact flush")

	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	if f.gateway.statuses[0] != internal_entity.CallStatusCompleted {
		t.Errorf("status: got %q", f.gateway.statuses[0])
	}
	if len(f.gateway.calls) != 1 || f.gateway.calls[0].ChannelId != "chan-1" {
		t.Errorf("call rows: %+v", f.gateway.calls)
	}
}

func TestChannelIdFallsBackToGenerated(t *testing.T) {
	f := newBridgeFixture(t)

	headers := callHeaders()
	headers.Del(HeaderChannel)
	f.dial(t, headers)

	eventually(t, func() bool { return f.registry.Len() == 1 }, "session registration")
	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	if len(f.gateway.calls) != 1 || f.gateway.calls[0].ChannelId == "" {
		t.Errorf("expected generated channel id, got %+v", f.gateway.calls)
	}
}

func TestNonBinaryFramesIgnored(t *testing.T) {
	f := newBridgeFixture(t)
	conn := f.dial(t, callHeaders())

	eventually(t, func() bool { return f.registry.Len() == 1 }, "session registration")
	connector := f.connector(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, loudFrame(1)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	eventually(t, func() bool {
		fragments, _ := connector.counts()
		return fragments == 1
	}, "binary frame forwarding")
	fragments, turnCompletes := connector.counts()
	if fragments != 1 || turnCompletes != 0 {
		t.Errorf("counts after text frame: fragments=%d turnCompletes=%d", fragments, turnCompletes)
	}
}

func TestDuplicateChannelRejected(t *testing.T) {
	f := newBridgeFixture(t)
	f.dial(t, callHeaders())
	eventually(t, func() bool { return f.registry.Len() == 1 }, "first session registration")

	// Same channel id again: the listener closes the second leg without
	// touching the first session.
	second := f.dial(t, callHeaders())
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Fatal("expected the duplicate leg to be closed")
	}
	if f.registry.Len() != 1 {
		t.Errorf("expected 1 session, got %d", f.registry.Len())
	}
}
