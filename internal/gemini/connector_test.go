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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/config"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

const eventTimeout = 2 * time.Second

func newConnectorLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-gemini"),
		commons.Path(t.TempDir()),
		commons.Level("error"),
	)
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

// modelServer fakes the Gemini Live endpoint: it performs the setup
// handshake, records client frames and lets tests push server frames.
type modelServer struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conn  *websocket.Conn
	key   string
	setup setupMessage

	ready  chan struct{}
	frames chan clientContentMessage

	// afterSetup, when set, takes over the connection instead of the
	// default client-frame read loop.
	afterSetup func(conn *websocket.Conn)
}

func newModelServer(t *testing.T) *modelServer {
	t.Helper()
	s := &modelServer{
		t:      t,
		ready:  make(chan struct{}),
		frames: make(chan clientContentMessage, 16),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *modelServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *modelServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade failed: %v", err)
		return
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		s.t.Errorf("failed to read setup frame: %v", err)
		return
	}
	var setup setupMessage
	if err := json.Unmarshal(data, &setup); err != nil {
		s.t.Errorf("malformed setup frame: %v", err)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.key = r.URL.Query().Get("key")
	s.setup = setup
	s.mu.Unlock()

	if err := conn.WriteJSON(map[string]interface{}{"setupComplete": map[string]interface{}{}}); err != nil {
		s.t.Errorf("failed to ack setup: %v", err)
		return
	}
	close(s.ready)

	if s.afterSetup != nil {
		s.afterSetup(conn)
		return
	}
	for {
		var msg clientContentMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.frames <- msg
	}
}

func (s *modelServer) send(t *testing.T, frame interface{}) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(eventTimeout):
		t.Fatal("server never completed setup")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		t.Fatalf("failed to send server frame: %v", err)
	}
}

func (s *modelServer) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(eventTimeout):
		t.Fatal("server never completed setup")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to send raw frame: %v", err)
	}
}

func (s *modelServer) nextFrame(t *testing.T) clientContentMessage {
	t.Helper()
	select {
	case msg := <-s.frames:
		return msg
	case <-time.After(eventTimeout):
		t.Fatal("no client frame arrived")
		return clientContentMessage{}
	}
}

type recordedEvents struct {
	audio       chan []byte
	transcripts chan string
	interrupted chan struct{}
	closed      chan struct{}
	errs        chan error
}

func newRecordedEvents() *recordedEvents {
	return &recordedEvents{
		audio:       make(chan []byte, 16),
		transcripts: make(chan string, 16),
		interrupted: make(chan struct{}, 16),
		closed:      make(chan struct{}, 16),
		errs:        make(chan error, 16),
	}
}

func (r *recordedEvents) handlers() internal_type.ModelEvents {
	return internal_type.ModelEvents{
		OnAudio:       func(pcm []byte) { r.audio <- pcm },
		OnTranscript:  func(speaker internal_type.Speaker, text string) { r.transcripts <- string(speaker) + ": " + text },
		OnInterrupted: func() { r.interrupted <- struct{}{} },
		OnClosed:      func() { r.closed <- struct{}{} },
		OnError:       func(err error) { r.errs <- err },
	}
}

func await[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func openTestConnector(t *testing.T, server *modelServer, events *recordedEvents) internal_type.ModelConnector {
	t.Helper()
	conn := NewConnector(config.GeminiConfig{
		ApiKey: "test-key",
		Url:    server.url(),
		Model:  "models/gemini-2.0-flash-exp",
		Voice:  "Puck",
	}, newConnectorLogger(t))

	err := conn.Open(context.Background(), internal_type.ModelConfig{
		Voice:             "Aoede",
		SystemInstruction: "You answer the phone.",
	}, events.handlers())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpenSendsSetupAndWaitsForAck(t *testing.T) {
	server := newModelServer(t)
	openTestConnector(t, server, newRecordedEvents())

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.key != "test-key" {
		t.Errorf("api key: got %q", server.key)
	}
	setup := server.setup.Setup
	if setup.Model != "models/gemini-2.0-flash-exp" {
		t.Errorf("model: got %q", setup.Model)
	}
	// Per-agent voice wins over the configured default.
	if got := setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Aoede" {
		t.Errorf("voice: got %q", got)
	}
	if setup.SystemInstruction == nil || setup.SystemInstruction.Parts[0].Text != "You answer the phone." {
		t.Errorf("system instruction: %+v", setup.SystemInstruction)
	}
	if got := setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("response modalities: %v", got)
	}
}

func TestOpenFailsWithoutSetupAck(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		// Protocol violation: content before the setup acknowledgement.
		conn.WriteJSON(map[string]interface{}{
			"serverContent": map[string]interface{}{"turnComplete": true},
		})
	}))
	defer server.Close()

	conn := NewConnector(config.GeminiConfig{
		ApiKey: "test-key",
		Url:    "ws" + strings.TrimPrefix(server.URL, "http"),
		Model:  "models/gemini-2.0-flash-exp",
	}, newConnectorLogger(t))

	err := conn.Open(context.Background(), internal_type.ModelConfig{}, internal_type.ModelEvents{})
	if err == nil {
		t.Fatal("expected setup error")
	}
}

func TestOpenFailsWhenEndpointUnreachable(t *testing.T) {
	conn := NewConnector(config.GeminiConfig{
		ApiKey: "test-key",
		Url:    "ws://127.0.0.1:1",
		Model:  "models/gemini-2.0-flash-exp",
	}, newConnectorLogger(t))

	if err := conn.Open(context.Background(), internal_type.ModelConfig{}, internal_type.ModelEvents{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSendAudioTurnEncodesFragment(t *testing.T) {
	server := newModelServer(t)
	conn := openTestConnector(t, server, newRecordedEvents())

	pcm := []byte{1, 2, 3, 4, 5, 6}
	if err := conn.SendAudioTurn(pcm, 16000, false); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frame := server.nextFrame(t)
	if frame.ClientContent.TurnComplete {
		t.Error("fragment must not be marked turn complete")
	}
	if len(frame.ClientContent.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(frame.ClientContent.Turns))
	}
	turn := frame.ClientContent.Turns[0]
	if turn.Role != "user" {
		t.Errorf("role: got %q", turn.Role)
	}
	inline := turn.Parts[0].InlineData
	if inline == nil {
		t.Fatal("missing inline data")
	}
	if inline.MimeType != "audio/pcm;rate=16000" {
		t.Errorf("mime type: got %q", inline.MimeType)
	}
	decoded, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil || string(decoded) != string(pcm) {
		t.Errorf("payload mismatch: %v (%v)", decoded, err)
	}
}

func TestSendAudioTurnComplete(t *testing.T) {
	server := newModelServer(t)
	conn := openTestConnector(t, server, newRecordedEvents())

	if err := conn.SendAudioTurn(nil, 16000, true); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frame := server.nextFrame(t)
	if !frame.ClientContent.TurnComplete {
		t.Error("expected turn complete marker")
	}
	if len(frame.ClientContent.Turns) != 0 {
		t.Errorf("turn complete must carry no turns, got %d", len(frame.ClientContent.Turns))
	}
}

func TestServerAudioDispatched(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	pcm := []byte{10, 20, 30, 40}
	server.send(t, map[string]interface{}{
		"serverContent": map[string]interface{}{
			"modelTurn": map[string]interface{}{
				"parts": []map[string]interface{}{{
					"inlineData": map[string]interface{}{
						"mimeType": "audio/pcm;rate=24000",
						"data":     base64.StdEncoding.EncodeToString(pcm),
					},
				}},
			},
		},
	})

	got := await(t, events.audio, "audio event")
	if string(got) != string(pcm) {
		t.Errorf("audio payload: got %v, want %v", got, pcm)
	}
}

func TestServerTranscriptionsDispatched(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	server.send(t, map[string]interface{}{
		"serverContent": map[string]interface{}{
			"inputTranscription": map[string]interface{}{"text": "hello"},
		},
	})
	if got := await(t, events.transcripts, "caller transcript"); got != "caller: hello" {
		t.Errorf("transcript: got %q", got)
	}

	server.send(t, map[string]interface{}{
		"serverContent": map[string]interface{}{
			"outputTranscription": map[string]interface{}{"text": "hi there"},
		},
	})
	if got := await(t, events.transcripts, "agent transcript"); got != "agent: hi there" {
		t.Errorf("transcript: got %q", got)
	}
}

func TestServerInterruptionDispatched(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	server.send(t, map[string]interface{}{
		"serverContent": map[string]interface{}{"interrupted": true},
	})
	await(t, events.interrupted, "interruption event")
}

func TestMalformedFramesAreBounded(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	for i := 0; i < maxConsecutiveDecodeErrors; i++ {
		server.sendRaw(t, []byte("not json"))
	}

	await(t, events.errs, "error event")
	await(t, events.closed, "closed event")
}

func TestSingleMalformedFrameIsDropped(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	server.sendRaw(t, []byte("not json"))
	server.send(t, map[string]interface{}{
		"serverContent": map[string]interface{}{
			"inputTranscription": map[string]interface{}{"text": "still alive"},
		},
	})

	if got := await(t, events.transcripts, "transcript after bad frame"); got != "caller: still alive" {
		t.Errorf("transcript: got %q", got)
	}
	select {
	case err := <-events.errs:
		t.Fatalf("single bad frame must not fail the stream: %v", err)
	default:
	}
}

func TestRemoteCloseEmitsClosedOnce(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	openTestConnector(t, server, events)

	server.mu.Lock()
	server.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	server.conn.Close()
	server.mu.Unlock()

	await(t, events.closed, "closed event")
	select {
	case <-events.closed:
		t.Fatal("closed emitted more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	server := newModelServer(t)
	events := newRecordedEvents()
	conn := openTestConnector(t, server, events)

	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	await(t, events.closed, "closed event")
	select {
	case err := <-events.errs:
		t.Fatalf("local close must not surface an error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
