// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voice-bridge/config"
	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_session "github.com/rapidaai/voice-bridge/internal/session"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// Call metadata headers supplied by the telephony endpoint on the upgrade
// request.
const (
	HeaderChannel        = "X-Asterisk-Channel"
	HeaderCallerNumber   = "X-Caller-Number"
	HeaderAgentExtension = "X-Agent-Extension"
)

// ConnectorFactory builds one fresh model connector per call session.
type ConnectorFactory func() internal_type.ModelConnector

// Listener accepts inbound telephony connections, resolves the target
// agent, and runs one call session per connection.
type Listener struct {
	appCfg       *config.BridgeConfig
	logger       commons.Logger
	registry     *internal_session.Registry
	resolver     internal_type.AgentResolver
	gateway      internal_type.Gateway
	newConnector ConnectorFactory
	codec        internal_audio.Codec
	upgrader     websocket.Upgrader
}

// NewListener wires the bridge listener.
func NewListener(
	appCfg *config.BridgeConfig,
	logger commons.Logger,
	registry *internal_session.Registry,
	resolver internal_type.AgentResolver,
	gateway internal_type.Gateway,
	newConnector ConnectorFactory,
) (*Listener, error) {
	codec, err := internal_audio.ParseCodec(appCfg.AudioConfig.Codec)
	if err != nil {
		return nil, err
	}
	return &Listener{
		appCfg:       appCfg,
		logger:       logger,
		registry:     registry,
		resolver:     resolver,
		gateway:      gateway,
		newConnector: newConnector,
		codec:        codec,
		upgrader: websocket.Upgrader{
			// The telephony endpoint is a PBX, not a browser; no origin check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Routes registers the bridge's HTTP surface.
func (l *Listener) Routes(engine *gin.Engine) {
	engine.GET("/health", l.health)
	engine.GET("/v1/telephony/ws", l.handleTelephony)
}

func (l *Listener) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":        l.appCfg.Name,
		"version":        l.appCfg.Version,
		"activeSessions": l.registry.Len(),
	})
}

// handleTelephony accepts one telephony connection and runs its call
// session until either peer hangs up.
func (l *Listener) handleTelephony(c *gin.Context) {
	channelId := c.GetHeader(HeaderChannel)
	if channelId == "" {
		channelId = uuid.New().String()
	}
	callerNumber := c.GetHeader(HeaderCallerNumber)
	extension := c.GetHeader(HeaderAgentExtension)

	// Resolve the agent before upgrading: an unknown extension is rejected
	// with no session and no websocket.
	agent, err := l.resolver.FindByExtension(c.Request.Context(), extension)
	if err != nil {
		l.logger.Warnf("rejecting call: no agent for extension %q: %v", extension, err)
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	connection, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.logger.Errorf("telephony upgrade failed: channel=%s: %v", channelId, err)
		return
	}

	l.logger.Infow("telephony connection accepted",
		"channel", channelId, "caller", callerNumber, "extension", extension)

	stream := newTelephonyStream(connection, l.codec, l.logger)
	session := internal_session.NewSession(internal_session.Options{
		ChannelId:    channelId,
		CallerNumber: callerNumber,
		Agent:        agent,
		Telephony:    stream,
		Connector:    l.newConnector(),
		Gateway:      l.gateway,
		Audio:        l.appCfg.AudioConfig,
		Logger:       l.logger,
		OnEnded:      l.registry.Remove,
	})

	if err := l.registry.Register(session); err != nil {
		l.logger.Errorf("rejecting call: %v: channel=%s", err, channelId)
		stream.Close()
		return
	}

	if err := session.Start(c.Request.Context()); err != nil {
		// Start already ran the termination routine.
		l.logger.Errorf("call setup failed: channel=%s: %v", channelId, err)
		return
	}

	l.readLoop(connection, session)
}

// readLoop pumps inbound telephony frames into the session until the
// connection ends, then drives the session to termination.
func (l *Listener) readLoop(connection *websocket.Conn, session *internal_session.Session) {
	defer session.Terminate(context.Background())

	for {
		messageType, data, err := connection.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Debugf("telephony connection closed: channel=%s", session.ChannelId())
			} else {
				l.logger.Debugf("telephony read error: channel=%s: %v", session.ChannelId(), err)
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		session.HandleInboundAudio(l.codec.Decode(data))
	}
}
