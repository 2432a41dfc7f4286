// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_bridge

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	internal_audio "github.com/rapidaai/voice-bridge/internal/audio"
	internal_type "github.com/rapidaai/voice-bridge/internal/type"
	"github.com/rapidaai/voice-bridge/pkg/commons"
	"github.com/rapidaai/voice-bridge/pkg/utils"
)

// outboundQueueSize bounds not-yet-sent playback audio. At 20ms frames this
// is a bit over one second of speech; older frames are dropped rather than
// letting latency build.
const outboundQueueSize = 64

// wsTelephonyStream adapts one telephony websocket connection to the
// session's TelephonyStream. Outbound audio goes through a queue drained by
// a single write pump, which gives barge-in a buffer it can discard.
type wsTelephonyStream struct {
	connection *websocket.Conn
	codec      internal_audio.Codec
	logger     commons.Logger

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newTelephonyStream(connection *websocket.Conn, codec internal_audio.Codec, logger commons.Logger) *wsTelephonyStream {
	stream := &wsTelephonyStream{
		connection: connection,
		codec:      codec,
		logger:     logger,
		out:        make(chan []byte, outboundQueueSize),
		done:       make(chan struct{}),
	}
	utils.Go(context.Background(), stream.writePump)
	return stream
}

var _ internal_type.TelephonyStream = (*wsTelephonyStream)(nil)

// WriteAudio queues PCM16 for playback. A full queue drops the frame: the
// telephony leg is real-time and stale audio is worse than missing audio.
func (t *wsTelephonyStream) WriteAudio(pcm []byte) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	select {
	case t.out <- pcm:
	default:
		t.logger.Debugf("outbound audio queue full, dropping frame")
	}
	return nil
}

// DiscardPending drains queued outbound audio without sending it.
func (t *wsTelephonyStream) DiscardPending() {
	for {
		select {
		case <-t.out:
		default:
			return
		}
	}
}

func (t *wsTelephonyStream) writePump() {
	for {
		select {
		case <-t.done:
			return
		case pcm := <-t.out:
			payload := t.codec.Encode(pcm)
			if err := t.connection.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				t.logger.Debugf("telephony write failed: %v", err)
				return
			}
		}
	}
}

// Close hangs up the telephony leg. Idempotent.
func (t *wsTelephonyStream) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.connection.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		if err := t.connection.Close(); err != nil {
			t.logger.Debugf("telephony close: %v", err)
		}
	})
	return nil
}
