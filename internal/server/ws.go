package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsObserverBuffer = 64
	wsWriteTimeout   = 5 * time.Second
)

// handleWebsocket bridges a hub observer onto a websocket. One event per
// text message; slow clients are dropped by the hub, not queued.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	obs := s.hub.Subscribe(wsObserverBuffer)
	defer obs.Close()

	// CloseRead pumps incoming frames so pings are answered; its context ends
	// when the client goes away.
	ctx := c.CloseRead(r.Context())
	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket observer connected")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-obs.Events():
			if !ok {
				c.Close(websocket.StatusPolicyViolation, "event buffer overflow")
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = c.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
