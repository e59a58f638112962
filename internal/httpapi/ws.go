package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pokulabs/poku/internal/bus"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// serveWS streams message and chat events of one active number. The
// client only listens; anything it sends is discarded.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	s.metrics.ClientConnected(1)
	defer s.metrics.ClientConnected(-1)

	// CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	msgs, unsubMsgs := s.bus.Subscribe("message.", 64)
	defer unsubMsgs()
	chatEvents, unsubChats := s.bus.Subscribe("chat.", 64)
	defer unsubChats()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	s.logger.Debug("websocket client connected", zap.String("number", number))
	for {
		select {
		case evt := <-msgs:
			if err := s.forward(ctx, conn, number, evt); err != nil {
				return
			}
		case evt := <-chatEvents:
			if err := s.forward(ctx, conn, number, evt); err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				s.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) forward(ctx context.Context, conn *websocket.Conn, number string, evt bus.Event) error {
	if !evt.Involves(number) {
		return nil
	}
	env, err := s.svc.Envelope(evt)
	if err != nil {
		s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, env); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
