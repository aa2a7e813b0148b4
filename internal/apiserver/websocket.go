package apiserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldbell/orca/backend/internal/indexer"
)

// Channel prefixes. The pool address follows the prefix.
const (
	channelPoolPrice   = "pool.price."
	channelPoolCandles = "pool.candles."
	channelPoolChanges = "pool.changes."
)

const (
	defaultPushInterval = 2 * time.Second
	wsPingInterval      = 30 * time.Second
	wsReadTimeout       = 3 * wsPingInterval
	wsWriteTimeout      = 10 * time.Second
	wsMaxMessageBytes   = 64 << 10
)

type websocketSubscribeRequest struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

// wsSession is one client connection. Only run writes to conn; the reader
// goroutine hands requests over through the requests channel, so the
// subscription set needs no locking.
type wsSession struct {
	svc      *Service
	conn     *websocket.Conn
	subs     map[string]struct{}
	requests chan websocketSubscribeRequest
	readErr  chan error
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	session := &wsSession{
		svc:      s,
		conn:     conn,
		subs:     make(map[string]struct{}),
		requests: make(chan websocketSubscribeRequest, 16),
		readErr:  make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go session.read(ctx)
	if err := session.run(ctx); err != nil {
		s.logger.Debug("websocket session ended", "remote", r.RemoteAddr, "err", err)
	}
}

func (ws *wsSession) run(ctx context.Context) error {
	interval := ws.svc.cfg.PushInterval
	if interval <= 0 {
		interval = defaultPushInterval
	}
	push := time.NewTicker(interval)
	defer push.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ws.readErr:
			return err
		case req := <-ws.requests:
			switch req.Type {
			case "subscribe":
				ws.subs[req.Channel] = struct{}{}
				if err := ws.push(ctx, req.Channel); err != nil {
					return err
				}
			case "unsubscribe":
				delete(ws.subs, req.Channel)
			}
		case <-push.C:
			for _, channel := range ws.channels() {
				if err := ws.push(ctx, channel); err != nil {
					return err
				}
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (ws *wsSession) read(ctx context.Context) {
	ws.conn.SetReadLimit(wsMaxMessageBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		var req websocketSubscribeRequest
		if err := ws.conn.ReadJSON(&req); err != nil {
			ws.readErr <- err
			return
		}
		req.Type = strings.ToLower(strings.TrimSpace(req.Type))
		req.Channel = strings.TrimSpace(req.Channel)
		if req.Channel == "" {
			continue
		}
		select {
		case ws.requests <- req:
		case <-ctx.Done():
			return
		}
	}
}

// channels lists subscriptions in a stable order so pushes are deterministic.
func (ws *wsSession) channels() []string {
	out := make([]string, 0, len(ws.subs))
	for channel := range ws.subs {
		out = append(out, channel)
	}
	slices.Sort(out)
	return out
}

// push sends the current payload of one channel. Fetch failures are reported
// to the client and do not end the session; write failures do.
func (ws *wsSession) push(ctx context.Context, channel string) error {
	envelope := websocketEnvelope{Type: "event", Channel: channel, TS: time.Now().Unix()}
	payload, err := ws.svc.getWebsocketPayload(ctx, channel)
	switch {
	case err != nil:
		ws.svc.logger.Warn("websocket payload failed", "channel", channel, "err", err)
		envelope.Type = "error"
		envelope.Error = "failed to fetch channel data"
	case payload == nil:
		return nil
	default:
		envelope.Data = payload
	}

	if err := ws.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return ws.conn.WriteJSON(envelope)
}

// getWebsocketPayload returns nil, nil for unknown channels and for pools
// that have no stored data yet.
func (s *Service) getWebsocketPayload(ctx context.Context, channel string) (any, error) {
	if pool, ok := strings.CutPrefix(channel, channelPoolPrice); ok {
		price, err := s.store.GetLatestPoolPrice(ctx, pool)
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return price, nil
	}
	if pool, ok := strings.CutPrefix(channel, channelPoolCandles); ok {
		candles, err := s.store.GetPoolCandles(ctx, pool, 60, 120)
		if err != nil {
			return nil, err
		}
		return map[string]any{"pool": pool, "candles": candles}, nil
	}
	if pool, ok := strings.CutPrefix(channel, channelPoolChanges); ok {
		items, _, _, err := s.store.ListPriceChanges(ctx, indexer.PriceChangeFilter{Pool: pool, Limit: 20})
		if err != nil || len(items) == 0 {
			return nil, err
		}
		return items, nil
	}
	return nil, nil
}
