package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rahal-transit/bustrack/internal/auth"
	"github.com/rahal-transit/bustrack/internal/config"
	"github.com/rahal-transit/bustrack/internal/metrics"
	"github.com/rahal-transit/bustrack/internal/protocol"
	"github.com/rahal-transit/bustrack/internal/track"
)

// Observers only ever send small SUBSCRIBE frames.
const maxMessageSize = 512

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler owns the observer connection lifecycle: handshake
// authentication, the read loop, the write pump, idle detection, and
// teardown. It is the only component that closes the transport.
type WSHandler struct {
	Registry *track.Registry
	Auth     auth.Authenticator
	Authz    auth.Authorizer
	Cache    track.PositionCache // nil disables snapshot-on-subscribe
	Cfg      config.WSConfig
}

// HandleWS authenticates the handshake, upgrades, and runs the
// connection until it closes. Authentication failure rejects before
// the upgrade, so no registry state is ever created for it.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}
	if identity.Role == track.RoleReporter {
		// Reporters push samples over HTTP; they hold no observer channel.
		http.Error(w, "reporters do not observe", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L(r.Context()).Warn("upgrade error", zap.Error(err))
		return
	}

	c := track.NewConn(identity, h.Cfg.SendBuffer)
	c.OnClose(func() {
		h.Registry.Unregister(c.ID)
		metrics.OpenConnections.Dec()
	})
	// Attach before any message handling so a shutdown drain reaches
	// this connection even if it never subscribes.
	h.Registry.Attach(c)
	_ = c.MarkAuthenticated(r.Context())
	metrics.OpenConnections.Inc()

	log := zap.L().With(
		zap.String("conn_id", c.ID),
		zap.String("actor_id", identity.ActorID),
		zap.String("role", string(identity.Role)),
	)
	log.Info("observer connected")

	go h.writePump(ws, c, log)
	h.readPump(ws, c, log)
}

// bearerToken pulls the credential from the Authorization header, or
// from ?token= for browser WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// readPump consumes inbound messages until the transport closes or the
// idle deadline passes. Its exit is the single teardown path: the
// connection leaves the registry before the close completes, so no
// later fan-out can reach it.
func (h *WSHandler) readPump(ws *websocket.Conn, c *track.Conn, log *zap.Logger) {
	defer func() {
		c.Close()
		ws.Close()
		log.Info("observer disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(h.Cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		c.Touch()
		return ws.SetReadDeadline(time.Now().Add(h.Cfg.PongWait))
	})

	// Budget for undecodable messages. One bad frame is tolerated
	// (client bugs shouldn't kill the channel); a stream of them is
	// a policy violation.
	malformed := rate.NewLimiter(rate.Limit(h.Cfg.MalformedPerMinute/60), h.Cfg.MalformedBurst)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		c.Touch()
		ws.SetReadDeadline(time.Now().Add(h.Cfg.PongWait))

		if ok := h.handleMessage(c, raw, log); !ok && !malformed.Allow() {
			log.Warn("malformed message budget exceeded, closing connection")
			deadline := time.Now().Add(h.Cfg.WriteWait)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many bad messages")
			_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// handleMessage dispatches one inbound frame. The return value reports
// whether the frame was well-formed; malformed frames are logged and
// ignored, never fatal on their own.
func (h *WSHandler) handleMessage(c *track.Conn, raw []byte, log *zap.Logger) bool {
	msg, err := protocol.DecodeMessage(raw)
	if err != nil {
		log.Debug("undecodable message", zap.Error(err))
		return false
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		var sub protocol.Subscribe
		if err := json.Unmarshal(raw, &sub); err != nil {
			log.Debug("bad subscribe payload", zap.Error(err))
			return false
		}
		h.handleSubscribe(c, sub, log)
		return true
	default:
		log.Debug("ignoring unknown message type", zap.String("type", msg.Type))
		return false
	}
}

// handleSubscribe validates a SUBSCRIBE and records the target. A
// rejected subscription leaves the connection and any prior target
// untouched; the client may retry.
func (h *WSHandler) handleSubscribe(c *track.Conn, sub protocol.Subscribe, log *zap.Logger) {
	target, err := track.ResolveTarget(c.Identity, sub.BusID)
	if err != nil {
		h.sendError(c, protocol.ReasonBadSubscribe, err.Error())
		return
	}

	if c.Identity.Role == track.RoleGuardian {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ok, err := h.Authz.CanWatch(ctx, c.Identity.ActorID, target.BusID)
		if err != nil {
			log.Error("authorization lookup failed", zap.Error(err))
			h.sendError(c, protocol.ReasonNotAuthorized, "authorization unavailable")
			return
		}
		if !ok {
			log.Info("guardian not entitled to bus", zap.String("bus_id", target.BusID))
			h.sendError(c, protocol.ReasonNotAuthorized, "not authorized for bus "+target.BusID)
			return
		}
	}

	if frame, err := protocol.EncodeSubscribed(target.All, target.BusID); err == nil {
		_ = c.Deliver(frame)
	}

	// Snapshot before registering the new target: cached positions are
	// pushed first, then live updates flow. On a re-subscribe the old
	// target keeps receiving fan-out while the cache is read, so the
	// per-connection guard in DeliverUpdate does the ordering there.
	h.pushSnapshot(c, target, log)

	h.Registry.Register(c, target)
	_ = c.MarkSubscribed(context.Background())
	log.Info("subscription accepted", zap.String("target", target.String()))
}

// pushSnapshot delivers the last known position(s) for the target so a
// console renders immediately instead of waiting for the next report.
func (h *WSHandler) pushSnapshot(c *track.Conn, target track.Target, log *zap.Logger) {
	if h.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var samples []track.PositionSample
	if target.All {
		all, err := h.Cache.All(ctx)
		if err != nil {
			log.Warn("position snapshot unavailable", zap.Error(err))
			return
		}
		samples = all
	} else {
		s, ok, err := h.Cache.Get(ctx, target.BusID)
		if err != nil {
			log.Warn("position snapshot unavailable", zap.Error(err))
			return
		}
		if ok {
			samples = []track.PositionSample{s}
		}
	}

	for _, s := range samples {
		frame, err := protocol.EncodeLocationUpdate(s.BusID, s.Latitude, s.Longitude, s.Timestamp)
		if err != nil {
			continue
		}
		// DeliverUpdate skips cached samples the connection has already
		// seen a newer (or equal) live update for; on a re-subscribe
		// the prior target may still be receiving fan-out.
		_ = c.DeliverUpdate(s.BusID, s.Timestamp, frame)
	}
}

func (h *WSHandler) sendError(c *track.Conn, reason, detail string) {
	if frame, err := protocol.EncodeError(reason, detail); err == nil {
		_ = c.Deliver(frame)
	}
}

// writePump owns all writes to the transport: queued frames, pings,
// and the final close frame. Single-writer keeps gorilla happy.
func (h *WSHandler) writePump(ws *websocket.Conn, c *track.Conn, log *zap.Logger) {
	ticker := time.NewTicker(h.Cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-c.Outbox():
			ws.SetWriteDeadline(time.Now().Add(h.Cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug("ws write error", zap.Error(err))
				return
			}
			c.Touch()
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(h.Cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			deadline := time.Now().Add(h.Cfg.WriteWait)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
			_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}
