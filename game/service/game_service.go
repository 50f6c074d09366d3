package service

import (
	"log"
	"sync"

	"github.com/wricardo/chacun-server/game/session"
	"github.com/wricardo/chacun-server/transport/websocket"
)

// SessionManager is the session state machine the service drives.
// *session.Manager implements it.
type SessionManager interface {
	Handle(ctx *session.Player, raw string) session.Result
	Disconnect(ctx *session.Player) session.Result
}

// Conn is a client connection carrying its session context.
type Conn = websocket.Conn[session.Player]

// GameService connects the session state machine to WebSocket clients. It
// owns the server and applies every session.Result to the connections and
// the broadcast hub.
type GameService struct {
	sessions SessionManager
	server   *websocket.Server[session.Player]
	hub      *websocket.Hub[*Conn]
	logger   *log.Logger

	// mu keeps each message and its effects atomic with respect to other
	// messages, so broadcasts go out in state order.
	mu sync.Mutex
}

// NewGameService creates the service and its WebSocket server.
func NewGameService(sessions SessionManager, cfg websocket.Config) *GameService {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &GameService{
		sessions: sessions,
		logger:   cfg.Logger,
	}
	s.server = websocket.NewServer(cfg, websocket.Handlers[session.Player]{
		OnText:  s.onText,
		OnClose: s.onClose,
	})
	s.hub = s.server.Hub()
	return s
}

// Server returns the WebSocket server to serve listeners with.
func (s *GameService) Server() *websocket.Server[session.Player] { return s.server }

func (s *GameService) onText(c *Conn, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(c, s.sessions.Handle(c.Context(), text))
}

func (s *GameService) onClose(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Read under the lock: a disband may have cleared the context while
	// this close was waiting.
	ctx := c.Context()
	if ctx == nil {
		return
	}
	s.logger.Printf("[SESSION] %s (%s) disconnected from %s", ctx.Username, c.ID(), ctx.Game)
	// The connection can no longer receive; keep it out of the broadcasts.
	s.hub.UnsubscribeAll(c)
	s.apply(c, s.sessions.Disconnect(ctx))
}

// apply performs the effects of res in order: join, reply, broadcasts,
// then leave or disband.
func (s *GameService) apply(c *Conn, res session.Result) {
	if res.Join != nil {
		c.SetContext(res.Join)
		s.hub.Subscribe(res.Channel, c)
	}
	if res.Reply != "" {
		if err := c.SendText(res.Reply); err != nil {
			s.logger.Printf("[SESSION] reply to %s failed: %v", c.ID(), err)
		}
	}
	for _, msg := range res.Broadcasts {
		s.hub.PublishText(res.Channel, msg)
	}
	if res.Disband {
		for _, member := range s.hub.Members(res.Channel) {
			member.SetContext(nil)
			s.hub.Unsubscribe(res.Channel, member)
		}
	}
	if res.Leave {
		c.SetContext(nil)
		s.hub.Unsubscribe(res.Channel, c)
	}
}

// Stats reports live connections and channel sizes.
func (s *GameService) Stats() Stats {
	st := Stats{Connections: s.server.ConnCount()}
	for _, ch := range s.hub.Channels() {
		st.Channels = append(st.Channels, ChannelStats{Name: ch, Subscribers: s.hub.Count(ch)})
	}
	return st
}
