// Package service wires the session state machine to WebSocket clients.
//
// GameService owns a websocket.Server whose text handler feeds every frame,
// together with the connection's context, to the session manager. The
// returned session.Result is then applied: the sender's context is set or
// cleared, the connection is subscribed to or dropped from its game's
// channel, and replies and broadcasts are sent. A connection that goes away
// is treated as leaving its game.
//
// Usage:
//
//	sessions := session.NewManager(engine.NewDefaultRules())
//	svc := service.NewGameService(sessions, websocket.Config{})
//	go svc.Server().ListenAndServe(ctx, "localhost:3000")
package service
