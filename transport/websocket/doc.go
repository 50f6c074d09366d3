// Package websocket implements the server side of the WebSocket protocol
// (RFC 6455) directly on top of net.Conn.
//
// The package implements:
//   - Frame encoding and decoding, with masking and minimal length checks
//   - The opening handshake and Sec-WebSocket-Accept derivation
//   - Per-connection read and write goroutines with a typed context slot
//   - A keepalive watchdog that pings idle peers and drops dead ones
//   - A channel-keyed broadcast hub
//
// Architecture:
//
// A Server accepts TCP connections and completes the handshake itself. Each
// connection then gets a read loop that decodes exactly one frame, dispatches
// it, and only then reads the next one, plus a writer goroutine that drains
// the connection's send queue. Application code plugs in through Handlers;
// ping, pong and close frames are answered by the server.
//
// Only single-frame messages are supported. Continuation frames and binary
// frames close the connection with 1002 and 1003 respectively, and unmasked
// client frames close it with 1002.
//
// Usage:
//
//	srv := websocket.NewServer(websocket.Config{}, websocket.Handlers[Player]{
//		OnText: func(c *websocket.Conn[Player], text string) {
//			c.SendText("echo " + text)
//		},
//	})
//	go srv.ListenAndServe(ctx, "localhost:3000")
//	srv.Hub().PublishText("lobby", "hello")
//
// Concurrency:
//
// Conn send methods, Hub and Watchdog are safe for concurrent use. Sends
// never block; a full queue is reported as ErrSendQueueFull and the hub
// drops such subscribers. OnClose runs exactly once per connection.
package websocket
