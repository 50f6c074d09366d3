// Package mcp bridges Model Context Protocol clients to a running ChaCuN
// server.
//
// A Client is an MCP stdio server whose tools drive a single WebSocket
// session. Messages pushed by the server are queued and handed out by the
// read_messages tool, so an agent can poll for its turn.
//
// Tools:
//   - connect, disconnect: open or close the WebSocket session
//   - join_game, leave_game: GAMEJOIN and GAMELEAVE
//   - play_action: GAMEACTION with an encoded payload
//   - send_chat: GAMEMSG
//   - read_messages: drain queued server messages, optionally waiting
//   - encode_place_tile, encode_occupant: build action payloads
//
// The game server accepts only unfragmented messages of up to 64 KiB, so
// Send refuses anything longer with ErrMessageTooLarge instead of having
// the server drop the session.
//
// Usage:
//
//	client := mcp.NewClient("ws://localhost:3000", logger)
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//	    log.Fatal(err)
//	}
package mcp
