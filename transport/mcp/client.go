package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/chacun-server/game/engine"
)

var (
	ErrNotConnected    = errors.New("not connected to a game server")
	ErrMessageTooLarge = errors.New("message exceeds the game server's size limit")
)

const (
	// MaxMessageBytes is the largest message the game server accepts by
	// default. The server rejects fragmented messages, so the dialer's
	// write buffer holds a whole message.
	MaxMessageBytes = 64 * 1024

	// Time allowed to write a message to the game server.
	writeWait = 10 * time.Second

	// Longest read_messages may wait for a message.
	maxReadWait = 30 * time.Second
)

// Client is an MCP server whose tools drive one WebSocket session against
// a running game server.
type Client struct {
	serverURL string
	dialer    *websocket.Dialer
	mcpServer *server.MCPServer
	logger    *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	inbox  []string
	notify chan struct{}

	// writeMu serializes writes; gorilla connections allow one writer.
	writeMu sync.Mutex
}

// NewClient creates a client for the game server at serverURL, for
// example ws://localhost:3000.
func NewClient(serverURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		serverURL: serverURL,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second, WriteBufferSize: MaxMessageBytes},
		logger:    logger,
		notify:    make(chan struct{}, 1),
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"ChaCuN",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`ChaCuN - MCP Interface

Plays a ChaCuN tile game through a running game server over WebSocket.

FLOW:
1. connect (optionally with a server url)
2. join_game with a game name and a username
3. read_messages to see the roster, accepted actions and chat
4. play_action when it is your turn; the founder's first action starts the game
5. leave_game or disconnect when done

MESSAGES you will read look like GAMEJOIN_ACCEPT.alice,bob, GAMEACTION_ACCEPT.AB,
GAMEACTION_DENY.NOT_YOUR_TURN, GAMEMSG.bob=hello or GAMEEND.PLAYER_HAS_WON.

ACTIONS are base32 strings: use encode_place_tile for tile placement and
encode_occupant for placing (or skipping) a pawn or hut.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connect",
		Description: "Connect to the game server",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "WebSocket URL of the server (optional, defaults to the configured server)",
				},
			},
		},
	}, c.handleConnect)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "join_game",
		Description: "Join or create the lobby of a game",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"game": map[string]interface{}{
					"type":        "string",
					"description": "Game name",
				},
				"username": map[string]interface{}{
					"type":        "string",
					"description": "Your username in the game",
				},
			},
			Required: []string{"game", "username"},
		},
	}, c.handleJoin)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_game",
		Description: "Leave the current game. Leaving a running game ends it for everyone",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleLeave)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "play_action",
		Description: "Submit an encoded game action (at most 64 KiB)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"action": map[string]interface{}{
					"type":        "string",
					"description": "Base32 action payload (see encode_place_tile and encode_occupant)",
				},
			},
			Required: []string{"action"},
		},
	}, c.handlePlayAction)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_chat",
		Description: "Send a chat message to the other players (at most 64 KiB)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Message text",
				},
			},
			Required: []string{"text"},
		},
	}, c.handleChat)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "read_messages",
		Description: "Return the messages received since the last call",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"wait_ms": map[string]interface{}{
					"type":        "number",
					"description": "How long to wait for a message when none is queued (default 0, max 30000)",
				},
			},
		},
	}, c.handleReadMessages)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "encode_place_tile",
		Description: "Encode a tile placement. Insertion positions are sorted by x then y",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"index": map[string]interface{}{
					"type":        "number",
					"description": "Index of the insertion position (0-255)",
				},
				"rotation": map[string]interface{}{
					"type":        "number",
					"description": "Quarter turns clockwise (0-3)",
				},
			},
			Required: []string{"index", "rotation"},
		},
	}, c.handleEncodePlaceTile)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "encode_occupant",
		Description: "Encode placing an occupant on the tile just placed, or placing none",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"pawn", "hut", "none"},
					"description": "Occupant kind, or none to skip",
				},
				"zone": map[string]interface{}{
					"type":        "number",
					"description": "Local zone: 0 north, 1 east, 2 south, 3 west",
				},
			},
			Required: []string{"kind"},
		},
	}, c.handleEncodeOccupant)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "disconnect",
		Description: "Close the connection to the game server",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleDisconnect)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Connect opens the WebSocket session. An empty url uses the configured
// server. An existing session is closed first.
func (c *Client) Connect(ctx context.Context, url string) error {
	if url == "" {
		url = c.serverURL
	}
	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	resp.Body.Close()

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.inbox = nil
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.logger.Printf("[MCP] connected to %s", url)
	go c.readPump(conn)
	return nil
}

// readPump queues every text message until the connection fails.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.inbox = append(c.inbox, "DISCONNECTED."+closeReason(err))
			}
			c.mu.Unlock()
			c.signal()
			return
		}
		c.mu.Lock()
		if c.conn == conn {
			c.inbox = append(c.inbox, string(data))
		}
		c.mu.Unlock()
		c.signal()
	}
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%d %s", ce.Code, ce.Text)
	}
	return err.Error()
}

func (c *Client) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Send writes one protocol message.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(text))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to send %q: %w", text, err)
	}
	return nil
}

// Messages drains the received messages. When none are queued it waits up
// to wait for one to arrive.
func (c *Client) Messages(ctx context.Context, wait time.Duration) []string {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		if len(c.inbox) > 0 || wait <= 0 {
			out := c.inbox
			c.inbox = nil
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-deadline.C:
			wait = 0
		case <-ctx.Done():
			wait = 0
		}
	}
}

// Disconnect closes the session with a normal close.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return conn.Close()
}

// Tool handlers

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	return args
}

func (c *Client) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, _ := arguments(request)["url"].(string)
	if err := c.Connect(ctx, url); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Connected. Use join_game to enter a lobby."), nil
}

func (c *Client) handleJoin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	game, _ := args["game"].(string)
	username, _ := args["username"].(string)
	if game == "" || username == "" {
		return mcp.NewToolResultError("game and username are required"), nil
	}
	return c.sendAndCollect(ctx, "GAMEJOIN."+game+","+username)
}

func (c *Client) handleLeave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.sendAndCollect(ctx, "GAMELEAVE")
}

func (c *Client) handlePlayAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, _ := arguments(request)["action"].(string)
	if action == "" {
		return mcp.NewToolResultError("action is required"), nil
	}
	return c.sendAndCollect(ctx, "GAMEACTION."+action)
}

func (c *Client) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, _ := arguments(request)["text"].(string)
	return c.sendAndCollect(ctx, "GAMEMSG."+text)
}

// sendAndCollect sends msg and returns whatever arrives shortly after,
// which normally includes the server's answer.
func (c *Client) sendAndCollect(ctx context.Context, msg string) (*mcp.CallToolResult, error) {
	if err := c.Send(msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMessages(c.Messages(ctx, time.Second))), nil
}

func (c *Client) handleReadMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	waitMS, _ := arguments(request)["wait_ms"].(float64)
	wait := min(time.Duration(waitMS)*time.Millisecond, maxReadWait)
	return mcp.NewToolResultText(formatMessages(c.Messages(ctx, wait))), nil
}

func (c *Client) handleEncodePlaceTile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	index, ok1 := args["index"].(float64)
	rotation, ok2 := args["rotation"].(float64)
	if !ok1 || !ok2 || index < 0 || index > 255 || rotation < 0 || rotation > 3 {
		return mcp.NewToolResultError("index must be 0-255 and rotation 0-3"), nil
	}
	return mcp.NewToolResultText(engine.EncodePlacement(int(index), engine.Rotation(rotation))), nil
}

func (c *Client) handleEncodeOccupant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	kind, _ := args["kind"].(string)
	zone, hasZone := args["zone"].(float64)

	var occ *engine.Occupant
	switch kind {
	case "none":
	case "pawn", "hut":
		if !hasZone || zone < 0 || zone > 3 {
			return mcp.NewToolResultError("zone must be 0-3"), nil
		}
		occ = &engine.Occupant{Kind: engine.Pawn, ZoneID: int(zone)}
		if kind == "hut" {
			occ.Kind = engine.Hut
		}
	default:
		return mcp.NewToolResultError("kind must be pawn, hut or none"), nil
	}
	return mcp.NewToolResultText(engine.EncodeOccupant(occ)), nil
}

func (c *Client) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.Disconnect(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Disconnected."), nil
}

func formatMessages(msgs []string) string {
	if len(msgs) == 0 {
		return "No new messages."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s):\n", len(msgs))
	for _, m := range msgs {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	return b.String()
}
