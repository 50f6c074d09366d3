// Command chacun-server runs the ChaCuN multiplayer game server.
//
// The default action serves the WebSocket protocol. Subcommands run the MCP
// stdio bridge against a running server, inspect archived games and list
// the available decks.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/chacun-server/game/config"
	"github.com/wricardo/chacun-server/game/engine"
	"github.com/wricardo/chacun-server/game/history"
	"github.com/wricardo/chacun-server/game/service"
	"github.com/wricardo/chacun-server/game/session"
	"github.com/wricardo/chacun-server/transport/mcp"
	"github.com/wricardo/chacun-server/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "ChaCuN Game Server"
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = time.Minute
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "chacun-server",
		Usage:   "run the ChaCuN WebSocket game server",
		Version: Version,
		Flags:   append(serveFlags(), historyFlags()...),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server that plays through a running game server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "server",
						Value:   "ws://localhost:3000",
						Usage:   "WebSocket URL of the game server",
						Sources: cli.EnvVars("CHACUN_SERVER_URL"),
					},
				},
				Action: runMCP,
			},
			{
				Name:  "history",
				Usage: "inspect archived games",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list archived games, newest first",
						Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of games to list, 0 for all"}},
						Action: runHistoryList,
					},
					{
						Name:      "show",
						Usage:     "print an archived game and verify it by replaying its actions",
						ArgsUsage: "<id>",
						Action:    runHistoryShow,
					},
				},
			},
			{
				Name:   "decks",
				Usage:  "list the available deck configurations",
				Action: runDecks,
			},
		},
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Value:   "localhost:3000",
			Usage:   "address to listen on",
			Sources: cli.EnvVars("CHACUN_ADDR"),
		},
		&cli.DurationFlag{
			Name:    "ping-interval",
			Value:   60 * time.Second,
			Usage:   "keepalive interval; silent connections are pinged after one interval and closed after two",
			Sources: cli.EnvVars("CHACUN_PING_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "max-payload",
			Value:   64 * 1024,
			Usage:   "largest accepted frame payload in bytes",
			Sources: cli.EnvVars("CHACUN_MAX_PAYLOAD"),
		},
		&cli.StringFlag{
			Name:    "deck",
			Usage:   "deck id to play with (default: standard, or the first deck found)",
			Sources: cli.EnvVars("CHACUN_DECK"),
		},
		&cli.BoolFlag{
			Name:    "ngrok",
			Usage:   "also serve through an ngrok tunnel (needs NGROK_AUTHTOKEN)",
			Sources: cli.EnvVars("NGROK_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "ngrok-domain",
			Usage:   "custom ngrok domain",
			Sources: cli.EnvVars("NGROK_DOMAIN"),
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "log every frame",
			Sources: cli.EnvVars("CHACUN_DEBUG"),
		},
	}
}

// historyFlags are shared with the history subcommands.
func historyFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "deck-dir",
			Value:   "configs",
			Usage:   "directory containing deck configurations",
			Sources: cli.EnvVars("CONFIG_DIR"),
		},
		&cli.StringFlag{
			Name:    "history",
			Value:   history.BackendNone,
			Usage:   "game history backend: none, file, redis or postgres",
			Sources: cli.EnvVars("CHACUN_HISTORY"),
		},
		&cli.StringFlag{
			Name:    "history-dir",
			Value:   "history",
			Usage:   "directory for the file history backend",
			Sources: cli.EnvVars("CHACUN_HISTORY_DIR"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the redis history backend",
			Sources: cli.EnvVars("REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: cli.EnvVars("REDIS_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL connection string for the postgres history backend",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
	}
}

func historyOptions(cmd *cli.Command) history.Options {
	return history.Options{
		Backend:     cmd.String("history"),
		Dir:         cmd.String("history-dir"),
		RedisAddr:   cmd.String("redis-addr"),
		RedisPass:   cmd.String("redis-password"),
		DatabaseURL: cmd.String("database-url"),
	}
}

// loadRules builds the rules for deck id, or for the default deck when id
// is empty.
func loadRules(decks *config.Manager, id string) (*engine.Rules, error) {
	deck := decks.GetDefault()
	if id != "" {
		var err error
		if deck, err = decks.LoadDeck(id); err != nil {
			return nil, err
		}
	}
	return engine.NewRules(deck)
}

// rulesForRecord picks the rules a record was played with. Records of the
// built-in deck replay even when no deck file exists for it.
func rulesForRecord(decks *config.Manager, rec *history.Record) (*engine.Rules, error) {
	if decks != nil {
		if deck, err := decks.LoadDeck(rec.Deck); err == nil {
			return engine.NewRules(deck)
		}
	}
	if rec.Deck == engine.DefaultDeck().Name {
		return engine.NewDefaultRules(), nil
	}
	return nil, fmt.Errorf("%w: %s", config.ErrDeckNotFound, rec.Deck)
}

// app holds the wired server components.
type app struct {
	service  *service.GameService
	sessions *session.Manager
	deck     string
}

func newServer(ctx context.Context, cmd *cli.Command, logger *log.Logger) (*app, error) {
	decks, err := config.NewManager(cmd.String("deck-dir"))
	if err != nil {
		return nil, fmt.Errorf("failed to create deck manager: %w", err)
	}
	rules, err := loadRules(decks, cmd.String("deck"))
	if err != nil {
		return nil, fmt.Errorf("failed to load deck: %w", err)
	}
	store, err := history.Open(ctx, historyOptions(cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to open game history: %w", err)
	}

	sessions := session.NewManager(rules,
		session.WithRecorder(store),
		session.WithLogger(logger),
	)
	svc := service.NewGameService(sessions, websocket.Config{
		PingInterval: cmd.Duration("ping-interval"),
		MaxPayload:   int64(cmd.Int("max-payload")),
		Logger:       logger,
		Debug:        cmd.Bool("debug"),
	})
	return &app{service: svc, sessions: sessions, deck: rules.Deck().Name}, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	logger := log.Default()
	log.Printf("Starting %s v%s", AppName, Version)

	a, err := newServer(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.sessions.Close(); err != nil {
			log.Printf("Failed to close game history: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := cmd.String("addr")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Printf("Playing deck %q, history backend %q", a.deck, cmd.String("history"))
	log.Printf("WebSocket: ws://%s/", ln.Addr())

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.service.Server().Serve(ctx, ln); err != nil {
			errs <- err
		}
	}()

	if cmd.Bool("debug") {
		go logStats(ctx, a.service, statsInterval)
	}

	if cmd.Bool("ngrok") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveNgrok(ctx, a.service.Server(), cmd.String("ngrok-domain"))
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.Printf("Received signal: %v. Shutting down...", sig)
	case err = <-errs:
		log.Printf("Server failed: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if serr := a.service.Server().Shutdown(shutdownCtx); serr != nil {
		log.Printf("Shutdown error: %v", serr)
	}
	wg.Wait()
	log.Println("Server stopped")
	return err
}

// logStats logs connection and channel counts every interval until ctx is
// done.
func logStats(ctx context.Context, svc *service.GameService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := svc.Stats()
			parts := make([]string, 0, len(st.Channels))
			for _, ch := range st.Channels {
				parts = append(parts, fmt.Sprintf("%s=%d", ch.Name, ch.Subscribers))
			}
			log.Printf("[STATS] %d connections, %d games [%s]", st.Connections, len(st.Channels), strings.Join(parts, " "))
		}
	}
}

func ngrokToken() string {
	if token := os.Getenv("NGROK_AUTHTOKEN"); token != "" {
		return token
	}
	return os.Getenv("NGROK_AUTH_TOKEN")
}

// serveNgrok serves srv on a public ngrok endpoint until ctx is done.
func serveNgrok(ctx context.Context, srv *websocket.Server[session.Player], domain string) {
	token := ngrokToken()
	if token == "" {
		log.Println("WARNING: Ngrok enabled but no auth token provided (use NGROK_AUTHTOKEN or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Println("Starting ngrok tunnel...")
	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Printf("Using custom ngrok domain: %s", domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(token))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}
	publicURL := tun.URL()
	log.Printf("Ngrok tunnel established: %s", publicURL)
	log.Printf("  WebSocket (ngrok): %s/", strings.Replace(publicURL, "https://", "wss://", 1))

	if err := srv.Serve(ctx, tun); err != nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	// stdout carries JSON-RPC only
	logger := log.New(os.Stderr, "", log.LstdFlags)
	client := mcp.NewClient(cmd.String("server"), logger)
	defer client.Disconnect()

	logger.Printf("[MCP] stdio server ready, game server %s", cmd.String("server"))
	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func openHistory(ctx context.Context, cmd *cli.Command) (history.Store, error) {
	opts := historyOptions(cmd)
	if opts.Backend == "" || opts.Backend == history.BackendNone {
		return nil, errors.New("no history backend configured (use --history)")
	}
	return history.Open(ctx, opts)
}

func runHistoryList(ctx context.Context, cmd *cli.Command) error {
	store, err := openHistory(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	return listHistory(ctx, cmd.Root().Writer, store, int(cmd.Int("limit")))
}

func listHistory(ctx context.Context, out io.Writer, store history.Store, limit int) error {
	ids, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No archived games.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGAME\tDECK\tOUTCOME\tPLAYERS\tACTIONS\tENDED")
	for _, id := range ids {
		rec, err := store.Load(ctx, id)
		if err != nil {
			return err
		}
		names := make([]string, len(rec.Players))
		for i, p := range rec.Players {
			names[i] = p.Username
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Game, rec.Deck, rec.Outcome, strings.Join(names, ","),
			len(rec.Actions), rec.EndedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runHistoryShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("usage: history show <id>")
	}
	store, err := openHistory(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	// A missing deck directory only matters for non built-in decks.
	decks, _ := config.NewManager(cmd.String("deck-dir"))
	return showRecord(cmd.Root().Writer, decks, rec)
}

func showRecord(out io.Writer, decks *config.Manager, rec *history.Record) error {
	fmt.Fprintf(out, "Game:     %s (%s)\n", rec.Game, rec.ID)
	fmt.Fprintf(out, "Deck:     %s\n", rec.Deck)
	fmt.Fprintf(out, "Outcome:  %s\n", rec.Outcome)
	if len(rec.Winners) > 0 {
		fmt.Fprintf(out, "Winners:  %s\n", strings.Join(rec.Winners, ", "))
	}
	fmt.Fprintf(out, "Played:   %s to %s\n", rec.StartedAt.Format(time.RFC3339), rec.EndedAt.Format(time.RFC3339))
	for _, p := range rec.Players {
		fmt.Fprintf(out, "  %-8s %s\n", p.Color, p.Username)
	}
	fmt.Fprintf(out, "Actions:  %s\n", strings.Join(rec.Actions, " "))

	rules, err := rulesForRecord(decks, rec)
	if err != nil {
		return fmt.Errorf("cannot replay: %w", err)
	}
	state, err := session.Replay(rules, rec)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	fmt.Fprintf(out, "Replay:   ok, next action %s\n", state.NextAction)
	return nil
}

func runDecks(ctx context.Context, cmd *cli.Command) error {
	decks, err := config.NewManager(cmd.String("deck-dir"))
	if err != nil {
		return err
	}
	return listDecks(cmd.Root().Writer, decks)
}

func listDecks(out io.Writer, decks *config.Manager) error {
	infos, err := decks.ListDecks()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTILES\tSHAMANS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.DeckID, info.Tiles, info.Shamans, info.Description)
	}
	return w.Flush()
}
