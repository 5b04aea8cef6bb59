// Command sumo-mcp starts the SUMO simulation bridge.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing the REST API, a
//     WebSocket observer endpoint, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server backed by an internal HTTP API
//
// Flags control host/port, the scenario directory, debug logging, version
// output, and optional ngrok tunneling for external access during development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/openmobility/sumo-mcp/api"
	"github.com/openmobility/sumo-mcp/config"
	"github.com/openmobility/sumo-mcp/sim/cache"
	"github.com/openmobility/sumo-mcp/sim/engine"
	"github.com/openmobility/sumo-mcp/sim/local"
	"github.com/openmobility/sumo-mcp/sim/scenario"
	"github.com/openmobility/sumo-mcp/sim/service"
	"github.com/openmobility/sumo-mcp/sim/session"
	"github.com/openmobility/sumo-mcp/sim/traci"
	"github.com/openmobility/sumo-mcp/transport/mcp"
	"github.com/openmobility/sumo-mcp/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "SUMO Simulation Bridge"
)

var (
	configFile   = flag.String("config", "bridge.yaml", "Path to the YAML configuration file")
	port         = flag.String("port", "", "HTTP server port (overrides config)")
	host         = flag.String("host", "", "HTTP server host (overrides config)")
	scenarioDir  = flag.String("scenario-dir", "", "Directory containing scenario configurations (overrides config)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with API, WebSocket, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                      # Run HTTP server on default port 8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -port 9090           # Run HTTP server on port 9090\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s stdio-mcp            # Run MCP stdio server\n", os.Args[0])
	}
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded environment variables from .env file")
	} else if !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("error loading .env file")
	}

	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *scenarioDir != "" {
		cfg.ScenarioDir = *scenarioDir
	}

	setupLogging(cfg.LogLevel, *debug)

	args := flag.Args()
	mode := "server"
	if len(args) > 0 {
		mode = args[0]
	}

	log.Info().Str("mode", mode).Str("version", Version).Msg("starting simulation bridge")

	bridge, err := initializeServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		runStdioMCP(bridge)

	case "server", "http":
		runHTTPServer(cfg, bridge)

	default:
		log.Fatal().Str("mode", mode).Msg("unknown mode, use 'server' (default) or 'stdio-mcp'")
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// newEngine builds the engine a scenario asks for. Scenarios in "traci"
// mode talk to a live SUMO process; "local" scenarios run the built-in
// deterministic model.
func newEngine(cfg *engine.ScenarioConfig) (engine.Engine, error) {
	switch cfg.Engine {
	case engine.ModeTraCI:
		return traci.New(cfg)
	case engine.ModeLocal:
		return local.NewEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Engine)
	}
}

// initializeServices wires the scenario manager, session manager, snapshot
// cache, and the bridge service, and starts the session cleanup routine.
func initializeServices(cfg *config.Config) (service.BridgeService, error) {
	scenarioManager, err := scenario.NewManager(cfg.ScenarioDir, cfg.DefaultScenario)
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario manager: %w", err)
	}

	sessionManager := session.NewManager(newEngine, cfg.MaxSessions, cfg.CallTimeout)
	snapshots := cache.New()

	bridge := service.NewBridgeService(sessionManager, scenarioManager, snapshots, cfg.MaxStepsPerCall)

	go sessionCleanupRoutine(sessionManager, cfg.IdleTimeout, cfg.CleanupInterval)

	return bridge, nil
}

// sessionCleanupRoutine periodically expires sessions that have not been
// accessed within the idle timeout.
func sessionCleanupRoutine(manager *session.Manager, idleTimeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		removed := manager.CleanupExpired(idleTimeout)
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("expired idle sessions")
		}
	}
}

// runHTTPServer starts the HTTP server with the REST API, WebSocket hub, and
// an /mcp proxy endpoint. If ngrok is enabled it also provisions a tunnel.
func runHTTPServer(cfg *config.Config, bridge service.BridgeService) {
	hub := websocket.NewHub()
	go hub.Run()

	apiServer := api.NewServer(bridge, hub)

	addr := cfg.Addr()
	baseURL := fmt.Sprintf("http://%s", addr)
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHTTPHandler(mcpClient))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mainRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Info().Str("addr", addr).Msg("HTTP server listening")
		log.Info().Msgf("REST API: http://%s/api", addr)
		log.Info().Msgf("WebSocket: ws://%s/ws?session=<session_id>", addr)
		log.Info().Msgf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	ngrokShouldRun := *ngrokEnabled
	if !ngrokShouldRun {
		if envEnabled := os.Getenv("NGROK_ENABLED"); envEnabled == "true" || envEnabled == "1" {
			ngrokShouldRun = true
		}
	}

	if ngrokShouldRun {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, mainRouter)
		}()
	}

	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	wg.Wait()
	log.Info().Msg("server stopped")
}

// mcpHTTPHandler exposes the MCP server over a plain HTTP POST endpoint.
func mcpHTTPHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runNgrokTunnel provisions a public ngrok tunnel serving the main router.
func runNgrokTunnel(ctx context.Context, handler http.Handler) {
	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	if authToken == "" {
		log.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	log.Info().Msg("starting ngrok tunnel")

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		log.Info().Str("domain", domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}
	defer func() {
		if err := tun.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	log.Info().Str("url", tun.URL()).Msg("ngrok tunnel established")

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("ngrok server error")
	}
	log.Info().Msg("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses an external API at
// http://localhost:8080 when one is running; otherwise it starts a minimal
// internal HTTP API bound to a random loopback port and targets that.
func runStdioMCP(bridge service.BridgeService) {
	var baseURL string

	externalURL := "http://localhost:8080"
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		log.Info().Str("url", externalURL).Msg("using external API server for MCP")
		baseURL = externalURL
	} else {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get available port")
		}

		internalAddr := listener.Addr().String()
		log.Info().Str("addr", internalAddr).Msg("starting internal HTTP server for MCP stdio")

		hub := websocket.NewHub()
		go hub.Run()

		httpServer := &http.Server{Handler: api.NewServer(bridge, hub)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("internal HTTP server error")
			}
		}()

		// Give the listener goroutine a moment to start accepting.
		time.Sleep(100 * time.Millisecond)

		baseURL = fmt.Sprintf("http://%s", internalAddr)
	}

	mcpClient := mcp.NewClient(baseURL)

	log.Info().Msg("MCP stdio server ready")
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		log.Fatal().Err(err).Msg("MCP stdio server error")
	}
}
