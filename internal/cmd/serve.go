package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/spf13/cobra"

	"github.com/portside-dev/portside/internal/cache"
	"github.com/portside-dev/portside/internal/config"
	"github.com/portside-dev/portside/internal/gateway"
	"github.com/portside-dev/portside/internal/handlers"
	"github.com/portside-dev/portside/internal/logger"
	"github.com/portside-dev/portside/internal/middleware"
	"github.com/portside-dev/portside/internal/remote"
	"github.com/portside-dev/portside/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🛳️  Run the portside gateway server",
	Long: `# 🛳️ Serve

**Start the gateway server.** Clients connect to ` + "`/v1/gateway`" + ` over
WebSocket and multiplex SSH shells, port forwards, file browsing, search,
git operations and assistant monitoring over that one socket. A small REST
mirror of the collaborator services lives under ` + "`/v1/`" + `.

## ⚙️ Configuration

Flags override **PORTSIDE_*** environment variables, which override the
optional YAML config file. An empty auth token disables authentication
(development mode) and is announced loudly at startup.`,
	RunE: runServe,
}

var (
	serveConfigFile string
	serveListen     string
	serveToken      string
	serveFilesRoot  string
	serveLogDir     string
	serveDev        bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "portside.yaml", "Path to the YAML config file")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Bind address, e.g. :8080")
	serveCmd.Flags().StringVarP(&serveToken, "token", "t", "", "Shared auth secret (empty disables auth)")
	serveCmd.Flags().StringVar(&serveFilesRoot, "files-root", "", "Root directory for file browsing and search")
	serveCmd.Flags().StringVar(&serveLogDir, "assistant-logs", "", "Assistant session-log directory to watch")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "Development mode: console logs, debug level")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return err
	}

	// Flags are the last word over file and env.
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveToken != "" {
		cfg.AuthToken = serveToken
	}
	if serveFilesRoot != "" {
		cfg.FilesRoot = serveFilesRoot
	}
	if serveLogDir != "" {
		cfg.AssistantLogDir = serveLogDir
	}
	if serveDev {
		cfg.Dev = true
	}

	level := logger.LevelFromEnv(cfg.Dev)
	if cfg.LogLevel != "" {
		level = logger.LogLevel(cfg.LogLevel)
	}
	logger.Configure(level, cfg.Dev)

	logger.Infof("⚓ portside %s starting on %s", Version, cfg.Listen)
	if !cfg.AuthEnabled() {
		logger.Warn("⚠️  no auth token configured: accepting ANY client (development mode)")
	}

	app, shutdown := buildServer(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Listen(cfg.Listen)
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("🛑 received %s, shutting down", sig)
	case err := <-errChan:
		if err != nil {
			shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
	shutdown()
	logger.Info("👋 portside stopped")
	return nil
}

// buildServer is the composition root: every registry, service, handler and
// middleware is constructed here and injected, nothing lives in package
// state. The returned shutdown func tears down everything the app owns.
func buildServer(cfg *config.Config) (*fiber.App, func()) {
	clients := gateway.NewClients()
	registry := remote.NewRegistry(func(clientID string) *remote.Connection {
		return remote.NewConnection(clientID, cfg.ConnectTimeout(),
			gateway.NewConnectionNotifier(clients, clientID))
	})

	filesService := services.NewFilesService(cfg.FilesRoot)
	searchService := services.NewSearchService(filesService)
	statusCache := cache.NewWithDefaults()
	gitService := services.NewGitService(filesService, statusCache)
	monitorService := services.NewMonitorService(cfg.AssistantLogDir)
	if err := monitorService.Start(); err != nil {
		logger.Warnf("assistant monitor disabled: %v", err)
	}

	router := gateway.NewRouter(cfg.AuthToken,
		gateway.NewSSHHandler(registry),
		gateway.NewFilesHandler(filesService),
		gateway.NewSearchHandler(searchService),
		gateway.NewGitHandler(gitService),
		gateway.NewMonitorHandler(monitorService),
	)

	gatewayHandler := handlers.NewGatewayHandler(clients, router)
	filesHandler := handlers.NewFilesHandler(filesService)
	searchHandler := handlers.NewSearchHandler(searchService)
	gitHandler := handlers.NewGitHandler(gitService)
	statusHandler := handlers.NewStatusHandler(Version, clients, registry, statusCache)
	eventsHandler := handlers.NewEventsHandler(monitorService)
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthToken)

	app := fiber.New(fiber.Config{
		AppName:               "portside",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(handlers.SamplingLogger())
	app.Use(compress.New())
	app.Use(authMiddleware.RequireAuth)

	app.Get("/health", statusHandler.Health)

	v1 := app.Group("/v1")
	v1.Get("/status", statusHandler.Status)
	v1.Get("/files", filesHandler.ListDirectory)
	v1.Get("/files/tree", filesHandler.GenerateTree)
	v1.Get("/search", searchHandler.Search)
	v1.Get("/git/status", gitHandler.GetStatus)
	v1.Get("/git/diff", gitHandler.GetDiff)
	v1.Post("/git/stage", gitHandler.Stage)
	v1.Post("/git/unstage", gitHandler.Unstage)
	v1.Post("/git/discard", gitHandler.Discard)
	v1.Post("/git/commit", gitHandler.Commit)
	v1.Get("/events", eventsHandler.HandleSSE)
	v1.Get("/gateway", gatewayHandler.HandleWebSocket)

	shutdown := func() {
		registry.Cleanup()
		monitorService.Stop()
	}
	return app, shutdown
}
