package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tilecast/server/internal/cache"
	"github.com/tilecast/server/internal/chunkmap"
	"github.com/tilecast/server/internal/config"
	"github.com/tilecast/server/internal/engine"
	"github.com/tilecast/server/internal/fetch"
	gonet "github.com/tilecast/server/internal/net"
	"github.com/tilecast/server/internal/persist"
	"github.com/tilecast/server/internal/scheduler"
	"github.com/tilecast/server/internal/view"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            tilecast  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       chunked map streaming server        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Per-client streaming state ─────────────────────────────────────

// client pairs a websocket session with its own streaming engine. Each
// viewer scrolls independently, so cache and scheduler state are per-client.
type client struct {
	sess   *gonet.Session
	eng    *engine.Manager
	cam    view.Camera
	hasCam bool
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/tilecast.toml"
	if p := os.Getenv("TILECAST_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Load and index the map descriptor
	printSection("map data")

	meta, err := chunkmap.LoadDescriptor(cfg.Map.Descriptor)
	if err != nil {
		return fmt.Errorf("load map descriptor: %w", err)
	}
	index, err := chunkmap.NewIndex(meta)
	if err != nil {
		return fmt.Errorf("index map: %w", err)
	}
	printStat("chunks", len(meta.Chunks))
	printStat("map width", meta.TotalWidth)
	printStat("map height", meta.TotalHeight)

	// 4. Open the chunk store
	var fetcher scheduler.Fetcher
	switch cfg.Map.Store {
	case "fs":
		f, err := fetch.NewFileFetcher(cfg.Map.ChunkDir, meta.CompressionType)
		if err != nil {
			return fmt.Errorf("chunk store: %w", err)
		}
		fetcher = f
		printOK("filesystem chunk store ready")
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("postgres connected")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")

		repo := persist.NewChunkRepo(db, mapID(cfg.Map.Descriptor))
		stored, err := repo.CountChunks(ctx)
		if err != nil {
			return fmt.Errorf("count chunks: %w", err)
		}
		printStat("stored chunks", stored)

		f, err := fetch.NewPostgresFetcher(repo, meta.CompressionType)
		if err != nil {
			return fmt.Errorf("chunk store: %w", err)
		}
		fetcher = f
	}
	fmt.Println()

	// 5. Create network server
	netServer, err := gonet.NewServer(
		cfg.Server.BindAddress,
		cfg.Server.InQueueSize,
		cfg.Server.OutQueueSize,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.Serve()

	engCfg := engineConfig(cfg)

	// 6. Start tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("server ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Server.TickRate))
	fmt.Println()

	clients := make(map[uint64]*client)

	metricsCounter := 0
	metricsInterval := int(time.Second / cfg.Server.TickRate)
	if metricsInterval < 1 {
		metricsInterval = 1
	}

	for {
		select {
		case <-ticker.C:
			drainSessionChurn(netServer, clients, index, fetcher, engCfg, cfg, log)

			metricsCounter++
			sendMetrics := metricsCounter >= metricsInterval
			if sendMetrics {
				metricsCounter = 0
			}

			for id, c := range clients {
				if c.sess.IsClosed() {
					delete(clients, id)
					continue
				}
				drainInput(c, cfg)
				if c.hasCam {
					c.eng.Tick(c.cam)
				}
				if sendMetrics && c.hasCam {
					snap := c.eng.Metrics()
					c.sess.Send(gonet.ServerMessage{Type: gonet.MsgMetrics, Metrics: &snap})
				}
				c.sess.FlushOutput()
			}

		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			for _, c := range clients {
				c.sess.Close()
			}
			netServer.Shutdown()
			log.Info("server stopped")
			return nil
		}
	}
}

// drainSessionChurn folds new and dead sessions into the client table.
func drainSessionChurn(srv *gonet.Server, clients map[uint64]*client, index *chunkmap.Index, fetcher scheduler.Fetcher, engCfg engine.Config, cfg *config.Config, log *zap.Logger) {
	for {
		select {
		case sess := <-srv.NewSessions():
			c := &client{sess: sess}
			c.eng = engine.New(index, fetcher, engCfg, engine.Events{
				ChunkReady: func(meta *chunkmap.ChunkMetadata, data []byte) {
					c.sess.Send(gonet.ServerMessage{
						Type: gonet.MsgChunkReady,
						Chunk: &gonet.ChunkPayload{
							ID: meta.ID, X: meta.X, Y: meta.Y,
							PixelX: meta.PixelX, PixelY: meta.PixelY,
							Width: meta.Width, Height: meta.Height,
							Data: data,
						},
					})
				},
				ChunkEvicted: func(id string) {
					c.sess.Send(gonet.ServerMessage{Type: gonet.MsgChunkEvicted, ChunkID: id})
				},
			}, log.With(zap.Uint64("session", sess.ID)))

			m := index.Meta()
			sess.Send(gonet.ServerMessage{Type: gonet.MsgHello, Map: &gonet.MapInfo{
				Version:     m.Version,
				TotalWidth:  m.TotalWidth,
				TotalHeight: m.TotalHeight,
				ChunkWidth:  m.ChunkWidth,
				ChunkHeight: m.ChunkHeight,
				ChunksX:     m.ChunksX,
				ChunksY:     m.ChunksY,
			}})
			sess.FlushOutput()
			clients[sess.ID] = c
		case id := <-srv.DeadSessions():
			if c, ok := clients[id]; ok {
				c.sess.Close()
				delete(clients, id)
			}
		default:
			return
		}
	}
}

// drainInput applies all pending messages for one client, keeping only the
// freshest viewport.
func drainInput(c *client, cfg *config.Config) {
	for {
		select {
		case msg := <-c.sess.InQueue:
			switch msg.Type {
			case gonet.MsgViewport:
				if msg.Viewport == nil {
					continue
				}
				c.cam = c.eng.ClampCamera(view.Camera{
					ScrollX:        msg.Viewport.ScrollX,
					ScrollY:        msg.Viewport.ScrollY,
					ViewportWidth:  msg.Viewport.Width,
					ViewportHeight: msg.Viewport.Height,
					Zoom:           msg.Viewport.Zoom,
					MinZoom:        cfg.Map.MinZoom,
					MaxZoom:        cfg.Map.MaxZoom,
				})
				c.hasCam = true
			case gonet.MsgMetricsRequest:
				snap := c.eng.Metrics()
				c.sess.Send(gonet.ServerMessage{Type: gonet.MsgMetrics, Metrics: &snap})
			default:
				c.sess.Send(gonet.ServerMessage{
					Type:  gonet.MsgError,
					Error: fmt.Sprintf("unknown message type %q", msg.Type),
				})
			}
		default:
			return
		}
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	// Strategy was validated at config load.
	strategy, _ := cache.ParseStrategy(cfg.Cache.Strategy)
	return engine.Config{
		PreloadRadius: cfg.Map.PreloadRadius,
		Cache: cache.Config{
			MaxSizeBytes: cfg.Cache.MaxSizeMB << 20,
			MaxChunks:    cfg.Cache.MaxChunks,
			Strategy:     strategy,
			GraceTicks:   cfg.Cache.GraceTicks,
		},
		Loader: scheduler.Config{
			MaxConcurrentLoads: cfg.Loader.MaxConcurrentLoads,
			FetchTimeout:       cfg.Loader.FetchTimeout,
		},
	}
}

// mapID names the map rows in the chunks table after the descriptor file.
func mapID(descriptor string) string {
	base := filepath.Base(descriptor)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
