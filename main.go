package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stalker-player/work/buffer"
	"stalker-player/work/cache"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/handlers"
	"stalker-player/work/logger"
	"stalker-player/work/middleware"
	"stalker-player/work/player"
	"stalker-player/work/portal"
	"stalker-player/work/proxy"
	"stalker-player/work/resolver"
)

var (
	Version = "v0.1.0" // default version
)

// copyChunkSize is the read buffer size for the proxy and engine copy loops.
const copyChunkSize = 32 * 1024

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	if cfg.Debug {
		logger.SetLogLevel("debug")
	}

	// initialize the shared HTTP client and copy buffer pool
	httpClient := client.NewHeaderSettingClient(cfg)
	copyPool := buffer.NewCopyPool(copyChunkSize)

	// initialize worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// initialize catalog cache
	cacheInstance := cache.NewCache(cfg.CacheDuration)

	// portal client and catalog
	portalClient := portal.New(cfg, httpClient, cacheInstance)
	catalog := portal.NewCatalog(portalClient, workerPool)
	defer catalog.Stop()

	// playback pipeline: resolver, surface, player, transport proxy
	streamResolver := resolver.New(cfg, httpClient)
	surface := player.NewSurface(cfg)
	playerInstance := player.New(cfg, streamResolver, player.NewEngineFactory(cfg, httpClient, copyPool), surface)
	defer playerInstance.Close()
	tsProxy := proxy.NewTSProxy(cfg, httpClient, copyPool)

	// initial catalog import, then periodic refresh
	if cfg.PortalURL != "" {
		if err := catalog.Import(context.Background()); err != nil {
			logger.Warn("Initial catalog import failed: %v", err)
		}
		catalog.StartRefresh(cfg.ImportRefreshInterval)
	} else {
		logger.Warn("No portal configured, catalog endpoints will be empty")
	}

	// setup HTTP routes
	router := mux.NewRouter()
	handlers.New(cfg, streamResolver, tsProxy, playerInstance, portalClient, catalog).
		Register(router, middleware.Compression)

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting Stalker Player %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Portal URL: %s", cfg.PortalURL)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Surface Buffer Size: %d MB", cfg.SurfaceBufferSize)
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Catalog Refresh Rate: %s", cfg.ImportRefreshInterval)
	logger.Info("  - Engine Ready Timeout: %s", cfg.EngineReadyTimeout)
	logger.Info("  - Autoplay: %v", cfg.Autoplay)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
