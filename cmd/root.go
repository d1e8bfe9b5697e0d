// cmd/root.go
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/statefulrouter/statefulrouter/router"
	"github.com/statefulrouter/statefulrouter/rpc"
	"github.com/statefulrouter/statefulrouter/worker"
)

var (
	logLevel string

	// router serve flags
	routerListenAddr string
	routerStrategy   string
	routerProxyMode  bool
	routerStaleAfter time.Duration
	routerConfigPath string

	// worker run flags
	workerListenAddr    string
	workerRouterURL     string
	workerMaxBlocks     int
	workerHeartbeatEach time.Duration
	workerEvictionEach  time.Duration
	workerSyncEach      time.Duration
	workerConfigPath    string
)

var rootCmd = &cobra.Command{
	Use:   "statefulrouter",
	Short: "Cache-aware request router for an LLM serving fleet",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Router process subcommands",
}

var routerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the router's HTTP endpoints",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := router.DefaultRouterConfig()
		cfg.ListenAddr = routerListenAddr
		cfg.Strategy = router.Strategy(routerStrategy)
		cfg.ProxyMode = routerProxyMode
		cfg.StaleAfter = routerStaleAfter

		if routerConfigPath != "" {
			var err error
			cfg, err = router.LoadRouterConfigOverlay(cfg, routerConfigPath)
			if err != nil {
				logrus.Fatalf("[router] loading config: %v", err)
			}
		}

		cm := router.NewGlobalCacheMap()
		cm.SetStaleAfter(cfg.StaleAfter)
		engine := router.NewRoutingEngine(cfg.Strategy, cm)
		srv := rpc.NewServer(cm, engine, cfg.Strategy, cfg.ProxyMode)

		logrus.Infof("[router] serving on %s (strategy=%s, proxy=%v)", cfg.ListenAddr, cfg.Strategy, cfg.ProxyMode)
		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Mux()}
		runUntilSignal(httpSrv)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker process subcommands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a worker: serve its own /v1/completions and push control signals to the router",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := worker.DefaultConfig()
		cfg.ListenAddr = workerListenAddr
		cfg.RouterURL = workerRouterURL
		cfg.MaxBlocks = workerMaxBlocks
		cfg.HeartbeatInterval = workerHeartbeatEach
		cfg.EvictionInterval = workerEvictionEach
		cfg.SyncInterval = workerSyncEach

		if workerConfigPath != "" {
			var err error
			cfg, err = worker.LoadConfigOverlay(cfg, workerConfigPath)
			if err != nil {
				logrus.Fatalf("[worker] loading config: %v", err)
			}
		}

		w := worker.NewWorker(cfg.MaxBlocks, worker.DefaultBlackboxLatencyModel())
		logrus.Infof("[worker %s] starting, max_blocks=%d, router=%s", w.ID, cfg.MaxBlocks, cfg.RouterURL)

		client := rpc.NewClient(cfg.RouterURL, w.ID)
		ctx, cancel := context.WithCancel(context.Background())

		selfURL := "http://" + cfg.ListenAddr
		go worker.RunControlLoops(ctx, w, client, cfg, 10*time.Millisecond, selfURL)

		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: worker.NewServer(w).Mux()}
		runUntilSignal(httpSrv)
		cancel()
	},
}

// runUntilSignal starts srv and blocks until SIGINT/SIGTERM, then shuts it
// down gracefully.
func runUntilSignal(srv *http.Server) {
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")

	// ROUTING_STRATEGY, PROXY_MODE and ROUTER_URL, when set, replace the
	// flag defaults; an explicit flag still wins.
	defaultStrategy := "cache_aware"
	if v := os.Getenv("ROUTING_STRATEGY"); v != "" {
		defaultStrategy = v
	}
	defaultProxyMode := os.Getenv("PROXY_MODE") == "true"
	defaultRouterURL := "http://localhost:8000"
	if v := os.Getenv("ROUTER_URL"); v != "" {
		defaultRouterURL = v
	}

	routerServeCmd.Flags().StringVar(&routerListenAddr, "listen", "0.0.0.0:8000", "Address to listen on")
	routerServeCmd.Flags().StringVar(&routerStrategy, "strategy", defaultStrategy, "Routing strategy (cache_aware, least_loaded, round_robin)")
	routerServeCmd.Flags().BoolVar(&routerProxyMode, "proxy", defaultProxyMode, "Forward completions to the assigned worker instead of returning the decision")
	routerServeCmd.Flags().DurationVar(&routerStaleAfter, "stale-after", router.DefaultStaleAfter, "How long since the last heartbeat before a worker is considered stale")
	routerServeCmd.Flags().StringVar(&routerConfigPath, "config", "", "Optional YAML config overlay")
	routerCmd.AddCommand(routerServeCmd)

	workerRunCmd.Flags().StringVar(&workerListenAddr, "listen", "0.0.0.0:9000", "Address to listen on")
	workerRunCmd.Flags().StringVar(&workerRouterURL, "router-url", defaultRouterURL, "Router base URL for control signals")
	workerRunCmd.Flags().IntVar(&workerMaxBlocks, "max-blocks", 1000, "Maximum number of KV cache blocks held")
	workerRunCmd.Flags().DurationVar(&workerHeartbeatEach, "heartbeat-interval", time.Second, "Heartbeat push interval")
	workerRunCmd.Flags().DurationVar(&workerEvictionEach, "eviction-interval", 100*time.Millisecond, "Eviction report push interval")
	workerRunCmd.Flags().DurationVar(&workerSyncEach, "sync-interval", 5*time.Second, "Full sync push interval")
	workerRunCmd.Flags().StringVar(&workerConfigPath, "config", "", "Optional YAML config overlay")
	workerCmd.AddCommand(workerRunCmd)

	rootCmd.AddCommand(routerCmd)
	rootCmd.AddCommand(workerCmd)
}
