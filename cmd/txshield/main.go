// txshield - adaptive MEV protection for high-value ledger transactions
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/shieldlabs/txshield/internal/coalition"
	"github.com/shieldlabs/txshield/internal/commitreveal"
	"github.com/shieldlabs/txshield/internal/config"
	"github.com/shieldlabs/txshield/internal/decoy"
	"github.com/shieldlabs/txshield/internal/engine"
	"github.com/shieldlabs/txshield/internal/fragment"
	"github.com/shieldlabs/txshield/internal/history"
	"github.com/shieldlabs/txshield/internal/logging"
	"github.com/shieldlabs/txshield/internal/monitor"
	"github.com/shieldlabs/txshield/internal/router"
	"github.com/shieldlabs/txshield/internal/security"
	"github.com/shieldlabs/txshield/internal/server"
	"github.com/shieldlabs/txshield/internal/traces"

	"github.com/shieldlabs/txshield/internal/ledgerclient"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), "json")

	logger.Info("starting txshield",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, "json")

	// Local relays are fine in development; production endpoints must
	// not point inside the network.
	if cfg.IsProduction() {
		for name, u := range map[string]string{
			"RELAY_URL":       cfg.RelayURL,
			"COORDINATOR_URL": cfg.CoordinatorURL,
		} {
			if u == "" {
				continue
			}
			if err := security.ValidateEndpointURL(u); err != nil {
				logger.Error("rejected endpoint", "var", name, "error", err)
				os.Exit(1)
			}
		}
	}

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTraces(context.Background()) }()

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	ledger, err := ledgerclient.Dial(dialCtx, cfg.RPCURL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to ledger RPC", "url", cfg.RPCURL, "error", err)
		os.Exit(1)
	}

	// Optional mempool feed for activity sampling.
	var feed *monitor.Feed
	if cfg.FeedURL != "" {
		feed = monitor.NewFeed(cfg.FeedURL, logger)
		feed.Start(ctx)
		defer feed.Stop()
	}
	mon := monitor.New(ledger, feed, cfg.FragmentThreshold(), logger)

	// Optional private relay; absent means direct-only submission.
	var relay router.Relay
	if cfg.RelayURL != "" {
		relay = router.NewHTTPRelay(cfg.RelayURL)
		logger.Info("private relay enabled", "url", cfg.RelayURL)
	}
	rt := router.New(ledger, relay, logger)

	protocol := commitreveal.New(rt, ledger, logger)
	fragments := fragment.NewEngine(rt, ledger, cfg.MinFragmentUnit(), cfg.RelaySizeThreshold(), logger, nil)
	decoys := decoy.New(rt, logger, nil)

	// Audit trail: Postgres when configured, in-memory otherwise.
	var store history.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		store = history.NewPostgresStore(db)
		logger.Info("using PostgreSQL history store")
	} else {
		store = history.NewMemoryStore()
		logger.Info("using in-memory history store")
	}

	orchestrator := engine.New(rt, mon, protocol, fragments, decoys, logger).
		WithHistory(store).
		WithDecoyCount(cfg.DecoyCount).
		WithCostPerSubmission(cfg.CostPerSubmission())
	if cfg.CoordinatorURL != "" {
		orchestrator = orchestrator.WithCoordinator(coalition.NewHTTPCoordinator(cfg.CoordinatorURL, logger))
		logger.Info("coalition coordinator enabled", "url", cfg.CoordinatorURL)
	}

	srv := server.New(cfg, orchestrator, store, ledger, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
