package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ballotgate/internal/candidate"
	"ballotgate/internal/election"
	"ballotgate/internal/enroll"
	"ballotgate/internal/ledger"
	"ballotgate/internal/ledger/eth"
	"ballotgate/internal/ledger/ledgertest"
	"ballotgate/internal/platform/config"
	"ballotgate/internal/platform/httpserver"
	"ballotgate/internal/platform/logger"
	"ballotgate/internal/platform/metrics"
	platformredis "ballotgate/internal/platform/redis"
	"ballotgate/internal/results"
	"ballotgate/internal/storage"
	"ballotgate/internal/storage/memory"
	"ballotgate/internal/storage/postgres"
	"ballotgate/internal/token"
	httptransport "ballotgate/internal/transport/http"
	"ballotgate/internal/voting"
)

// main wires configuration, storage, the ledger client, and the services
// behind the HTTP router. Business logic lives in the internal packages;
// everything here is assembly and lifecycle.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Off-chain store. Postgres when configured, in-memory otherwise.
	var store storage.Store
	var closeStore func() error
	if cfg.PostgresURL != "" {
		pg, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = pg
		closeStore = pg.Close
		log.Info("using postgres store")
	} else {
		store = memory.New()
		closeStore = func() error { return nil }
		log.Warn("POSTGRES_URL not set, using in-memory store; state is lost on restart")
	}

	// Ledger client. Without an RPC endpoint the in-process fake keeps the
	// full API usable for local development.
	var ledgerClient ledger.Client
	var closeLedger func()
	if cfg.Ledger.RPCURL != "" {
		ethClient, err := eth.Dial(ctx, cfg.Ledger.RPCURL, cfg.Ledger.ContractAddress, cfg.Ledger.AdminKeyHex)
		if err != nil {
			log.Error("failed to connect to ledger", "error", err)
			os.Exit(1)
		}
		ledgerClient = ledger.NewBreaker(ethClient, ledger.WithBreakerLogger(log))
		closeLedger = ethClient.Close
		log.Info("connected to ledger", "rpc_url", cfg.Ledger.RPCURL, "contract", cfg.Ledger.ContractAddress)
	} else {
		ledgerClient = ledgertest.New()
		closeLedger = func() {}
		log.Warn("LEDGER_RPC_URL not set, using in-process ledger fake")
	}

	// Tally cache. Redis when configured so replicas share one cached
	// tally, per-process otherwise.
	var tallyCache results.TallyCache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		tallyCache = results.NewRedisCache(redisClient.Client, cfg.TallyCacheTTL)
		log.Info("using redis tally cache", "ttl", cfg.TallyCacheTTL)
	} else {
		tallyCache = results.NewLocalCache(cfg.TallyCacheTTL)
		log.Info("using in-process tally cache", "ttl", cfg.TallyCacheTTL)
	}

	tokens := token.NewService(cfg.JWTSigningKey, "ballotgate", cfg.TokenTTL)

	enrollSvc := enroll.NewService(store, ledgerClient,
		enroll.WithLogger(log), enroll.WithMetrics(m))
	votingSvc := voting.NewService(store,
		voting.WithLogger(log), voting.WithMetrics(m))
	electionSvc := election.NewService(store,
		election.WithLogger(log), election.WithMetrics(m), election.WithLedger(ledgerClient))
	candidateSvc := candidate.NewService(store, ledgerClient,
		candidate.WithLogger(log), candidate.WithMetrics(m))
	resultsSvc := results.NewService(store, ledgerClient,
		results.WithLogger(log), results.WithMetrics(m), results.WithCache(tallyCache))

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:     log,
		Validator:  tokens,
		AdminToken: cfg.AdminAPIToken,
		Auth:       httptransport.NewAuthHandler(enrollSvc, tokens, tokens, log),
		Voter:      httptransport.NewVoterHandler(enrollSvc, votingSvc, tokens, log),
		Candidate:  httptransport.NewCandidateHandler(candidateSvc, resultsSvc, tokens, log),
		Admin:      httptransport.NewAdminHandler(enrollSvc, electionSvc, resultsSvc, tokens, cfg.AdminAPIToken, log),
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting ballotgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	closeLedger()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis", "error", err)
		}
	}
	if err := closeStore(); err != nil {
		log.Error("failed to close store", "error", err)
	}
}
