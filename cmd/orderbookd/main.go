// Command orderbookd is the per-pair order-book engine process: it loads
// configuration, wires the Balance Ledger, Persistence Writer, Intake Queue
// and Order Book together, serves an admin HTTP surface (health + metrics),
// and blocks until an OS signal or engine halt triggers graceful shutdown.
// Grounded on the teacher's cmd/auth-service/main.go skeleton (4.4/9,
// "Process entrypoint").
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/cexcore/matching-engine/internal/config"
	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/engine"
	"github.com/cexcore/matching-engine/internal/intake"
	"github.com/cexcore/matching-engine/internal/ledger"
	"github.com/cexcore/matching-engine/internal/persistence"
	"github.com/cexcore/matching-engine/pkg/database"
	"github.com/cexcore/matching-engine/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	ctx := context.Background()

	pair, err := domain.ParsePair(cfg.Engine.Pair)
	if err != nil {
		log.Fatalf("invalid ENGINE_PAIR %q: %v", cfg.Engine.Pair, err)
	}

	tracingProvider, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer tracingProvider.Shutdown(ctx)

	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	metrics, err := observability.NewMetricsProvider(observability.MetricsConfig{
		ServiceName: cfg.Observability.ServiceName,
		Pair:        pair.String(),
		Port:        cfg.Observability.MetricsPort,
		Enabled:     true,
	})
	if err != nil {
		log.Fatalf("failed to initialize metrics: %v", err)
	}

	balanceLedger := ledger.NewRedisLedger(redisClient.Client)
	money := ledger.NewMoneyManager(balanceLedger, cfg.Engine.DefaultCommission)

	writer := persistence.NewWriter(pair, db, balanceLedger, logger, metrics, cfg.Engine.DumpDir, cfg.Engine.DefaultCommission, cfg.Engine.PWBufferSize)

	var nextID int64
	if err := initOrderIDCounter(ctx, db.DB, &nextID); err != nil {
		log.Fatalf("failed to initialize order id counter: %v", err)
	}
	idGen := func() int64 { return atomic.AddInt64(&nextID, 1) }

	book := engine.NewBook(pair, balanceLedger, money, writer, logger, metrics, cfg.Engine.FallbackPrice, idGen)

	if err := engine.FillBook(ctx, db.DB, book, cfg.Engine.RecoveryBatchSize); err != nil {
		log.Fatalf("failed to fill book on startup: %v", err)
	}
	if err := balanceLedger.SetRunning(ctx, pair, true); err != nil {
		log.Fatalf("failed to mark pair running: %v", err)
	}

	queue := intake.NewHeapQueue()
	acceptor := intake.NewAcceptor(pair, queue, balanceLedger, money, writer, logger, metrics)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Engine.SocketHost, cfg.Engine.SocketPort))
	if err != nil {
		log.Fatalf("failed to listen on intake socket: %v", err)
	}

	writerErrCh := make(chan error, 1)
	go func() { writerErrCh <- writer.Run(runCtx) }()

	go func() {
		if err := acceptor.Run(runCtx, ln); err != nil {
			logger.Error(runCtx, "intake acceptor stopped", err)
		}
	}()

	go processLoop(runCtx, queue, book, logger, balanceLedger, writerErrCh)

	router := mux.NewRouter()
	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterCheck("database", observability.DatabaseHealthCheck(db.Health))
	healthChecker.RegisterCheck("redis", observability.RedisHealthCheck(redisClient.Health))
	healthServer := observability.NewHealthServer(healthChecker, observability.ServiceInfo{
		Name:      cfg.Observability.ServiceName,
		Version:   "dev",
		StartTime: time.Now(),
	}, logger)
	healthServer.RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler())

	adminServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info(ctx, "starting admin http server", map[string]interface{}{"addr": adminServer.Addr})
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info(ctx, "received shutdown signal", nil)
	case <-writerErrCh:
		logger.Error(ctx, "persistence writer halted, shutting down", nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	queue.Put(domain.IntakeMessage{Kind: domain.IntakeStop, Priority: domain.ClassStop, Timestamp: domain.StopTimestamp})
	cancelRun()
	ln.Close()

	engine.LogBook(shutdownCtx, book, logger)
	_ = balanceLedger.SetRunning(shutdownCtx, pair, false)
	adminServer.Shutdown(shutdownCtx)

	logger.Info(ctx, "orderbookd stopped", map[string]interface{}{"pair": pair.String()})
}

// processLoop is the OB main dispatch loop (4.4): pop one intake message at
// a time and hand it to the book. A panic processing a single command is
// recovered and logged -- the Go-idiomatic equivalent of "exceptions in
// matching a single order must not kill the loop" (7).
func processLoop(ctx context.Context, queue *intake.HeapQueue, book *engine.Book, logger *observability.Logger, l ledger.BalanceLedger, writerErrCh <-chan error) {
	for {
		msg, ok := queue.Get(ctx)
		if !ok {
			return
		}
		if msg.Kind == domain.IntakeStop {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(ctx, "recovered from panic processing intake message", nil, map[string]interface{}{"panic": fmt.Sprintf("%v", r)})
				}
			}()
			if err := book.Process(ctx, msg); err != nil {
				logger.Error(ctx, "failed to process intake message", err)
			}
		}()

		halted, err := l.Halted(ctx)
		if err != nil {
			logger.Error(ctx, "failed to check halted flag", err)
			continue
		}
		if halted {
			logger.Error(ctx, "book halted, stopping dispatch loop", nil)
			return
		}
	}
}

func initOrderIDCounter(ctx context.Context, db *sql.DB, counter *int64) error {
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_id), 0) FROM orders`)
	return row.Scan(counter)
}
