package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/cexcore/matching-engine/internal/config"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// DB wraps sql.DB with the logging and health-monitoring conventions used
// throughout this module. The persistence writer is the sole writer against
// it: there is no read replica and no query cache here, since every query
// the writer issues is either a single-row write or a startup recovery scan
// that runs once.
type DB struct {
	*sql.DB
	logger  *observability.Logger
	metrics *DatabaseMetrics
}

// DatabaseMetrics tracks basic database performance counters.
type DatabaseMetrics struct {
	QueryCount     int64
	SlowQueryCount int64
	AvgQueryTime   time.Duration
	mu             sync.RWMutex
}

// NewPostgresDB creates a new PostgreSQL database connection.
func NewPostgresDB(cfg config.DatabaseConfig, logger *observability.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		DB:      conn,
		logger:  logger,
		metrics: &DatabaseMetrics{},
	}

	logger.Info(context.Background(), "database connection established", map[string]interface{}{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	return db, nil
}

// ExecWithMetrics executes a query with performance tracking, logging slow
// writes; the persistence writer's commit path is single-threaded so a slow
// query here stalls the entire order book.
func (db *DB) ExecWithMetrics(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := db.ExecContext(ctx, query, args...)
	duration := time.Since(start)
	db.updateMetrics(duration)

	if duration > 100*time.Millisecond {
		db.logger.Warn(ctx, "slow query detected", map[string]interface{}{
			"query":    query,
			"duration": duration,
		})
		db.metrics.mu.Lock()
		db.metrics.SlowQueryCount++
		db.metrics.mu.Unlock()
	}

	return result, err
}

func (db *DB) updateMetrics(duration time.Duration) {
	db.metrics.mu.Lock()
	defer db.metrics.mu.Unlock()

	db.metrics.QueryCount++
	if db.metrics.AvgQueryTime == 0 {
		db.metrics.AvgQueryTime = duration
	} else {
		const alpha = 0.1
		db.metrics.AvgQueryTime = time.Duration(float64(db.metrics.AvgQueryTime)*(1-alpha) + float64(duration)*alpha)
	}
}

// GetMetrics returns current database metrics.
func (db *DB) GetMetrics() map[string]interface{} {
	db.metrics.mu.RLock()
	defer db.metrics.mu.RUnlock()

	return map[string]interface{}{
		"query_count":      db.metrics.QueryCount,
		"slow_query_count": db.metrics.SlowQueryCount,
		"avg_query_time":   db.metrics.AvgQueryTime,
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.logger.Info(context.Background(), "closing database connection")
	return db.DB.Close()
}

// Health checks the database health.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Transaction executes fn within a database transaction, rolling back on
// error or panic and committing otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}
