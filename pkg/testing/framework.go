// Package testing provides a shared test harness for the engine's
// integration tests: a testcontainers-backed Postgres + Redis pair, wired
// the way the teacher's pkg/testing/framework.go wires its suite, trimmed
// of the HTTP/gin surface this domain has no use for.
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cexcore/matching-engine/internal/config"
	"github.com/cexcore/matching-engine/internal/persistence"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// TestSuite provides a base test suite with Postgres + Redis test
// infrastructure for engine integration tests.
type TestSuite struct {
	suite.Suite

	DB    *sql.DB
	Redis *redis.Client

	PostgresContainer testcontainers.Container
	RedisContainer    testcontainers.Container

	Config *TestConfig
	Logger *observability.Logger

	Ctx        context.Context
	CancelFunc context.CancelFunc
}

// TestConfig contains configuration for test setup.
type TestConfig struct {
	Database DatabaseTestConfig
	Redis    RedisTestConfig
	Testing  TestingConfig
}

type DatabaseTestConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

type RedisTestConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type TestingConfig struct {
	UseTestContainers bool
	LogLevel          string
}

// SetupSuite initializes the test suite.
func (ts *TestSuite) SetupSuite() {
	ts.Ctx, ts.CancelFunc = context.WithCancel(context.Background())
	ts.initializeConfig()
	ts.initializeLogging()
	ts.setupInfrastructure()
	_, err := ts.DB.ExecContext(ts.Ctx, persistence.Schema)
	require.NoError(ts.T(), err)
}

// TearDownSuite cleans up the test suite.
func (ts *TestSuite) TearDownSuite() {
	if ts.DB != nil {
		ts.DB.Close()
	}
	if ts.Redis != nil {
		ts.Redis.Close()
	}
	if ts.PostgresContainer != nil {
		ts.PostgresContainer.Terminate(ts.Ctx)
	}
	if ts.RedisContainer != nil {
		ts.RedisContainer.Terminate(ts.Ctx)
	}
	if ts.CancelFunc != nil {
		ts.CancelFunc()
	}
}

// SetupTest runs before each test.
func (ts *TestSuite) SetupTest() {
	ts.cleanDatabase()
	ts.cleanRedis()
}

func (ts *TestSuite) initializeConfig() {
	ts.Config = &TestConfig{
		Database: DatabaseTestConfig{Host: "localhost", Port: 5432, Name: "test_db", User: "test_user", Password: "test_password"},
		Redis:    RedisTestConfig{Host: "localhost", Port: 6379, DB: 1},
		Testing:  TestingConfig{UseTestContainers: true, LogLevel: "debug"},
	}
}

func (ts *TestSuite) initializeLogging() {
	ts.Logger = observability.NewLogger(config.ObservabilityConfig{
		ServiceName: "matching-engine-test",
		LogLevel:    ts.Config.Testing.LogLevel,
		LogFormat:   "json",
	})
}

func (ts *TestSuite) setupInfrastructure() {
	if ts.Config.Testing.UseTestContainers {
		ts.setupTestContainers()
	} else {
		ts.setupLocalServices()
	}
}

func (ts *TestSuite) setupTestContainers() {
	postgresReq := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       ts.Config.Database.Name,
			"POSTGRES_USER":     ts.Config.Database.User,
			"POSTGRES_PASSWORD": ts.Config.Database.Password,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	var err error
	ts.PostgresContainer, err = testcontainers.GenericContainer(ts.Ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: postgresReq,
		Started:          true,
	})
	require.NoError(ts.T(), err)

	host, err := ts.PostgresContainer.Host(ts.Ctx)
	require.NoError(ts.T(), err)
	port, err := ts.PostgresContainer.MappedPort(ts.Ctx, "5432")
	require.NoError(ts.T(), err)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		ts.Config.Database.User, ts.Config.Database.Password, host, port.Port(), ts.Config.Database.Name)

	ts.DB, err = sql.Open("postgres", dsn)
	require.NoError(ts.T(), err)

	require.Eventually(ts.T(), func() bool {
		return ts.DB.Ping() == nil
	}, 30*time.Second, 1*time.Second)

	redisReq := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	ts.RedisContainer, err = testcontainers.GenericContainer(ts.Ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: redisReq,
		Started:          true,
	})
	require.NoError(ts.T(), err)

	redisHost, err := ts.RedisContainer.Host(ts.Ctx)
	require.NoError(ts.T(), err)
	redisPort, err := ts.RedisContainer.MappedPort(ts.Ctx, "6379")
	require.NoError(ts.T(), err)

	ts.Redis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
		DB:   ts.Config.Redis.DB,
	})
	require.Eventually(ts.T(), func() bool {
		return ts.Redis.Ping(ts.Ctx).Err() == nil
	}, 30*time.Second, 1*time.Second)
}

func (ts *TestSuite) setupLocalServices() {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		ts.Config.Database.User, ts.Config.Database.Password, ts.Config.Database.Host, ts.Config.Database.Port, ts.Config.Database.Name)

	var err error
	ts.DB, err = sql.Open("postgres", dsn)
	require.NoError(ts.T(), err)

	ts.Redis = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", ts.Config.Redis.Host, ts.Config.Redis.Port),
		DB:   ts.Config.Redis.DB,
	})
}

func (ts *TestSuite) cleanDatabase() {
	if ts.DB == nil {
		return
	}
	_, err := ts.DB.Exec(`TRUNCATE TABLE orders, ledger_transactions RESTART IDENTITY CASCADE`)
	require.NoError(ts.T(), err)
}

func (ts *TestSuite) cleanRedis() {
	if ts.Redis == nil {
		return
	}
	require.NoError(ts.T(), ts.Redis.FlushDB(ts.Ctx).Err())
}

// SeedBalance sets a user's active balance for currency directly, bypassing
// the ledger's pipelined writer -- used to arrange fixture state before a
// test exercises freeze/match/refund paths.
func (ts *TestSuite) SeedBalance(currency string, userID int64, amount decimal.Decimal) {
	key := fmt.Sprintf("active_%s_%d", currency, userID)
	require.NoError(ts.T(), ts.Redis.Set(ts.Ctx, key, amount.String(), 0).Err())
}
