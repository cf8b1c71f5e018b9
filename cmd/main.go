package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"CommissionEngine/internal/appmanager"
	"CommissionEngine/internal/config"
	"CommissionEngine/internal/engine"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/ledger/postgres"
	"CommissionEngine/internal/ledger/sqlite"
	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/refdata"
	"CommissionEngine/internal/serviceiface"
	"CommissionEngine/internal/session"
	"CommissionEngine/internal/source"
)

func postgresDSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"), os.Getenv("DB_NAME"), getenv("DB_SSLMODE", "disable"),
	)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// InitDB opens the reference database through database/sql.
func InitDB() (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// openLedger picks the staging ledger backend: postgres (default) or sqlite.
func openLedger(ctx context.Context, log zerolog.Logger) (ledger.Store, func(), error) {
	if getenv("LEDGER_BACKEND", "postgres") == "sqlite" {
		store, err := sqlite.Open(getenv("LEDGER_SQLITE_PATH", "ledger.db"), log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	pool, err := pgxpool.New(ctx, postgresDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect ledger pool: %w", err)
	}
	store := postgres.New(pool, log)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func fatal(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func main() {
	// Load .env for local dev
	_ = godotenv.Load("../.env", ".env")

	servicesCfg, err := appmanager.LoadServiceSequence(getenv("SERVICES_FILE", "../services.yaml"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load service sequence:", err)
		os.Exit(1)
	}
	logSvc := logger.NewLoggerService(appmanager.ServiceConfigFor(servicesCfg, "logger"))
	logger.SetGlobalLogger(logSvc)
	log := logSvc.Logger()

	engineCfg, err := config.LoadEngineConfig(getenv("ENGINE_CONFIG", "../engine.yaml"))
	if err != nil {
		fatal(log, err, "failed to load engine config")
	}

	ctx := context.Background()
	db, err := InitDB()
	if err != nil {
		fatal(log, err, "failed to connect to reference DB")
	}
	defer db.Close()
	refs := refdata.NewSQLLoader(db)

	store, closeLedger, err := openLedger(ctx, log.With().Str("component", "ledger").Logger())
	if err != nil {
		fatal(log, err, "failed to open ledger")
	}
	defer closeLedger()

	es, err := source.NewElasticClient(strings.Split(getenv("ES_ADDRESSES", "http://localhost:9200"), ","),
		os.Getenv("ES_USER"), os.Getenv("ES_PASSWORD"))
	if err != nil {
		fatal(log, err, "failed to build search client")
	}
	extractor := source.NewElastic(es, log.With().Str("component", "source").Logger())

	eng := engine.New(refs, extractor, store, engineCfg, log.With().Str("component", "engine").Logger())

	deps := &appmanager.Dependencies{
		Logger:   logSvc,
		Runner:   eng,
		Store:    store,
		Sessions: session.NewManager(config.DefaultSessionTTL),
		Upstreams: map[string]serviceiface.Pinger{
			"reference_db": refs,
			"search_index": extractor,
			"ledger_store": store,
		},
	}

	manager := appmanager.NewAppManager()
	manager.AutoRegisterServices(servicesCfg, deps)

	if err := manager.StartAll(); err != nil {
		fatal(log, err, "failed to start")
	}

	// Graceful shutdown handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	if err := manager.StopAll(); err != nil {
		log.Error().Err(err).Msg("failed to stop")
	}
}
