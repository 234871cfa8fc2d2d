package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/tripatlas/tripatlas-backend/internal/cache"
	redisclient "github.com/tripatlas/tripatlas-backend/internal/clients/redis"
	"github.com/tripatlas/tripatlas-backend/internal/db"
	"github.com/tripatlas/tripatlas-backend/internal/logger"
)

// App wires the analysis subsystem once at startup. All previously
// ambient state (cache tiers, progress slots) lives on this instance,
// so multiple users and multiple App instances in tests never share
// mutable globals.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	KV       *redisclient.KVClient
	Cache    *cache.TieredCache
	Cfg      Config
	Repos    Repos
	Services Services
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	kv, err := redisclient.NewKVClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	reposet := wireRepos(theDB, log)
	tieredCache := cache.NewTieredCache(log, kv, reposet.TravelAnalysis, reposet.UserSettings, cfg.MemoryCacheTTL)

	serviceset, err := wireServices(log, cfg, reposet, kv, tieredCache)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &App{
		Log:      log,
		DB:       theDB,
		KV:       kv,
		Cache:    tieredCache,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.Log.Warn("redis close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
