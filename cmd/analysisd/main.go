package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tripatlas/tripatlas-backend/internal/app"
	httpx "github.com/tripatlas/tripatlas-backend/internal/http"
	"github.com/tripatlas/tripatlas-backend/internal/http/handlers"
	"github.com/tripatlas/tripatlas-backend/internal/utils"
)

// analysisd wires the analysis subsystem against real Postgres, Redis
// and the generative provider, and serves the analysis API.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using process environment")
	}

	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Log.Info("analysis subsystem ready",
		"daily_limit", a.Cfg.DailyGenerationLimit,
		"memory_ttl", a.Cfg.MemoryCacheTTL.String(),
		"check_interval", a.Cfg.CheckInterval.String(),
		"serial_subtasks", a.Cfg.SerialSubtasks,
	)

	analysisHandler := handlers.NewAnalysisHandler(
		a.Log,
		a.Services.Status,
		a.Services.Generation,
		a.Services.Scheduler,
		a.Services.Quota,
	)
	server := httpx.NewServer(httpx.RouterConfig{
		AnalysisHandler: analysisHandler,
		HealthHandler:   handlers.NewHealthHandler(),
	})

	port := utils.GetEnv("PORT", "8080", a.Log)
	a.Log.Info("server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		a.Log.Error("server failed", "error", err)
		os.Exit(1)
	}
}
