package app

import (
	"time"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/services"
	"github.com/tripatlas/tripatlas-backend/internal/utils"
)

type Config struct {
	DailyGenerationLimit int
	MemoryCacheTTL       time.Duration
	SubtaskTimeout       time.Duration
	CheckInterval        time.Duration
	SerialSubtasks       bool
}

func LoadConfig(log *logger.Logger) Config {
	dailyLimit := utils.GetEnvAsInt("ANALYSIS_DAILY_LIMIT", services.DefaultDailyGenerationLimit, log)
	memoryTTLSeconds := utils.GetEnvAsInt("ANALYSIS_MEMORY_TTL_SECONDS", 300, log)
	subtaskTimeoutSeconds := utils.GetEnvAsInt("ANALYSIS_SUBTASK_TIMEOUT_SECONDS", 90, log)
	checkIntervalSeconds := utils.GetEnvAsInt("ANALYSIS_CHECK_INTERVAL_SECONDS", 3600, log)
	serialSubtasks := utils.GetEnvAsBool("ANALYSIS_SERIAL_SUBTASKS", false, log)

	return Config{
		DailyGenerationLimit: dailyLimit,
		MemoryCacheTTL:       time.Duration(memoryTTLSeconds) * time.Second,
		SubtaskTimeout:       time.Duration(subtaskTimeoutSeconds) * time.Second,
		CheckInterval:        time.Duration(checkIntervalSeconds) * time.Second,
		SerialSubtasks:       serialSubtasks,
	}
}
