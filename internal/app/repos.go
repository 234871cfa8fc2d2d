package app

import (
	"gorm.io/gorm"

	"github.com/tripatlas/tripatlas-backend/internal/logger"
	"github.com/tripatlas/tripatlas-backend/internal/repos"
)

type Repos struct {
	TravelAnalysis repos.TravelAnalysisRepo
	UserSettings   repos.UserSettingsRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		TravelAnalysis: repos.NewTravelAnalysisRepo(db, log),
		UserSettings:   repos.NewUserSettingsRepo(db, log),
	}
}
