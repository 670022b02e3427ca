package db

import (
	"context"
	defError "errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"collab-revisions/internal/domain"
	"collab-revisions/internal/user"
)

// Migrate runs database migrations. The revision table carries the unique
// indexes the commit path relies on to detect a lost race.
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	err := db.AutoMigrate(
		&domain.User{},
		&domain.Document{},
		&domain.DocumentCollaborator{},
		&domain.Pane{},
		&domain.Revision{},
	)
	if err != nil {
		return err
	}

	log.Info().Msg("database schema migrated successfully")
	return nil
}

// SeedData seeds the database with initial data (for development only)
func SeedData(ctx context.Context, db *gorm.DB, log zerolog.Logger) {
	userRepo := user.NewRepository(db)

	testUser := &domain.User{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
	}

	_, err := userRepo.FindByEmail(ctx, testUser.Email)
	if err == nil {
		log.Info().Str("email", testUser.Email).Msg("test user already exists")
		return
	}
	if !defError.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Msg("failed to look up test user")
		return
	}

	if err := user.NewService(userRepo).Register(ctx, testUser); err != nil {
		log.Error().Err(err).Msg("failed to create test user")
		return
	}
	log.Info().Str("email", testUser.Email).Msg("created test user")
}
