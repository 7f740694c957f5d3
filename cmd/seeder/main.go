package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/yourorg/smartlib/internal/domain"
	"github.com/yourorg/smartlib/internal/infrastructure/logger"
	"github.com/yourorg/smartlib/internal/repository"
	"github.com/yourorg/smartlib/pkg/config"
	"github.com/yourorg/smartlib/pkg/database"
	"golang.org/x/crypto/bcrypt"
)

// Seeds the database with the schema, an admin account, and a starter
// catalog. Safe to run repeatedly: existing rows are left alone.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.LogLevel)
	ctx := context.Background()

	pool, err := database.NewConnectionPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db := pool.GetDB()
	userRepo := repository.NewPostgresUserRepository(db, log)
	bookRepo := repository.NewPostgresBookRepository(db, log)

	if err := seedAdmin(ctx, userRepo, log); err != nil {
		log.Error("failed to seed admin user", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := seedBooks(ctx, bookRepo, log); err != nil {
		log.Error("failed to seed catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("seeding complete")
}

func seedAdmin(ctx context.Context, users domain.UserRepository, log *slog.Logger) error {
	if _, err := users.GetByUsername(ctx, "admin"); err == nil {
		log.Info("admin user already exists")
		return nil
	}

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		log.Warn("SEED_ADMIN_PASSWORD not set, using default development password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &domain.User{
		Username:     "admin",
		Email:        "admin@smartlib.com",
		PasswordHash: string(hash),
		IsAdmin:      true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return err
	}

	log.Info("admin user created", slog.String("username", admin.Username))
	return nil
}

func seedBooks(ctx context.Context, catalog domain.CatalogStore, log *slog.Logger) error {
	books := []*domain.Book{
		{
			Title:           "The Great Gatsby",
			Author:          "F. Scott Fitzgerald",
			ISBN:            "9780743273565",
			Description:     "A classic American novel set in the Jazz Age, exploring themes of wealth, love, and the American Dream.",
			Genre:           "Fiction",
			PublicationYear: 1925,
			TotalCopies:     3,
			AvailableCopies: 3,
		},
		{
			Title:           "To Kill a Mockingbird",
			Author:          "Harper Lee",
			ISBN:            "9780061120084",
			Description:     "A gripping tale of racial injustice and childhood innocence in the American South.",
			Genre:           "Fiction",
			PublicationYear: 1960,
			TotalCopies:     2,
			AvailableCopies: 2,
		},
		{
			Title:           "1984",
			Author:          "George Orwell",
			ISBN:            "9780451524935",
			Description:     "A dystopian social science fiction novel about totalitarian control and surveillance.",
			Genre:           "Science Fiction",
			PublicationYear: 1949,
			TotalCopies:     4,
			AvailableCopies: 4,
		},
		{
			Title:           "The Selfish Gene",
			Author:          "Richard Dawkins",
			ISBN:            "9780192860927",
			Description:     "A book on evolution that introduced the concept of the 'selfish gene'.",
			Genre:           "Science",
			PublicationYear: 1976,
			TotalCopies:     2,
			AvailableCopies: 2,
		},
		{
			Title:           "Sapiens",
			Author:          "Yuval Noah Harari",
			ISBN:            "9780062316097",
			Description:     "A brief history of humankind, exploring how Homo sapiens came to dominate the world.",
			Genre:           "History",
			PublicationYear: 2011,
			TotalCopies:     3,
			AvailableCopies: 3,
		},
	}

	created := 0
	for _, b := range books {
		if err := catalog.CreateBook(ctx, b); err != nil {
			// An ISBN clash means this title was seeded on a previous run.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}
		created++
	}

	log.Info("catalog seeded", slog.Int("created", created), slog.Int("skipped", len(books)-created))
	return nil
}
