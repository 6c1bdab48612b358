package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/database"
	"github.com/stemsi/codexam/internal/logger"
	"github.com/stemsi/codexam/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	email := flag.String("email", "", "Email of the proctor account to reset")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	target := strings.ToLower(strings.TrimSpace(*email))
	if target == "" {
		fmt.Println("Usage: reset-admin-password -email <address>")
		os.Exit(2)
	}

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	adminRepo := repository.NewAdminRepository(pool)

	// 1. Make sure the account exists before prompting
	admin, err := adminRepo.GetByEmail(ctx, target)
	if err != nil {
		log.Fatal().Err(err).Str("email", target).Msg("Proctor account not found")
	}

	fmt.Printf("=== Reset password for %s (%s) ===\n", admin.Name, admin.Email)
	fmt.Print("New password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read password")
	}
	if len(raw) < 6 {
		fmt.Println("Error: password must be at least 6 characters")
		os.Exit(1)
	}

	// 2. Store the new hash
	hash, err := bcrypt.GenerateFromPassword(raw, cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	if err := adminRepo.UpdatePassword(ctx, admin.Email, string(hash)); err != nil {
		log.Fatal().Err(err).Msg("Failed to update password")
	}

	fmt.Println("\nPassword updated.")
}
