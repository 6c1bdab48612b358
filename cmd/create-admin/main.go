package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/database"
	"github.com/stemsi/codexam/internal/logger"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	adminRepo := repository.NewAdminRepository(pool)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Create Proctor Account ===")

	fmt.Print("Name: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		fmt.Println("Error: name is required")
		os.Exit(1)
	}

	fmt.Print("Email: ")
	email, _ := reader.ReadString('\n')
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		fmt.Println("Error: a valid email is required")
		os.Exit(1)
	}

	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}
	if len(password) < 6 {
		fmt.Println("Error: password must be at least 6 characters")
		os.Exit(1)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil || confirm != password {
		fmt.Println("Error: passwords do not match")
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	admin := &model.Admin{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := adminRepo.Create(ctx, admin); err != nil {
		log.Fatal().Err(err).Msg("Failed to create admin")
	}

	fmt.Printf("\nCreated proctor '%s' (%s) with ID %d\n", admin.Name, admin.Email, admin.ID)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	return string(b), err
}
