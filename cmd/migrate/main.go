package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/logger"
)

func main() {
	var (
		migrationDir string
		dbURL        string
	)
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.StringVar(&dbURL, "database", "", "Database URL (default: DATABASE_URL)")
	flag.Usage = printUsage
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if dbURL == "" {
		dbURL = cfg.DatabaseURL
	}
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+migrationDir, dbURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Migration failed to initialize")
	}
	defer m.Close()
	m.Log = migrateLogger{log: log}

	if err := run(m, args); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Migration failed")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("Database has no migrations applied")
	case err != nil:
		log.Error().Err(err).Msg("Failed to read version")
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Migration state")
	}
}

// run executes one command. "down" without a step count is refused so a stray
// invocation cannot drop every table holding exam results.
func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			return ignoreNoChange(m.Steps(n))
		}
		return ignoreNoChange(m.Up())
	case "down":
		if len(args) < 2 {
			return errors.New("down requires a step count or \"all\"")
		}
		if args[1] == "all" {
			return ignoreNoChange(m.Down())
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		return ignoreNoChange(m.Steps(-n))
	case "goto":
		if len(args) < 2 {
			return errors.New("goto requires a version")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		return ignoreNoChange(m.Migrate(uint(v)))
	case "force":
		if len(args) < 2 {
			return errors.New("force requires a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		return m.Force(v)
	case "version":
		return nil
	default:
		printUsage()
		os.Exit(2)
	}
	return nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// migrateLogger routes golang-migrate's progress lines through zerolog.
type migrateLogger struct {
	log zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool { return false }

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands:")
	fmt.Println("  up [N]          apply all or N pending migrations")
	fmt.Println("  down <N|all>    roll back N migrations, or all of them")
	fmt.Println("  goto <version>  migrate up or down to a version")
	fmt.Println("  force <version> set the version without running migrations")
	fmt.Println("  version         print the current version")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
