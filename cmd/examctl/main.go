// Command examctl is the proctor's terminal tool for results and sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/database"
	"github.com/stemsi/codexam/internal/logger"
	"github.com/stemsi/codexam/internal/model"
	"github.com/stemsi/codexam/internal/repository"
	"github.com/stemsi/codexam/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	admin := service.NewAdminService(
		repository.NewAdminRepository(pool),
		store.Results, store.ClassSections, store.Sessions,
		repository.NewIntegrityRepository(pool),
		nil,
	)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "export":
		err = runExport(ctx, admin, args)
	case "rotate-code":
		err = runRotate(ctx, admin, args)
	case "sessions":
		err = runSessions(ctx, admin, args)
	case "violations":
		err = runViolations(ctx, admin, args)
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		color.Red("%s: %v", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: examctl <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  export [-class X] [-section Y] [-out file]   write completed results as CSV")
	fmt.Println("  rotate-code <class> <section> <code>         replace a section's access code")
	fmt.Println("  sessions -class X                            list sessions of a class")
	fmt.Println("  violations <session-id>                      list integrity events of a session")
}

func runExport(ctx context.Context, admin *service.AdminService, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	class := fs.String("class", "", "Filter by class")
	section := fs.String("section", "", "Filter by section")
	out := fs.String("out", "", "Output file (default: generated name, '-' for stdout)")
	_ = fs.Parse(args)

	rows, err := admin.AllResults(ctx, repository.ResultFilter{Class: *class, Section: *section})
	if err != nil {
		return err
	}

	if *out != "-" {
		name := *out
		if name == "" {
			name = service.ExportFilename(*class, *section, time.Now())
		}
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := service.WriteResultsCSV(f, rows); err != nil {
			return err
		}
		color.Green("Wrote %d results to %s", len(rows), name)
		return nil
	}
	return service.WriteResultsCSV(os.Stdout, rows)
}

func runRotate(ctx context.Context, admin *service.AdminService, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("expected <class> <section> <code>")
	}
	if err := admin.RotateAccessCode(ctx, args[0], args[1], args[2]); err != nil {
		return err
	}
	color.Green("Access code for %s-%s updated. Running sessions are not affected.", args[0], args[1])
	return nil
}

func runSessions(ctx context.Context, admin *service.AdminService, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	class := fs.String("class", "", "Class to list")
	_ = fs.Parse(args)
	if *class == "" {
		return fmt.Errorf("-class is required")
	}

	rows, err := admin.ListSessions(ctx, *class)
	if err != nil {
		return err
	}

	color.Yellow("\nSessions of class %s", *class)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Roll", "Name", "Section", "Phase", "Coding", "MCQ", "Total", "Exits"})
	for _, r := range rows {
		table.Rich([]string{
			r.RollNumber,
			r.Name,
			r.Section,
			string(r.Phase),
			strconv.Itoa(r.CodingScore),
			strconv.Itoa(r.MCQScore),
			strconv.Itoa(r.TotalScore),
			strconv.Itoa(r.ExitAttempts),
		}, rowColors(r))
	}
	table.Render()
	return nil
}

// rowColors highlights the phase column and flags students who left the exam window.
func rowColors(r model.ExamResult) []tablewriter.Colors {
	colors := make([]tablewriter.Colors, 8)
	switch r.Phase {
	case model.PhaseCompleted:
		colors[3] = tablewriter.Colors{tablewriter.FgGreenColor}
	case model.PhaseCoding:
		colors[3] = tablewriter.Colors{tablewriter.FgCyanColor}
	default:
		colors[3] = tablewriter.Colors{tablewriter.FgYellowColor}
	}
	if r.ExitAttempts > 0 {
		colors[7] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgRedColor}
	}
	return colors
}

func runViolations(ctx context.Context, admin *service.AdminService, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected <session-id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}

	events, err := admin.Violations(ctx, id)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		color.Green("No integrity events recorded for %s", id)
		return nil
	}

	color.Yellow("\nIntegrity events for %s", id)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Kind", "Phase", "Exits", "Detail"})
	for _, e := range events {
		table.Append([]string{
			e.RecordedAt.Local().Format("15:04:05"),
			string(e.Kind),
			string(e.Phase),
			strconv.Itoa(e.ExitAttempts),
			e.Detail,
		})
	}
	table.Render()
	return nil
}
