package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/finance-import/internal/app"
	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/domain"
	"github.com/dvloznov/finance-import/internal/filestore"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		runImport()
	case "batches":
		runBatches()
	case "show":
		runShow()
	case "sources":
		runSources()
	case "recover":
		runRecover()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Import CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import    Stage a local export file and populate its batch")
	fmt.Println("  batches   List recent import batches")
	fmt.Println("  show      Show a batch with its rows and failure ledger")
	fmt.Println("  sources   List supported source types")
	fmt.Println("  recover   Fail batches whose populate pass was interrupted")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openApp loads configuration and wires the service for one command.
func openApp(configPath string) (context.Context, *app.App, zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise import service")
	}
	return ctx, a, log
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	filePath := fs.String("file", "", "Path to the export file")
	sourceType := fs.String("type", "", "Source type (see 'cli sources')")
	actor := fs.String("actor", os.Getenv("USER"), "Actor recorded as the batch creator")
	timeout := fs.Duration("timeout", 10*time.Minute, "Maximum time to spend populating")
	fs.Parse(os.Args[2:])

	if *filePath == "" || *sourceType == "" {
		fmt.Fprintln(os.Stderr, "Usage: cli import -file PATH -type SOURCE_TYPE")
		os.Exit(2)
	}

	st, err := domain.ParseSourceType(*sourceType)
	if err != nil {
		red.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, a, log := openApp(*configPath)
	defer a.Close()

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to stat file")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var actorID *string
	if *actor != "" {
		actorID = actor
	}

	batch, err := a.Manager.Import(ctx, actorID, st, filestore.Upload{
		Filename: filepath.Base(*filePath),
		Size:     info.Size(),
		Body:     f,
	})
	if batch != nil {
		header(os.Stdout, "Import batch")
		printBatch(os.Stdout, batch)
	}
	if err != nil {
		red.Fprintf(os.Stderr, "Import failed [%s]: %v\n", domain.ErrorCode(err), err)
		os.Exit(1)
	}
	if batch.Status == domain.BatchStaging {
		yellow.Println("Batch is waiting for column mapping.")
	}
}

func runBatches() {
	fs := flag.NewFlagSet("batches", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	limit := fs.Int("limit", 0, "Number of batches to list (default 10, max 100)")
	fs.Parse(os.Args[2:])

	ctx, a, log := openApp(*configPath)
	defer a.Close()

	batches, err := a.Manager.RecentBatches(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list batches")
	}
	if len(batches) == 0 {
		fmt.Println("No import batches yet.")
		return
	}

	fmt.Printf("%6s  %-9s  %-15s %11s  %s\n", "ID", "STATUS", "SOURCE", "ERR/TOTAL", "FILE")
	for _, b := range batches {
		printBatchLine(os.Stdout, b)
	}
}

func runShow() {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	id := fs.Int64("id", 0, "Batch ID")
	rows := fs.Bool("rows", true, "Print staged rows")
	onlyErrors := fs.Bool("errors", false, "Print only rows in error")
	limit := fs.Int("limit", 50, "Maximum rows to print")
	fs.Parse(os.Args[2:])

	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "Usage: cli show -id BATCH_ID")
		os.Exit(2)
	}

	ctx, a, log := openApp(*configPath)
	defer a.Close()

	batch, err := a.Manager.GetBatch(ctx, *id)
	if err != nil {
		log.Fatal().Err(err).Int64("batch_id", *id).Msg("Failed to load batch")
	}
	header(os.Stdout, fmt.Sprintf("Batch %d", batch.ID))
	printBatch(os.Stdout, batch)

	if *rows {
		filter := staging.RowFilter{Limit: *limit}
		if *onlyErrors {
			filter.Status = domain.RowError
		}
		list, err := a.Manager.ListRows(ctx, batch.ID, filter)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list rows")
		}
		header(os.Stdout, fmt.Sprintf("Rows (%d shown)", len(list)))
		for _, r := range list {
			printRow(os.Stdout, r)
		}
	}

	ledger, err := a.Manager.ListRowErrors(ctx, batch.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list failures")
	}
	if len(ledger) > 0 {
		header(os.Stdout, fmt.Sprintf("Failures (%d)", len(ledger)))
		for _, e := range ledger {
			printRowError(os.Stdout, e)
		}
	}
	fmt.Println()
}

func runSources() {
	for _, info := range domain.SourceTypes() {
		mode := green.Sprint("parsed on upload")
		if !info.Eager {
			mode = yellow.Sprint("mapped later")
		}
		fmt.Printf("%-16s %s (%s)\n", info.Key, info.Label, mode)
		fmt.Printf("%-16s %s\n", "", info.Description)
	}
}

func runRecover() {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	olderThan := fs.Duration("older-than", 0, "Staging age before a batch counts as interrupted (default from config)")
	fs.Parse(os.Args[2:])

	ctx, a, log := openApp(*configPath)
	defer a.Close()

	age := *olderThan
	if age <= 0 {
		age = a.Config.Import.StaleAfter
	}

	ids, err := a.Manager.RecoverStale(ctx, age)
	if err != nil {
		log.Fatal().Err(err).Msg("Recovery failed")
	}
	if len(ids) == 0 {
		fmt.Println("No interrupted batches.")
		return
	}
	for _, id := range ids {
		red.Printf("Batch %d marked as error\n", id)
	}
}
