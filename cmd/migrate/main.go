package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/logger"
	"github.com/dvloznov/finance-import/internal/staging"
	"github.com/joho/godotenv"
)

var (
	configPath = flag.String("config", "", "Path to YAML config (or set IMPORT_CONFIG)")
	driver     = flag.String("driver", "", "Database driver: sqlite or postgres (overrides config)")
	dsn        = flag.String("dsn", "", "Database DSN (overrides config)")
	appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	statusOnly = flag.Bool("status", false, "Print migration status without applying anything")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	dialect, err := staging.ParseDialect(cfg.Database.Driver)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := staging.Open(ctx, dialect, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer store.Close()

	log.Info().Str("driver", string(dialect)).Msg("Connected to database")

	migrations, err := staging.LoadMigrations(dialect)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	applied, err := store.AppliedMigrations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}

	for _, line := range statusLines(migrations, applied) {
		fmt.Println(line)
	}
	if *statusOnly {
		return
	}

	count, err := store.Migrate(ctx, *appliedBy)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if count == 0 {
		fmt.Println("No new migrations to apply. Database is up to date.")
		return
	}
	fmt.Printf("Successfully applied %d migration(s)\n", count)
}

// statusLines renders one line per known migration, flagging applied
// migrations whose file changed since they ran.
func statusLines(migrations []staging.Migration, applied []staging.AppliedMigration) []string {
	byVersion := make(map[int]staging.AppliedMigration, len(applied))
	for _, am := range applied {
		byVersion[am.Version] = am
	}

	lines := make([]string, 0, len(migrations))
	for _, m := range migrations {
		am, ok := byVersion[m.Version]
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("  [PENDING] %04d_%s", m.Version, m.Name))
		case am.Checksum != "" && am.Checksum != m.Checksum:
			lines = append(lines, fmt.Sprintf("  [CHANGED] %04d_%s (applied %s, checksum differs)",
				m.Version, m.Name, am.AppliedAt.Format(time.RFC3339)))
		default:
			lines = append(lines, fmt.Sprintf("  [APPLIED] %04d_%s (%s by %s)",
				m.Version, m.Name, am.AppliedAt.Format(time.RFC3339), am.AppliedBy))
		}
	}
	return lines
}
