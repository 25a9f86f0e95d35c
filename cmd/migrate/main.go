package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	flag "github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-ticket-transfer/internal/config"
	"ms-ticket-transfer/internal/database/migrations"
	"ms-ticket-transfer/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	dsn := flag.String("dsn", cfg.Database.DSN, "PostgreSQL DSN (defaults to POSTGRES_DSN)")
	dir := flag.String("dir", cfg.Database.MigrationsDir, "migrations directory")
	command := flag.StringP("command", "c", "up", "one of: up, down, to, force, version")
	version := flag.IntP("version", "v", -1, "target version for 'to' and 'force'")
	flag.Parse()

	log := logger.New(os.Stdout, nil)
	if *dsn == "" {
		log.Fatal("CONFIG", "POSTGRES_DSN not set and --dsn not given")
	}

	sqldb, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: *dir}, log)
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.MigrateUp()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if *version < 0 {
			log.Fatal("MIGRATE", "--version is required for 'to'")
		}
		err = runner.MigrateTo(uint(*version))
	case "force":
		if *version < 0 {
			log.Fatal("MIGRATE", "--version is required for 'force'")
		}
		err = runner.Force(*version)
	case "version":
	default:
		log.Fatal("MIGRATE", fmt.Sprintf("unknown command %q", *command))
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}

	current, dirty, err := runner.Version()
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty: %t)", current, dirty))
}
