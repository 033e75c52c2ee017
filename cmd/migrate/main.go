package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	action := flag.String("action", "up", "migration action: up, down, version, force")
	forceVersion := flag.Int("version", 0, "version for the force action")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrator, err := storage.NewMigrator(db)
	if err != nil {
		slog.Error("create migrator", "error", err)
		os.Exit(1)
	}
	defer migrator.Close()

	switch *action {
	case "up":
		if err := migrator.Up(); err != nil {
			slog.Error("migrate up", "error", err)
			os.Exit(1)
		}
		slog.Info("migrations applied")
	case "down":
		if err := migrator.Down(); err != nil {
			slog.Error("migrate down", "error", err)
			os.Exit(1)
		}
		slog.Info("last migration reverted")
	case "version":
		version, dirty, err := migrator.Version()
		if err != nil {
			slog.Error("read version", "error", err)
			os.Exit(1)
		}
		slog.Info("schema version", "version", version, "dirty", dirty)
	case "force":
		if err := migrator.Force(*forceVersion); err != nil {
			slog.Error("force version", "error", err)
			os.Exit(1)
		}
		slog.Info("schema version forced", "version", *forceVersion)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", *action)
		os.Exit(1)
	}
}
